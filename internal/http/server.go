package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ignatij/dealflow/internal/log"
	"github.com/ignatij/dealflow/internal/metrics"
	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error codes carried next to the message so clients can restore sentinel errors.
const (
	CodeInvalidInput      = "invalid_input"
	CodeInvalidOrder      = "invalid_order"
	CodeNotFound          = "not_found"
	CodeDefaultStage      = "default_stage"
	CodePipelineHasStages = "pipeline_has_stages"
	CodeInternal          = "internal"
)

type Server struct {
	pipelines *service.PipelineService
	stages    *service.StageService
	metrics   *metrics.Recorder
}

func NewServer(store storage.Store, rec *metrics.Recorder) *Server {
	return &Server{
		pipelines: service.NewPipelineService(store, log.GetLogger()),
		stages:    service.NewStageService(store, log.GetLogger()),
		metrics:   rec,
	}
}

// Handler returns the routed API wrapped in request-id, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /pipelines", s.listPipelines)
	mux.HandleFunc("POST /pipelines", s.createPipeline)
	mux.HandleFunc("GET /pipelines/{id}", s.getPipeline)
	mux.HandleFunc("PUT /pipelines/{id}", s.updatePipeline)
	mux.HandleFunc("DELETE /pipelines/{id}", s.deletePipeline)

	mux.HandleFunc("GET /pipelines/{id}/stages", s.listStages)
	mux.HandleFunc("POST /pipelines/{id}/stages", s.createStage)
	mux.HandleFunc("PUT /pipelines/{id}/stages/order", s.reorderStages)

	mux.HandleFunc("GET /stages/{id}", s.getStage)
	mux.HandleFunc("PATCH /stages/{id}", s.updateStage)
	mux.HandleFunc("DELETE /stages/{id}", s.deleteStage)

	return withRequestID(withLogging(s.metrics, mux))
}

// StartServer serves the API on port until ctx is cancelled.
func StartServer(ctx context.Context, port string, store storage.Store, rec *metrics.Recorder) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           NewServer(store, rec).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting dealflow server on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.GetLogger().Info("Shutting down dealflow server")
		return srv.Shutdown(shutdownCtx)
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "dealflow server is running")
}

type createPipelineRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `json:"is_default"`
}

type messageResponse struct {
	ID      int64  `json:"id,omitempty"`
	Message string `json:"message"`
}

type reorderRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) listPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := s.pipelines.ListPipelines(r.Context())
	if err != nil {
		writeError(w, r, "Failed to list pipelines", err)
		return
	}
	writeJSON(w, http.StatusOK, pipelines)
}

func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, r, "", errors.Wrap(service.ErrInvalidInput, "Missing 'name' parameter"))
		return
	}
	id, err := s.pipelines.CreatePipeline(r.Context(), req.Name, req.Description, req.IsDefault)
	if err != nil {
		writeError(w, r, "Failed to create pipeline", err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{ID: id, Message: fmt.Sprintf("Created pipeline '%s' with ID %d", req.Name, id)})
}

func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.pipelines.GetPipeline(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch models.PipelinePatch
	if !decode(w, r, &patch) {
		return
	}
	p, err := s.pipelines.UpdatePipeline(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, "Failed to update pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := s.pipelines.DeletePipeline(r.Context(), id, force); err != nil {
		writeError(w, r, "Failed to delete pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{ID: id, Message: fmt.Sprintf("Deleted pipeline with ID %d", id)})
}

func (s *Server) listStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stages, err := s.stages.ListStages(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to list stages", err)
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

func (s *Server) createStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.StageInput
	if !decode(w, r, &in) {
		return
	}
	st, err := s.stages.CreateStage(r.Context(), id, in)
	if err != nil {
		writeError(w, r, "Failed to create stage", err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) reorderStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.stages.ReorderStages(r.Context(), id, req.IDs); err != nil {
		writeError(w, r, "Failed to reorder stages", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{ID: id, Message: fmt.Sprintf("Reordered %d stages of pipeline %d", len(req.IDs), id)})
}

func (s *Server) getStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	st, err := s.stages.GetStage(r.Context(), id)
	if err != nil {
		writeError(w, r, "Failed to get stage", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch models.StagePatch
	if !decode(w, r, &patch) {
		return
	}
	st, err := s.stages.UpdateStage(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, "Failed to update stage", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) deleteStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.stages.DeleteStage(r.Context(), id); err != nil {
		writeError(w, r, "Failed to delete stage", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{ID: id, Message: fmt.Sprintf("Deleted stage with ID %d", id)})
}
