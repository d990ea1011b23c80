package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/dealflow/internal/log"
	"github.com/ignatij/dealflow/internal/metrics"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps service and storage errors to a status code and code string.
// prefix, when set, is prepended to the message like "Failed to ...: <err>".
func writeError(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	status, code := classify(err)
	msg := err.Error()
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	entry := log.GetLogger().WithFields(logrus.Fields{
		"request_id": r.Header.Get(RequestIDHeader),
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		entry.Infof("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidOrder):
		return http.StatusBadRequest, CodeInvalidOrder
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, service.ErrDefaultStage):
		return http.StatusConflict, CodeDefaultStage
	case errors.Is(err, service.ErrPipelineHasStages):
		return http.StatusConflict, CodePipelineHasStages
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, "", errors.Wrapf(service.ErrInvalidInput, "malformed JSON body: %v", err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "", errors.Wrapf(service.ErrInvalidInput, "invalid id %q", raw))
		return 0, false
	}
	return id, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRequestID makes sure every request carries an id, generating one if needed.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func withLogging(rec *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		if rec != nil {
			rec.HTTPRequests.WithLabelValues(route, strconv.Itoa(sr.status)).Inc()
			rec.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
		log.GetLogger().WithFields(logrus.Fields{
			"request_id": r.Header.Get(RequestIDHeader),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     sr.status,
			"duration":   elapsed,
		}).Debug("handled request")
	})
}
