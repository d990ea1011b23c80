// Package sequencer keeps the display order of a pipeline's stages in step
// with the backend.
//
// The local slice is the source of truth for rendering. Reorders are applied
// to it immediately and persisted by a single background reconciler, which
// writes the whole order atomically and falls back to a full re-fetch when the
// write fails. A generation counter discards fetches that complete after a
// newer local change, so a slow List can never clobber an optimistic order.
package sequencer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/dealflow/internal/metrics"
	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultQueueSize = 64

var (
	ErrNoPipeline      = errors.New("no pipeline selected")
	ErrIndexOutOfRange = errors.New("stage index out of range")
	ErrClosed          = errors.New("sequencer closed")
)

// Backend is the stage persistence the sequencer talks to. It is satisfied by
// *service.StageService in-process and by *client.Client over HTTP.
type Backend interface {
	ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error)
	GetStage(ctx context.Context, id int64) (models.Stage, error)
	CreateStage(ctx context.Context, pipelineID int64, in models.StageInput) (models.Stage, error)
	UpdateStage(ctx context.Context, id int64, patch models.StagePatch) (models.Stage, error)
	DeleteStage(ctx context.Context, id int64) error
	ReorderStages(ctx context.Context, pipelineID int64, ids []int64) error
}

// Logger defines the logging interface used by the sequencer
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type job struct {
	pipelineID int64
	ids        []int64
	generation uint64
	done       chan struct{} // set on flush barriers only
}

type Sequencer struct {
	backend   Backend
	logger    Logger
	notifier  Notifier
	metrics   *metrics.Recorder
	queueSize int

	mu         sync.Mutex
	pipelineID int64
	stages     []models.Stage
	generation uint64

	sendMu sync.RWMutex
	closed bool
	jobs   chan job
	group  *errgroup.Group
}

type Option func(*Sequencer)

func WithNotifier(n Notifier) Option {
	return func(s *Sequencer) { s.notifier = n }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Sequencer) { s.metrics = r }
}

// WithQueueSize bounds the number of reorders waiting to be persisted.
func WithQueueSize(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// New creates a sequencer and starts its reconciler. Close must be called to
// stop it.
func New(ctx context.Context, backend Backend, logger Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		backend:   backend,
		logger:    logger,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: logger}
	}
	s.jobs = make(chan job, s.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.run(gctx) })
	s.group = g
	return s
}

// Close stops accepting reorders, waits for queued ones to be persisted and
// stops the reconciler.
func (s *Sequencer) Close() error {
	s.sendMu.Lock()
	if s.closed {
		s.sendMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.sendMu.Unlock()
	return s.group.Wait()
}

// PipelineID returns the selected pipeline, or 0 when none is selected.
func (s *Sequencer) PipelineID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineID
}

// Stages returns a copy of the local display order.
func (s *Sequencer) Stages() []models.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStages(s.stages)
}

// Select makes pipelineID the displayed pipeline and loads its stages.
func (s *Sequencer) Select(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	s.mu.Lock()
	if s.pipelineID != pipelineID {
		s.pipelineID = pipelineID
		s.stages = nil
		s.generation++
	}
	s.mu.Unlock()
	return s.List(ctx, pipelineID)
}

// List fetches the stages of a pipeline by ascending rank. Equal ranks keep
// the order the backend returned them in. For the selected pipeline, queued
// reorders are persisted first and the result replaces the local view unless
// the view changed while the fetch was in flight.
func (s *Sequencer) List(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	if s.PipelineID() == pipelineID {
		if err := s.Flush(ctx); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	stages, err := s.fetch(ctx, pipelineID)
	s.metrics.ObserveOp("list", err)
	if err != nil {
		s.logger.Errorf("Failed to list stages of pipeline %d: %v", pipelineID, err)
		s.notifier.Failure("Failed to load stages", err)
		return nil, err
	}
	s.apply(pipelineID, stages, gen)
	return stages, nil
}

// Insert appends a stage to the pipeline and re-fetches the list; the new
// stage is not inserted locally ahead of the backend. Queued reorders of the
// pipeline are saved first, while the stage set still matches them.
func (s *Sequencer) Insert(ctx context.Context, pipelineID int64, name, color string, probability int) (models.Stage, error) {
	if s.PipelineID() == pipelineID {
		if err := s.Flush(ctx); err != nil {
			return models.Stage{}, err
		}
	}
	st, err := s.backend.CreateStage(ctx, pipelineID, models.StageInput{
		Name:        name,
		Color:       color,
		Probability: probability,
	})
	s.metrics.ObserveOp("insert", err)
	if err != nil {
		s.logger.Errorf("Failed to add stage '%s' to pipeline %d: %v", name, pipelineID, err)
		s.notifier.Failure("Failed to add stage", err)
		return models.Stage{}, err
	}
	s.notifier.Success("Stage added")
	s.refresh(ctx, pipelineID)
	return st, nil
}

// Edit updates name, color and/or probability of a stage and re-fetches the list.
func (s *Sequencer) Edit(ctx context.Context, stageID int64, patch models.StagePatch) (models.Stage, error) {
	st, err := s.backend.UpdateStage(ctx, stageID, patch)
	s.metrics.ObserveOp("edit", err)
	if err != nil {
		s.logger.Errorf("Failed to update stage %d: %v", stageID, err)
		s.notifier.Failure("Failed to update stage", err)
		return models.Stage{}, err
	}
	s.notifier.Success("Stage updated")
	s.refresh(ctx, st.PipelineID)
	return st, nil
}

// Delete removes a stage unless it is flagged default, in which case nothing is
// sent to the backend. Remaining stages keep their ranks. Like Insert, it waits
// for queued reorders first.
func (s *Sequencer) Delete(ctx context.Context, stageID int64) error {
	if s.PipelineID() != 0 {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	st, ok := s.localStage(stageID)
	if !ok {
		var err error
		if st, err = s.backend.GetStage(ctx, stageID); err != nil {
			s.metrics.ObserveOp("delete", err)
			s.logger.Errorf("Failed to look up stage %d: %v", stageID, err)
			s.notifier.Failure("Failed to delete stage", err)
			return err
		}
	}
	if st.IsDefault {
		err := errors.Wrapf(service.ErrDefaultStage, "stage %d", stageID)
		s.metrics.ObserveOp("delete", err)
		s.notifier.Failure("Default stages cannot be deleted", err)
		return err
	}

	err := s.backend.DeleteStage(ctx, stageID)
	s.metrics.ObserveOp("delete", err)
	if err != nil {
		s.logger.Errorf("Failed to delete stage %d: %v", stageID, err)
		s.notifier.Failure("Failed to delete stage", err)
		return err
	}
	s.notifier.Success("Stage deleted")
	s.refresh(ctx, st.PipelineID)
	return nil
}

// Reorder applies a new order of the selected pipeline's stages locally, with
// rank = index, and queues it to be persisted. ids must list every displayed
// stage exactly once. The call returns before the backend is written.
func (s *Sequencer) Reorder(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	if s.pipelineID == 0 {
		s.mu.Unlock()
		return ErrNoPipeline
	}
	reordered, err := orderBy(s.stages, ids)
	if err != nil {
		s.mu.Unlock()
		s.metrics.ObserveOp("reorder", err)
		return err
	}
	s.stages = reordered
	s.generation++
	j := job{pipelineID: s.pipelineID, ids: append([]int64(nil), ids...), generation: s.generation}
	s.mu.Unlock()

	err = s.enqueue(ctx, j)
	s.metrics.ObserveOp("reorder", err)
	if err != nil {
		s.logger.Errorf("Failed to queue reorder of pipeline %d: %v", j.pipelineID, err)
		s.notifier.Failure("Failed to save stage order", err)
	}
	return err
}

// Move handles the end of a drag: the stage at oldIndex is removed and
// re-inserted at newIndex, shifting the stages in between by one.
func (s *Sequencer) Move(ctx context.Context, oldIndex, newIndex int) error {
	s.mu.Lock()
	n := len(s.stages)
	if oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n {
		s.mu.Unlock()
		return errors.Wrapf(ErrIndexOutOfRange, "move %d -> %d with %d stages", oldIndex, newIndex, n)
	}
	if oldIndex == newIndex {
		s.mu.Unlock()
		return nil
	}
	ids := arrayMove(models.StageIDs(s.stages), oldIndex, newIndex)
	s.mu.Unlock()
	return s.Reorder(ctx, ids)
}

// Flush blocks until every reorder queued so far has been handled.
func (s *Sequencer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.enqueue(ctx, job{done: done}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil // Close already drained the queue
		}
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sequencer) enqueue(ctx context.Context, j job) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	counted := j.done == nil && s.metrics != nil
	if counted {
		s.metrics.ReconcileQueue.Inc()
	}
	select {
	case s.jobs <- j:
		return nil
	case <-ctx.Done():
		if counted {
			s.metrics.ReconcileQueue.Dec()
		}
		return ctx.Err()
	}
}

func (s *Sequencer) run(ctx context.Context) error {
	for j := range s.jobs {
		if j.done != nil {
			close(j.done)
			continue
		}
		if s.metrics != nil {
			s.metrics.ReconcileQueue.Dec()
		}
		s.reconcile(ctx, j)
	}
	return nil
}

// reconcile persists one reorder. On failure the pipeline is re-fetched to
// repair the local view, unless a newer reorder is already queued behind it.
func (s *Sequencer) reconcile(ctx context.Context, j job) {
	start := time.Now()
	err := s.backend.ReorderStages(ctx, j.pipelineID, j.ids)
	if s.metrics != nil {
		s.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}
	s.metrics.ObserveOp("reconcile", err)
	if err == nil {
		s.notifier.Success("Stage order saved")
		return
	}
	s.logger.Errorf("Failed to persist order of pipeline %d: %v", j.pipelineID, err)
	s.notifier.Failure("Failed to save stage order", err)

	stages, ferr := s.fetch(ctx, j.pipelineID)
	if ferr != nil {
		s.logger.Errorf("Failed to re-fetch pipeline %d after reorder failure: %v", j.pipelineID, ferr)
		return
	}
	s.apply(j.pipelineID, stages, j.generation)
}

// refresh re-fetches the selected pipeline after a write. Failures are
// reported by List and otherwise ignored.
func (s *Sequencer) refresh(ctx context.Context, pipelineID int64) {
	if s.PipelineID() != pipelineID {
		return
	}
	_, _ = s.List(ctx, pipelineID)
}

func (s *Sequencer) fetch(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	stages, err := s.backend.ListStages(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Rank < stages[j].Rank })
	return stages, nil
}

// apply replaces the local view when pipelineID is still selected and no local
// change happened since gen was read.
func (s *Sequencer) apply(pipelineID int64, stages []models.Stage, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipelineID != pipelineID || s.generation != gen {
		return false
	}
	s.stages = cloneStages(stages)
	return true
}

func (s *Sequencer) localStage(id int64) (models.Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stages {
		if st.ID == id {
			return st, true
		}
	}
	return models.Stage{}, false
}

// orderBy returns stages arranged in ids order with rank = index. ids must be
// a permutation of the stages' ids.
func orderBy(stages []models.Stage, ids []int64) ([]models.Stage, error) {
	if len(ids) != len(stages) {
		return nil, errors.Wrapf(service.ErrInvalidOrder, "got %d ids for %d stages", len(ids), len(stages))
	}
	byID := make(map[int64]models.Stage, len(stages))
	for _, st := range stages {
		byID[st.ID] = st
	}
	out := make([]models.Stage, 0, len(ids))
	for i, id := range ids {
		st, ok := byID[id]
		if !ok {
			return nil, errors.Wrapf(service.ErrInvalidOrder, "unexpected or repeated stage %d", id)
		}
		delete(byID, id)
		st.Rank = i
		out = append(out, st)
	}
	return out, nil
}

func arrayMove[T any](items []T, from, to int) []T {
	out := make([]T, 0, len(items))
	moved := items[from]
	for i, it := range items {
		if i == from {
			continue
		}
		out = append(out, it)
	}
	out = append(out, moved) // grow by one, then shift the tail right
	copy(out[to+1:], out[to:len(out)-1])
	out[to] = moved
	return out
}

func cloneStages(stages []models.Stage) []models.Stage {
	if stages == nil {
		return nil
	}
	out := make([]models.Stage, len(stages))
	copy(out, stages)
	return out
}
