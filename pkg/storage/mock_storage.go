package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/pkg/errors"
)

type memData struct {
	pipelines      []models.Pipeline
	stages         []models.Stage
	nextPipelineID int64
	nextStageID    int64
}

func (d *memData) clone() *memData {
	c := &memData{
		pipelines:      make([]models.Pipeline, len(d.pipelines)),
		stages:         make([]models.Stage, len(d.stages)),
		nextPipelineID: d.nextPipelineID,
		nextStageID:    d.nextStageID,
	}
	copy(c.pipelines, d.pipelines)
	copy(c.stages, d.stages)
	return c
}

// mockStore implements storage.Store in memory. Begin hands out a private copy
// of the data which Commit swaps back into the parent. Transactions and direct
// writes are serialized on txMu, so a commit never replaces data it did not see.
type mockStore struct {
	mu     sync.Mutex
	txMu   sync.Mutex // held by the root from Begin until Commit/Rollback
	data   *memData
	parent *mockStore
	done   bool // Transaction state
}

func NewMockStore() Store {
	return &mockStore{data: &memData{}}
}

func (m *mockStore) Begin(ctx context.Context) (Store, error) {
	if m.parent != nil {
		return nil, errors.New("nested transactions are not supported")
	}
	m.txMu.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return &mockStore{data: m.data.clone(), parent: m}, nil
}

func (m *mockStore) Commit() error {
	if m.parent == nil {
		return errors.New("cannot commit: not a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.parent.mu.Lock()
	m.parent.data = m.data
	m.parent.mu.Unlock()
	m.parent.txMu.Unlock()
	return nil
}

func (m *mockStore) Rollback() error {
	if m.parent == nil {
		return errors.New("cannot rollback: not a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.parent.txMu.Unlock()
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

// lock guards every data operation and refuses to touch a finished transaction.
func (m *mockStore) lock() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return errors.New("transaction already finished")
	}
	return nil
}

// lockWrite is lock for mutations. On the root store it also waits for any
// open transaction to finish.
func (m *mockStore) lockWrite() error {
	if m.parent == nil {
		m.txMu.Lock()
	}
	if err := m.lock(); err != nil {
		if m.parent == nil {
			m.txMu.Unlock()
		}
		return err
	}
	return nil
}

func (m *mockStore) unlockWrite() {
	m.mu.Unlock()
	if m.parent == nil {
		m.txMu.Unlock()
	}
}

func (m *mockStore) SavePipeline(ctx context.Context, p models.Pipeline) (int64, error) {
	if err := m.lockWrite(); err != nil {
		return 0, err
	}
	defer m.unlockWrite()
	m.data.nextPipelineID++
	p.ID = m.data.nextPipelineID
	p.Stages = nil
	m.data.pipelines = append(m.data.pipelines, p)
	return p.ID, nil
}

func (m *mockStore) GetPipeline(ctx context.Context, id int64) (models.Pipeline, error) {
	if err := m.lock(); err != nil {
		return models.Pipeline{}, err
	}
	defer m.mu.Unlock()
	for _, p := range m.data.pipelines {
		if p.ID == id {
			p.Stages = m.stagesOf(id)
			return p, nil
		}
	}
	return models.Pipeline{}, ErrNotFound
}

func (m *mockStore) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	pipelines := make([]models.Pipeline, len(m.data.pipelines))
	copy(pipelines, m.data.pipelines)
	sort.SliceStable(pipelines, func(i, j int) bool {
		if pipelines[i].IsDefault != pipelines[j].IsDefault {
			return pipelines[i].IsDefault
		}
		return pipelines[i].Name < pipelines[j].Name
	})
	return pipelines, nil
}

func (m *mockStore) UpdatePipeline(ctx context.Context, p models.Pipeline) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	for i, existing := range m.data.pipelines {
		if existing.ID == p.ID {
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = time.Now()
			p.Stages = nil
			m.data.pipelines[i] = p
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ClearDefaultPipeline(ctx context.Context, exceptID int64) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	for i := range m.data.pipelines {
		if m.data.pipelines[i].ID != exceptID {
			m.data.pipelines[i].IsDefault = false
		}
	}
	return nil
}

func (m *mockStore) DeletePipeline(ctx context.Context, id int64) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	for i, p := range m.data.pipelines {
		if p.ID == id {
			m.data.pipelines = append(m.data.pipelines[:i], m.data.pipelines[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveStage(ctx context.Context, s models.Stage) (int64, error) {
	if err := m.lockWrite(); err != nil {
		return 0, err
	}
	defer m.unlockWrite()
	found := false
	for _, p := range m.data.pipelines {
		if p.ID == s.PipelineID {
			found = true
			break
		}
	}
	if !found {
		return 0, errors.Wrapf(ErrNotFound, "pipeline %d", s.PipelineID)
	}
	m.data.nextStageID++
	s.ID = m.data.nextStageID
	m.data.stages = append(m.data.stages, s)
	return s.ID, nil
}

func (m *mockStore) GetStage(ctx context.Context, id int64) (models.Stage, error) {
	if err := m.lock(); err != nil {
		return models.Stage{}, err
	}
	defer m.mu.Unlock()
	for _, s := range m.data.stages {
		if s.ID == id {
			return s, nil
		}
	}
	return models.Stage{}, ErrNotFound
}

func (m *mockStore) ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.stagesOf(pipelineID), nil
}

// stagesOf returns the stages of a pipeline by rank; equal ranks keep insertion order.
func (m *mockStore) stagesOf(pipelineID int64) []models.Stage {
	stages := []models.Stage{}
	for _, s := range m.data.stages {
		if s.PipelineID == pipelineID {
			stages = append(stages, s)
		}
	}
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Rank < stages[j].Rank })
	return stages
}

func (m *mockStore) CountStages(ctx context.Context, pipelineID int64) (int, error) {
	if err := m.lock(); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.data.stages {
		if s.PipelineID == pipelineID {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) UpdateStage(ctx context.Context, s models.Stage) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	for i, existing := range m.data.stages {
		if existing.ID == s.ID {
			existing.Name = s.Name
			existing.Color = s.Color
			existing.Probability = s.Probability
			existing.UpdatedAt = time.Now()
			m.data.stages[i] = existing
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) DeleteStage(ctx context.Context, id int64) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	for i, s := range m.data.stages {
		if s.ID == id {
			m.data.stages = append(m.data.stages[:i], m.data.stages[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) DeleteStages(ctx context.Context, pipelineID int64) (int64, error) {
	if err := m.lockWrite(); err != nil {
		return 0, err
	}
	defer m.unlockWrite()
	kept := m.data.stages[:0]
	var removed int64
	for _, s := range m.data.stages {
		if s.PipelineID == pipelineID {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.data.stages = kept
	return removed, nil
}

func (m *mockStore) UpdateStageRanks(ctx context.Context, pipelineID int64, ids []int64) error {
	if err := m.lockWrite(); err != nil {
		return err
	}
	defer m.unlockWrite()
	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	updated := 0
	now := time.Now()
	for i, s := range m.data.stages {
		rank, ok := pos[s.ID]
		if !ok || s.PipelineID != pipelineID {
			continue
		}
		m.data.stages[i].Rank = rank
		m.data.stages[i].UpdatedAt = now
		updated++
	}
	if updated != len(ids) {
		return errors.Wrapf(ErrNotFound, "%d of %d stages in pipeline %d", len(ids)-updated, len(ids), pipelineID)
	}
	return nil
}
