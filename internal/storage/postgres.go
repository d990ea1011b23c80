package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DBInterface is satisfied by both *sqlx.DB and *sqlx.Tx.
type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SavePipeline creates a new pipeline and returns its ID (stages are saved separately)
func (s *PostgresStore) SavePipeline(ctx context.Context, p models.Pipeline) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx,
		"INSERT INTO pipelines (name, description, is_default, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		p.Name, p.Description, p.IsDefault, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save pipeline: %w", err)
	}
	return id, nil
}

// GetPipeline retrieves a pipeline by ID, including its stages in rank order
func (s *PostgresStore) GetPipeline(ctx context.Context, id int64) (models.Pipeline, error) {
	var p models.Pipeline
	err := s.db.GetContext(ctx, &p,
		"SELECT id, name, description, is_default, created_at, updated_at FROM pipelines WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Pipeline{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Pipeline{}, fmt.Errorf("get pipeline %d: %w", id, err)
	}
	p.Stages, err = s.ListStages(ctx, id)
	if err != nil {
		return models.Pipeline{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	pipelines := []models.Pipeline{}
	query := "SELECT id, name, description, is_default, created_at, updated_at FROM pipelines ORDER BY is_default DESC, name, id"
	if err := s.db.SelectContext(ctx, &pipelines, query); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return pipelines, nil
}

func (s *PostgresStore) UpdatePipeline(ctx context.Context, p models.Pipeline) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pipelines SET name = $1, description = $2, is_default = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $4",
		p.Name, p.Description, p.IsDefault, p.ID)
	if err != nil {
		return fmt.Errorf("update pipeline %d: %w", p.ID, err)
	}
	return expectAffected(res, p.ID)
}

// ClearDefaultPipeline drops the default flag from every pipeline except exceptID
func (s *PostgresStore) ClearDefaultPipeline(ctx context.Context, exceptID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE pipelines SET is_default = FALSE, updated_at = CURRENT_TIMESTAMP WHERE is_default AND id <> $1", exceptID)
	return err
}

func (s *PostgresStore) DeletePipeline(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pipelines WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete pipeline %d: %w", id, err)
	}
	return expectAffected(res, id)
}

// SaveStage creates a new stage and returns its ID
func (s *PostgresStore) SaveStage(ctx context.Context, st models.Stage) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO stages (pipeline_id, name, color, probability, is_default, rank, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		st.PipelineID, st.Name, st.Color, st.Probability, st.IsDefault, st.Rank, st.CreatedAt, st.UpdatedAt).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return 0, fmt.Errorf("pipeline %d: %w", st.PipelineID, storage.ErrNotFound)
		}
		return 0, fmt.Errorf("save stage: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetStage(ctx context.Context, id int64) (models.Stage, error) {
	var st models.Stage
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stages WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Stage{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Stage{}, fmt.Errorf("get stage %d: %w", id, err)
	}
	return st, nil
}

// ListStages returns the stages of a pipeline by ascending rank. Equal ranks fall
// back to id so the order stays deterministic.
func (s *PostgresStore) ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	stages := []models.Stage{}
	err := s.db.SelectContext(ctx, &stages, "SELECT * FROM stages WHERE pipeline_id = $1 ORDER BY rank, id", pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list stages of pipeline %d: %w", pipelineID, err)
	}
	return stages, nil
}

func (s *PostgresStore) CountStages(ctx context.Context, pipelineID int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM stages WHERE pipeline_id = $1", pipelineID); err != nil {
		return 0, fmt.Errorf("count stages of pipeline %d: %w", pipelineID, err)
	}
	return n, nil
}

// UpdateStage writes the editable fields (name, color, probability) of a stage
func (s *PostgresStore) UpdateStage(ctx context.Context, st models.Stage) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stages SET name = $1, color = $2, probability = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $4",
		st.Name, st.Color, st.Probability, st.ID)
	if err != nil {
		return fmt.Errorf("update stage %d: %w", st.ID, err)
	}
	return expectAffected(res, st.ID)
}

func (s *PostgresStore) DeleteStage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete stage %d: %w", id, err)
	}
	return expectAffected(res, id)
}

func (s *PostgresStore) DeleteStages(ctx context.Context, pipelineID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM stages WHERE pipeline_id = $1", pipelineID)
	if err != nil {
		return 0, fmt.Errorf("delete stages of pipeline %d: %w", pipelineID, err)
	}
	return res.RowsAffected()
}

// UpdateStageRanks assigns rank = position in ids to every listed stage in a
// single statement. Every id must belong to the pipeline.
func (s *PostgresStore) UpdateStageRanks(ctx context.Context, pipelineID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE stages AS s
		SET rank = v.ord - 1, updated_at = CURRENT_TIMESTAMP
		FROM unnest($1::bigint[]) WITH ORDINALITY AS v(id, ord)
		WHERE s.id = v.id AND s.pipeline_id = $2`,
		pq.Array(ids), pipelineID)
	if err != nil {
		return fmt.Errorf("update stage ranks of pipeline %d: %w", pipelineID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(n) != len(ids) {
		return fmt.Errorf("updated %d of %d stages in pipeline %d: %w", n, len(ids), pipelineID, storage.ErrNotFound)
	}
	return nil
}

func expectAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("id %d: %w", id, storage.ErrNotFound)
	}
	return nil
}
