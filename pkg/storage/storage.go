package storage

import (
	"context"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a pipeline or stage does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the storage operations for pipelines and their stages.
type Store interface {
	// Transaction handling
	Begin(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Pipeline operations
	SavePipeline(ctx context.Context, p models.Pipeline) (int64, error)
	GetPipeline(ctx context.Context, id int64) (models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]models.Pipeline, error)
	UpdatePipeline(ctx context.Context, p models.Pipeline) error
	ClearDefaultPipeline(ctx context.Context, exceptID int64) error
	DeletePipeline(ctx context.Context, id int64) error

	// Stage operations
	SaveStage(ctx context.Context, s models.Stage) (int64, error)
	GetStage(ctx context.Context, id int64) (models.Stage, error)
	ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error)
	CountStages(ctx context.Context, pipelineID int64) (int, error)
	UpdateStage(ctx context.Context, s models.Stage) error
	DeleteStage(ctx context.Context, id int64) error
	DeleteStages(ctx context.Context, pipelineID int64) (int64, error)
	// UpdateStageRanks sets rank = index for every id, in one statement.
	UpdateStageRanks(ctx context.Context, pipelineID int64, ids []int64) error
}
