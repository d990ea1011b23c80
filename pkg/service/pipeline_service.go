package service

import (
	"context"
	"strings"
	"time"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/pkg/errors"
)

type PipelineService struct {
	store  storage.Store
	logger Logger
}

func NewPipelineService(store storage.Store, logger Logger) *PipelineService {
	return &PipelineService{store: store, logger: logger}
}

// CreatePipeline stores a new pipeline without stages. Marking it default
// clears the flag on every other pipeline.
func (s *PipelineService) CreatePipeline(ctx context.Context, name, description string, isDefault bool) (id int64, err error) {
	name, err = validateName("pipeline", name)
	if err != nil {
		return 0, err
	}
	err = withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		now := time.Now()
		id, err = tx.SavePipeline(ctx, models.Pipeline{
			Name:        name,
			Description: strings.TrimSpace(description),
			IsDefault:   isDefault,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if isDefault {
			return tx.ClearDefaultPipeline(ctx, id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created pipeline '%s' with ID %d", name, id)
	return id, nil
}

func (s *PipelineService) GetPipeline(ctx context.Context, id int64) (models.Pipeline, error) {
	if id <= 0 {
		return models.Pipeline{}, invalid("pipeline ID must be positive")
	}
	return s.store.GetPipeline(ctx, id)
}

func (s *PipelineService) ListPipelines(ctx context.Context) ([]models.Pipeline, error) {
	return s.store.ListPipelines(ctx)
}

// UpdatePipeline applies a partial update and returns the stored result.
func (s *PipelineService) UpdatePipeline(ctx context.Context, id int64, patch models.PipelinePatch) (updated models.Pipeline, err error) {
	if id <= 0 {
		return models.Pipeline{}, invalid("pipeline ID must be positive")
	}
	err = withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		p, err := tx.GetPipeline(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			if p.Name, err = validateName("pipeline", *patch.Name); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			p.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.IsDefault != nil {
			p.IsDefault = *patch.IsDefault
		}
		if err := tx.UpdatePipeline(ctx, p); err != nil {
			return err
		}
		if p.IsDefault {
			if err := tx.ClearDefaultPipeline(ctx, p.ID); err != nil {
				return err
			}
		}
		updated, err = tx.GetPipeline(ctx, id)
		return err
	})
	if err != nil {
		return models.Pipeline{}, err
	}
	s.logger.Infof("Updated pipeline ID %d", id)
	return updated, nil
}

// DeletePipeline removes a pipeline. Stages are never orphaned: a pipeline
// that still owns stages is refused unless force is set, in which case its
// stages are deleted in the same transaction.
func (s *PipelineService) DeletePipeline(ctx context.Context, id int64, force bool) error {
	if id <= 0 {
		return invalid("pipeline ID must be positive")
	}
	var removed int64
	err := withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		if _, err := tx.GetPipeline(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountStages(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			if !force {
				return errors.Wrapf(ErrPipelineHasStages, "pipeline %d has %d stages", id, n)
			}
			if removed, err = tx.DeleteStages(ctx, id); err != nil {
				return err
			}
		}
		return tx.DeletePipeline(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Deleted pipeline ID %d (%d stages removed)", id, removed)
	return nil
}
