package service

import (
	"context"
	"time"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/pkg/errors"
)

// StageService is the persistence side of stage management. Every operation
// runs in its own transaction.
type StageService struct {
	store  storage.Store
	logger Logger
}

func NewStageService(store storage.Store, logger Logger) *StageService {
	return &StageService{store: store, logger: logger}
}

// ListStages returns the stages of an existing pipeline by ascending rank.
func (s *StageService) ListStages(ctx context.Context, pipelineID int64) ([]models.Stage, error) {
	if pipelineID <= 0 {
		return nil, invalid("pipeline ID must be positive")
	}
	if _, err := s.store.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}
	return s.store.ListStages(ctx, pipelineID)
}

func (s *StageService) GetStage(ctx context.Context, id int64) (models.Stage, error) {
	if id <= 0 {
		return models.Stage{}, invalid("stage ID must be positive")
	}
	return s.store.GetStage(ctx, id)
}

// CreateStage appends a stage to the pipeline: its rank is the number of
// stages the pipeline had before. Names are not required to be unique.
func (s *StageService) CreateStage(ctx context.Context, pipelineID int64, in models.StageInput) (created models.Stage, err error) {
	if pipelineID <= 0 {
		return models.Stage{}, invalid("pipeline ID must be positive")
	}
	name, err := validateName("stage", in.Name)
	if err != nil {
		return models.Stage{}, err
	}
	color, err := NormalizeColor(in.Color)
	if err != nil {
		return models.Stage{}, err
	}
	if err := validateProbability(in.Probability); err != nil {
		return models.Stage{}, err
	}

	err = withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		if _, err := tx.GetPipeline(ctx, pipelineID); err != nil {
			return err
		}
		count, err := tx.CountStages(ctx, pipelineID)
		if err != nil {
			return err
		}
		now := time.Now()
		created = models.Stage{
			PipelineID:  pipelineID,
			Name:        name,
			Color:       color,
			Probability: in.Probability,
			IsDefault:   in.IsDefault,
			Rank:        count,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created.ID, err = tx.SaveStage(ctx, created)
		return err
	})
	if err != nil {
		return models.Stage{}, err
	}
	s.logger.Infof("Created stage '%s' (ID %d) at rank %d in pipeline %d", name, created.ID, created.Rank, pipelineID)
	return created, nil
}

// UpdateStage applies a partial edit of name, color and probability. Default
// stages remain editable.
func (s *StageService) UpdateStage(ctx context.Context, id int64, patch models.StagePatch) (updated models.Stage, err error) {
	if id <= 0 {
		return models.Stage{}, invalid("stage ID must be positive")
	}
	if patch.Empty() {
		return models.Stage{}, invalid("nothing to update")
	}
	err = withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		st, err := tx.GetStage(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			if st.Name, err = validateName("stage", *patch.Name); err != nil {
				return err
			}
		}
		if patch.Color != nil {
			if st.Color, err = NormalizeColor(*patch.Color); err != nil {
				return err
			}
		}
		if patch.Probability != nil {
			if err := validateProbability(*patch.Probability); err != nil {
				return err
			}
			st.Probability = *patch.Probability
		}
		if err := tx.UpdateStage(ctx, st); err != nil {
			return err
		}
		updated, err = tx.GetStage(ctx, id)
		return err
	})
	if err != nil {
		return models.Stage{}, err
	}
	s.logger.Infof("Updated stage ID %d", id)
	return updated, nil
}

// DeleteStage removes a non-default stage. The remaining stages keep their
// ranks, so a gap is left behind.
func (s *StageService) DeleteStage(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalid("stage ID must be positive")
	}
	err := withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		st, err := tx.GetStage(ctx, id)
		if err != nil {
			return err
		}
		if st.IsDefault {
			return errors.Wrapf(ErrDefaultStage, "stage %d", id)
		}
		return tx.DeleteStage(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Deleted stage ID %d", id)
	return nil
}

// ReorderStages writes rank = index for every id in one transaction. ids must
// be a permutation of the pipeline's current stages.
func (s *StageService) ReorderStages(ctx context.Context, pipelineID int64, ids []int64) error {
	if pipelineID <= 0 {
		return invalid("pipeline ID must be positive")
	}
	err := withTx(ctx, s.store, s.logger, func(tx storage.Store) error {
		current, err := tx.ListStages(ctx, pipelineID)
		if err != nil {
			return err
		}
		if err := checkPermutation(models.StageIDs(current), ids); err != nil {
			return errors.Wrapf(err, "pipeline %d", pipelineID)
		}
		return tx.UpdateStageRanks(ctx, pipelineID, ids)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Reordered %d stages of pipeline %d", len(ids), pipelineID)
	return nil
}

func checkPermutation(current, ids []int64) error {
	if len(current) != len(ids) {
		return errors.Wrapf(ErrInvalidOrder, "got %d ids for %d stages", len(ids), len(current))
	}
	want := make(map[int64]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	for _, id := range ids {
		if !want[id] {
			return errors.Wrapf(ErrInvalidOrder, "unexpected or repeated stage %d", id)
		}
		delete(want, id)
	}
	return nil
}
