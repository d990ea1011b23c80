package service

import "github.com/pkg/errors"

var (
	// ErrInvalidInput marks validation failures; wrapped errors carry the detail.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDefaultStage is returned when deleting a stage flagged as default.
	ErrDefaultStage = errors.New("default stage cannot be deleted")
	// ErrPipelineHasStages is returned when deleting a pipeline that still owns stages.
	ErrPipelineHasStages = errors.New("pipeline still has stages")
	// ErrInvalidOrder is returned when a reorder is not a permutation of the pipeline's stages.
	ErrInvalidOrder = errors.New("stage order must list every stage of the pipeline exactly once")
)

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}
