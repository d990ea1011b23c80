package seed

import (
	"context"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/service"
)

// ServiceTarget seeds straight into the services, without an HTTP server.
type ServiceTarget struct {
	Pipelines *service.PipelineService
	Stages    *service.StageService
}

func (t ServiceTarget) CreatePipeline(ctx context.Context, name, description string, isDefault bool) (int64, error) {
	return t.Pipelines.CreatePipeline(ctx, name, description, isDefault)
}

func (t ServiceTarget) CreateStage(ctx context.Context, pipelineID int64, in models.StageInput) (models.Stage, error) {
	return t.Stages.CreateStage(ctx, pipelineID, in)
}
