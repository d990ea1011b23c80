package cli

import (
	"context"
	"sync"

	"github.com/ignatij/dealflow/internal/config"
	"github.com/ignatij/dealflow/internal/log"
	"github.com/ignatij/dealflow/internal/seed"
	internal_storage "github.com/ignatij/dealflow/internal/storage"
	"github.com/ignatij/dealflow/pkg/client"
	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/sequencer"
	"github.com/ignatij/dealflow/pkg/service"
	"github.com/spf13/cobra"
)

// PipelineAPI is the pipeline surface shared by the services and the HTTP client.
type PipelineAPI interface {
	CreatePipeline(ctx context.Context, name, description string, isDefault bool) (int64, error)
	GetPipeline(ctx context.Context, id int64) (models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]models.Pipeline, error)
	UpdatePipeline(ctx context.Context, id int64, patch models.PipelinePatch) (models.Pipeline, error)
	DeletePipeline(ctx context.Context, id int64, force bool) error
}

// backend bundles what a command needs, either over HTTP (--server) or
// straight against Postgres (--db).
type backend struct {
	pipelines PipelineAPI
	stages    sequencer.Backend
	seed      seed.Target
	close     func() error
}

func openBackend(cmd *cobra.Command, cfg config.Config) (*backend, error) {
	server, _ := cmd.Flags().GetString("server")
	if server != "" {
		log.GetLogger().Debugf("Using dealflow server at %s", server)
		c := client.New(server)
		return &backend{pipelines: c, stages: c, seed: c, close: func() error { return nil }}, nil
	}

	dbConnStr, _ := cmd.Flags().GetString("db")
	connStr, err := cfg.ResolveDB(dbConnStr)
	if err != nil {
		return nil, err
	}
	log.GetLogger().Debugf("Running %s against the database", cmd.Name())
	store, err := internal_storage.InitStore(connStr)
	if err != nil {
		return nil, err
	}
	pipelines := service.NewPipelineService(store, log.GetLogger())
	stages := service.NewStageService(store, log.GetLogger())
	return &backend{
		pipelines: pipelines,
		stages:    stages,
		seed:      seed.ServiceTarget{Pipelines: pipelines, Stages: stages},
		close:     store.Close,
	}, nil
}

// failureNotifier keeps the first reconcile failure so a one-shot command can
// report it after flushing.
type failureNotifier struct {
	mu  sync.Mutex
	err error
}

func (n *failureNotifier) Success(msg string) {
	log.GetLogger().Debug(msg)
}

func (n *failureNotifier) Failure(msg string, err error) {
	log.GetLogger().Errorf("%s: %v", msg, err)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err == nil {
		n.err = err
	}
}

func (n *failureNotifier) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// withSequencer runs fn against a sequencer showing pipelineID, then waits for
// queued reorders to be written before returning.
func withSequencer(ctx context.Context, b *backend, cfg config.Config, pipelineID int64, fn func(seq *sequencer.Sequencer) error) (err error) {
	notifier := &failureNotifier{}
	seq := sequencer.New(ctx, b.stages, log.GetLogger(),
		sequencer.WithQueueSize(cfg.ReconcileQueue),
		sequencer.WithNotifier(notifier),
	)
	defer func() {
		if closeErr := seq.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err == nil {
			err = notifier.Err()
		}
	}()
	if _, err := seq.Select(ctx, pipelineID); err != nil {
		return err
	}
	return fn(seq)
}
