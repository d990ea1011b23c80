package service

import (
	"context"

	"github.com/ignatij/dealflow/pkg/storage"
)

// Logger defines the logging interface used by the services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// withTx runs fn inside a transaction, committing when it succeeds and rolling
// back otherwise.
func withTx(ctx context.Context, store storage.Store, logger Logger, fn func(tx storage.Store) error) (err error) {
	txStore, err := store.Begin(ctx)
	if err != nil {
		logger.Errorf("Failed to begin transaction: %v", err)
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr // Update the named return value
		}
	}()
	return fn(txStore)
}
