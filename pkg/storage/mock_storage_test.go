package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelineNames(t *testing.T, store storage.Store) []string {
	t.Helper()
	pipelines, err := store.ListPipelines(context.Background())
	require.NoError(t, err)
	var names []string
	for _, p := range pipelines {
		names = append(names, p.Name)
	}
	return names
}

func TestMockStoreTransactions(t *testing.T) {
	ctx := context.Background()

	t.Run("OverlappingCommitsKeepBothWrites", func(t *testing.T) {
		store := storage.NewMockStore()
		txA, err := store.Begin(ctx)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			txB, err := store.Begin(ctx)
			if err != nil {
				done <- err
				return
			}
			if _, err := txB.SavePipeline(ctx, models.Pipeline{Name: "b"}); err != nil {
				done <- err
				return
			}
			done <- txB.Commit()
		}()

		_, err = txA.SavePipeline(ctx, models.Pipeline{Name: "a"})
		require.NoError(t, err)
		select {
		case err := <-done:
			t.Fatalf("second transaction finished while the first was open: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		require.NoError(t, txA.Commit())
		require.NoError(t, <-done)

		assert.Equal(t, []string{"a", "b"}, pipelineNames(t, store))
	})

	t.Run("DirectWriteWaitsForCommit", func(t *testing.T) {
		store := storage.NewMockStore()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.SavePipeline(ctx, models.Pipeline{Name: "in tx"})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := store.SavePipeline(ctx, models.Pipeline{Name: "direct"})
			done <- err
		}()
		require.NoError(t, tx.Commit())
		require.NoError(t, <-done)

		assert.Equal(t, []string{"direct", "in tx"}, pipelineNames(t, store))
	})

	t.Run("RollbackReleasesStore", func(t *testing.T) {
		store := storage.NewMockStore()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.SavePipeline(ctx, models.Pipeline{Name: "dropped"})
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())
		assert.Error(t, tx.Rollback())

		_, err = store.SavePipeline(ctx, models.Pipeline{Name: "kept"})
		require.NoError(t, err)
		assert.Equal(t, []string{"kept"}, pipelineNames(t, store))
	})
}
