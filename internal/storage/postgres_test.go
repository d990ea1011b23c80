package storage_test

import (
	"context"
	"testing"
	"time"

	internal_storage "github.com/ignatij/dealflow/internal/storage"
	"github.com/ignatij/dealflow/internal/testutil"
	"github.com/ignatij/dealflow/pkg/models"
	"github.com/ignatij/dealflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)
	ctx := context.Background()

	// Helper to create a transactional store that is rolled back after each subtest
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		txStore, err := store.Begin(ctx)
		require.NoError(t, err)
		t.Cleanup(func() {
			txStore.Rollback()
			store.Close()
		})
		return txStore.(*internal_storage.PostgresStore)
	}

	newPipeline := func(t *testing.T, store storage.Store, name string) int64 {
		id, err := store.SavePipeline(ctx, models.Pipeline{Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)
		return id
	}

	newStage := func(t *testing.T, store storage.Store, pipelineID int64, name string, rank int) int64 {
		id, err := store.SaveStage(ctx, models.Stage{
			PipelineID: pipelineID,
			Name:       name,
			Color:      models.DefaultStageColor,
			Rank:       rank,
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		})
		require.NoError(t, err)
		return id
	}

	t.Run("SavePipeline", func(t *testing.T) {
		store := newTxStore(t)
		id := newPipeline(t, store, "Sales")
		assert.Greater(t, id, int64(0))

		p, err := store.GetPipeline(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, "Sales", p.Name)
		assert.Empty(t, p.Stages)
	})

	t.Run("GetNonExistingPipeline", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetPipeline(ctx, 123)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListPipelines puts the default first", func(t *testing.T) {
		store := newTxStore(t)
		newPipeline(t, store, "B")
		id, err := store.SavePipeline(ctx, models.Pipeline{Name: "Z", IsDefault: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)
		newPipeline(t, store, "A")

		pipelines, err := store.ListPipelines(ctx)
		assert.NoError(t, err)
		require.Len(t, pipelines, 3)
		assert.Equal(t, id, pipelines[0].ID)
		assert.Equal(t, "A", pipelines[1].Name)
		assert.Equal(t, "B", pipelines[2].Name)
	})

	t.Run("ClearDefaultPipeline", func(t *testing.T) {
		store := newTxStore(t)
		first, err := store.SavePipeline(ctx, models.Pipeline{Name: "first", IsDefault: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)
		second, err := store.SavePipeline(ctx, models.Pipeline{Name: "second", IsDefault: true, CreatedAt: time.Now(), UpdatedAt: time.Now()})
		require.NoError(t, err)

		assert.NoError(t, store.ClearDefaultPipeline(ctx, second))
		p1, _ := store.GetPipeline(ctx, first)
		p2, _ := store.GetPipeline(ctx, second)
		assert.False(t, p1.IsDefault)
		assert.True(t, p2.IsDefault)
	})

	t.Run("ListStages orders by rank", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		won := newStage(t, store, pid, "Won", 2)
		lead := newStage(t, store, pid, "Lead", 0)
		demo := newStage(t, store, pid, "Demo", 1)

		stages, err := store.ListStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, []int64{lead, demo, won}, models.StageIDs(stages))
	})

	t.Run("ListStages with duplicate ranks is deterministic", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		a := newStage(t, store, pid, "A", 1)
		b := newStage(t, store, pid, "B", 1)
		c := newStage(t, store, pid, "C", 0)

		first, err := store.ListStages(ctx, pid)
		assert.NoError(t, err)
		second, err := store.ListStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, []int64{c, a, b}, models.StageIDs(first))
		assert.Equal(t, models.StageIDs(first), models.StageIDs(second))
	})

	t.Run("SaveStage for missing pipeline", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveStage(ctx, models.Stage{PipelineID: 999, Name: "x", Color: models.DefaultStageColor})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateStage", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		id := newStage(t, store, pid, "Lead", 0)

		st, err := store.GetStage(ctx, id)
		require.NoError(t, err)
		st.Name = "Qualified"
		st.Color = "#00ff00"
		st.Probability = 40
		assert.NoError(t, store.UpdateStage(ctx, st))

		updated, err := store.GetStage(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, "Qualified", updated.Name)
		assert.Equal(t, "#00ff00", updated.Color)
		assert.Equal(t, 40, updated.Probability)
		assert.Equal(t, 0, updated.Rank)
	})

	t.Run("DeleteStage leaves rank gaps", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		a := newStage(t, store, pid, "A", 0)
		b := newStage(t, store, pid, "B", 1)
		c := newStage(t, store, pid, "C", 2)

		assert.NoError(t, store.DeleteStage(ctx, b))
		assert.ErrorIs(t, store.DeleteStage(ctx, b), storage.ErrNotFound)

		stages, err := store.ListStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, []int64{a, c}, models.StageIDs(stages))
		assert.Equal(t, 0, stages[0].Rank)
		assert.Equal(t, 2, stages[1].Rank)
	})

	t.Run("UpdateStageRanks", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		s1 := newStage(t, store, pid, "s1", 0)
		s2 := newStage(t, store, pid, "s2", 1)
		s3 := newStage(t, store, pid, "s3", 2)

		assert.NoError(t, store.UpdateStageRanks(ctx, pid, []int64{s3, s1, s2}))
		stages, err := store.ListStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, []int64{s3, s1, s2}, models.StageIDs(stages))
		for i, st := range stages {
			assert.Equal(t, i, st.Rank)
		}
	})

	t.Run("UpdateStageRanks rejects foreign stages", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		other := newPipeline(t, store, "Other")
		s1 := newStage(t, store, pid, "s1", 0)
		foreign := newStage(t, store, other, "f", 0)

		err := store.UpdateStageRanks(ctx, pid, []int64{foreign, s1})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CountAndDeleteStages", func(t *testing.T) {
		store := newTxStore(t)
		pid := newPipeline(t, store, "Sales")
		newStage(t, store, pid, "a", 0)
		newStage(t, store, pid, "b", 1)

		n, err := store.CountStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)

		removed, err := store.DeleteStages(ctx, pid)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), removed)
		assert.NoError(t, store.DeletePipeline(ctx, pid))
		_, err = store.GetPipeline(ctx, pid)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
