package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

func TestEDAVersionsIncrementPerDataset(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	for i := 0; i < 3; i++ {
		r := &domain.EDAResult{ID: string(rune('a' + i)), DatasetID: "ds1"}
		require.NoError(t, repos.EDAResults.Create(ctx, r))
		assert.Equal(t, i+1, r.Version)
	}
	other := &domain.EDAResult{ID: "z", DatasetID: "ds2"}
	require.NoError(t, repos.EDAResults.Create(ctx, other))
	assert.Equal(t, 1, other.Version)

	latest, err := repos.EDAResults.Latest(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestLatestCompletedByCacheKeyPrefersMostRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	repos := s.Repositories()

	none, err := repos.EDAResults.LatestCompletedByCacheKey(ctx, "hash")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repos.EDAResults.Create(ctx, &domain.EDAResult{ID: "old", DatasetID: "d", CacheKey: "hash", Status: domain.StatusCompleted}))
	require.NoError(t, repos.EDAResults.Create(ctx, &domain.EDAResult{ID: "new", DatasetID: "d", CacheKey: "hash", Status: domain.StatusCompleted}))
	require.NoError(t, repos.EDAResults.Create(ctx, &domain.EDAResult{ID: "running", DatasetID: "d", CacheKey: "hash", Status: domain.StatusRunning}))

	got, err := repos.EDAResults.LatestCompletedByCacheKey(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
}

func TestNotFoundCodes(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	_, err := repos.Datasets.Get(ctx, "x")
	assert.Equal(t, errs.CodeDatasetNotFound, errs.CodeOf(err))
	_, err = repos.Models.Get(ctx, "x")
	assert.Equal(t, errs.CodeModelNotFound, errs.CodeOf(err))
	_, err = repos.Jobs.Get(ctx, "x")
	assert.Equal(t, errs.CodeJobNotFound, errs.CodeOf(err))
}

func TestMarkBestIsExclusive(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repos.Models.Create(ctx, &domain.TrainedModel{ID: id, TrainingJobID: "job", IsBest: true}))
	}
	require.NoError(t, repos.Models.MarkBest(ctx, "job", "m2", map[string]int{"m2": 1, "m1": 2, "m3": 3}))

	models, err := repos.Models.ListByJob(ctx, "job")
	require.NoError(t, err)
	best := 0
	for _, m := range models {
		if m.IsBest {
			best++
			assert.Equal(t, "m2", m.ID)
			assert.Equal(t, 1, m.Rank)
		}
	}
	assert.Equal(t, 1, best)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	require.NoError(t, repos.Datasets.Create(ctx, &domain.Dataset{ID: "ds"}))
	require.NoError(t, repos.EDAResults.Create(ctx, &domain.EDAResult{ID: "e", DatasetID: "ds"}))
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "j", DatasetID: "ds"}))
	require.NoError(t, repos.Models.Create(ctx, &domain.TrainedModel{ID: "m", DatasetID: "ds", TrainingJobID: "j"}))
	require.NoError(t, repos.Predictions.Create(ctx, &domain.PredictionJob{ID: "p", ModelID: "m"}))

	require.NoError(t, repos.Datasets.Delete(ctx, "ds"))

	_, err := repos.EDAResults.Get(ctx, "e")
	assert.Error(t, err)
	_, err = repos.Jobs.Get(ctx, "j")
	assert.Error(t, err)
	_, err = repos.Models.Get(ctx, "m")
	assert.Error(t, err)
	_, err = repos.Predictions.Get(ctx, "p")
	assert.Error(t, err)
}

func TestFailStaleUsesHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	repos := s.Repositories()

	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "stuck", Status: domain.StatusRunning}))
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "alive", Status: domain.StatusRunning}))
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "done", Status: domain.StatusCompleted}))
	require.NoError(t, repos.Jobs.Touch(ctx, "alive", base.Add(10*time.Minute)))

	ids, err := repos.Jobs.FailStale(ctx, base.Add(5*time.Minute), "worker heartbeat lost")
	require.NoError(t, err)
	assert.Equal(t, []string{"stuck"}, ids)

	stuck, err := repos.Jobs.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, stuck.Status)
	assert.Equal(t, "worker heartbeat lost", stuck.ErrorMessage)
}

func TestPendingOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := New()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	repos := s.Repositories()

	for _, j := range []*domain.TrainingJob{
		{ID: "b", Status: domain.StatusPending},
		{ID: "a", Status: domain.StatusPending},
		{ID: "c", Status: domain.StatusRunning},
	} {
		require.NoError(t, repos.Jobs.Create(ctx, j))
	}
	ids, err := repos.Jobs.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	ids, err = repos.Predictions.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
