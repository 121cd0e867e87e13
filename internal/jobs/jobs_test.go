package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/prediction"
	"github.com/KaramelBytes/tabforge/internal/store/memstore"
	"github.com/KaramelBytes/tabforge/internal/trainer"
)

func testWorker() config.Worker {
	return config.Worker{Concurrency: 2, QueueSize: 4}
}

func noop(context.Context) error { return nil }

func TestQueueRunsSubmittedTasks(t *testing.T) {
	repos := memstore.New().Repositories()
	q := NewQueue(testWorker(), 0, repos)

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Submit(Task{Kind: KindTraining, ID: fmt.Sprintf("job-%d", i), Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
}

func TestQueueSubmit(t *testing.T) {
	repos := memstore.New().Repositories()
	q := NewQueue(config.Worker{QueueSize: 1}, 0, repos)

	require.NoError(t, q.Submit(Task{Kind: KindEDA, ID: "a", Run: noop}))
	// same row again is a no-op, not a second slot
	require.NoError(t, q.Submit(Task{Kind: KindEDA, ID: "a", Run: noop}))
	assert.ErrorIs(t, q.Submit(Task{Kind: KindEDA, ID: "b", Run: noop}), ErrQueueFull)
	// kinds do not share ids
	assert.ErrorIs(t, q.Submit(Task{Kind: KindTraining, ID: "a", Run: noop}), ErrQueueFull)

	q.Close()
	assert.ErrorIs(t, q.Submit(Task{Kind: KindEDA, ID: "c", Run: noop}), ErrQueueClosed)
	q.Close()
}

func TestQueueRecordsPanics(t *testing.T) {
	repos := memstore.New().Repositories()
	q := NewQueue(testWorker(), 0, repos)

	var message string
	require.NoError(t, q.Submit(Task{
		Kind: KindTraining,
		ID:   "boom",
		Run:  func(context.Context) error { panic("boom") },
		Fail: func(_ context.Context, m string) error {
			message = m
			return nil
		},
	}))
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, "worker panic: boom", message)
}

func TestQueueTimeLimit(t *testing.T) {
	repos := memstore.New().Repositories()
	q := NewQueue(testWorker(), 0, repos, WithTimeLimit(KindPrediction, 20*time.Millisecond))

	var message string
	var failCtxErr error
	require.NoError(t, q.Submit(Task{
		Kind: KindPrediction,
		ID:   "slow",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Fail: func(ctx context.Context, m string) error {
			message, failCtxErr = m, ctx.Err()
			return nil
		},
	}))
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, TimeLimitMessage, message)
	assert.NoError(t, failCtxErr, "failure is recorded on a live context")
}

func TestQueueOrdinaryErrorsAreLeftToTheTask(t *testing.T) {
	repos := memstore.New().Repositories()
	q := NewQueue(testWorker(), 0, repos)

	failed := false
	require.NoError(t, q.Submit(Task{
		Kind: KindEDA,
		ID:   "err",
		Run:  func(context.Context) error { return errors.New("bad input") },
		Fail: func(context.Context, string) error {
			failed = true
			return nil
		},
	}))
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.False(t, failed)
}

func TestQueueHeartbeat(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	job := &domain.TrainingJob{ID: "hb", DatasetID: "d", Status: domain.StatusRunning}
	require.NoError(t, repos.Jobs.Create(ctx, job))

	q := NewQueue(testWorker(), 0, repos, WithHeartbeat(5*time.Millisecond))
	require.NoError(t, q.Submit(Task{Kind: KindTraining, ID: "hb", Run: func(context.Context) error {
		time.Sleep(40 * time.Millisecond)
		return nil
	}}))
	q.Close()
	require.NoError(t, q.Run(ctx))

	got, err := repos.Jobs.Get(ctx, "hb")
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
}

func TestReaperFailsStaleRunningRows(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "running", DatasetID: "d", Status: domain.StatusRunning}))
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "pending", DatasetID: "d", Status: domain.StatusPending}))
	require.NoError(t, repos.Predictions.Create(ctx, &domain.PredictionJob{ID: "pred", ModelID: "m", Status: domain.StatusRunning}))

	r := NewReaper(config.Worker{StaleAfterSec: 60}, repos)

	reaped, err := r.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, reaped, "fresh rows are left alone")

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	reaped, err = r.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, reaped[KindTraining])
	assert.Equal(t, []string{"pred"}, reaped[KindPrediction])
	assert.NotContains(t, reaped, KindEDA)

	job, err := repos.Jobs.Get(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, HeartbeatLostMessage, job.ErrorMessage)

	pending, err := repos.Jobs.Get(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Status)
}

func TestTaskFailIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repos := memstore.New().Repositories()
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{ID: "done", DatasetID: "d", Status: domain.StatusCompleted}))

	task := TrainingTask(nil, repos, "done")
	require.NoError(t, task.Fail(ctx, TimeLimitMessage))

	job, err := repos.Jobs.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func writeDataset(t *testing.T, repos domain.Repositories) *domain.Dataset {
	t.Helper()
	var b strings.Builder
	b.WriteString("age,income,segment,churn\n")
	for i := 0; i < 60; i++ {
		churn := "no"
		if i%3 == 0 {
			churn = "yes"
		}
		fmt.Fprintf(&b, "%d,%d,%s,%s\n", 20+i%40, 30000+i*250, []string{"a", "b", "c"}[i%3], churn)
	}
	path := filepath.Join(t.TempDir(), "churn.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	d := &domain.Dataset{ID: "ds", Name: "churn", FilePath: path}
	_, err := dataset.Parse(d, dataset.LoadOptions{})
	require.NoError(t, err)
	require.NoError(t, repos.Datasets.Create(context.Background(), d))
	return d
}

func TestDispatcherRunsPendingRows(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	repos := memstore.New().Repositories()
	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	d := writeDataset(t, repos)

	require.NoError(t, repos.EDAResults.Create(ctx, &domain.EDAResult{ID: "eda-1", DatasetID: d.ID, Status: domain.StatusPending}))
	require.NoError(t, repos.Jobs.Create(ctx, &domain.TrainingJob{
		ID:           "job-1",
		DatasetID:    d.ID,
		TargetColumn: "churn",
		TaskType:     domain.Classification,
		Status:       domain.StatusPending,
	}))

	q := NewQueue(testWorker(), cfg.EDA.TimeLimit(), repos)
	disp := NewDispatcher(q, repos,
		eda.New(repos, cfg.EDA),
		trainer.New(repos, store, config.Training{TestSize: 0.2, Seed: 1, MaxFolds: 3}),
		prediction.New(repos, store),
		time.Second)

	n, err := disp.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// queued rows are not submitted twice
	n, err = disp.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	q.Close()
	require.NoError(t, q.Run(ctx))

	r, err := repos.EDAResults.Get(ctx, "eda-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, r.Status)
	assert.Equal(t, 60, r.RowCount)

	job, err := repos.Jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, job.Status, job.ErrorMessage)
	models, err := repos.Models.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, models)
}
