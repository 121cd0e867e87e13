package jobs

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
)

// HeartbeatLostMessage is recorded on RUNNING rows nobody is working on.
const HeartbeatLostMessage = "worker heartbeat lost"

// Reaper fails RUNNING rows whose heartbeat is older than the stale
// threshold, so a crashed worker does not leave them running forever.
type Reaper struct {
	repos      map[Kind]domain.RunRepository
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

func NewReaper(cfg config.Worker, repos domain.Repositories) *Reaper {
	r := &Reaper{
		repos: map[Kind]domain.RunRepository{
			KindEDA:        repos.EDAResults,
			KindTraining:   repos.Jobs,
			KindPrediction: repos.Predictions,
		},
		staleAfter: cfg.StaleAfter(),
		interval:   cfg.ReapInterval(),
		now:        time.Now,
	}
	if r.staleAfter <= 0 {
		r.staleAfter = 10 * time.Minute
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	return r
}

// Reap runs one pass and returns the failed ids per kind.
func (r *Reaper) Reap(ctx context.Context) (map[Kind][]string, error) {
	before := r.now().Add(-r.staleAfter)
	out := map[Kind][]string{}
	var result *multierror.Error
	for _, kind := range []Kind{KindEDA, KindTraining, KindPrediction} {
		ids, err := r.repos[kind].FailStale(ctx, before, HeartbeatLostMessage)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if len(ids) == 0 {
			continue
		}
		out[kind] = ids
		metrics.ReapedCount.WithLabelValues(string(kind)).Add(float64(len(ids)))
		logger.Warnf("Reaped %d stale %s rows: %v", len(ids), kind, ids)
	}
	return out, result.ErrorOrNil()
}

// Run reaps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				logger.Errorf("Reaper pass failed: %v", err)
			}
		}
	}
}
