package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/tabforge/internal/jobs"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
)

var workerNoMetrics bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued EDA, training and prediction jobs",
	Long: `Polls storage for PENDING rows and runs them on a bounded worker pool.
Running rows get a heartbeat; rows whose heartbeat goes stale are failed by
the reaper. Needs a shared storage backend (postgres) to see rows queued by
other commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		q := jobs.NewQueue(a.cfg.Worker, a.cfg.EDA.TimeLimit(), a.repos)
		dispatcher := jobs.NewDispatcher(q, a.repos, a.analyzer, a.trainer, a.predictor, a.cfg.Worker.PollInterval())
		reaper := jobs.NewReaper(a.cfg.Worker, a.repos)

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return q.Run(ctx) })
		eg.Go(func() error { return dispatcher.Run(ctx) })
		eg.Go(func() error { return reaper.Run(ctx) })
		eg.Go(func() error {
			<-ctx.Done()
			q.Close()
			return nil
		})
		if !workerNoMetrics && a.cfg.MetricsAddr != "" {
			srv := metrics.New(a.cfg.MetricsAddr)
			eg.Go(func() error {
				logger.Infof("Serving metrics on %s", a.cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		logger.Infof("Worker started: concurrency=%d poll=%s", a.cfg.Worker.Concurrency, a.cfg.Worker.PollInterval())
		err = eg.Wait()
		logger.Infof("Worker stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().BoolVar(&workerNoMetrics, "no-metrics", false, "do not serve Prometheus metrics")
}
