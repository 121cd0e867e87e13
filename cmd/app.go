package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/KaramelBytes/tabforge/internal/ai"
	"github.com/KaramelBytes/tabforge/internal/artifact"
	cfgpkg "github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/eda"
	"github.com/KaramelBytes/tabforge/internal/explainer"
	"github.com/KaramelBytes/tabforge/internal/prediction"
	"github.com/KaramelBytes/tabforge/internal/store/gormstore"
	"github.com/KaramelBytes/tabforge/internal/store/memstore"
	"github.com/KaramelBytes/tabforge/internal/trainer"
	"github.com/KaramelBytes/tabforge/internal/utils"
)

// app holds the services a command needs, built from the loaded config.
type app struct {
	cfg       *cfgpkg.Global
	repos     domain.Repositories
	store     artifact.Store
	narrator  *ai.Narrator
	analyzer  *eda.Analyzer
	trainer   *trainer.Trainer
	predictor *prediction.Service
	close     func()
}

func newApp(ctx context.Context) (*app, error) {
	if cfg == nil {
		cfg = cfgpkg.Default()
	}
	a := &app{cfg: cfg, close: func() {}}

	switch strings.ToLower(cfg.Storage.Backend) {
	case "", "memory":
		a.repos = memstore.New().Repositories()
	case "postgres":
		db, err := gormstore.Open(cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.repos = gormstore.Repositories(db)
		a.close = func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (use memory or postgres)", cfg.Storage.Backend)
	}

	store, err := artifact.Open(ctx, cfg.Artifacts)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	a.store = store

	a.narrator = ai.New(cfg)
	var edaOpts []eda.Option
	if cfg.EDA.Narrative {
		edaOpts = append(edaOpts, eda.WithNarrator(a.narrator))
	}
	a.analyzer = eda.New(a.repos, cfg.EDA, edaOpts...)

	var trainOpts []trainer.Option
	if cfg.Training.ComputeSHAP {
		trainOpts = append(trainOpts, trainer.WithExplainer(explainer.New(cfg.Explainer)))
	}
	a.trainer = trainer.New(a.repos, a.store, cfg.Training, trainOpts...)
	a.predictor = prediction.New(a.repos, a.store)
	return a, nil
}

// registerDataset parses path and stores it as a new dataset.
func (a *app) registerDataset(ctx context.Context, path, sheet string) (*domain.Dataset, *dataset.Frame, error) {
	d := &domain.Dataset{ID: uuid.NewString(), FilePath: path, Status: domain.DatasetUploading}
	f, err := dataset.Parse(d, dataset.LoadOptions{Sheet: sheet})
	if err != nil {
		return nil, nil, err
	}
	if err := a.repos.Datasets.Create(ctx, d); err != nil {
		return nil, nil, err
	}
	return d, f, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := utils.PrettyJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
