// Package gormstore implements the repositories on a relational database via gorm.
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"moul.io/zapgorm2"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/logger"
)

// Open connects to postgres and optionally migrates the schema.
func Open(cfg config.Postgres) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: cfg.DSN(),
	}), gormConfig())
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   zapgorm2.New(logger.Desugar()),
	}
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Dataset{},
		&domain.EDAResult{},
		&domain.TrainingJob{},
		&domain.TrainedModel{},
		&domain.PredictionJob{},
	)
}

// Repositories wraps db in the domain interfaces.
func Repositories(db *gorm.DB) domain.Repositories {
	return domain.Repositories{
		Datasets:    datasetRepo{db},
		EDAResults:  edaRepo{db},
		Jobs:        jobRepo{db},
		Models:      modelRepo{db},
		Predictions: predictionRepo{db},
	}
}

func notFound(err error, code errs.Code, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(code, entity, id)
	}
	return err
}

type datasetRepo struct{ db *gorm.DB }

func (r datasetRepo) Create(ctx context.Context, d *domain.Dataset) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r datasetRepo) Get(ctx context.Context, id string) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, errs.CodeDatasetNotFound, "dataset", id)
	}
	return &d, nil
}

func (r datasetRepo) Update(ctx context.Context, d *domain.Dataset) error {
	return r.db.WithContext(ctx).Save(d).Error
}

func (r datasetRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&domain.Dataset{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound(errs.CodeDatasetNotFound, "dataset", id)
		}
		models := tx.Model(&domain.TrainedModel{}).Select("id").Where("dataset_id = ?", id)
		if err := tx.Where("model_id IN (?)", models).Delete(&domain.PredictionJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&domain.TrainedModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("dataset_id = ?", id).Delete(&domain.TrainingJob{}).Error; err != nil {
			return err
		}
		return tx.Where("dataset_id = ?", id).Delete(&domain.EDAResult{}).Error
	})
}

func (r datasetRepo) List(ctx context.Context) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	err := r.db.WithContext(ctx).Order("created_at").Find(&out).Error
	return out, err
}

type edaRepo struct{ db *gorm.DB }

func (r edaRepo) Create(ctx context.Context, e *domain.EDAResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var version int
		if err := tx.Model(&domain.EDAResult{}).
			Where("dataset_id = ?", e.DatasetID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&version).Error; err != nil {
			return err
		}
		e.Version = version + 1
		return tx.Create(e).Error
	})
}

func (r edaRepo) Get(ctx context.Context, id string) (*domain.EDAResult, error) {
	var e domain.EDAResult
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, notFound(err, errs.CodeEDANotFound, "EDA result", id)
	}
	return &e, nil
}

func (r edaRepo) Update(ctx context.Context, e *domain.EDAResult) error {
	return r.db.WithContext(ctx).Save(e).Error
}

func (r edaRepo) LatestCompletedByCacheKey(ctx context.Context, key string) (*domain.EDAResult, error) {
	var e domain.EDAResult
	err := r.db.WithContext(ctx).
		Where("cache_key = ? AND status = ?", key, domain.StatusCompleted).
		Order("created_at DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r edaRepo) Latest(ctx context.Context, datasetID string) (*domain.EDAResult, error) {
	var e domain.EDAResult
	err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("version DESC").First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r edaRepo) ListByDataset(ctx context.Context, datasetID string) ([]*domain.EDAResult, error) {
	var out []*domain.EDAResult
	err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("version").Find(&out).Error
	return out, err
}

func (r edaRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return touch(ctx, r.db, &domain.EDAResult{}, id, at)
}

func (r edaRepo) FailStale(ctx context.Context, before time.Time, message string) ([]string, error) {
	return failStale(ctx, r.db, &domain.EDAResult{}, before, message)
}

func (r edaRepo) Pending(ctx context.Context) ([]string, error) {
	return pending(ctx, r.db, &domain.EDAResult{})
}

type jobRepo struct{ db *gorm.DB }

func (r jobRepo) Create(ctx context.Context, j *domain.TrainingJob) error {
	return r.db.WithContext(ctx).Create(j).Error
}

func (r jobRepo) Get(ctx context.Context, id string) (*domain.TrainingJob, error) {
	var j domain.TrainingJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err, errs.CodeJobNotFound, "training job", id)
	}
	return &j, nil
}

func (r jobRepo) Update(ctx context.Context, j *domain.TrainingJob) error {
	return r.db.WithContext(ctx).Save(j).Error
}

func (r jobRepo) ListByDataset(ctx context.Context, datasetID string) ([]*domain.TrainingJob, error) {
	var out []*domain.TrainingJob
	err := r.db.WithContext(ctx).Where("dataset_id = ?", datasetID).Order("created_at").Find(&out).Error
	return out, err
}

func (r jobRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return touch(ctx, r.db, &domain.TrainingJob{}, id, at)
}

func (r jobRepo) FailStale(ctx context.Context, before time.Time, message string) ([]string, error) {
	return failStale(ctx, r.db, &domain.TrainingJob{}, before, message)
}

func (r jobRepo) Pending(ctx context.Context) ([]string, error) {
	return pending(ctx, r.db, &domain.TrainingJob{})
}

type modelRepo struct{ db *gorm.DB }

func (r modelRepo) Create(ctx context.Context, m *domain.TrainedModel) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r modelRepo) Get(ctx context.Context, id string) (*domain.TrainedModel, error) {
	var m domain.TrainedModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, errs.CodeModelNotFound, "model", id)
	}
	return &m, nil
}

func (r modelRepo) Update(ctx context.Context, m *domain.TrainedModel) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r modelRepo) ListByJob(ctx context.Context, jobID string) ([]*domain.TrainedModel, error) {
	var out []*domain.TrainedModel
	err := r.db.WithContext(ctx).Where("training_job_id = ?", jobID).Order("created_at, name").Find(&out).Error
	return out, err
}

func (r modelRepo) MarkBest(ctx context.Context, jobID, modelID string, ranks map[string]int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.TrainedModel{}).
			Where("id = ? AND training_job_id = ?", modelID, jobID).
			Update("is_best", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.NotFound(errs.CodeModelNotFound, "model", modelID)
		}
		if err := tx.Model(&domain.TrainedModel{}).
			Where("training_job_id = ? AND id <> ?", jobID, modelID).
			Update("is_best", false).Error; err != nil {
			return err
		}
		for id, rank := range ranks {
			if err := tx.Model(&domain.TrainedModel{}).Where("id = ?", id).Update("rank", rank).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

type predictionRepo struct{ db *gorm.DB }

func (r predictionRepo) Create(ctx context.Context, p *domain.PredictionJob) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r predictionRepo) Get(ctx context.Context, id string) (*domain.PredictionJob, error) {
	var p domain.PredictionJob
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, errs.CodePredictionNotFound, "prediction job", id)
	}
	return &p, nil
}

func (r predictionRepo) Update(ctx context.Context, p *domain.PredictionJob) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r predictionRepo) ListByModel(ctx context.Context, modelID string) ([]*domain.PredictionJob, error) {
	var out []*domain.PredictionJob
	err := r.db.WithContext(ctx).Where("model_id = ?", modelID).Order("created_at").Find(&out).Error
	return out, err
}

func (r predictionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return touch(ctx, r.db, &domain.PredictionJob{}, id, at)
}

func (r predictionRepo) FailStale(ctx context.Context, before time.Time, message string) ([]string, error) {
	return failStale(ctx, r.db, &domain.PredictionJob{}, before, message)
}

func (r predictionRepo) Pending(ctx context.Context) ([]string, error) {
	return pending(ctx, r.db, &domain.PredictionJob{})
}

func touch(ctx context.Context, db *gorm.DB, model any, id string, at time.Time) error {
	return db.WithContext(ctx).Model(model).Where("id = ?", id).UpdateColumn("heartbeat_at", at).Error
}

func pending(ctx context.Context, db *gorm.DB, model any) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Model(model).
		Where("status = ?", domain.StatusPending).
		Order("created_at").
		Pluck("id", &ids).Error
	return ids, err
}

func failStale(ctx context.Context, db *gorm.DB, model any, before time.Time, message string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(model).
			Where("status = ? AND COALESCE(heartbeat_at, updated_at) < ?", domain.StatusRunning, before).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(model).Where("id IN ?", ids).Updates(map[string]any{
			"status":        domain.StatusError,
			"error_message": message,
		}).Error
	})
	return ids, err
}
