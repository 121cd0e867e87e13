// Package memstore keeps every repository in process memory. It backs the
// CLI's default mode and the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

// Store holds all tables behind one lock so cascades are atomic.
type Store struct {
	mu          sync.RWMutex
	datasets    map[string]*domain.Dataset
	edaResults  map[string]*domain.EDAResult
	jobs        map[string]*domain.TrainingJob
	models      map[string]*domain.TrainedModel
	predictions map[string]*domain.PredictionJob
	now         func() time.Time
}

func New() *Store {
	return &Store{
		datasets:    map[string]*domain.Dataset{},
		edaResults:  map[string]*domain.EDAResult{},
		jobs:        map[string]*domain.TrainingJob{},
		models:      map[string]*domain.TrainedModel{},
		predictions: map[string]*domain.PredictionJob{},
		now:         time.Now,
	}
}

// Repositories exposes the store through the domain interfaces.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Datasets:    datasetRepo{s},
		EDAResults:  edaRepo{s},
		Jobs:        jobRepo{s},
		Models:      modelRepo{s},
		Predictions: predictionRepo{s},
	}
}

type datasetRepo struct{ s *Store }

func (r datasetRepo) Create(_ context.Context, d *domain.Dataset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	r.s.datasets[d.ID] = &cp
	return nil
}

func (r datasetRepo) Get(_ context.Context, id string) (*domain.Dataset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	d, ok := r.s.datasets[id]
	if !ok {
		return nil, errs.NotFound(errs.CodeDatasetNotFound, "dataset", id)
	}
	cp := *d
	return &cp, nil
}

func (r datasetRepo) Update(_ context.Context, d *domain.Dataset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.datasets[d.ID]; !ok {
		return errs.NotFound(errs.CodeDatasetNotFound, "dataset", d.ID)
	}
	d.UpdatedAt = r.s.now()
	cp := *d
	r.s.datasets[d.ID] = &cp
	return nil
}

func (r datasetRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.datasets[id]; !ok {
		return errs.NotFound(errs.CodeDatasetNotFound, "dataset", id)
	}
	delete(r.s.datasets, id)
	for k, v := range r.s.edaResults {
		if v.DatasetID == id {
			delete(r.s.edaResults, k)
		}
	}
	for k, v := range r.s.jobs {
		if v.DatasetID == id {
			delete(r.s.jobs, k)
		}
	}
	for k, v := range r.s.models {
		if v.DatasetID != id {
			continue
		}
		for pk, p := range r.s.predictions {
			if p.ModelID == k {
				delete(r.s.predictions, pk)
			}
		}
		delete(r.s.models, k)
	}
	return nil
}

func (r datasetRepo) List(_ context.Context) ([]*domain.Dataset, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.Dataset, 0, len(r.s.datasets))
	for _, d := range r.s.datasets {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type edaRepo struct{ s *Store }

func (r edaRepo) Create(_ context.Context, e *domain.EDAResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	version := 0
	for _, v := range r.s.edaResults {
		if v.DatasetID == e.DatasetID && v.Version > version {
			version = v.Version
		}
	}
	e.Version = version + 1
	now := r.s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	r.s.edaResults[e.ID] = &cp
	return nil
}

func (r edaRepo) Get(_ context.Context, id string) (*domain.EDAResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.edaResults[id]
	if !ok {
		return nil, errs.NotFound(errs.CodeEDANotFound, "EDA result", id)
	}
	cp := *e
	return &cp, nil
}

func (r edaRepo) Update(_ context.Context, e *domain.EDAResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.edaResults[e.ID]; !ok {
		return errs.NotFound(errs.CodeEDANotFound, "EDA result", e.ID)
	}
	e.UpdatedAt = r.s.now()
	cp := *e
	r.s.edaResults[e.ID] = &cp
	return nil
}

func (r edaRepo) LatestCompletedByCacheKey(_ context.Context, key string) (*domain.EDAResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var best *domain.EDAResult
	for _, v := range r.s.edaResults {
		if v.CacheKey != key || v.Status != domain.StatusCompleted {
			continue
		}
		if best == nil || v.CreatedAt.After(best.CreatedAt) || (v.CreatedAt.Equal(best.CreatedAt) && v.Version > best.Version) {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r edaRepo) Latest(_ context.Context, datasetID string) (*domain.EDAResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var best *domain.EDAResult
	for _, v := range r.s.edaResults {
		if v.DatasetID == datasetID && (best == nil || v.Version > best.Version) {
			best = v
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r edaRepo) ListByDataset(_ context.Context, datasetID string) ([]*domain.EDAResult, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.EDAResult
	for _, v := range r.s.edaResults {
		if v.DatasetID == datasetID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r edaRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.edaResults[id]
	if !ok {
		return errs.NotFound(errs.CodeEDANotFound, "EDA result", id)
	}
	e.HeartbeatAt = &at
	return nil
}

func (r edaRepo) FailStale(_ context.Context, before time.Time, message string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, e := range r.s.edaResults {
		if e.Status == domain.StatusRunning && stale(e.HeartbeatAt, e.UpdatedAt, before) {
			e.Status = domain.StatusError
			e.ErrorMessage = message
			e.UpdatedAt = r.s.now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type jobRepo struct{ s *Store }

func (r jobRepo) Create(_ context.Context, j *domain.TrainingJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	cp := *j
	r.s.jobs[j.ID] = &cp
	return nil
}

func (r jobRepo) Get(_ context.Context, id string) (*domain.TrainingJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, errs.NotFound(errs.CodeJobNotFound, "training job", id)
	}
	cp := *j
	return &cp, nil
}

func (r jobRepo) Update(_ context.Context, j *domain.TrainingJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[j.ID]; !ok {
		return errs.NotFound(errs.CodeJobNotFound, "training job", j.ID)
	}
	j.UpdatedAt = r.s.now()
	cp := *j
	r.s.jobs[j.ID] = &cp
	return nil
}

func (r jobRepo) ListByDataset(_ context.Context, datasetID string) ([]*domain.TrainingJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.TrainingJob
	for _, j := range r.s.jobs {
		if j.DatasetID == datasetID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r jobRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return errs.NotFound(errs.CodeJobNotFound, "training job", id)
	}
	j.HeartbeatAt = &at
	return nil
}

func (r jobRepo) FailStale(_ context.Context, before time.Time, message string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, j := range r.s.jobs {
		if j.Status == domain.StatusRunning && stale(j.HeartbeatAt, j.UpdatedAt, before) {
			j.Status = domain.StatusError
			j.ErrorMessage = message
			j.UpdatedAt = r.s.now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type modelRepo struct{ s *Store }

func (r modelRepo) Create(_ context.Context, m *domain.TrainedModel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	r.s.models[m.ID] = &cp
	return nil
}

func (r modelRepo) Get(_ context.Context, id string) (*domain.TrainedModel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.models[id]
	if !ok {
		return nil, errs.NotFound(errs.CodeModelNotFound, "model", id)
	}
	cp := *m
	return &cp, nil
}

func (r modelRepo) Update(_ context.Context, m *domain.TrainedModel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.models[m.ID]; !ok {
		return errs.NotFound(errs.CodeModelNotFound, "model", m.ID)
	}
	m.UpdatedAt = r.s.now()
	cp := *m
	r.s.models[m.ID] = &cp
	return nil
}

func (r modelRepo) ListByJob(_ context.Context, jobID string) ([]*domain.TrainedModel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.TrainedModel
	for _, m := range r.s.models {
		if m.TrainingJobID == jobID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r modelRepo) MarkBest(_ context.Context, jobID, modelID string, ranks map[string]int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	target, ok := r.s.models[modelID]
	if !ok || target.TrainingJobID != jobID {
		return errs.NotFound(errs.CodeModelNotFound, "model", modelID)
	}
	now := r.s.now()
	for id, m := range r.s.models {
		if m.TrainingJobID != jobID {
			continue
		}
		m.IsBest = id == modelID
		if rank, ok := ranks[id]; ok {
			m.Rank = rank
		}
		m.UpdatedAt = now
	}
	return nil
}

type predictionRepo struct{ s *Store }

func (r predictionRepo) Create(_ context.Context, p *domain.PredictionJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.predictions[p.ID] = &cp
	return nil
}

func (r predictionRepo) Get(_ context.Context, id string) (*domain.PredictionJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.predictions[id]
	if !ok {
		return nil, errs.NotFound(errs.CodePredictionNotFound, "prediction job", id)
	}
	cp := *p
	return &cp, nil
}

func (r predictionRepo) Update(_ context.Context, p *domain.PredictionJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.predictions[p.ID]; !ok {
		return errs.NotFound(errs.CodePredictionNotFound, "prediction job", p.ID)
	}
	p.UpdatedAt = r.s.now()
	cp := *p
	r.s.predictions[p.ID] = &cp
	return nil
}

func (r predictionRepo) ListByModel(_ context.Context, modelID string) ([]*domain.PredictionJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*domain.PredictionJob
	for _, p := range r.s.predictions {
		if p.ModelID == modelID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r predictionRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.predictions[id]
	if !ok {
		return errs.NotFound(errs.CodePredictionNotFound, "prediction job", id)
	}
	p.HeartbeatAt = &at
	return nil
}

func (r predictionRepo) FailStale(_ context.Context, before time.Time, message string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, p := range r.s.predictions {
		if p.Status == domain.StatusRunning && stale(p.HeartbeatAt, p.UpdatedAt, before) {
			p.Status = domain.StatusError
			p.ErrorMessage = message
			p.UpdatedAt = r.s.now()
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// stale falls back to the last update when no heartbeat was ever recorded.
func stale(heartbeat *time.Time, updated, before time.Time) bool {
	last := updated
	if heartbeat != nil && heartbeat.After(last) {
		last = *heartbeat
	}
	return last.Before(before)
}

func (r edaRepo) Pending(context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return pendingIDs(r.s.edaResults, func(e *domain.EDAResult) (domain.RunStatus, time.Time) { return e.Status, e.CreatedAt }), nil
}

func (r jobRepo) Pending(context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return pendingIDs(r.s.jobs, func(j *domain.TrainingJob) (domain.RunStatus, time.Time) { return j.Status, j.CreatedAt }), nil
}

func (r predictionRepo) Pending(context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return pendingIDs(r.s.predictions, func(p *domain.PredictionJob) (domain.RunStatus, time.Time) { return p.Status, p.CreatedAt }), nil
}

// pendingIDs lists PENDING rows by creation time, then id.
func pendingIDs[T any](rows map[string]*T, state func(*T) (domain.RunStatus, time.Time)) []string {
	type row struct {
		id      string
		created time.Time
	}
	var list []row
	for id, v := range rows {
		if status, created := state(v); status == domain.StatusPending {
			list = append(list, row{id, created})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].created.Equal(list[j].created) {
			return list[i].created.Before(list[j].created)
		}
		return list[i].id < list[j].id
	})
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.id
	}
	return ids
}
