// Package prediction scores new rows with persisted model pipelines.
package prediction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/golang/groupcache/lru"

	"github.com/KaramelBytes/tabforge/internal/artifact"
	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
	"github.com/KaramelBytes/tabforge/internal/lifecycle"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
	"github.com/KaramelBytes/tabforge/internal/ml"
)

// DefaultCacheSize bounds the number of loaded pipelines kept in memory.
const DefaultCacheSize = 16

// TimeLimitMessage is recorded on jobs killed by the time limit.
const TimeLimitMessage = "time limit exceeded"

// PredictionColumn is appended to batch outputs.
const PredictionColumn = "prediction"

const (
	modeInline = "inline"
	modeBatch  = "batch"
)

// Result is the outcome of scoring a set of rows.
type Result struct {
	Predictions   []any                `json:"predictions"`
	Probabilities []map[string]float64 `json:"probabilities"`
}

type Service struct {
	predictions domain.PredictionJobRepository
	store       artifact.Store

	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

type Option func(*Service)

// WithCacheSize sets how many pipelines stay loaded.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cache = lru.New(n) }
}

func New(repos domain.Repositories, store artifact.Store, opts ...Option) *Service {
	s := &Service{
		predictions: repos.Predictions,
		store:       store,
		cache:       lru.New(DefaultCacheSize),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the model's pipeline, reading and decoding its artifact on
// first use.
func (s *Service) Load(ctx context.Context, m *domain.TrainedModel) (*ml.Pipeline, error) {
	if m.ArtifactKey == "" {
		return nil, errs.New(errs.CodePrediction, "Model file not found.").WithMeta("model_id", m.ID)
	}
	s.mu.Lock()
	if v, ok := s.cache.Get(m.ArtifactKey); ok {
		s.mu.Unlock()
		return v.(*ml.Pipeline), nil
	}
	s.mu.Unlock()

	data, err := s.store.Get(ctx, m.ArtifactKey)
	if err != nil {
		logger.WithModel(m.ID, string(m.Algorithm)).Errorf("Failed to load model %s: %v", m.ID, err)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, errs.New(errs.CodePrediction, "Model file not found.").WithMeta("model_id", m.ID)
		}
		return nil, errs.Wrap(errs.CodePrediction, err, "Failed to load model.").WithMeta("model_id", m.ID)
	}
	b, err := ml.DecodeBundle(data)
	if err != nil {
		logger.WithModel(m.ID, string(m.Algorithm)).Errorf("Failed to load model %s: %v", m.ID, err)
		return nil, errs.Wrap(errs.CodePrediction, err, "Failed to load model.").WithMeta("model_id", m.ID)
	}

	s.mu.Lock()
	s.cache.Add(m.ArtifactKey, b.Pipeline)
	s.mu.Unlock()
	return b.Pipeline, nil
}

// FromArtifact describes a bundle stored under key as a model, for scoring
// without a model row. The decoded pipeline is cached like any other.
func (s *Service) FromArtifact(ctx context.Context, key string) (*domain.TrainedModel, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, errs.New(errs.CodePrediction, "Model file not found.").WithMeta("artifact_key", key)
		}
		return nil, errs.Wrap(errs.CodePrediction, err, "Failed to load model.").WithMeta("artifact_key", key)
	}
	b, err := ml.DecodeBundle(data)
	if err != nil {
		return nil, errs.Wrap(errs.CodePrediction, err, "Failed to load model.").WithMeta("artifact_key", key)
	}
	schema := make(map[string]domain.InputField, len(b.FeatureColumns))
	for _, name := range b.Pipeline.Pre.Numeric {
		schema[name] = domain.InputField{Dtype: domain.ColumnNumeric, Nullable: true}
	}
	for _, name := range b.Pipeline.Pre.Categorical {
		schema[name] = domain.InputField{Dtype: domain.ColumnCategorical, Nullable: true}
	}
	s.mu.Lock()
	s.cache.Add(key, b.Pipeline)
	s.mu.Unlock()
	return &domain.TrainedModel{
		ID:             key,
		Algorithm:      b.Pipeline.Model.Algorithm,
		TaskType:       b.TaskType,
		FeatureColumns: b.FeatureColumns,
		TargetColumn:   b.TargetColumn,
		InputSchema:    schema,
		ArtifactKey:    key,
	}, nil
}

// Validate turns records into a frame holding the model's feature columns in
// training order. Columns declared numeric are coerced; text that does not
// parse becomes null and is imputed downstream.
func Validate(m *domain.TrainedModel, records []map[string]any) (*dataset.Frame, error) {
	if len(records) == 0 {
		return nil, errs.New(errs.CodeEmptyInput, "Input data cannot be empty.")
	}
	present := map[string]struct{}{}
	for _, r := range records {
		for k := range r {
			present[k] = struct{}{}
		}
	}
	var missing []string
	for _, name := range m.FeatureColumns {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errs.MissingColumns(missing)
	}

	f, err := dataset.FromRecords(records, m.FeatureColumns)
	if err != nil {
		return nil, errs.Wrap(errs.CodeValidation, err, "Invalid input data format.")
	}
	for _, name := range m.FeatureColumns {
		if field, ok := m.InputSchema[name]; ok && field.Dtype == domain.ColumnNumeric {
			c, _ := f.Column(name)
			if err := f.Replace(c.ToNumeric()); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// Predict scores inline records. Probabilities are included when requested
// and the model exposes them.
func (s *Service) Predict(ctx context.Context, m *domain.TrainedModel, records []map[string]any, withProba bool) (*Result, error) {
	res, err := s.predict(ctx, m, records, withProba)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.PredictionCount.WithLabelValues(modeInline, outcome).Inc()
	return res, err
}

func (s *Service) predict(ctx context.Context, m *domain.TrainedModel, records []map[string]any, withProba bool) (*Result, error) {
	p, err := s.Load(ctx, m)
	if err != nil {
		return nil, err
	}
	f, err := Validate(m, records)
	if err != nil {
		return nil, err
	}
	pred, err := p.Predict(f)
	if err != nil {
		logger.WithModel(m.ID, string(m.Algorithm)).Errorf("Prediction failed: %v", err)
		return nil, predictionFailed(err)
	}
	res := &Result{Predictions: pred}
	if withProba && p.Model.Capabilities().Has(ml.SupportsProbability) {
		if res.Probabilities, err = p.PredictProba(f); err != nil {
			return nil, predictionFailed(err)
		}
	}
	metrics.PredictedRowCount.Add(float64(len(pred)))
	return res, nil
}

// predictionFailed keeps validation errors raised while transforming input
// and wraps everything else.
func predictionFailed(err error) error {
	if errs.KindOf(err) == errs.KindValidation {
		return err
	}
	return errs.Wrap(errs.CodePrediction, err, "Prediction failed.")
}

// Run executes a prediction job. Inline jobs score records; file jobs read
// job.InputFile (CSV or XLSX), and additionally store the input rows plus a
// prediction column as a CSV artifact.
func (s *Service) Run(ctx context.Context, job *domain.PredictionJob, m *domain.TrainedModel, records []map[string]any) (*domain.PredictionJob, error) {
	log := logger.WithJob("prediction", job.ID)
	status, err := lifecycle.Next(ctx, job.Status, lifecycle.EventStart)
	if err != nil {
		return nil, err
	}
	job.Status = status
	beat := s.now()
	job.HeartbeatAt = &beat
	if err := s.predictions.Update(ctx, job); err != nil {
		return nil, err
	}

	mode := modeInline
	if job.InputType == domain.InputTypeFile {
		mode = modeBatch
	}
	if err := s.run(ctx, job, m, records); err != nil {
		metrics.PredictionCount.WithLabelValues(mode, metrics.OutcomeFailure).Inc()
		return nil, s.fail(ctx, job, err)
	}
	job.Status, _ = lifecycle.Next(ctx, job.Status, lifecycle.EventComplete)
	done := s.now()
	job.CompletedAt = &done
	if err := s.predictions.Update(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}
	metrics.PredictionCount.WithLabelValues(mode, metrics.OutcomeSuccess).Inc()
	log.Infof("Prediction job %s completed. Processed %d rows.", job.ID, job.RowCount)
	return job, nil
}

func (s *Service) run(ctx context.Context, job *domain.PredictionJob, m *domain.TrainedModel, records []map[string]any) error {
	var input *dataset.Frame
	if job.InputType == domain.InputTypeFile {
		if job.InputFile == "" {
			return errs.New(errs.CodePrediction, "Input file not found.")
		}
		f, err := dataset.Load(job.InputFile, dataset.LoadOptions{})
		if err != nil {
			return errs.Wrap(errs.CodePrediction, err, "Failed to read input file")
		}
		input, records = f, f.Records()
	}
	job.RowCount = len(records)
	if err := s.predictions.Update(ctx, job); err != nil {
		return err
	}

	res, err := s.predict(ctx, m, records, true)
	if err != nil {
		return err
	}
	job.Predictions, job.Probabilities = res.Predictions, res.Probabilities

	if input != nil {
		data, err := OutputCSV(input, res.Predictions)
		if err != nil {
			return err
		}
		key := artifact.PredictionKey(job.ID)
		if err := s.store.Put(ctx, key, data, "text/csv"); err != nil {
			return fmt.Errorf("store prediction output: %w", err)
		}
		job.OutputKey = key
	}
	return ctx.Err()
}

func (s *Service) fail(ctx context.Context, job *domain.PredictionJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if status, err := lifecycle.Next(ctx, job.Status, lifecycle.EventFail); err == nil {
		job.Status = status
	} else {
		job.Status = domain.StatusError
	}
	job.ErrorMessage = cause.Error()
	var e *errs.Error
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		job.ErrorMessage = TimeLimitMessage
	case errors.As(cause, &e) && e.Detail != "":
		job.ErrorMessage = e.Detail
	}
	done := s.now()
	job.CompletedAt = &done
	if err := s.predictions.Update(ctx, job); err != nil {
		logger.WithJob("prediction", job.ID).Errorf("Failed to record prediction error: %v", err)
	}
	logger.WithJob("prediction", job.ID).Errorf("Prediction job %s failed: %s", job.ID, job.ErrorMessage)
	if errs.CodeOf(cause) == errs.CodeUnknown {
		return errs.Wrap(errs.CodePrediction, cause, "Prediction failed.").WithMeta("prediction_id", job.ID)
	}
	return cause
}

// OutputCSV renders the input rows with a trailing prediction column.
func OutputCSV(input *dataset.Frame, predictions []any) ([]byte, error) {
	var buf bytes.Buffer
	w := gocsv.DefaultCSVWriter(&buf)
	header := append(input.Names(), PredictionColumn)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	cols := input.Columns()
	for i := 0; i < input.Rows(); i++ {
		row := make([]string, 0, len(header))
		for _, c := range cols {
			row = append(row, c.String(i))
		}
		var pred any
		if i < len(predictions) {
			pred = predictions[i]
		}
		row = append(row, formatValue(pred))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return dataset.FormatFloat(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
