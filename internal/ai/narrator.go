// Package ai generates natural-language narratives about datasets and
// models through an OpenRouter or local Ollama runtime. Every call is
// best-effort: failures come back as unavailable results that callers
// resolve to the Fallback* texts.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
	"github.com/KaramelBytes/tabforge/internal/optional"
)

// DefaultTimeout bounds a single narrative call.
const DefaultTimeout = 30 * time.Second

// Use cases, used as the metrics label.
const (
	UseEDAInsights       = "eda_insights"
	UseModelExplanation  = "model_explanation"
	UseReportSummary     = "report_summary"
	UseMetricExplanation = "metric_explanation"
	UseQuestion          = "question"
)

var errUnavailable = optional.ErrUnavailable

type Narrator struct {
	rt          Runtime
	reason      error
	provider    string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
}

type Option func(*Narrator)

// WithRuntime replaces the runtime built from configuration.
func WithRuntime(rt Runtime) Option {
	return func(n *Narrator) {
		n.rt, n.reason = rt, nil
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Narrator) { n.timeout = d }
}

// WithLimiter replaces the call pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(n *Narrator) { n.limiter = l }
}

// New builds a narrator for the configured provider. Without an API key (or
// with provider "none") the narrator is unavailable and every call falls
// back.
func New(cfg *config.Global, opts ...Option) *Narrator {
	n := &Narrator{
		provider:    cfg.AIProvider,
		model:       ResolveModel(cfg.AIProvider, cfg.AIModel),
		maxTokens:   cfg.AIMaxTokens,
		temperature: cfg.AITemperature,
		timeout:     cfg.AITimeout(),
		limiter:     rate.NewLimiter(rate.Inf, 0),
	}
	if n.timeout <= 0 {
		n.timeout = DefaultTimeout
	}
	if cfg.AIRatePerMinute > 0 {
		n.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AIRatePerMinute)), 1)
	}
	n.rt, n.reason = NewRuntime(cfg.AIProvider, RuntimeConfigFrom(cfg))
	if n.reason != nil && !errors.Is(n.reason, optional.ErrUnavailable) {
		logger.Warnf("AI narrator disabled: %v", n.reason)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Available reports whether calls reach a runtime.
func (n *Narrator) Available() bool { return n != nil && n.rt != nil }

// Model is the resolved model name.
func (n *Narrator) Model() string { return n.model }

func (n *Narrator) EDAInsights(ctx context.Context, r *domain.EDAResult) optional.Result[string] {
	return n.complete(ctx, UseEDAInsights, edaPrompt(r))
}

func (n *Narrator) ExplainModel(ctx context.Context, m *domain.TrainedModel) optional.Result[string] {
	return n.complete(ctx, UseModelExplanation, modelPrompt(m))
}

func (n *Narrator) ReportSummary(ctx context.Context, d ReportDigest) optional.Result[string] {
	return n.complete(ctx, UseReportSummary, reportPrompt(d))
}

func (n *Narrator) ExplainMetric(ctx context.Context, name string, value float64, task domain.TaskType) optional.Result[string] {
	return n.complete(ctx, UseMetricExplanation, metricPrompt(name, value, task))
}

// Answer replies to a free-form question using only the supplied context.
func (n *Narrator) Answer(ctx context.Context, question string, qctx map[string]any) optional.Result[string] {
	return n.complete(ctx, UseQuestion, questionPrompt(question, qctx))
}

// AnswerStream streams the answer through onDelta when the runtime supports
// it, and otherwise delivers the whole answer in one chunk.
func (n *Narrator) AnswerStream(ctx context.Context, question string, qctx map[string]any, onDelta func(string)) error {
	if !n.Available() {
		return n.unavailable()
	}
	sr, ok := n.rt.(StreamRuntime)
	if !ok {
		res := n.Answer(ctx, question, qctx)
		text, found := res.Get()
		if !found {
			return res.Reason()
		}
		onDelta(text)
		return nil
	}
	ctx, cancel, err := n.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	err = sr.GenerateStream(ctx, n.request(questionPrompt(question, qctx)), onDelta)
	n.record(UseQuestion, err)
	return err
}

func (n *Narrator) unavailable() error {
	if n == nil || n.reason == nil {
		return errUnavailable
	}
	return n.reason
}

func (n *Narrator) request(prompt string) GenerateRequest {
	return GenerateRequest{
		Model:       n.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   n.maxTokens,
		Temperature: n.temperature,
	}
}

// begin waits for the limiter and starts the per-call deadline.
func (n *Narrator) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	if err := n.limiter.Wait(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return ctx, cancel, nil
}

func (n *Narrator) complete(ctx context.Context, useCase, prompt string) optional.Result[string] {
	if !n.Available() {
		metrics.NarratorCallCount.WithLabelValues(useCase, metrics.OutcomeSkipped).Inc()
		return optional.Unavailable[string](n.unavailable())
	}
	log := logger.With("use_case", useCase, "provider", n.provider, "model", n.model)
	callCtx, cancel, err := n.begin(ctx)
	if err != nil {
		n.record(useCase, err)
		log.Warnf("Narrative generation skipped: %v", err)
		return optional.Unavailable[string](err)
	}
	defer cancel()

	start := time.Now()
	resp, err := n.rt.Generate(callCtx, n.request(prompt))
	if err == nil && strings.TrimSpace(resp.Text()) == "" {
		err = errors.New("empty response")
	}
	n.record(useCase, err)
	if err != nil {
		log.Errorf("Narrative generation failed: %v", err)
		return optional.Unavailable[string](err)
	}
	if cost, ok := EstimateCostUSD(n.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); ok {
		log.Debugf("Narrative generated in %s (%d tokens, ~$%.5f)", time.Since(start).Round(time.Millisecond), resp.Usage.TotalTokens, cost)
	}
	return optional.Some(strings.TrimSpace(resp.Text()))
}

func (n *Narrator) record(useCase string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = failureKind(err)
	}
	metrics.NarratorCallCount.WithLabelValues(useCase, outcome).Inc()
}
