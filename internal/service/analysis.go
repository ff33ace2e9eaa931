package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"biasaudit/internal/ai"
	"biasaudit/internal/ai/prompt"
	"biasaudit/internal/metrics"
	"biasaudit/internal/model"
	"biasaudit/internal/repository"
)

const tracerName = "biasaudit/internal/service"

// AnalysisConfig tunes the orchestrator.
type AnalysisConfig struct {
	// Timeout bounds a single AI call.
	Timeout time.Duration
	// LeaseTTL is how long a claimed analysis blocks other processes. It must exceed Timeout.
	LeaseTTL time.Duration
	// PollInterval is how often a caller waiting on another process re-reads the scan.
	PollInterval time.Duration
}

func (c AnalysisConfig) withDefaults() AnalysisConfig {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.LeaseTTL <= c.Timeout {
		c.LeaseTTL = c.Timeout + 30*time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Orchestrator enriches scored scans with the AI analysis service, at most once per scan.
//
// Callers in the same process share one in-flight call per scan id. Across processes,
// the repository lease admits a single caller; the others poll until the winner stores
// its result or the lease expires.
type Orchestrator struct {
	repo    repository.ScanRepository
	client  ai.Client
	cfg     AnalysisConfig
	log     *zap.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
	group   singleflight.Group
}

// NewOrchestrator constructs an Orchestrator. log and m may be nil.
func NewOrchestrator(repo repository.ScanRepository, client ai.Client, cfg AnalysisConfig, log *zap.Logger, m *metrics.Pipeline) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		repo:    repo,
		client:  client,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Enrich returns the analyzed form of rec. Already analyzed scans are returned unchanged
// without contacting the AI service.
func (o *Orchestrator) Enrich(ctx context.Context, rec *model.ScanRecord) (*model.ScanRecord, error) {
	if _, ok := rec.AI(); ok {
		o.metrics.Enrichment(metrics.OutcomeReused)
		return rec, nil
	}

	// The flight outlives any single caller; Timeout and LeaseTTL bound it.
	flightCtx := context.WithoutCancel(ctx)
	ch := o.group.DoChan(rec.ID, func() (any, error) {
		return o.enrich(flightCtx, rec.ID, rec.RawText)
	})

	select {
	case <-ctx.Done():
		return nil, &ExternalServiceError{Op: "await analysis", Retriable: true, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*model.ScanRecord)
		return &out, nil
	}
}

func (o *Orchestrator) enrich(ctx context.Context, id, text string) (*model.ScanRecord, error) {
	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.LeaseTTL)
	defer cancel()

	for {
		claimed, err := o.repo.ClaimAnalysis(ctx, id, o.now(), o.cfg.LeaseTTL)
		if err != nil {
			return nil, persistenceError("claim analysis", err)
		}
		if claimed {
			return o.runClaimed(ctx, id, text)
		}

		cur, err := o.repo.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, persistenceError("load scan", err)
		}
		if _, ok := cur.AI(); ok {
			o.metrics.Enrichment(metrics.OutcomeReused)
			return cur, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, &ExternalServiceError{Op: "await concurrent analysis", Retriable: true, Err: waitCtx.Err()}
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// runClaimed performs the AI call while holding the analysis lease.
func (o *Orchestrator) runClaimed(ctx context.Context, id, text string) (*model.ScanRecord, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Orchestrator.Analyze",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("scan.id", id)),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	raw, err := o.client.Analyze(callCtx, prompt.GetBiasPrompt(text))
	cancel()
	if err != nil {
		o.release(ctx, id)
		o.metrics.Enrichment(metrics.OutcomeFailed)
		o.log.Warn("ai analysis failed", zap.String("scan_id", id), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "ai call failed")
		return nil, &ExternalServiceError{Op: "ai analysis", Retriable: true, Err: err}
	}

	e := parseAnalysis(raw, o.now())
	if e.Degraded {
		o.log.Warn("ai response unusable, storing degraded result",
			zap.String("scan_id", id), zap.Int("response_bytes", len(raw)))
	}
	span.SetAttributes(attribute.Bool("analysis.degraded", e.Degraded), attribute.Int("analysis.score", e.Score))

	stored, err := o.repo.CompleteAnalysis(ctx, id, e)
	if errors.Is(err, repository.ErrAlreadyAnalyzed) {
		o.metrics.Enrichment(metrics.OutcomeReused)
		cur, findErr := o.repo.FindByID(ctx, id)
		if findErr != nil {
			return nil, persistenceError("load scan", findErr)
		}
		return cur, nil
	}
	if err != nil {
		o.release(ctx, id)
		o.metrics.Enrichment(metrics.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store analysis failed")
		return nil, persistenceError("store analysis", err)
	}

	if e.Degraded {
		o.metrics.Enrichment(metrics.OutcomeDegraded)
	} else {
		o.metrics.Enrichment(metrics.OutcomeEnriched)
	}
	o.log.Info("scan analyzed",
		zap.String("scan_id", id),
		zap.Int("score", stored.Score()),
		zap.String("risk_level", string(stored.RiskLevel())),
		zap.Bool("degraded", e.Degraded),
	)
	return stored, nil
}

func (o *Orchestrator) release(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.repo.ReleaseAnalysis(ctx, id); err != nil {
		o.log.Error("release analysis lease", zap.String("scan_id", id), zap.Error(err))
	}
}

type aiResponse struct {
	Score     *float64 `json:"score"`
	RiskLevel *string  `json:"riskLevel"`
	Scores    *struct {
		Language *float64 `json:"language"`
		Age      *float64 `json:"age"`
		Name     *float64 `json:"name"`
	} `json:"scores"`
	Analysis *struct {
		Summary   string           `json:"summary"`
		BiasFlags []model.BiasFlag `json:"biasFlags"`
	} `json:"analysis"`
}

// parseAnalysis turns the raw AI payload into an enrichment. Missing or malformed fields
// fall back to score 0, Moderate risk and an empty analysis, and mark the result degraded.
func parseAnalysis(raw string, at time.Time) model.AIEnriched {
	e := model.AIEnriched{
		Score:      0,
		RiskLevel:  model.RiskModerate,
		Analysis:   model.AIAnalysis{BiasFlags: []model.BiasFlag{}},
		AnalyzedAt: at.UTC().Truncate(time.Microsecond),
	}

	var r aiResponse
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		e.Degraded = true
		return e
	}

	if r.Score != nil {
		e.Score = clampScore(*r.Score)
	} else {
		e.Degraded = true
	}

	var level model.RiskLevel
	var levelOK bool
	if r.RiskLevel != nil {
		level, levelOK = model.ParseRiskLevel(*r.RiskLevel)
	}
	if levelOK {
		e.RiskLevel = level
	} else {
		e.Degraded = true
	}

	if r.Analysis != nil {
		e.Analysis.Summary = r.Analysis.Summary
		for _, f := range r.Analysis.BiasFlags {
			if _, ok := model.ParseRiskLevel(string(f.Severity)); !ok {
				f.Severity = model.RiskModerate
			}
			e.Analysis.BiasFlags = append(e.Analysis.BiasFlags, f)
		}
	} else {
		e.Degraded = true
	}

	fused := model.FusedScores{Language: e.Score, Age: e.Score, Name: e.Score}
	if r.Scores != nil {
		if r.Scores.Language != nil {
			fused.Language = clampScore(*r.Scores.Language)
		}
		if r.Scores.Age != nil {
			fused.Age = clampScore(*r.Scores.Age)
		}
		if r.Scores.Name != nil {
			fused.Name = clampScore(*r.Scores.Name)
		}
	}
	e.Analysis.FusedScores = fused
	return e
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(min(max(v, 0), 100)))
}
