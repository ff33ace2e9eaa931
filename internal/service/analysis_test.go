package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"biasaudit/internal/ai"
	aimocks "biasaudit/internal/ai/mocks"
	"biasaudit/internal/bias"
	"biasaudit/internal/metrics"
	"biasaudit/internal/model"
	"biasaudit/internal/repository"
	"biasaudit/internal/repository/memory"
	repomocks "biasaudit/internal/repository/mocks"
)

const validAIResponse = `{
  "score": 72.6,
  "riskLevel": "Moderate",
  "scores": {"language": 60, "age": 80},
  "analysis": {
    "summary": "Some age-coded phrasing.",
    "biasFlags": [
      {"category": "Age", "description": "Mentions 'digital native'", "severity": "High", "suggestion": "Describe concrete skills."}
    ]
  }
}`

type clientFunc func(ctx context.Context, prompt string) (string, error)

func (f clientFunc) Analyze(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func seedScan(t *testing.T, store *memory.ScanStore, owner, text string) *model.ScanRecord {
	t.Helper()
	rec, err := store.Create(context.Background(), &model.ScanRecord{
		ID:         uuid.NewString(),
		Owner:      owner,
		Filename:   "cv.txt",
		RawText:    text,
		Heuristic:  bias.Score(text),
		Enrichment: model.HeuristicOnly{},
		CreatedAt:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return rec
}

func fixedNow() time.Time { return time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC) }

func TestParseAnalysis(t *testing.T) {
	at := fixedNow()

	tests := []struct {
		name         string
		raw          string
		wantScore    int
		wantRisk     model.RiskLevel
		wantFused    model.FusedScores
		wantSummary  string
		wantFlags    int
		wantDegraded bool
	}{
		{
			name:        "full response with partial breakdown",
			raw:         validAIResponse,
			wantScore:   73,
			wantRisk:    model.RiskModerate,
			wantFused:   model.FusedScores{Language: 60, Age: 80, Name: 73},
			wantSummary: "Some age-coded phrasing.",
			wantFlags:   1,
		},
		{
			name:      "no breakdown uses score for every dimension",
			raw:       `{"score": 90, "riskLevel": "Low", "analysis": {"summary": "ok", "biasFlags": []}}`,
			wantScore: 90, wantRisk: model.RiskLow,
			wantFused:   model.FusedScores{Language: 90, Age: 90, Name: 90},
			wantSummary: "ok",
		},
		{
			name:      "malformed json falls back",
			raw:       `The resume looks fine to me!`,
			wantScore: 0, wantRisk: model.RiskModerate,
			wantDegraded: true,
		},
		{
			name:      "empty object falls back",
			raw:       `{}`,
			wantScore: 0, wantRisk: model.RiskModerate,
			wantDegraded: true,
		},
		{
			name:      "unknown risk level",
			raw:       `{"score": 40, "riskLevel": "Severe", "analysis": {"summary": "s", "biasFlags": []}}`,
			wantScore: 40, wantRisk: model.RiskModerate,
			wantFused:    model.FusedScores{Language: 40, Age: 40, Name: 40},
			wantSummary:  "s",
			wantDegraded: true,
		},
		{
			name:      "missing analysis keeps score",
			raw:       `{"score": 55, "riskLevel": "High"}`,
			wantScore: 55, wantRisk: model.RiskHigh,
			wantFused:    model.FusedScores{Language: 55, Age: 55, Name: 55},
			wantDegraded: true,
		},
		{
			name:      "scores are clamped",
			raw:       `{"score": 140, "riskLevel": "Low", "scores": {"language": -3, "age": 101, "name": 50}, "analysis": {"summary": "", "biasFlags": []}}`,
			wantScore: 100, wantRisk: model.RiskLow,
			wantFused: model.FusedScores{Language: 0, Age: 100, Name: 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := parseAnalysis(tt.raw, at)

			assert.Equal(t, tt.wantScore, e.Score)
			assert.Equal(t, tt.wantRisk, e.RiskLevel)
			assert.Equal(t, tt.wantFused, e.Analysis.FusedScores)
			assert.Equal(t, tt.wantSummary, e.Analysis.Summary)
			assert.Len(t, e.Analysis.BiasFlags, tt.wantFlags)
			assert.NotNil(t, e.Analysis.BiasFlags)
			assert.Equal(t, tt.wantDegraded, e.Degraded)
			assert.Equal(t, at, e.AnalyzedAt)
		})
	}
}

func TestParseAnalysis_NormalizesFlagSeverity(t *testing.T) {
	e := parseAnalysis(`{"score": 80, "riskLevel": "Low", "analysis": {"summary": "s", "biasFlags": [
		{"category": "Gender", "description": "d", "severity": "critical", "suggestion": "x"}]}}`, fixedNow())

	require.Len(t, e.Analysis.BiasFlags, 1)
	assert.Equal(t, model.RiskModerate, e.Analysis.BiasFlags[0].Severity)
	assert.Equal(t, "Gender", e.Analysis.BiasFlags[0].Category)
	assert.False(t, e.Degraded)
}

func TestOrchestrator_Enrich_StoresAIResult(t *testing.T) {
	ctx := context.Background()
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "Young and energetic rockstar, class of 1998")

	client := new(aimocks.MockClient)
	client.On("Analyze", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, rec.RawText)
	})).Return(validAIResponse, nil).Once()

	reg := prometheus.NewRegistry()
	pm, err := metrics.NewPipeline(reg)
	require.NoError(t, err)

	o := NewOrchestrator(store, client, AnalysisConfig{}, nil, pm)
	o.now = fixedNow

	got, err := o.Enrich(ctx, rec)

	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzed, got.State())
	assert.Equal(t, "analyzed", got.Status())
	assert.Equal(t, 73, got.Score())
	assert.Equal(t, model.RiskModerate, got.RiskLevel())
	assert.Equal(t, rec.Heuristic, got.Heuristic, "heuristic baseline is kept for audit")
	e, ok := got.AI()
	require.True(t, ok)
	assert.Equal(t, fixedNow(), e.AnalyzedAt)

	stored, err := store.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzed, stored.State())
	series, err := testutil.GatherAndCount(reg, "biasaudit_enrichments_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
	client.AssertExpectations(t)
}

func TestOrchestrator_Enrich_AlreadyAnalyzedSkipsAI(t *testing.T) {
	rec := &model.ScanRecord{
		ID:         uuid.NewString(),
		Owner:      "user-1",
		Enrichment: model.AIEnriched{Score: 91, RiskLevel: model.RiskLow, AnalyzedAt: fixedNow()},
	}
	client := new(aimocks.MockClient)
	repo := new(repomocks.MockScanRepository)
	o := NewOrchestrator(repo, client, AnalysisConfig{}, nil, nil)

	got, err := o.Enrich(context.Background(), rec)

	require.NoError(t, err)
	assert.Same(t, rec, got)
	client.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "ClaimAnalysis", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_Enrich_AIFailureLeavesScanUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "Rockstar ninja")

	core, logs := observer.New(zapcore.WarnLevel)
	client := new(aimocks.MockClient)
	client.On("Analyze", mock.Anything, mock.Anything).Return("", ai.ErrUnavailable).Once()
	o := NewOrchestrator(store, client, AnalysisConfig{}, zap.New(core), nil)

	got, err := o.Enrich(ctx, rec)

	require.Error(t, err)
	assert.Nil(t, got)
	var ext *ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.True(t, ext.Retriable)
	assert.ErrorIs(t, err, ai.ErrUnavailable)

	stored, err := store.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateScored, stored.State())
	assert.Equal(t, rec.Heuristic.Score, stored.Score())

	claimed, err := store.ClaimAnalysis(ctx, rec.ID, time.Now(), time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "lease must be released after a failed call")

	require.Equal(t, 1, logs.FilterMessage("ai analysis failed").Len())
	assert.Equal(t, rec.ID, logs.FilterMessage("ai analysis failed").All()[0].ContextMap()["scan_id"])
}

func TestOrchestrator_Enrich_TimeoutIsRetriable(t *testing.T) {
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "text")

	client := clientFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	o := NewOrchestrator(store, client, AnalysisConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	_, err := o.Enrich(context.Background(), rec)

	var ext *ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.True(t, ext.Retriable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stored, err := store.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateScored, stored.State())
}

func TestOrchestrator_Enrich_MalformedResponseIsDegraded(t *testing.T) {
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "text")

	client := new(aimocks.MockClient)
	client.On("Analyze", mock.Anything, mock.Anything).Return("<html>502</html>", nil).Once()
	o := NewOrchestrator(store, client, AnalysisConfig{}, nil, nil)

	got, err := o.Enrich(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzed, got.State())
	assert.Equal(t, "degraded", got.Status())
	assert.Equal(t, 0, got.Score())
	assert.Equal(t, model.RiskModerate, got.RiskLevel())
}

func TestOrchestrator_Enrich_ConcurrentCallersShareOneCall(t *testing.T) {
	ctx := context.Background()
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "Aggressive rockstar")

	var calls atomic.Int32
	client := clientFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return validAIResponse, nil
	})
	o := NewOrchestrator(store, client, AnalysisConfig{PollInterval: 5 * time.Millisecond}, nil, nil)

	const n = 20
	results := make([][]byte, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			got, err := o.Enrich(ctx, rec)
			if err != nil {
				return err
			}
			b, err := json.Marshal(got)
			results[i] = b
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), calls.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, string(results[0]), string(results[i]))
	}
}

func TestOrchestrator_Enrich_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "Aggressive rockstar")

	started := make(chan struct{})
	proceed := make(chan struct{})
	var calls atomic.Int32
	client := clientFunc(func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		close(started)
		select {
		case <-proceed:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return validAIResponse, nil
	})
	o := NewOrchestrator(store, client, AnalysisConfig{PollInterval: 5 * time.Millisecond}, nil, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := o.Enrich(firstCtx, rec)
		firstErr <- err
	}()
	<-started

	type result struct {
		rec *model.ScanRecord
		err error
	}
	second := make(chan result, 1)
	go func() {
		got, err := o.Enrich(context.Background(), rec)
		second <- result{got, err}
	}()

	time.Sleep(10 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	var ext *ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.True(t, ext.Retriable)
	assert.ErrorIs(t, err, context.Canceled)

	close(proceed)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, model.StateAnalyzed, res.rec.State())
	assert.Equal(t, 73, res.rec.Score())
	assert.Equal(t, int32(1), calls.Load())

	stored, err := store.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzed, stored.State())
}

func TestOrchestrator_Enrich_AcrossProcessesUsesLease(t *testing.T) {
	ctx := context.Background()
	store := memory.NewScanStore()
	rec := seedScan(t, store, "user-1", "text")

	var calls atomic.Int32
	client := clientFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		time.Sleep(40 * time.Millisecond)
		return validAIResponse, nil
	})
	cfg := AnalysisConfig{PollInterval: 5 * time.Millisecond}
	a := NewOrchestrator(store, client, cfg, nil, nil)
	b := NewOrchestrator(store, client, cfg, nil, nil)

	var (
		wg         sync.WaitGroup
		outA, outB *model.ScanRecord
		errA, errB error
	)
	wg.Add(2)
	go func() { defer wg.Done(); outA, errA = a.Enrich(ctx, rec) }()
	go func() { defer wg.Done(); outB, errB = b.Enrich(ctx, rec) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, int32(1), calls.Load())
	ja, _ := json.Marshal(outA)
	jb, _ := json.Marshal(outB)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestOrchestrator_Enrich_LostCompletionRaceReturnsWinner(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	rec := &model.ScanRecord{ID: id, Owner: "user-1", RawText: "text", Enrichment: model.HeuristicOnly{}}
	winner := &model.ScanRecord{ID: id, Owner: "user-1", RawText: "text",
		Enrichment: model.AIEnriched{Score: 64, RiskLevel: model.RiskModerate, AnalyzedAt: fixedNow()}}

	repo := new(repomocks.MockScanRepository)
	repo.On("ClaimAnalysis", mock.Anything, id, mock.Anything, mock.Anything).Return(true, nil).Once()
	repo.On("CompleteAnalysis", mock.Anything, id, mock.AnythingOfType("model.AIEnriched")).
		Return(nil, repository.ErrAlreadyAnalyzed).Once()
	repo.On("FindByID", mock.Anything, id).Return(winner, nil).Once()

	client := new(aimocks.MockClient)
	client.On("Analyze", mock.Anything, mock.Anything).Return(validAIResponse, nil).Once()

	got, err := NewOrchestrator(repo, client, AnalysisConfig{}, nil, nil).Enrich(ctx, rec)

	require.NoError(t, err)
	assert.Equal(t, 64, got.Score())
	repo.AssertExpectations(t)
}

func TestOrchestrator_Enrich_ClaimErrorIsPersistence(t *testing.T) {
	id := uuid.NewString()
	repo := new(repomocks.MockScanRepository)
	repo.On("ClaimAnalysis", mock.Anything, id, mock.Anything, mock.Anything).Return(false, errors.New("conn reset"))

	client := new(aimocks.MockClient)
	_, err := NewOrchestrator(repo, client, AnalysisConfig{}, nil, nil).
		Enrich(context.Background(), &model.ScanRecord{ID: id, Enrichment: model.HeuristicOnly{}})

	assert.ErrorIs(t, err, ErrPersistence)
	client.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}
