package model

import (
	"encoding/json"
	"time"
)

// ScanSchemaVersion is the version of the persisted scan entity.
// Version 1 was the document-centric "resume" row; version 2 is the generic scan.
const ScanSchemaVersion = 2

// RiskLevel is the coarse bias risk bucket.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// ParseRiskLevel returns the canonical level for s and whether s was recognised.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(s) {
	case RiskLow, RiskModerate, RiskHigh:
		return RiskLevel(s), true
	}
	return "", false
}

// ScanState is the lifecycle state of a persisted scan.
type ScanState string

const (
	StateScored   ScanState = "scored"
	StateAnalyzed ScanState = "analyzed"
)

// BiasFlag is a single reported concern.
type BiasFlag struct {
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Severity    RiskLevel `json:"severity"`
	Suggestion  string    `json:"suggestion"`
}

// HeuristicResult is the deterministic keyword baseline computed at creation.
type HeuristicResult struct {
	Score       int       `json:"score"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	TotalRisk   float64   `json:"totalRisk"`
	Flags       []string  `json:"flags"`
	Explanation string    `json:"explanation"`
}

// BiasFlags converts the heuristic flag lines into general-category flags.
func (h HeuristicResult) BiasFlags() []BiasFlag {
	out := make([]BiasFlag, 0, len(h.Flags))
	for _, f := range h.Flags {
		out = append(out, BiasFlag{
			Category:    "General",
			Description: f,
			Severity:    h.RiskLevel,
			Suggestion:  "Consider using more inclusive language.",
		})
	}
	return out
}

// FusedScores is the per-dimension breakdown kept after enrichment.
type FusedScores struct {
	Language int `json:"language"`
	Age      int `json:"age"`
	Name     int `json:"name"`
}

// AIAnalysis is the enrichment payload returned by the external analysis service.
type AIAnalysis struct {
	Summary     string      `json:"summary"`
	BiasFlags   []BiasFlag  `json:"biasFlags"`
	FusedScores FusedScores `json:"fusedScores"`
}

// Enrichment is the analysis variant of a scan: exactly one of HeuristicOnly or AIEnriched.
type Enrichment interface {
	isEnrichment()
}

// HeuristicOnly marks a scan that has only its keyword baseline.
type HeuristicOnly struct{}

// AIEnriched marks a scan whose authoritative values come from the AI service.
// Degraded is set when the service answered but its payload could not be used.
type AIEnriched struct {
	Analysis   AIAnalysis
	Score      int
	RiskLevel  RiskLevel
	Degraded   bool
	AnalyzedAt time.Time
}

func (HeuristicOnly) isEnrichment() {}
func (AIEnriched) isEnrichment()    {}

// ScanRecord is one submitted document and its bias analysis.
type ScanRecord struct {
	ID          string
	Owner       string
	Filename    string
	RawText     string
	StoragePath string
	Heuristic   HeuristicResult
	Enrichment  Enrichment
	CreatedAt   time.Time
}

// State reports the lifecycle state implied by the enrichment variant.
func (s *ScanRecord) State() ScanState {
	if _, ok := s.Enrichment.(AIEnriched); ok {
		return StateAnalyzed
	}
	return StateScored
}

// AI returns the enrichment when the scan has been analyzed.
func (s *ScanRecord) AI() (AIEnriched, bool) {
	e, ok := s.Enrichment.(AIEnriched)
	return e, ok
}

// Score is the current authoritative fairness score.
func (s *ScanRecord) Score() int {
	switch e := s.Enrichment.(type) {
	case AIEnriched:
		return e.Score
	default:
		return s.Heuristic.Score
	}
}

// RiskLevel is the current authoritative risk level.
func (s *ScanRecord) RiskLevel() RiskLevel {
	switch e := s.Enrichment.(type) {
	case AIEnriched:
		return e.RiskLevel
	default:
		return s.Heuristic.RiskLevel
	}
}

// Status is the client-facing status; degraded enrichments are reported separately.
func (s *ScanRecord) Status() string {
	if e, ok := s.AI(); ok && e.Degraded {
		return "degraded"
	}
	return string(s.State())
}

type scanJSON struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner"`
	Filename      string          `json:"filename"`
	RawText       string          `json:"rawText"`
	StoragePath   string          `json:"storagePath,omitempty"`
	Score         int             `json:"score"`
	RiskLevel     RiskLevel       `json:"riskLevel"`
	State         ScanState       `json:"state"`
	Status        string          `json:"status"`
	Heuristic     HeuristicResult `json:"heuristicResult"`
	Analysis      *AIAnalysis     `json:"analysis"`
	AnalyzedAt    *time.Time      `json:"analyzedAt,omitempty"`
	SchemaVersion int             `json:"schemaVersion"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// MarshalJSON flattens the enrichment variant into the wire representation.
func (s ScanRecord) MarshalJSON() ([]byte, error) {
	out := scanJSON{
		ID:            s.ID,
		Owner:         s.Owner,
		Filename:      s.Filename,
		RawText:       s.RawText,
		StoragePath:   s.StoragePath,
		Score:         s.Score(),
		RiskLevel:     s.RiskLevel(),
		State:         s.State(),
		Status:        s.Status(),
		Heuristic:     s.Heuristic,
		SchemaVersion: ScanSchemaVersion,
		CreatedAt:     s.CreatedAt,
	}
	if e, ok := s.AI(); ok {
		a := e.Analysis
		at := e.AnalyzedAt
		out.Analysis = &a
		out.AnalyzedAt = &at
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the enrichment variant from the wire representation.
func (s *ScanRecord) UnmarshalJSON(b []byte) error {
	var in scanJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = ScanRecord{
		ID:          in.ID,
		Owner:       in.Owner,
		Filename:    in.Filename,
		RawText:     in.RawText,
		StoragePath: in.StoragePath,
		Heuristic:   in.Heuristic,
		Enrichment:  HeuristicOnly{},
		CreatedAt:   in.CreatedAt,
	}
	if in.Analysis != nil {
		e := AIEnriched{
			Analysis:  *in.Analysis,
			Score:     in.Score,
			RiskLevel: in.RiskLevel,
			Degraded:  in.Status == "degraded",
		}
		if in.AnalyzedAt != nil {
			e.AnalyzedAt = *in.AnalyzedAt
		}
		s.Enrichment = e
	}
	return nil
}
