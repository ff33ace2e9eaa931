package model

import "time"

// ReportDisclaimer is printed on every report.
const ReportDisclaimer = "This tool provides bias risk indicators only and does not determine protected attributes."

// ReportView is the read-only projection consumed by report renderers.
type ReportView struct {
	Filename   string     `json:"filename"`
	Score      int        `json:"score"`
	RiskLevel  RiskLevel  `json:"riskLevel"`
	Status     string     `json:"status"`
	Summary    string     `json:"summary"`
	Flags      []BiasFlag `json:"flags"`
	Timestamp  time.Time  `json:"timestamp"`
	Disclaimer string     `json:"disclaimer"`
}

// NewReportView projects a scan into its report form. Heuristic-only scans report their
// keyword flags; analyzed scans report the AI flags.
func NewReportView(s *ScanRecord) ReportView {
	v := ReportView{
		Filename:   s.Filename,
		Score:      s.Score(),
		RiskLevel:  s.RiskLevel(),
		Status:     s.Status(),
		Summary:    s.Heuristic.Explanation,
		Flags:      s.Heuristic.BiasFlags(),
		Timestamp:  s.CreatedAt,
		Disclaimer: ReportDisclaimer,
	}
	if e, ok := s.AI(); ok {
		v.Summary = e.Analysis.Summary
		v.Flags = e.Analysis.BiasFlags
		if v.Flags == nil {
			v.Flags = []BiasFlag{}
		}
		v.Timestamp = e.AnalyzedAt
	}
	return v
}
