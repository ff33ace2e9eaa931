// Package bias implements the deterministic keyword scorer used as the scan baseline.
package bias

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"biasaudit/internal/model"
)

var genderCodedTerms = []string{
	"aggressive", "dominant", "rockstar", "competitive", "expert", "leader",
	"ambitious", "assertive", "decisive", "independent",
}

var ageProxyTerms = []string{
	"young", "energetic", "recent graduate", "digital native", "highly mobile",
	"flexible schedule", "adaptable", "fresh",
}

var yearPattern = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

// Weights are expressed in tenths so the aggregate risk is computed exactly.
const (
	nameWeight     = 3
	languageWeight = 4
	ageWeight      = 2
	otherWeight    = 1

	languagePerHit = 10
	agePerHit      = 20
	yearPenalty    = 20
	maxRisk        = 100
)

// Score computes the heuristic bias result for text. It has no side effects and returns
// identical output for identical input.
func Score(text string) model.HeuristicResult {
	lower := strings.ToLower(text)
	flags := make([]string, 0, 3)

	var languageRisk, ageProxyRisk int
	nameRisk, otherSignals := 0, 0

	if found := matchTerms(lower, genderCodedTerms); len(found) > 0 {
		languageRisk = min(len(found)*languagePerHit, maxRisk)
		flags = append(flags, "Gender-coded language detected: "+strings.Join(found, ", "))
	}

	if found := matchTerms(lower, ageProxyTerms); len(found) > 0 {
		ageProxyRisk = min(len(found)*agePerHit, maxRisk)
		flags = append(flags, "Age-related proxies detected: "+strings.Join(found, ", "))
	}

	if yearPattern.MatchString(text) {
		ageProxyRisk = min(ageProxyRisk+yearPenalty, maxRisk)
		flags = append(flags, "Specific graduation years detected, which can lead to age bias.")
	}

	tenths := nameWeight*nameRisk + languageWeight*languageRisk + ageWeight*ageProxyRisk + otherWeight*otherSignals
	totalRisk := float64(tenths) / 10

	score := int(math.Round(100 - totalRisk))
	score = max(0, min(score, 100))

	return model.HeuristicResult{
		Score:     score,
		RiskLevel: levelForTenths(tenths),
		TotalRisk: totalRisk,
		Flags:     flags,
		Explanation: fmt.Sprintf(
			"The resume was analyzed for potential bias signals. We found %d potential risk factors related to gendered language and age proxies.",
			len(flags),
		),
	}
}

// RiskLevelFor buckets an aggregate risk. Boundary values fall into the lower tier.
func RiskLevelFor(totalRisk float64) model.RiskLevel {
	return levelForTenths(int(math.Round(totalRisk * 10)))
}

func levelForTenths(tenths int) model.RiskLevel {
	switch {
	case tenths > 500:
		return model.RiskHigh
	case tenths > 200:
		return model.RiskModerate
	default:
		return model.RiskLow
	}
}

func matchTerms(lower string, terms []string) []string {
	var found []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			found = append(found, t)
		}
	}
	return found
}
