package core

import (
	"math"
	"time"

	"github.com/samber/lo"

	"clinical-simulator/pkg"
)

// EfficiencyPolicy scores how economically a learner took the history: every
// question beyond Baseline costs Penalty points.
type EfficiencyPolicy struct {
	Baseline int
	Penalty  int
}

// DefaultEfficiencyPolicy is ten free questions, five points per extra one.
var DefaultEfficiencyPolicy = EfficiencyPolicy{Baseline: 10, Penalty: 5}

// Score returns the efficiency score for numQuestions, clamped to 0-100.
func (p EfficiencyPolicy) Score(numQuestions int) int {
	return lo.Clamp(100-(numQuestions-p.Baseline)*p.Penalty, 0, 100)
}

// CountQuestions returns the number of learner messages in the log.
func CountQuestions(interactions []pkg.Interaction) int {
	return lo.CountBy(interactions, func(in pkg.Interaction) bool {
		return in.Role == pkg.RoleUser
	})
}

// ComputeResults builds the end-of-case summary.  sess may be nil when the
// learner has no simulation running for this case.
func ComputeResults(sess *pkg.Session, c *pkg.PatientCase, reasoningScore int, now time.Time, policy EfficiencyPolicy) pkg.ResultsSummary {
	var interactions []pkg.Interaction
	duration := 0.0
	if sess != nil {
		interactions = sess.Interactions
		minutes := now.Sub(sess.StartTime).Minutes()
		duration = math.Round(math.Max(minutes, 0)*10) / 10
	}
	numQuestions := CountQuestions(interactions)
	return pkg.ResultsSummary{
		Duration:               duration,
		NumQuestions:           numQuestions,
		EfficiencyScore:        policy.Score(numQuestions),
		ClinicalReasoningScore: reasoningScore,
		Case:                   *c,
	}
}
