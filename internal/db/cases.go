package db

import (
	"context"
	"errors"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"

	"clinical-simulator/pkg"
)

// ErrCaseNotFound is returned for lookups of an unknown case id.
var ErrCaseNotFound = errors.New("case not found")

// CaseRepository is the read side of the case store.  List preserves the
// store's order.
type CaseRepository interface {
	List(ctx context.Context) ([]pkg.PatientCase, error)
	Get(ctx context.Context, id string) (*pkg.PatientCase, error)
}

// SampleCases are written to an empty store on first run.
func SampleCases() []pkg.PatientCase {
	return []pkg.PatientCase{
		{
			ID:             "case001",
			Name:           "Alicia Smith",
			Age:            33,
			Gender:         "Female",
			ChiefComplaint: "Right lower quadrant pain",
			Condition:      "Appendicitis",
			Symptoms: []string{
				"Right lower quadrant pain",
				"Mild anorexia",
				"No nausea",
				"Low-grade fever",
			},
			History:       "No significant past medical history",
			Diagnosis:     "Acute appendicitis",
			ImagingNeeded: "CT scan of abdomen",
		},
		{
			ID:             "case002",
			Name:           "James Wilson",
			Age:            57,
			Gender:         "Male",
			ChiefComplaint: "Chest pain and shortness of breath",
			Condition:      "Myocardial Infarction",
			Symptoms: []string{
				"Substernal chest pain",
				"Pain radiating to left arm",
				"Shortness of breath",
				"Diaphoresis",
			},
			History:       "Hypertension, Hyperlipidemia, Smoker",
			Diagnosis:     "Acute myocardial infarction",
			ImagingNeeded: "ECG, Cardiac enzymes",
		},
	}
}

// FilterCases keeps the cases whose name, chief complaint or condition
// fuzzily matches query.  An empty query returns cases unchanged.
func FilterCases(cases []pkg.PatientCase, query string) []pkg.PatientCase {
	query = strings.TrimSpace(query)
	if query == "" {
		return cases
	}
	return lo.Filter(cases, func(c pkg.PatientCase, _ int) bool {
		for _, field := range []string{c.Name, c.ChiefComplaint, c.Condition} {
			if fuzzy.MatchNormalizedFold(query, field) {
				return true
			}
		}
		return false
	})
}

func findCase(cases []pkg.PatientCase, id string) (*pkg.PatientCase, error) {
	c, ok := lo.Find(cases, func(c pkg.PatientCase) bool { return c.ID == id })
	if !ok {
		return nil, ErrCaseNotFound
	}
	return &c, nil
}
