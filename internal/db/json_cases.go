package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"clinical-simulator/pkg"
)

// CasesFileName is the case file inside the data directory.
const CasesFileName = "patient_cases.json"

// JSONCaseRepository reads cases from a JSON array on disk.  The file is
// re-read on every call so edits show up without a restart.
type JSONCaseRepository struct {
	Path string
}

// NewJSONCaseRepository returns a repository over dataDir/patient_cases.json,
// creating the directory and seeding the sample cases if the file is absent.
func NewJSONCaseRepository(dataDir string) (*JSONCaseRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	r := &JSONCaseRepository{Path: filepath.Join(dataDir, CasesFileName)}
	if _, err := os.Stat(r.Path); errors.Is(err, os.ErrNotExist) {
		if err := r.seed(SampleCases()); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat case file: %w", err)
	}
	return r, nil
}

func (r *JSONCaseRepository) seed(cases []pkg.PatientCase) error {
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sample cases: %w", err)
	}
	if err := os.WriteFile(r.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sample cases: %w", err)
	}
	return nil
}

func (r *JSONCaseRepository) List(ctx context.Context) ([]pkg.PatientCase, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	var cases []pkg.PatientCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case file: %w", err)
	}
	return cases, nil
}

func (r *JSONCaseRepository) Get(ctx context.Context, id string) (*pkg.PatientCase, error) {
	cases, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return findCase(cases, id)
}
