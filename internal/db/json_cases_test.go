package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-simulator/pkg"
)

func TestJSONRepositorySeedsSampleCases(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	repo, err := NewJSONCaseRepository(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, CasesFileName))
	cases, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "case001", cases[0].ID)
	assert.Equal(t, "case002", cases[1].ID)
}

func TestJSONRepositoryKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	custom := `[{"id":"case777","name":"Ravi Patel","age":61,"gender":"Male",
		"chief_complaint":"Cough","condition":"Pneumonia","symptoms":["Cough","Fever"],
		"diagnosis":"Community-acquired pneumonia"}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, CasesFileName), []byte(custom), 0o644))

	repo, err := NewJSONCaseRepository(dir)
	require.NoError(t, err)

	c, err := repo.Get(context.Background(), "case777")
	require.NoError(t, err)
	assert.Equal(t, "Ravi Patel", c.Name)
	assert.Equal(t, []string{"Cough", "Fever"}, c.Symptoms)

	_, err = repo.Get(context.Background(), "case001")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestJSONRepositoryRereadsFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewJSONCaseRepository(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(repo.Path, []byte(`[]`), 0o644))

	cases, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestJSONRepositoryMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CasesFileName), []byte(`{not json`), 0o644))

	repo, err := NewJSONCaseRepository(dir)
	require.NoError(t, err)

	_, err = repo.List(context.Background())
	assert.Error(t, err)
}

func TestFilterCases(t *testing.T) {
	cases := SampleCases()

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"case001", "case002"}},
		{"alicia", []string{"case001"}},
		{"chest", []string{"case002"}},
		{"myocard", []string{"case002"}},
		{"xyzzy", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := FilterCases(cases, tt.query)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFindCase(t *testing.T) {
	c, err := findCase(SampleCases(), "case002")
	require.NoError(t, err)
	assert.Equal(t, "James Wilson", c.Name)

	_, err = findCase([]pkg.PatientCase{}, "case002")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}
