package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clinical-simulator/pkg"
)

// PostgresCaseRepository stores cases in the patient_cases table, one JSONB
// document per row, ordered by insertion.
type PostgresCaseRepository struct {
	DB *sql.DB
}

// NewPostgresCaseRepository constructs a new repository from an existing
// sql.DB.  The caller is responsible for managing the DB connection lifecycle.
func NewPostgresCaseRepository(db *sql.DB) *PostgresCaseRepository {
	return &PostgresCaseRepository{DB: db}
}

// SeedIfEmpty inserts the given cases when the table has no rows.
func (r *PostgresCaseRepository) SeedIfEmpty(ctx context.Context, cases []pkg.PatientCase) error {
	var count int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM patient_cases`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, c := range cases {
		if err := r.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts a case or replaces the document of an existing id.
func (r *PostgresCaseRepository) Upsert(ctx context.Context, c pkg.PatientCase) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case %s: %w", c.ID, err)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO patient_cases (id, doc)
         VALUES ($1, $2)
         ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		c.ID, doc,
	)
	return err
}

func (r *PostgresCaseRepository) List(ctx context.Context) ([]pkg.PatientCase, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT doc FROM patient_cases ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cases []pkg.PatientCase
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var c pkg.PatientCase
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, fmt.Errorf("failed to parse case document: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

func (r *PostgresCaseRepository) Get(ctx context.Context, id string) (*pkg.PatientCase, error) {
	var doc []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT doc FROM patient_cases WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	var c pkg.PatientCase
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to parse case document: %w", err)
	}
	return &c, nil
}
