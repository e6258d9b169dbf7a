package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/midrel/internal/artifact"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// BeginRun records the start of a stage. config is stored as JSON.
func (s *Store) BeginRun(ctx context.Context, id, stage string, config any) error {
	cfg, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("begin run: marshal config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, stage, config, status, started_seq)
		VALUES (?, ?, ?, ?, ?)
	`, id, stage, string(cfg), StatusRunning, s.clock.Next())
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun marks a run ok, or failed with runErr's message.
func (s *Store) FinishRun(ctx context.Context, id string, runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, ended_seq = ? WHERE id = ?
	`, status, msg, s.clock.Next(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %s", id)
	}
	return nil
}

// RecordArtifact stores a written map. Rewriting the same key replaces the
// earlier row, so the ledger always points at the latest file.
func (s *Store) RecordArtifact(ctx context.Context, runID string, k artifact.Key, path, contentHash string) error {
	var seed any
	if k.Seed != nil {
		seed = *k.Seed
	}
	p := k.Permutation
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts
		(id, run_id, filename, path, level, subject, subs, seed, session, task, run, type, roi,
		 contrast, fwhm, motion, model, mask, stat, content_hash, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			path = excluded.path,
			content_hash = excluded.content_hash,
			seq = excluded.seq
	`,
		k.ID(), runID, k.Filename(), path, string(k.Level), k.Subject, k.Subs, seed,
		k.Session, k.Task, k.Run, k.Type, k.ROI, k.Contrast, p.FWHM, p.Motion, p.Model, p.Mask,
		string(k.Stat), contentHash, s.clock.Next(),
	)
	if err != nil {
		return fmt.Errorf("record artifact %s: %w", k.Filename(), err)
	}
	return nil
}

// Efficiency is one design-efficiency value.
type Efficiency struct {
	Subject     string               `json:"subject"`
	Session     string               `json:"session"`
	Task        string               `json:"task"`
	Run         string               `json:"run"`
	Contrast    string               `json:"contrast"`
	Permutation artifact.Permutation `json:"permutation"`
	Value       float64              `json:"efficiency"`
}

// RecordEfficiency stores design efficiency rows, replacing earlier values
// for the same run, contrast and permutation.
func (s *Store) RecordEfficiency(ctx context.Context, runID string, rows []Efficiency) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record efficiency: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		p := r.Permutation
		_, err := tx.ExecContext(ctx, `
			INSERT INTO efficiency
			(run_id, subject, session, task, run, contrast, fwhm, motion, model, mask, efficiency, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(subject, session, task, run, contrast, fwhm, motion, model, mask) DO UPDATE SET
				run_id = excluded.run_id,
				efficiency = excluded.efficiency,
				seq = excluded.seq
		`, runID, r.Subject, r.Session, r.Task, r.Run, r.Contrast,
			p.FWHM, p.Motion, p.Model, p.Mask, r.Value, s.clock.Next())
		if err != nil {
			return fmt.Errorf("record efficiency: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record efficiency: commit: %w", err)
	}
	return nil
}

// RecordSubsample stores one realized subsample.
func (s *Store) RecordSubsample(ctx context.Context, runID string, seed int64, requested, unique int, subjects []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subsamples (run_id, seed, requested, unique_n, subjects, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, seed, requested, unique, strings.Join(subjects, ","), s.clock.Next())
	if err != nil {
		return fmt.Errorf("record subsample: %w", err)
	}
	return nil
}

// Upload is a map registered with the catalog.
type Upload struct {
	ContentHash string
	Collection  string
	Path        string
	Name        string
	ImageID     int64
}

// RecordUpload stores a catalog upload. Duplicate uploads of the same content
// to the same collection are ignored.
func (s *Store) RecordUpload(ctx context.Context, runID string, u Upload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (content_hash, collection, path, name, image_id, run_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, collection) DO NOTHING
	`, u.ContentHash, u.Collection, u.Path, u.Name, u.ImageID, runID, s.clock.Next())
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}
