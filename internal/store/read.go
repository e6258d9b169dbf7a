package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/midrel/internal/artifact"
)

// Run is a row of the runs table.
type Run struct {
	ID     string `json:"id"`
	Stage  string `json:"stage"`
	Config string `json:"config"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ReadRun returns one run.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, stage, config, status, error FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Stage, &r.Config, &r.Status, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return r, fmt.Errorf("read run: %w", err)
	}
	return r, nil
}

// Artifact is a row of the artifacts table.
type Artifact struct {
	Key         artifact.Key `json:"key"`
	Filename    string       `json:"filename"`
	Path        string       `json:"path"`
	RunID       string       `json:"run_id"`
	ContentHash string       `json:"content_hash"`
	Seq         int64        `json:"seq"`
}

// Filter restricts an artifact listing. Empty fields match everything.
type Filter struct {
	RunID    string
	Level    artifact.Level
	Stat     artifact.Stat
	Subject  string
	Contrast string
	ROI      string
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add("run_id", f.RunID)
	add("level", string(f.Level))
	add("stat", string(f.Stat))
	add("subject", f.Subject)
	add("contrast", f.Contrast)
	add("roi", f.ROI)
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Artifacts lists recorded maps ordered by seq, then id.
func (s *Store) Artifacts(ctx context.Context, f Filter) ([]Artifact, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, filename, path, level, subject, subs, seed, session, task, run, type, roi,
		       contrast, fwhm, motion, model, mask, stat, content_hash, seq
		FROM artifacts `+where+`
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []Artifact{}
	for rows.Next() {
		var a Artifact
		var level, stat string
		var seed sql.NullInt64
		k := &a.Key
		if err := rows.Scan(&a.RunID, &a.Filename, &a.Path, &level, &k.Subject, &k.Subs, &seed,
			&k.Session, &k.Task, &k.Run, &k.Type, &k.ROI, &k.Contrast,
			&k.Permutation.FWHM, &k.Permutation.Motion, &k.Permutation.Model, &k.Permutation.Mask,
			&stat, &a.ContentHash, &a.Seq); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		k.Level = artifact.Level(level)
		k.Stat = artifact.Stat(stat)
		if seed.Valid {
			v := seed.Int64
			k.Seed = &v
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

// EfficiencyRows returns the efficiency rows of a subject, ordered by seq.
func (s *Store) EfficiencyRows(ctx context.Context, subject string) ([]Efficiency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, session, task, run, contrast, fwhm, motion, model, mask, efficiency
		FROM efficiency WHERE subject = ?
		ORDER BY seq ASC
	`, subject)
	if err != nil {
		return nil, fmt.Errorf("query efficiency: %w", err)
	}
	defer rows.Close()

	out := []Efficiency{}
	for rows.Next() {
		var e Efficiency
		p := &e.Permutation
		if err := rows.Scan(&e.Subject, &e.Session, &e.Task, &e.Run, &e.Contrast,
			&p.FWHM, &p.Motion, &p.Model, &p.Mask, &e.Value); err != nil {
			return nil, fmt.Errorf("scan efficiency: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subsample is a row of the subsamples table.
type Subsample struct {
	Seed      int64    `json:"seed"`
	Requested int      `json:"requested"`
	Unique    int      `json:"unique"`
	Subjects  []string `json:"subjects"`
}

// Subsamples returns the subsamples recorded by a run.
func (s *Store) Subsamples(ctx context.Context, runID string) ([]Subsample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seed, requested, unique_n, subjects FROM subsamples
		WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query subsamples: %w", err)
	}
	defer rows.Close()

	out := []Subsample{}
	for rows.Next() {
		var ss Subsample
		var subjects string
		if err := rows.Scan(&ss.Seed, &ss.Requested, &ss.Unique, &subjects); err != nil {
			return nil, fmt.Errorf("scan subsample: %w", err)
		}
		if subjects != "" {
			ss.Subjects = strings.Split(subjects, ",")
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Uploaded reports whether content was already uploaded to collection.
func (s *Store) Uploaded(ctx context.Context, contentHash, collection string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM uploads WHERE content_hash = ? AND collection = ?
	`, contentHash, collection).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query uploads: %w", err)
	}
	return n > 0, nil
}
