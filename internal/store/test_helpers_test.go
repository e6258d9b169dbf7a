package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/midrel/internal/artifact"
)

// createTestStore opens a fresh ledger in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a running stage row.
func createTestRun(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.BeginRun(context.Background(), id, "firstlevel", map[string]any{"tr": 0.8}); err != nil {
		t.Fatalf("BeginRun() failed: %v", err)
	}
}

func testKey(run string, stat artifact.Stat) artifact.Key {
	return artifact.Key{
		Level:       artifact.LevelRun,
		Subject:     "01",
		Session:     "1",
		Task:        "MID",
		Run:         run,
		Contrast:    "Lgain-Neut",
		Permutation: artifact.Permutation{FWHM: 4, Motion: "opt1", Model: "AntMod", Mask: "mni152"},
		Stat:        stat,
	}
}

func getTableColumns(t *testing.T, s *Store, table string) []string {
	t.Helper()
	rows, err := s.db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}
