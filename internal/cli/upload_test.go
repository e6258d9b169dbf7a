package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// neuroVault counts collection and image posts.
type neuroVault struct {
	mu          sync.Mutex
	collections []string
	images      []string
}

func (n *neuroVault) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /collections/{$}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		n.mu.Lock()
		n.collections = append(n.collections, body["name"])
		n.mu.Unlock()
		fmt.Fprintf(w, `{"id": 9, "name": %q}`, body["name"])
	})
	mux.HandleFunc("POST /collections/9/images/", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		n.mu.Lock()
		n.images = append(n.images, r.FormValue("name"))
		id := len(n.images)
		n.mu.Unlock()
		fmt.Fprintf(w, `{"id": %d, "name": %q}`, id, r.FormValue("name"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeToken(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("abc123\n"), 0o600))
	return path
}

func TestUploadSkipsMapsAlreadyPublished(t *testing.T) {
	nv := &neuroVault{}
	srv := nv.server(t)
	db := filepath.Join(t.TempDir(), "ledger.db")
	dir := t.TempDir()
	a := writeMap(t, dir, fixedKey("01", "1"), []float64{1, 2})
	b := writeMap(t, dir, fixedKey("02", "1"), []float64{3, 4})
	list := filepath.Join(t.TempDir(), "maps.txt")
	require.NoError(t, os.WriteFile(list, []byte(b+"\n\n"), 0o644))

	stdout, _, err := execute(t, "--db", db, "upload", "--token", writeToken(t), "--base-url", srv.URL,
		"--sample", "AHRB", "--list", list, a)
	require.NoError(t, err)
	assert.Contains(t, stdout, "collection 9")
	assert.Contains(t, stdout, "uploaded 2, skipped 0")
	assert.Equal(t, []string{"AHRB: 3D MNI152 maps for multiverse reliability"}, nv.collections)

	stdout, _, err = execute(t, "--db", db, "upload", "--token", writeToken(t), "--base-url", srv.URL,
		"--collection", "9", a, b)
	require.NoError(t, err)
	assert.Contains(t, stdout, "uploaded 0, skipped 2")
	assert.Len(t, nv.collections, 1)
	assert.Len(t, nv.images, 2)
}

func TestUploadRejectsBadType(t *testing.T) {
	_, _, err := execute(t, "upload", "--token", writeToken(t), "--type", "fixed", "x.nii.gz")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestUploadNeedsMaps(t *testing.T) {
	_, _, err := execute(t, "upload", "--token", writeToken(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no maps")
}

func TestUploadServerErrorRecordsFailedRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()
	db := filepath.Join(t.TempDir(), "ledger.db")
	m := writeMap(t, t.TempDir(), fixedKey("01", "1"), []float64{1})

	_, _, err := execute(t, "--db", db, "upload", "--token", writeToken(t), "--base-url", srv.URL, m)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
