package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/volume"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "midrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// writeMap writes a one-row image named after k.
func writeMap(t *testing.T, dir string, k artifact.Key, vals []float64) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	v := volume.New([4]int{len(vals), 1, 1, 1}, [3]float64{2, 2, 2},
		[3][4]float64{{-2, 0, 0, 90}, {0, 2, 0, -126}, {0, 0, 2, -72}})
	copy(v.Data, vals)
	path := k.Path(dir)
	require.NoError(t, volume.Write(path, v))
	return path
}

func writeImage(t *testing.T, path string, vals []float64) string {
	t.Helper()
	v := volume.New([4]int{len(vals), 1, 1, 1}, [3]float64{2, 2, 2},
		[3][4]float64{{-2, 0, 0, 90}, {0, 2, 0, -126}, {0, 0, 2, -72}})
	copy(v.Data, vals)
	require.NoError(t, volume.Write(path, v))
	return path
}

func fixedKey(sub, ses string) artifact.Key {
	return artifact.Key{
		Level: artifact.LevelFixed, Subject: sub, Session: ses, Task: "MID",
		Contrast: "Lgain-Neut", Stat: artifact.StatEffect,
		Permutation: artifact.Permutation{FWHM: 4, Motion: "opt1", Model: "AntMod", Mask: "mni152"},
	}
}
