package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/store"
	"github.com/roach88/midrel/internal/volume"
)

// Ledger records stage runs and their outputs. *store.Store implements it.
type Ledger interface {
	BeginRun(ctx context.Context, id, stage string, config any) error
	FinishRun(ctx context.Context, id string, runErr error) error
	RecordArtifact(ctx context.Context, runID string, k artifact.Key, path, contentHash string) error
	RecordEfficiency(ctx context.Context, runID string, rows []store.Efficiency) error
	RecordSubsample(ctx context.Context, runID string, seed int64, requested, unique int, subjects []string) error
}

var _ Ledger = (*store.Store)(nil)

// Env carries what every stage shares.
type Env struct {
	// Ledger is optional; without it stages only write files.
	Ledger Ledger
	// IDs defaults to TimeOrderedIDs.
	IDs RunIDs
}

// Report summarizes a stage run.
type Report struct {
	RunID   string   `json:"run_id"`
	Written []string `json:"written"`
	Failed  int      `json:"failed"`
}

// runScope is one stage invocation.
type runScope struct {
	env    Env
	id     string
	report *Report
}

func (e Env) begin(ctx context.Context, stageName string, cfg any) (context.Context, *runScope, error) {
	ids := e.IDs
	if ids == nil {
		ids = TimeOrderedIDs{}
	}
	id, err := ids.Next()
	if err != nil {
		return ctx, nil, fmt.Errorf("run id: %w", err)
	}
	r := &runScope{env: e, id: id}
	r.report = &Report{RunID: r.id}
	if e.Ledger != nil {
		if err := e.Ledger.BeginRun(ctx, r.id, stageName, cfg); err != nil {
			return ctx, nil, err
		}
	}
	ctx = ctxlog.With(ctx, "stage", stageName, "run_id", r.id)
	ctxlog.FromContext(ctx).Info("stage started")
	return ctx, r, nil
}

// finish closes the ledger row and returns the stage result.
func (r *runScope) finish(ctx context.Context, runErr error) (*Report, error) {
	log := ctxlog.FromContext(ctx)
	if r.env.Ledger != nil {
		if err := r.env.Ledger.FinishRun(ctx, r.id, runErr); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		log.Error("stage failed", "written", len(r.report.Written), "error", runErr)
	} else {
		log.Info("stage finished", "written", len(r.report.Written))
	}
	return r.report, runErr
}

// writeMap writes v under its canonical name in dir and records it.
func (r *runScope) writeMap(ctx context.Context, dir string, k artifact.Key, v *volume.Volume) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := k.Path(dir)
	if err := volume.Write(path, v); err != nil {
		return "", err
	}
	r.report.Written = append(r.report.Written, path)
	ctxlog.FromContext(ctx).Debug("wrote map", "path", path)

	if r.env.Ledger == nil {
		return path, nil
	}
	hash, err := artifact.ContentHash(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	if err := r.env.Ledger.RecordArtifact(ctx, r.id, k, path, hash); err != nil {
		return "", err
	}
	return path, nil
}

// failures applies the keep-going policy to units of work.
type failures struct {
	keepGoing bool
	report    *Report
	errs      []error
}

// add returns err when the stage must stop, nil when it may continue.
func (f *failures) add(log *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	f.report.Failed++
	if !f.keepGoing {
		return err
	}
	log.Warn("unit failed, continuing", "error", err)
	f.errs = append(f.errs, err)
	return nil
}

func (f *failures) err() error {
	return errors.Join(f.errs...)
}

// gather copies the masked voxels of every frame into a frames × voxels matrix.
func gather(v *volume.Volume, m *volume.Mask) *mat.Dense {
	nt, nv := v.Frames(), v.Voxels()
	out := mat.NewDense(nt, m.Len(), nil)
	for t := 0; t < nt; t++ {
		frame := v.Data[t*nv : (t+1)*nv]
		row := out.RawRowView(t)
		for j, i := range m.Indices {
			row[j] = frame[i]
		}
	}
	return out
}

// gatherMaps takes the masked voxels of each 3-D map.
func gatherMaps(maps []*volume.Volume, m *volume.Mask) [][]float64 {
	out := make([][]float64, len(maps))
	for s, v := range maps {
		out[s] = make([]float64, m.Len())
		for j, i := range m.Indices {
			out[s][j] = v.Data[i]
		}
	}
	return out
}

// scatter places masked values back on ref's grid as a 3-D image.
func scatter(ref *volume.Volume, m *volume.Mask, vals []float64) *volume.Volume {
	out := volume.Like(ref, 1)
	for j, i := range m.Indices {
		out.Data[i] = vals[j]
	}
	return out
}

// fullMask selects every voxel of ref.
func fullMask(ref *volume.Volume) *volume.Mask {
	m := &volume.Mask{Dims: [3]int{ref.Dims[0], ref.Dims[1], ref.Dims[2]}}
	m.Indices = make([]int, ref.Voxels())
	for i := range m.Indices {
		m.Indices[i] = i
	}
	return m
}

// readMaps reads 3-D maps and checks they share the first map's grid.
func readMaps(paths []string) ([]*volume.Volume, error) {
	out := make([]*volume.Volume, len(paths))
	for i, p := range paths {
		v, err := volume.Read(p)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if err := out[0].CheckGrid(v, p); err != nil {
				return nil, err
			}
		}
		out[i] = v
	}
	return out, nil
}

// optionalMask loads the mask at path, or selects every voxel when path is empty.
func optionalMask(path string, ref *volume.Volume) (*volume.Mask, error) {
	if path == "" {
		return fullMask(ref), nil
	}
	return volume.LoadMask(path, ref)
}

// AllVoxels is the roi label of group and icc maps computed without a mask.
const AllVoxels = "all"

// roiLabel names the mask a group or icc stage applies. A mask image needs
// a label and a label needs an image; with neither the stage uses every
// voxel.
func roiLabel(mask, label string) (string, error) {
	switch {
	case mask == "" && label == "":
		return AllVoxels, nil
	case mask == "":
		return "", stage.Invalid("mask label %q given without a mask image", label)
	case label == "":
		return "", stage.Invalid("mask %s needs a label", mask)
	case label == AllVoxels:
		return "", stage.Invalid("mask label %q is reserved for unmasked maps", label)
	}
	if err := artifact.CheckLabel("roi", label); err != nil {
		return "", stage.Invalid("%v", err)
	}
	return label, nil
}

// checkLabels reports the first value that cannot be used in a file name,
// keyed by entity. Stages call it before naming any output.
func checkLabels(labels map[string][]string) error {
	for _, entity := range slices.Sorted(maps.Keys(labels)) {
		for _, v := range labels[entity] {
			if err := artifact.CheckLabel(entity, v); err != nil {
				return stage.Invalid("%v", err)
			}
		}
	}
	return nil
}
