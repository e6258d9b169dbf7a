package pipeline

import (
	"context"
	"fmt"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/icc"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/volume"
)

// ICCMode is the reliability axis.
type ICCMode string

const (
	// ICCRun compares run-01 and run-02 beta maps within a session.
	ICCRun ICCMode = "run"
	// ICCSession compares fixed-effects maps of two sessions.
	ICCSession ICCMode = "session"
)

// ParseICCMode validates a mode name.
func ParseICCMode(s string) (ICCMode, error) {
	switch m := ICCMode(s); m {
	case ICCRun, ICCSession:
		return m, nil
	}
	return "", stage.Invalid("icc type must be run or session, got %q", s)
}

// ICCConfig configures a voxelwise ICC(3,1) between two measurement sets.
// Set1[i] and Set2[i] are the same subject.
type ICCConfig struct {
	Mode   ICCMode  `json:"mode"`
	Set1   []string `json:"set1"`
	Set2   []string `json:"set2"`
	Mask   string   `json:"mask,omitempty"`
	// MaskLabel names Mask in the output file names.
	MaskLabel string `json:"mask_label,omitempty"`
	OutDir    string `json:"out_dir"`
}

// strip removes the entity that distinguishes the two measurements.
func (m ICCMode) strip(k artifact.Key) artifact.Key {
	if m == ICCRun {
		return k.WithoutRun()
	}
	return k.WithoutSession()
}

// measure is the entity that distinguishes the two measurements.
func (m ICCMode) measure(k artifact.Key) string {
	if m == ICCRun {
		return k.Run
	}
	return k.Session
}

func (m ICCMode) level() artifact.Level {
	if m == ICCRun {
		return artifact.LevelRun
	}
	return artifact.LevelFixed
}

// PairSets checks two measurement sets by name only: both non-empty, equal
// length, and pairwise identical apart from the run (run mode) or session
// (session mode). All pairs must share one contrast and permutation, each
// set must be a single run (or session), and no subject may appear twice.
func PairSets(mode ICCMode, set1, set2 []string) ([]artifact.Key, []artifact.Key, error) {
	if _, err := ParseICCMode(string(mode)); err != nil {
		return nil, nil, err
	}
	if len(set1) == 0 || len(set2) == 0 {
		return nil, nil, stage.Mismatch("length of set1 [%d] and/or set2 [%d] is zero", len(set1), len(set2))
	}
	if len(set1) != len(set2) {
		return nil, nil, stage.Mismatch("lengths of set1 [%d] and set2 [%d] are not equal", len(set1), len(set2))
	}

	parse := func(paths []string) ([]artifact.Key, error) {
		keys := make([]artifact.Key, len(paths))
		for i, p := range paths {
			k, err := artifact.Parse(p)
			if err != nil {
				return nil, stage.Invalid("%v", err)
			}
			if k.Level != mode.level() {
				return nil, stage.Invalid("%s icc needs %s-level maps, got %s", mode, mode.level(), k.Filename())
			}
			keys[i] = k
		}
		return keys, nil
	}
	a, err := parse(set1)
	if err != nil {
		return nil, nil, err
	}
	b, err := parse(set2)
	if err != nil {
		return nil, nil, err
	}

	ref := mode.strip(a[0])
	ref.Subject = ""
	seen := make(map[string]bool, len(a))
	for i := range a {
		if !mode.strip(a[i]).Equal(mode.strip(b[i])) {
			return nil, nil, stage.Mismatch("pair %d: %s does not match %s", i, a[i].Filename(), b[i].Filename())
		}
		if mode.measure(a[i]) == mode.measure(b[i]) {
			return nil, nil, stage.Mismatch("pair %d: both maps are %s %s", i, mode, mode.measure(a[i]))
		}
		if mode.measure(a[i]) != mode.measure(a[0]) || mode.measure(b[i]) != mode.measure(b[0]) {
			return nil, nil, stage.Mismatch("pair %d: sets mix %ss (%s vs %s)", i, mode, mode.measure(a[i]), mode.measure(b[i]))
		}
		o := mode.strip(a[i])
		o.Subject = ""
		if !o.Equal(ref) {
			return nil, nil, stage.Mismatch("pair %d: %s does not match %s", i, a[i].Filename(), a[0].Filename())
		}
		if seen[a[i].Subject] {
			return nil, nil, stage.Mismatch("subject %s appears twice", a[i].Subject)
		}
		seen[a[i].Subject] = true
	}
	return a, b, nil
}

// iccKey is the output key of an ICC over n subjects whose first and second
// measurements are named like a and b. Session mode names the compared
// pair, e.g. ses-1vs2.
func iccKey(mode ICCMode, a, b artifact.Key, roi string, n int, seed *int64) artifact.Key {
	k := artifact.Key{
		Level:       artifact.LevelICC,
		Subs:        n,
		Seed:        seed,
		Session:     a.Session,
		Task:        a.Task,
		Type:        string(mode),
		ROI:         roi,
		Contrast:    a.Contrast,
		Permutation: a.Permutation,
	}
	if mode == ICCSession {
		k.Session = a.Session + "vs" + b.Session
	}
	return k
}

// iccData is two measurement sets gathered to the mask.
type iccData struct {
	ref  *volume.Volume
	mask *volume.Mask
	set1 [][]float64
	set2 [][]float64
}

func loadICC(cfg ICCConfig) (*iccData, error) {
	a, err := readMaps(cfg.Set1)
	if err != nil {
		return nil, err
	}
	b, err := readMaps(cfg.Set2)
	if err != nil {
		return nil, err
	}
	if err := a[0].CheckGrid(b[0], "set2"); err != nil {
		return nil, err
	}
	mask, err := optionalMask(cfg.Mask, a[0])
	if err != nil {
		return nil, err
	}
	return &iccData{ref: a[0], mask: mask, set1: gatherMaps(a, mask), set2: gatherMaps(b, mask)}, nil
}

func (r *runScope) writeICC(ctx context.Context, dir string, key artifact.Key, d *iccData, res *icc.Result) error {
	for _, o := range []struct {
		stat artifact.Stat
		vals []float64
	}{
		{artifact.StatEst, res.Est},
		{artifact.StatMSBtwn, res.MSBtwn},
		{artifact.StatMSWthn, res.MSWthn},
		{artifact.StatLower, res.Lower},
		{artifact.StatUpper, res.Upper},
	} {
		if _, err := r.writeMap(ctx, dir, key.WithStat(o.stat), scatter(d.ref, d.mask, o.vals)); err != nil {
			return err
		}
	}
	return nil
}

// ICC computes voxelwise ICC(3,1) maps. The sets are validated before any
// image is read.
func ICC(ctx context.Context, env Env, cfg ICCConfig) (*Report, error) {
	keys, second, err := PairSets(cfg.Mode, cfg.Set1, cfg.Set2)
	if err != nil {
		return nil, err
	}
	roi, err := roiLabel(cfg.Mask, cfg.MaskLabel)
	if err != nil {
		return nil, err
	}
	ctx = ctxlog.With(ctx, "type", string(cfg.Mode), "contrast", keys[0].Contrast, "perm", keys[0].Permutation.Tag())
	ctx, rs, err := env.begin(ctx, "icc", cfg)
	if err != nil {
		return nil, err
	}

	d, err := loadICC(cfg)
	if err != nil {
		return rs.finish(ctx, err)
	}
	ctxlog.FromContext(ctx).Info("running ICC(3,1)", "subjects", len(d.set1), "voxels", d.mask.Len())
	res, err := icc.Compute(d.set1, d.set2)
	if err != nil {
		return rs.finish(ctx, err)
	}
	key := iccKey(cfg.Mode, keys[0], second[0], roi, len(keys), nil)
	return rs.finish(ctx, rs.writeICC(ctx, cfg.OutDir, key, d, res))
}

// SubsampleConfig configures ICC over subject samples drawn with
// replacement at increasing sizes.
type SubsampleConfig struct {
	ICCConfig
	MinN int   `json:"min_n"`
	MaxN int   `json:"max_n"`
	Step int   `json:"step"`
	Seed int64 `json:"seed"`
}

// Subsample computes ICC maps for each sample size. One seeded stream
// drives every draw, so the whole series is reproducible from the seed.
func Subsample(ctx context.Context, env Env, cfg SubsampleConfig) (*Report, error) {
	keys, second, err := PairSets(cfg.Mode, cfg.Set1, cfg.Set2)
	if err != nil {
		return nil, err
	}
	roi, err := roiLabel(cfg.Mask, cfg.MaskLabel)
	if err != nil {
		return nil, err
	}
	step := cfg.Step
	if step == 0 {
		step = icc.DefaultStep
	}
	sizes, err := icc.Sizes(cfg.MinN, cfg.MaxN, step)
	if err != nil {
		return nil, err
	}
	ctx = ctxlog.With(ctx, "type", string(cfg.Mode), "seed", cfg.Seed, "contrast", keys[0].Contrast, "perm", keys[0].Permutation.Tag())
	ctx, rs, err := env.begin(ctx, "subsample", cfg)
	if err != nil {
		return nil, err
	}

	d, err := loadICC(cfg.ICCConfig)
	if err != nil {
		return rs.finish(ctx, err)
	}
	subjects := make([]string, len(keys))
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		subjects[i] = k.Subject
		index[k.Subject] = i
	}

	log := ctxlog.FromContext(ctx)
	sampler := icc.NewSampler(cfg.Seed)
	seed := cfg.Seed
	for _, n := range sizes {
		if err := ctx.Err(); err != nil {
			return rs.finish(ctx, err)
		}
		drawn, unique, err := sampler.Draw(subjects, n)
		if err != nil {
			return rs.finish(ctx, err)
		}
		log.Info("drew subsample", "requested", n, "unique", unique)

		set1 := make([][]float64, n)
		set2 := make([][]float64, n)
		for i, s := range drawn {
			set1[i], set2[i] = d.set1[index[s]], d.set2[index[s]]
		}
		res, err := icc.Compute(set1, set2)
		if err != nil {
			return rs.finish(ctx, fmt.Errorf("subsample n=%d: %w", n, err))
		}
		if err := rs.writeICC(ctx, cfg.OutDir, iccKey(cfg.Mode, keys[0], second[0], roi, n, &seed), d, res); err != nil {
			return rs.finish(ctx, err)
		}
		if env.Ledger != nil {
			if err := env.Ledger.RecordSubsample(ctx, rs.id, cfg.Seed, n, unique, drawn); err != nil {
				return rs.finish(ctx, err)
			}
		}
	}
	return rs.finish(ctx, nil)
}
