package pipeline

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/fixedfx"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/volume"
)

// SaveStats selects the fixed-effects maps to write.
type SaveStats struct {
	Effect bool `json:"effect"`
	Var    bool `json:"var"`
	TStat  bool `json:"tstat"`
}

// FixedFXConfig configures the fixed-effects stage for one subject and
// session.
type FixedFXConfig struct {
	Subject string `json:"subject"`
	Session string `json:"session"`
	Task    string `json:"task"`
	// Runs is the run set every contrast and permutation must have, in
	// order. Empty accepts any two or more runs.
	Runs []string `json:"runs,omitempty"`
	// Contrasts limits the contrasts combined; empty means all found.
	Contrasts         []string  `json:"contrasts,omitempty"`
	PrecisionWeighted bool      `json:"precision_weighted"`
	Save              SaveStats `json:"save"`
	InDir             string    `json:"in_dir"`
	OutDir            string    `json:"out_dir"`
	KeepGoing         bool      `json:"keep_going"`
}

// RunGroup is the beta and var maps of one contrast and permutation across
// runs, sorted by run.
type RunGroup struct {
	Key       artifact.Key
	Betas     []artifact.Key
	Variances []artifact.Key
}

// DiscoverRuns groups the run-level beta and var maps in dir by everything
// but the run. Files that are not artifact maps are ignored.
func DiscoverRuns(dir, subject, session, task string, contrasts []string) ([]*RunGroup, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, stage.MissingInput(dir, "first-level directory not found")
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	want := make(map[string]bool, len(contrasts))
	for _, c := range contrasts {
		want[c] = true
	}

	groups := make(map[artifact.Key]*RunGroup)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		k, err := artifact.Parse(e.Name())
		if err != nil {
			continue
		}
		if k.Level != artifact.LevelRun || k.Subject != subject || k.Session != session || k.Task != task {
			continue
		}
		if len(want) > 0 && !want[k.Contrast] {
			continue
		}
		id := k.WithoutRun().WithStat(artifact.StatBeta)
		g := groups[id]
		if g == nil {
			g = &RunGroup{Key: id}
			groups[id] = g
		}
		switch k.Stat {
		case artifact.StatBeta:
			g.Betas = append(g.Betas, k)
		case artifact.StatVar:
			g.Variances = append(g.Variances, k)
		}
	}

	out := make([]*RunGroup, 0, len(groups))
	for _, g := range groups {
		byRun := func(keys []artifact.Key) func(i, j int) bool {
			return func(i, j int) bool { return keys[i].Run < keys[j].Run }
		}
		sort.Slice(g.Betas, byRun(g.Betas))
		sort.Slice(g.Variances, byRun(g.Variances))
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Contrast != b.Contrast {
			return a.Contrast < b.Contrast
		}
		return a.Permutation.Tag() < b.Permutation.Tag()
	})
	return out, nil
}

// FixedFX combines each subject's run maps into fixed-effects maps.
func FixedFX(ctx context.Context, env Env, cfg FixedFXConfig) (*Report, error) {
	if cfg.Subject == "" || cfg.Session == "" || cfg.Task == "" {
		return nil, stage.Invalid("subject, session and task are required")
	}
	if err := checkLabels(map[string][]string{
		"sub": {cfg.Subject}, "ses": {cfg.Session}, "task": {cfg.Task}, "run": cfg.Runs,
	}); err != nil {
		return nil, err
	}
	if !cfg.Save.Effect && !cfg.Save.Var && !cfg.Save.TStat {
		return nil, stage.Invalid("no fixed-effects output selected")
	}
	ctx = ctxlog.With(ctx, "subject", cfg.Subject, "session", cfg.Session)
	ctx, rs, err := env.begin(ctx, "fixedfx", cfg)
	if err != nil {
		return nil, err
	}

	groups, err := DiscoverRuns(cfg.InDir, cfg.Subject, cfg.Session, cfg.Task, cfg.Contrasts)
	if err != nil {
		return rs.finish(ctx, err)
	}
	if len(groups) == 0 {
		return rs.finish(ctx, stage.MissingInput(cfg.InDir, "no run maps for sub-%s ses-%s task-%s", cfg.Subject, cfg.Session, cfg.Task))
	}

	fails := &failures{keepGoing: cfg.KeepGoing, report: rs.report}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return rs.finish(ctx, err)
		}
		gctx := ctxlog.With(ctx, "contrast", g.Key.Contrast, "perm", g.Key.Permutation.Tag())
		err := combineGroup(gctx, rs, cfg, g)
		if err != nil {
			err = fmt.Errorf("contrast %s %s: %w", g.Key.Contrast, g.Key.Permutation.Tag(), err)
		}
		if err := fails.add(ctxlog.FromContext(gctx), err); err != nil {
			return rs.finish(ctx, err)
		}
	}
	return rs.finish(ctx, fails.err())
}

func combineGroup(ctx context.Context, rs *runScope, cfg FixedFXConfig, g *RunGroup) error {
	if err := fixedfx.MatchRuns(cfg.Runs, g.Betas, g.Variances); err != nil {
		return err
	}
	paths := func(keys []artifact.Key) []string {
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = k.Path(cfg.InDir)
		}
		return out
	}
	betas, err := readMaps(paths(g.Betas))
	if err != nil {
		return err
	}
	variances, err := readMaps(paths(g.Variances))
	if err != nil {
		return err
	}
	if err := betas[0].CheckGrid(variances[0], "variance map"); err != nil {
		return err
	}

	effects := make([][]float64, len(betas))
	vars := make([][]float64, len(variances))
	for i := range betas {
		effects[i], vars[i] = betas[i].Data, variances[i].Data
	}
	est, err := fixedfx.Combine(effects, vars, cfg.PrecisionWeighted)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("combined runs", "runs", len(betas))

	key := g.Key
	key.Level = artifact.LevelFixed
	ref := betas[0]
	out := []struct {
		save bool
		stat artifact.Stat
		vals []float64
	}{
		{cfg.Save.Effect, artifact.StatEffect, est.Effect},
		{cfg.Save.Var, artifact.StatVar, est.Variance},
		{cfg.Save.TStat, artifact.StatTStat, est.T},
	}
	for _, o := range out {
		if !o.save {
			continue
		}
		v := volume.Like(ref, 1)
		copy(v.Data, o.vals)
		if _, err := rs.writeMap(ctx, cfg.OutDir, key.WithStat(o.stat), v); err != nil {
			return err
		}
	}
	return nil
}
