package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/midrel/internal/artifact"
	"github.com/roach88/midrel/internal/ctxlog"
	"github.com/roach88/midrel/internal/group"
	"github.com/roach88/midrel/internal/stage"
	"github.com/roach88/midrel/internal/volume"
)

// GroupConfig configures a one-sample group model over subject maps that
// share one contrast and permutation.
type GroupConfig struct {
	Inputs []string `json:"inputs"`
	// Mask restricts the fit; empty fits every voxel.
	Mask string `json:"mask,omitempty"`
	// MaskLabel names Mask in the output file names.
	MaskLabel     string `json:"mask_label,omitempty"`
	SaveResiduals bool   `json:"save_residuals"`
	OutDir        string `json:"out_dir"`
}

// Group fits the intercept-only model and writes tstat, cohensd, zstat and
// effect maps, plus the residual stack when requested.
func Group(ctx context.Context, env Env, cfg GroupConfig) (*Report, error) {
	roi, err := roiLabel(cfg.Mask, cfg.MaskLabel)
	if err != nil {
		return nil, err
	}
	inputs := append([]string(nil), cfg.Inputs...)
	sort.Strings(inputs)
	keys := make([]artifact.Key, len(inputs))
	for i, p := range inputs {
		k, err := artifact.Parse(p)
		if err != nil {
			return nil, stage.Invalid("%v", err)
		}
		keys[i] = k
	}
	if err := group.CheckMaps(keys); err != nil {
		return nil, err
	}

	ref := keys[0]
	ctx = ctxlog.With(ctx, "contrast", ref.Contrast, "perm", ref.Permutation.Tag(), "subjects", len(keys))
	ctx, rs, err := env.begin(ctx, "group", cfg)
	if err != nil {
		return nil, err
	}

	maps, err := readMaps(inputs)
	if err != nil {
		return rs.finish(ctx, err)
	}
	mask, err := optionalMask(cfg.Mask, maps[0])
	if err != nil {
		return rs.finish(ctx, err)
	}
	res, err := group.OneSample(gatherMaps(maps, mask), cfg.SaveResiduals)
	if err != nil {
		return rs.finish(ctx, err)
	}

	key := artifact.Key{
		Level:       artifact.LevelGroup,
		Subs:        res.N,
		Session:     ref.Session,
		Task:        ref.Task,
		ROI:         roi,
		Contrast:    ref.Contrast,
		Permutation: ref.Permutation,
	}
	for _, o := range []struct {
		stat artifact.Stat
		vals []float64
	}{
		{artifact.StatTStat, res.T},
		{artifact.StatCohensD, res.CohensD},
		{artifact.StatZStat, res.Z},
		{artifact.StatEffect, res.Effect},
	} {
		if _, err := rs.writeMap(ctx, cfg.OutDir, key.WithStat(o.stat), scatter(maps[0], mask, o.vals)); err != nil {
			return rs.finish(ctx, err)
		}
	}

	if cfg.SaveResiduals {
		frames := make([]*volume.Volume, len(res.Residuals))
		for i, r := range res.Residuals {
			frames[i] = scatter(maps[0], mask, r)
		}
		stack, err := volume.Stack(frames)
		if err != nil {
			return rs.finish(ctx, fmt.Errorf("residual stack: %w", err))
		}
		if _, err := rs.writeMap(ctx, cfg.OutDir, key.WithStat(artifact.StatResid), stack); err != nil {
			return rs.finish(ctx, err)
		}
	}
	return rs.finish(ctx, nil)
}
