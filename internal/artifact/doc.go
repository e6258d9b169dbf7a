// Package artifact defines the typed identity of every map the pipeline
// writes.
//
// A file name is the authoritative identifier of an estimate map. Instead of
// formatting names ad hoc in each stage, every stage builds a Key and calls
// Key.Filename; every consumer recovers the Key with Parse. Parse accepts only
// names that Filename would produce, so the round trip is lossless:
//
//	Parse(k.Filename()) == k
//
// Entity order is fixed per level:
//
//	run:   sub-01_ses-1_task-MID_run-01_contrast-C_mask-M_mot-opt1_mod-AntMod_fwhm-4_stat-beta.nii.gz
//	fixed: sub-01_ses-1_task-MID_effect-fixed_contrast-C_mask-M_mot-opt1_mod-AntMod_fwhm-4_stat-effect.nii.gz
//	group: subs-40_ses-1_task-MID_roi-R_contrast-C_mask-M_mot-opt1_mod-AntMod_fwhm-4_stat-tstat.nii.gz
//	icc:   seed-7_subs-40_ses-1_task-MID_type-run_roi-R_contrast-C_mask-M_mot-opt1_mod-AntMod_fwhm-4_stat-est.nii.gz
//
// The mask entity belongs to the permutation the subject maps were fit in;
// roi names the mask a group or icc stage applied on top. Session-level icc
// maps carry the compared pair as one session label, e.g. ses-1vs2.
//
// Label values may not contain '_' (the entity separator) and entity names
// are separated from values by the first '-'.
package artifact
