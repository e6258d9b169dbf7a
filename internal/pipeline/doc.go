// Package pipeline runs the analysis stages over files on disk: first-level
// fits across the permutation grid, fixed effects across runs, one-sample
// group maps and ICC reliability maps with optional subsampling.
//
// Stages are plain functions taking a context, an Env and a stage config.
// Every map a stage writes is named by its artifact.Key and, when the Env
// carries a ledger, recorded there with its content hash under the stage's
// run id.
//
// A failing unit of work (one permutation of one run, one fixed-effects
// group) aborts the stage unless KeepGoing is set, in which case the
// remaining units run and the failures are returned joined.
package pipeline
