// Package qc holds the quality-control utilities that sit beside the main
// pipeline: per-session motion and behaviour summaries, overlap between
// binary masks, and threshold masks derived from a statistical map.
package qc
