// Package store is the SQLite ledger of pipeline runs and the artifacts they
// write.
//
// Tables:
//   - runs: one row per stage invocation, keyed by a UUIDv7 run id
//   - artifacts: every estimate map written, with its full key and content hash
//   - efficiency: design efficiency per run, contrast and permutation
//   - subsamples: realized samples of the ICC subsampling stage
//   - uploads: maps registered with the external catalog
//
// Rows carry a seq from the ledger's logical clock. Listings are ordered by
// seq, then id, so two ledgers built from the same inputs list identically.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
