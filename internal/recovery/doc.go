// Package recovery repairs batches of MCAP recordings with an external tool.
//
// A batch moves through validating, staging, recovering and archiving:
//
//   - Validating rejects empty requests, traversal attempts and duplicate
//     file names before any workspace exists.
//   - Staging copies every requested file into an isolated job workspace.
//     It is all or nothing: the first failure aborts the job.
//   - Recovering runs `mcap recover <in> -o <out>` once per staged file with
//     a per-file timeout (SIGTERM, 5s grace, SIGKILL). Failures and timeouts
//     are logged and skipped; a missing tool binary stops the batch.
//   - Archiving zips the recovered outputs under recovered_<timestamp>.zip.
//
// The workspace is removed exactly once on every exit path, including panics.
package recovery
