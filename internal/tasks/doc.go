// Package tasks runs upscale sessions against the backend with real-time progress reporting.
//
// # Session Controller
//
// [Controller] owns a single [Session] and at most one request in flight:
//
//  1. [Controller.Upscale] : supersedes any active request and streams a new one
//  2. [Controller.Cancel] : aborts the active request and returns to idle
//  3. [Controller.Reset] : cancels and clears the error and result
//  4. [Controller.CheckHealth] : queries server health, nil on any failure
//
// States move idle → processing → complete | error, and back to idle on cancel or reset.
// The transition functions [Apply], [Fail], [Idle] and [Cleared] are pure and return the next [Session].
//
// Each request runs in its own goroutine with a context cancelled with [ErrCanceled] or [ErrSuperseded].
// After every read the goroutine checks it still holds the active handle; updates from a stale request are dropped,
// and failures observed after cancellation end in idle rather than error.
//
// # Subscribers
//
// [Controller.Subscribe] delivers session snapshots over a buffered channel. Slow subscribers lose
// intermediate snapshots but always receive the latest.
//
// # Batch
//
// [BatchUpscale] upscales many files with a worker pool, one Controller per worker, paced by a rate limiter.
// Progress is reported through non-blocking [ProgressUpdate] sends, and a manifest.json summarizes the run.
//
// # History
//
// The optional [Recorder] receives session start and finish, and [OutputRecorder] the saved result path.
// repositories.JobRecorder implements both on top of sqlite.
package tasks
