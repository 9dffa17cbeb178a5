// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The [Model] drives a single image through a [tasks.Controller]:
//   - a header with server health and the current parameters
//   - a spinner and progress bar while processing, with the server's step message and preview indicator
//   - the result summary (sizes, method, saved path) or the error message
//   - an optional history panel listing recent jobs
//
// Session snapshots arrive from [tasks.Controller.Subscribe] and are delivered as messages through the Msg union type.
// Completed results are written with the formatter package as soon as they arrive.
//
// Keys: enter upscale/retry, c cancel, x reset, s cycle scale, m toggle ML, h recheck health, l history, q quit.
package ui
