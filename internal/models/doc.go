// Package models defines persisted entities and the repository contract for upscale history.
//
// [Job] records one upscale session: the input, its parameters, how it ended and where the result was saved.
// A job starts as [JobProcessing] and moves to exactly one of [JobComplete], [JobError] or [JobCanceled].
//
// All persistent entities implement the Model interface providing ID generation, timestamps and validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
