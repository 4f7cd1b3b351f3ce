// Package qerr defines the error taxonomy of the error-handling design
// (spec.md §7): every error the czar or worker surfaces belongs to one of a
// small number of classes, so recovery logic can branch with errors.Is /
// errors.As instead of string matching.
package qerr

import (
	"errors"
	"fmt"
)

// Class distinguishes how an error should be handled upstream.
type Class int

const (
	// ClassTransient covers socket resets, timeouts, 5xx responses:
	// bounded-retry, then surface.
	ClassTransient Class = iota
	// ClassWorkerLocal covers MariaDB syntax errors, missing tables,
	// duplicate keys: reported as queryjob-error, reassignment decided
	// per error.
	ClassWorkerLocal
	// ClassFraming covers result-file framing/merge corruption: fatal for
	// the uber-job, file discarded, job reassigned up to maxAttempts.
	ClassFraming
	// ClassMemory covers memory-reservation exhaustion: non-fatal, the
	// scheduler retries.
	ClassMemory
	// ClassCancelled covers user cancellation or LIMIT-complete squash:
	// propagated downward, never reported as an error.
	ClassCancelled
	// ClassRestart covers czar or worker restart detection.
	ClassRestart
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassWorkerLocal:
		return "worker-local"
	case ClassFraming:
		return "framing"
	case ClassMemory:
		return "memory"
	case ClassCancelled:
		return "cancelled"
	case ClassRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Class and, for worker-local
// execution errors, whether the failing job is safe to reassign to another
// worker.
type Error struct {
	Class      Class
	Reassign   bool
	Code       string
	underlying error
}

func (e *Error) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s[%s]: %v", e.Class, e.Code, e.underlying)
	}
	return fmt.Sprintf("%s[%s]", e.Class, e.Code)
}

func (e *Error) Unwrap() error { return e.underlying }

// New builds a classified error.
func New(class Class, code string, reassign bool, cause error) *Error {
	return &Error{Class: class, Code: code, Reassign: reassign, underlying: cause}
}

// Sentinels for the most common, identity-checked cases.
var (
	// ErrMemoryExhausted is returned by the memory manager when a
	// REQUIRED reservation cannot be granted.
	ErrMemoryExhausted = New(ClassMemory, "memman_exhausted", false, errors.New("memory reservation exhausted"))
	// ErrMissingTable is a worker-local execution error for a chunk table
	// absent from the worker (decision: always reassignable, see
	// SPEC_FULL.md §5.2).
	ErrMissingTable = New(ClassWorkerLocal, "missing_table", true, errors.New("missing table"))
	// ErrSyntax is a worker-local execution error that is not reassignable.
	ErrSyntax = New(ClassWorkerLocal, "sql_syntax", false, errors.New("sql syntax error"))
	// ErrFrameHashMismatch is a fatal framing error for the uber-job
	// carrying the offending frame.
	ErrFrameHashMismatch = New(ClassFraming, "frame_hash_mismatch", true, errors.New("result frame content hash mismatch"))
	// ErrRowTooLarge fails a single task when one row exceeds the frame
	// byte limit (Open Question #1, SPEC_FULL.md §5.1): not reassignable,
	// retrying elsewhere would hit the same row.
	ErrRowTooLarge = New(ClassWorkerLocal, "row_too_large", false, errors.New("row exceeds frame size limit"))
	// ErrCancelled marks a task or query cancelled by the user or by a
	// LIMIT-complete squash.
	ErrCancelled = New(ClassCancelled, "cancelled", false, errors.New("cancelled"))
	// ErrChunkUnavailable is returned by the chunk map when a chunk has
	// no candidate workers.
	ErrChunkUnavailable = New(ClassWorkerLocal, "chunk_unavailable", false, errors.New("chunk unavailable"))
	// ErrWorkerRestarted signals the worker-side epoch changed.
	ErrWorkerRestarted = New(ClassRestart, "worker_restarted", true, errors.New("worker restarted"))
	// ErrCzarRestarted signals the czar-side epoch changed.
	ErrCzarRestarted = New(ClassRestart, "czar_restarted", true, errors.New("czar restarted"))
)

// Is implements the errors.Is protocol by comparing Class+Code, so a
// freshly-wrapped error compares equal to its sentinel even when it carries
// a distinct underlying cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Reassignable reports whether err, if it wraps a qerr.Error, permits
// reassigning the owning job to another worker.
func Reassignable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Reassign
	}
	return false
}

// ClassOf extracts the Class of err, defaulting to ClassTransient for plain
// errors that never went through New.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassTransient
}
