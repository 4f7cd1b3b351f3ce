// Package qdisp implements C10, the czar-side Executive: the per-query
// state machine that turns pending chunk sub-queries into uber-jobs
// (internal/qdisp/assemble), dispatches them to workers, collects their
// result files into internal/rproc, and drives recovery and cancellation.
// Grounded on original_source/src/qdisp/Executive.cc and QueryState.cc for
// the job/uber-job state machines and the recovery/squash algorithms
// spec.md §4.9 describes.
package qdisp
