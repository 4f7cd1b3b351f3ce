package wsched

import (
	"sync"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/internal/memman"
)

// chunkEntry is the per-chunk FIFO of not-yet-dispatched tasks.
type chunkEntry struct {
	chunk ids.ChunkID
	tasks []*Task
}

// Queue is C3: tasks ordered by chunk, then FIFO within a chunk. At most
// one chunk is "active" (its tables prepared/locked via memMgr) at a time;
// tasks are only handed out from the active chunk. Grounded on
// original_source/core/modules/wsched/ChunkTasksQueue — the "ready" /
// active-chunk-pinning contract — with the mutex-guarded bookkeeping style
// of cuemby-warren/pkg/scheduler.
type Queue struct {
	mu         sync.Mutex
	pending    []*chunkEntry          // FIFO of chunks awaiting activation
	byChunk    map[ids.ChunkID]*chunkEntry
	active     *chunkEntry
	activeH    memman.Handle
	handoff    memman.Handle // chunk handle awaiting caller-side Unlock
	memMgr     *memman.Manager
	tablesFunc func(chunk ids.ChunkID, tasks []*Task) []memman.TableRef
}

// NewQueue builds an empty queue backed by memMgr. tablesFunc computes the
// union of memman.TableRef entries a chunk's pending tasks require; it is
// called once per chunk activation.
func NewQueue(memMgr *memman.Manager, tablesFunc func(ids.ChunkID, []*Task) []memman.TableRef) *Queue {
	return &Queue{
		byChunk:    make(map[ids.ChunkID]*chunkEntry),
		memMgr:     memMgr,
		tablesFunc: tablesFunc,
	}
}

// QueueTask appends t to its chunk's FIFO, creating the chunk entry (at the
// back of the pending list) if this is its first task.
func (q *Queue) QueueTask(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byChunk[t.Chunk]
	if !ok {
		e = &chunkEntry{chunk: t.Chunk}
		q.byChunk[t.Chunk] = e
		if q.active == nil || q.active.chunk != t.Chunk {
			q.pending = append(q.pending, e)
		}
	}
	t.setState(Queued)
	e.tasks = append(e.tasks, t)
}

// Ready reports whether a task can currently be dispatched: either a chunk
// is already active and has pending tasks, or the next pending chunk's
// tables can be prepared and locked. useFlexibleLock is forwarded to
// memMgr.Lock — pass true to accept a partial (FLEXIBLE-trimmed) lock.
func (q *Queue) Ready(useFlexibleLock bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked(useFlexibleLock)
}

func (q *Queue) readyLocked(useFlexibleLock bool) bool {
	if q.active != nil {
		return len(q.active.tasks) > 0
	}
	if len(q.pending) == 0 {
		return false
	}
	next := q.pending[0]
	tables := q.tablesFunc(next.chunk, next.tasks)
	h, err := q.memMgr.Prepare(next.chunk, tables)
	if err != nil {
		// Can't fit right now; leave it at the front and let the caller
		// retry once other chunks' memory frees up.
		return false
	}
	res, err := q.memMgr.Lock(h, useFlexibleLock)
	if err != nil || res == memman.LockFailed {
		q.memMgr.Unlock(h)
		return false
	}
	if res == memman.LockPartial && !useFlexibleLock {
		q.memMgr.Unlock(h)
		return false
	}
	q.pending = q.pending[1:]
	q.active = next
	q.activeH = h
	return len(q.active.tasks) > 0
}

// NextTaskDifferentChunkId reports whether the task Ready/GetTask would
// next hand out belongs to a different chunk than the currently active
// one. It is false whenever the active chunk still has queued tasks
// (spec.md §8 invariant 2).
func (q *Queue) NextTaskDifferentChunkId() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil && len(q.active.tasks) > 0 {
		return false
	}
	return len(q.pending) > 0 || q.active == nil
}

// GetTask pops and returns the next task from the active chunk, preparing
// and locking a new chunk first if none is active. Returns nil if nothing
// is currently dispatchable.
func (q *Queue) GetTask(useFlexibleLock bool) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.readyLocked(useFlexibleLock) {
		return nil
	}
	t := q.active.tasks[0]
	q.active.tasks = q.active.tasks[1:]
	t.SetMemHandle(q.activeH)
	if len(q.active.tasks) == 0 {
		delete(q.byChunk, q.active.chunk)
		// Hand the chunk's memory handle to the enclosing scheduler rather
		// than unlocking here: the scheduler defers the actual Unlock for
		// one more round so a chunk switch doesn't thrash recently-hot
		// pages (spec.md §4.3). A handoff the caller never took is
		// released here so it is not lost.
		if q.handoff != 0 {
			q.memMgr.Unlock(q.handoff)
		}
		q.handoff = q.activeH
		q.active = nil
		q.activeH = 0
	}
	return t
}

// TakeHandoff returns and clears a pending chunk-exhaustion handle, or 0 if
// none is pending. Called by the enclosing ScanScheduler.
func (q *Queue) TakeHandoff() memman.Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.handoff
	q.handoff = 0
	return h
}

// RemoveTask removes t from whichever chunk FIFO holds it (active or
// pending), returning true if found. Used to retract a task before
// dispatch — e.g. on cancellation or booting.
func (q *Queue) RemoveTask(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil {
		for i, qt := range q.active.tasks {
			if qt == t {
				q.active.tasks = append(q.active.tasks[:i], q.active.tasks[i+1:]...)
				return true
			}
		}
	}
	if e, ok := q.byChunk[t.Chunk]; ok {
		for i, qt := range e.tasks {
			if qt == t {
				e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
				if len(e.tasks) == 0 && e != q.active {
					delete(q.byChunk, t.Chunk)
					for i, p := range q.pending {
						if p == e {
							q.pending = append(q.pending[:i], q.pending[i+1:]...)
							break
						}
					}
				}
				return true
			}
		}
	}
	return false
}

// popFirstMatching removes and returns the first not-yet-dispatched task
// (active chunk included) for which match returns true, or nil.
func (q *Queue) popFirstMatching(match func(*Task) bool) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil {
		for i, t := range q.active.tasks {
			if match(t) {
				q.active.tasks = append(q.active.tasks[:i], q.active.tasks[i+1:]...)
				return t
			}
		}
	}
	for _, e := range q.pending {
		for i, t := range e.tasks {
			if match(t) {
				e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
				return t
			}
		}
	}
	return nil
}

// GetSize returns the total number of tasks still queued (active chunk
// included, dispatched tasks excluded).
func (q *Queue) GetSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	if q.active != nil {
		n += len(q.active.tasks)
	}
	for _, e := range q.pending {
		n += len(e.tasks)
	}
	return n
}

// Empty reports whether the queue holds no tasks at all, active or
// pending.
func (q *Queue) Empty() bool {
	return q.GetSize() == 0
}
