package rproc

import (
	"context"
	"sync"

	"github.com/qserv/qserv-go/internal/proto"
)

// Queue is the bounded hand-off between C10's file-collect fetchers and the
// merger (spec.md §4.10's "bounded queue ... fetchers block when the queue
// is full"): a buffered channel of fixed depth provides the bound, and a
// fixed pool of worker goroutines drains it into Merger.MergeFrame.
type Queue struct {
	merger  *Merger
	frames  chan queuedFrame
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

type queuedFrame struct {
	ctx    context.Context
	frame  *proto.Frame
	result chan error
}

// NewQueue starts workers goroutines draining a depth-bounded channel into
// merger.
func NewQueue(merger *Merger, depth, workers int) *Queue {
	q := &Queue{
		merger: merger,
		frames: make(chan queuedFrame, depth),
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for qf := range q.frames {
		qf.result <- q.merger.MergeFrame(qf.ctx, qf.frame)
	}
}

// Submit enqueues f, blocking if the queue is already full, and waits for
// that frame to be merged before returning. A fetch handler can therefore
// treat Submit as a synchronous merge call while still getting
// producer/consumer back-pressure against a slow merger.
func (q *Queue) Submit(ctx context.Context, f *proto.Frame) error {
	result := make(chan error, 1)
	select {
	case q.frames <- queuedFrame{ctx: ctx, frame: f, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new frames and waits for in-flight ones to finish.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	q.closeMu.Unlock()
	close(q.frames)
	q.wg.Wait()
}
