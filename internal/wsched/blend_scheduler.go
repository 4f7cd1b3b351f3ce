package wsched

import (
	"context"
	"sync"
	"time"

	"github.com/qserv/qserv-go/internal/ids"
	"github.com/qserv/qserv-go/pkg/qlog"
)

// BootConfig holds §4.5's tunables: how many completed samples a
// table/chunk needs before its rolling average is trusted to gate a boot
// decision, and the concurrency caps governing when repeated booting
// escalates to whole-query demotion and, eventually, a cancellation flag.
type BootConfig struct {
	RequiredTasksCompleted     int
	MaxConcurrentBootedTasks   int
	MaxTasksBootedPerUserQuery int
}

// BlendScheduler is C5: multiplexes the fast/medium/slow/snail lanes onto a
// single worker thread pool. It assigns each lane its base MaxThreads, then
// hands idle lanes' unused capacity to busier lanes as a MaxReserve grant,
// boots tasks that overrun their chunk's expected share of a lane's time
// budget, and demotes queries that accumulate too many booted tasks to the
// snail lane. Grounded on cuemby-warren/pkg/scheduler's round-based
// rebalancing loop and original_source/core/modules/wsched/BlendScheduler.cc.
type BlendScheduler struct {
	mu     sync.Mutex
	lanes  []*ScanScheduler // ordered fast -> snail, as passed to NewBlendScheduler
	byName map[string]*ScanScheduler

	stats   *completionStats
	bootCfg BootConfig

	tasksBooted map[ids.QueryID]int  // cumulative booted-task count, per live query
	onSnail     map[ids.QueryID]bool // demotion flag, per live query
	onFlag      func(ids.QueryID)    // notified once a snail-lane query exceeds its boot budget

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBlendScheduler constructs a blend over lanes, which must be ordered
// fast, medium, slow, snail. Lane order comes from the slice position
// alone; LaneConfig.Priority is not consulted.
func NewBlendScheduler(lanes []*ScanScheduler, bootCfg BootConfig) *BlendScheduler {
	b := &BlendScheduler{
		lanes:       lanes,
		byName:      make(map[string]*ScanScheduler, len(lanes)),
		stats:       newCompletionStats(),
		bootCfg:     bootCfg,
		tasksBooted: make(map[ids.QueryID]int),
		onSnail:     make(map[ids.QueryID]bool),
		stopCh:      make(chan struct{}),
	}
	for _, l := range lanes {
		b.byName[l.Name()] = l
	}
	return b
}

// Lane returns the named lane scheduler, or nil.
func (b *BlendScheduler) Lane(name string) *ScanScheduler {
	return b.byName[name]
}

// QueueTask routes t to the lane matching its slowest scan rating, clamped
// to the lane whose [MinScanRating, MaxScanRating] window contains it, and
// interactive tasks always go to the fastest lane regardless of rating
// (spec.md §4.4).
func (b *BlendScheduler) QueueTask(t *Task) {
	lane := b.laneFor(t)
	lane.QueueTask(t)
}

// LaneFor exposes laneFor for callers (cmd/qserv-worker's dispatch handle)
// that need to call CommandFinish on the same lane a task was drawn from.
func (b *BlendScheduler) LaneFor(t *Task) *ScanScheduler {
	return b.laneFor(t)
}

func (b *BlendScheduler) laneFor(t *Task) *ScanScheduler {
	if t.Interactive && len(b.lanes) > 0 {
		return b.lanes[0]
	}
	rating := t.SlowestRating()
	for _, l := range b.lanes {
		if rating >= l.cfg.MinScanRating && rating <= l.cfg.MaxScanRating {
			return l
		}
	}
	return b.lanes[len(b.lanes)-1]
}

// SetCancellationFlagger wires the callback invoked once a snail-lane query
// exceeds maxTasksBootedPerUserQuery+1 booted tasks (spec.md §4.5 step 4).
// In production this is qstatus.WorkerSide.FlagForCancellation, surfaced to
// the czar on the worker's next status round.
func (b *BlendScheduler) SetCancellationFlagger(fn func(ids.QueryID)) {
	b.mu.Lock()
	b.onFlag = fn
	b.mu.Unlock()
}

// RecordTaskFinish folds a finished task's run time into the per-(table,
// chunk) completion statistics §4.5's share computation draws from.
// Skipped for booted or cancelled tasks: a booted task's run time includes
// the overrun that got it booted in the first place, and letting that
// poison the rolling average would make future booting harder to trigger
// for the very table/chunk that just proved itself slow.
func (b *BlendScheduler) RecordTaskFinish(t *Task) {
	if t.IsBooted() || t.Cancelled() {
		return
	}
	table := t.SlowestTable()
	if table == (TableRef{}) {
		return
	}
	b.stats.RecordCompletion(table, t.Chunk, t.RunMinutes())
}

// Rebalance recomputes each lane's effective thread budget for the next
// round: idle lanes (those with nothing queued) pool their MaxReserve
// threads, and each lane with queued work, in order from fast to snail,
// receives up to its own MaxReserve from that pool on top of MaxThreads.
// This models the teacher's per-tick scheduler recomputation
// (cuemby-warren/pkg/scheduler.recompute) applied to spec.md's lane reserve
// rule instead of container placement scores.
func (b *BlendScheduler) Rebalance() {
	b.mu.Lock()
	defer b.mu.Unlock()

	donations := 0
	for _, l := range b.lanes {
		if l.QueueSize() == 0 {
			donations += l.cfg.MaxReserve
		}
	}
	for _, l := range b.lanes {
		base := l.cfg.MaxThreads
		if l.QueueSize() > 0 && donations > 0 {
			grant := donations
			if grant > l.cfg.MaxReserve {
				grant = l.cfg.MaxReserve
			}
			base += grant
			donations -= grant
		}
		l.SetEffectiveMaxThreads(base)
	}
}

// MoveUserQueryToSnail relocates every not-yet-dispatched task belonging to
// query q, across all non-snail lanes, onto the snail lane, and marks q as
// demoted so it is not selected for demotion again. Used when a query is
// flagged as monopolizing fast lanes (spec.md §4.4, "queries that overrun
// may be demoted wholesale, not task-by-task").
func (b *BlendScheduler) MoveUserQueryToSnail(q ids.QueryID) int {
	snail := b.lanes[len(b.lanes)-1]
	moved := 0
	for _, l := range b.lanes[:len(b.lanes)-1] {
		for {
			t := l.queue.popFirstMatching(func(t *Task) bool { return t.Query == q })
			if t == nil {
				break
			}
			snail.QueueTask(t)
			moved++
		}
	}
	b.mu.Lock()
	b.onSnail[q] = true
	b.mu.Unlock()
	return moved
}

// Run starts one dispatch goroutine per lane, invoking handle for each task
// GetCmd hands out, and a periodic rebalance/boot-check loop. It returns
// immediately; call Stop to shut down.
func (b *BlendScheduler) Run(ctx context.Context, handle func(*Task), tick time.Duration) {
	for _, l := range b.lanes {
		b.wg.Add(1)
		go b.dispatchLoop(ctx, l, handle)
	}
	b.wg.Add(1)
	go b.tickLoop(ctx, tick)
}

func (b *BlendScheduler) dispatchLoop(ctx context.Context, l *ScanScheduler, handle func(*Task)) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		default:
		}
		t := l.GetCmd(true)
		if t == nil {
			continue
		}
		l.CommandStart(t)
		handle(t)
	}
}

func (b *BlendScheduler) tickLoop(ctx context.Context, tick time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Rebalance()
			b.examineTasks()
			for _, l := range b.lanes {
				l.LogMemManStats()
			}
		}
	}
}

// examineTasks implements §4.5: for every task still running on a lane,
// compute its chunk's expected share of that table's total scan time from
// the rolling completion averages, and boot it once it has run longer than
// that share of the lane's time budget.
func (b *BlendScheduler) examineTasks() {
	for _, l := range b.lanes {
		maxTimeMinutes := l.cfg.MaxTimeMinutes
		if maxTimeMinutes <= 0 {
			continue
		}
		for _, t := range l.RunningTasks() {
			if t.IsBooted() {
				continue
			}
			table := t.SlowestTable()
			percent, valid := b.stats.Share(table, t.Chunk, b.bootCfg.RequiredTasksCompleted)
			if !valid {
				continue
			}
			maxTimeChunk := percent * float64(maxTimeMinutes)
			if t.RunMinutes() <= maxTimeChunk {
				continue
			}
			b.bootTask(l, t, table)
		}
	}
}

// bootTask performs one task's §4.5 boot: mark it BOOTED, free its lane
// slot, record the boot against its table/chunk and owning query, and then
// escalate — demoting the worst-offending live query to the snail lane once
// cumulative booted tasks exceed maxConcurrentBootedTasks, and flagging a
// snail-lane query for czar-side cancellation once it exceeds its own
// per-query boot budget.
func (b *BlendScheduler) bootTask(l *ScanScheduler, t *Task, table TableRef) {
	if !t.Boot() {
		return
	}
	l.ReleaseSlotForBoot(t)
	b.stats.RecordBoot(table, t.Chunk)
	qlog.WithComponent("wsched").Warn().
		Int64("query", int64(t.Query)).
		Str("lane", l.Name()).
		Msg("booted task for exceeding its chunk's share of the lane time budget; it keeps running but no longer occupies a slot")

	isSnailLane := l == b.lanes[len(b.lanes)-1]

	b.mu.Lock()
	b.tasksBooted[t.Query]++
	booted := b.tasksBooted[t.Query]
	onSnail := b.onSnail[t.Query]

	var demoteQuery ids.QueryID
	if !onSnail && !isSnailLane {
		cumulative := 0
		for _, n := range b.tasksBooted {
			cumulative += n
		}
		if cumulative > b.bootCfg.MaxConcurrentBootedTasks {
			best := -1
			for q, n := range b.tasksBooted {
				if b.onSnail[q] {
					continue
				}
				if n > best {
					demoteQuery, best = q, n
				}
			}
		}
	}
	flagCancel := onSnail && booted > b.bootCfg.MaxTasksBootedPerUserQuery+1
	flagger := b.onFlag
	b.mu.Unlock()

	if demoteQuery != 0 {
		b.MoveUserQueryToSnail(demoteQuery)
	}
	if flagCancel && flagger != nil {
		flagger(t.Query)
	}
}

// Stop halts all dispatch and rebalance goroutines and waits for them to
// exit.
func (b *BlendScheduler) Stop() {
	close(b.stopCh)
	for _, l := range b.lanes {
		l.Stop()
	}
	b.wg.Wait()
}
