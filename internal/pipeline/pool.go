package pipeline

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Policy selects how a Pool schedules work.
type Policy int

const (
	// PolicyIO runs every item on a bounded pool; meant for network calls.
	PolicyIO Policy = iota
	// PolicyCPU runs small items on a bounded pool, then items above the
	// large-file threshold one at a time. Meant for local OCR subprocesses.
	PolicyCPU
)

func (p Policy) String() string {
	if p == PolicyCPU {
		return "cpu"
	}
	return "io"
}

const (
	DefaultIOWorkers          = 5
	DefaultCPUWorkers         = 3
	DefaultLargeFileThreshold = 5 << 20
)

// Item is one schedulable unit. Size orders the queue.
type Item struct {
	Key  string
	Size int64
}

// Pool is a bounded-concurrency executor. A Pool holds no per-run state and
// can be reused across stages.
type Pool struct {
	policy         Policy
	workers        int
	largeThreshold int64
}

// NewIOPool returns an I/O-bound pool with n workers.
func NewIOPool(n int) *Pool {
	if n <= 0 {
		n = DefaultIOWorkers
	}
	return &Pool{policy: PolicyIO, workers: n}
}

// NewCPUPool returns a CPU-bound pool with n workers. Items larger than
// largeThreshold bytes run sequentially after all small items finish.
func NewCPUPool(n int, largeThreshold int64) *Pool {
	if n <= 0 {
		n = DefaultCPUWorkers
	}
	if largeThreshold <= 0 {
		largeThreshold = DefaultLargeFileThreshold
	}
	return &Pool{policy: PolicyCPU, workers: n, largeThreshold: largeThreshold}
}

func (p *Pool) Policy() Policy { return p.policy }
func (p *Pool) Workers() int   { return p.workers }

// Run executes fn once per submitted item and blocks until every submitted
// item has finished. Items are submitted in ascending size order. When ctx
// is cancelled no further items are submitted, but in-flight items run to
// completion. Run returns the number of items submitted.
func (p *Pool) Run(ctx context.Context, items []Item, fn func(Item)) int {
	queue := make([]Item, len(items))
	copy(queue, items)
	sort.SliceStable(queue, func(i, j int) bool { return queue[i].Size < queue[j].Size })

	if p.policy != PolicyCPU {
		return p.runBounded(ctx, queue, fn)
	}

	split := sort.Search(len(queue), func(i int) bool { return queue[i].Size > p.largeThreshold })
	small, large := queue[:split], queue[split:]

	submitted := p.runBounded(ctx, small, fn)
	if submitted < len(small) {
		return submitted
	}
	for _, it := range large {
		if ctx.Err() != nil {
			break
		}
		fn(it)
		submitted++
	}
	return submitted
}

func (p *Pool) runBounded(ctx context.Context, queue []Item, fn func(Item)) int {
	var g errgroup.Group
	g.SetLimit(p.workers)

	submitted := 0
	for _, it := range queue {
		if ctx.Err() != nil {
			break
		}
		// Blocks while all workers are busy.
		g.Go(func() error {
			fn(it)
			return nil
		})
		submitted++
	}
	_ = g.Wait()
	return submitted
}
