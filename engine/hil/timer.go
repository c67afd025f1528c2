package hil

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/flowforge/engine/pkg/logger"
)

// Deadline is one scheduled firing: a HIL timeout or a FLOW wait.
type Deadline struct {
	ExecutionID string
	NodeID      string
	At          time.Time
	Fire        func(ctx context.Context)

	index    int
	canceled bool
}

type deadlineHeap []*Deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].At.Before(h[j].At) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x any)         { d := x.(*Deadline); d.index = len(*h); *h = append(*h, d) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}

// TimerService keeps pending deadlines in a min-heap. Production runs a
// sweep goroutine; tests call Tick with an injected clock, so firing order
// is fully deterministic.
type TimerService struct {
	mu      sync.Mutex
	pending deadlineHeap
	keys    map[string]*Deadline

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTimerService returns an idle service; call Start for the background
// sweep or drive it with Tick.
func NewTimerService() *TimerService {
	return &TimerService{keys: make(map[string]*Deadline), stopCh: make(chan struct{})}
}

func deadlineKey(executionID, nodeID string) string {
	return executionID + "/" + nodeID
}

// Schedule registers a deadline, replacing any pending one for the same
// (execution, node) pair.
func (t *TimerService) Schedule(d *Deadline) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := deadlineKey(d.ExecutionID, d.NodeID)
	if prev, ok := t.keys[key]; ok {
		prev.canceled = true
	}
	t.keys[key] = d
	heap.Push(&t.pending, d)
}

// Cancel drops the pending deadline for the pair, reporting whether one was
// pending.
func (t *TimerService) Cancel(executionID, nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := deadlineKey(executionID, nodeID)
	d, ok := t.keys[key]
	if !ok || d.canceled {
		return false
	}
	d.canceled = true
	delete(t.keys, key)
	return true
}

// Tick fires every deadline due at or before now, in deadline order.
// It returns how many fired.
func (t *TimerService) Tick(ctx context.Context, now time.Time) int {
	fired := 0
	for {
		t.mu.Lock()
		if len(t.pending) == 0 || t.pending[0].At.After(now) {
			t.mu.Unlock()
			return fired
		}
		d := heap.Pop(&t.pending).(*Deadline)
		if !d.canceled {
			delete(t.keys, deadlineKey(d.ExecutionID, d.NodeID))
		}
		t.mu.Unlock()
		if d.canceled {
			continue
		}
		fired++
		d.Fire(ctx)
	}
}

// Start launches the background sweep at the given resolution.
func (t *TimerService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		log := logger.FromContext(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := t.Tick(ctx, now); n > 0 {
					log.Debug("Fired timer deadlines", "count", n)
				}
			}
		}
	}()
}

// Stop halts the background sweep.
func (t *TimerService) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// PendingCount returns how many live deadlines are scheduled.
func (t *TimerService) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.keys {
		if !d.canceled {
			n++
		}
	}
	return n
}
