package queue_test

import (
	"sync"
	"testing"
	"time"

	"github.com/warelay/warelay/internal/ident"
	"github.com/warelay/warelay/internal/queue"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

func newLanes(t *testing.T) *queue.Lanes {
	t.Helper()
	l := queue.NewLanes()
	t.Cleanup(l.Close)
	return l
}

func newItem(t *testing.T, lane queue.Lane, backoff ...time.Duration) *queue.Item {
	t.Helper()
	return &queue.Item{
		Msg: &queue.Message{
			ID:          ident.MustNewID(),
			Sender:      "alice@s.whatsapp.net",
			Chat:        "alice@s.whatsapp.net",
			Type:        "text",
			SendingTime: time.Now(),
		},
		Lane: lane,
		Attempt: queue.Attempt{
			MaxAttempts: 3,
			Backoff:     backoff,
		},
	}
}

// waitDepth polls until lane reaches depth n or the deadline passes.
func waitDepth(t *testing.T, l *queue.Lanes, lane queue.Lane, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Depth(lane) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("lane %s never reached depth %d (now %d)", lane, n, l.Depth(lane))
}

// ─── Lanes tests ─────────────────────────────────────────────────────────────

// The re-exported draining order matches the lane constants, high first.
func TestAllLanes_DrainingOrder(t *testing.T) {
	want := [3]queue.Lane{queue.LaneHigh, queue.LaneDefault, queue.LaneLow}
	if queue.AllLanes != want {
		t.Fatalf("AllLanes: want %v, got %v", want, queue.AllLanes)
	}
}

func TestLanes_EnqueueLease(t *testing.T) {
	l := newLanes(t)
	item := newItem(t, queue.LaneHigh)

	l.Enqueue(item)
	if l.Depth(queue.LaneHigh) != 1 {
		t.Fatalf("Depth after Enqueue: want 1, got %d", l.Depth(queue.LaneHigh))
	}
	if item.Attempt.Status != queue.StatusPending {
		t.Fatalf("status after Enqueue: want pending, got %s", item.Attempt.Status)
	}

	d, ok := l.Lease()
	if !ok {
		t.Fatal("Lease: expected an item")
	}
	if d.Item.Msg.ID != item.Msg.ID {
		t.Errorf("Lease ID: want %s, got %s", item.Msg.ID, d.Item.Msg.ID)
	}
	if d.Receipt == "" {
		t.Error("Lease: empty receipt handle")
	}
	if l.Depth(queue.LaneHigh) != 0 {
		t.Errorf("Depth after Lease: want 0, got %d", l.Depth(queue.LaneHigh))
	}
	if l.LeasedCount() != 1 {
		t.Errorf("LeasedCount: want 1, got %d", l.LeasedCount())
	}
}

func TestLanes_LeaseEmpty(t *testing.T) {
	l := newLanes(t)
	if _, ok := l.Lease(); ok {
		t.Fatal("Lease on empty lanes: want ok == false")
	}
}

func TestLanes_FIFOWithinLane(t *testing.T) {
	l := newLanes(t)
	first := newItem(t, queue.LaneDefault)
	second := newItem(t, queue.LaneDefault)
	l.Enqueue(first)
	l.Enqueue(second)

	d1, _ := l.Lease()
	d2, _ := l.Lease()
	if d1.Item.Msg.ID != first.Msg.ID || d2.Item.Msg.ID != second.Msg.ID {
		t.Errorf("FIFO violated: got %s then %s", d1.Item.Msg.ID, d2.Item.Msg.ID)
	}
}

// Lease must drain high before default before low.
func TestLanes_PriorityOrder(t *testing.T) {
	l := newLanes(t)
	low := newItem(t, queue.LaneLow)
	def := newItem(t, queue.LaneDefault)
	high := newItem(t, queue.LaneHigh)

	// Enqueue in reverse priority order.
	l.Enqueue(low)
	l.Enqueue(def)
	l.Enqueue(high)

	want := []string{high.Msg.ID, def.Msg.ID, low.Msg.ID}
	for i, w := range want {
		d, ok := l.Lease()
		if !ok {
			t.Fatalf("Lease %d: no item", i)
		}
		if d.Item.Msg.ID != w {
			t.Errorf("Lease %d: want %s, got %s", i, w, d.Item.Msg.ID)
		}
	}
}

func TestLanes_AckRemovesPermanently(t *testing.T) {
	l := newLanes(t)
	l.Enqueue(newItem(t, queue.LaneHigh))

	d, _ := l.Lease()
	if err := l.Ack(d.Receipt); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if l.LeasedCount() != 0 {
		t.Errorf("LeasedCount after Ack: want 0, got %d", l.LeasedCount())
	}
	if err := l.Ack(d.Receipt); err == nil {
		t.Error("second Ack with same receipt: want error")
	}
}

func TestLanes_RequeueAfterBackoff(t *testing.T) {
	l := newLanes(t)
	item := newItem(t, queue.LaneLow, 50*time.Millisecond)
	l.Enqueue(item)

	d, _ := l.Lease()
	d.Item.Attempt.AttemptsMade = 1 // first failure

	if err := l.Requeue(d.Receipt); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if l.LeasedCount() != 0 {
		t.Errorf("LeasedCount after Requeue: want 0, got %d", l.LeasedCount())
	}
	if l.Depth(queue.LaneLow) != 0 {
		t.Error("item must not be visible before its backoff delay expires")
	}
	if l.WaitingRetry() != 1 {
		t.Errorf("WaitingRetry: want 1, got %d", l.WaitingRetry())
	}

	waitDepth(t, l, queue.LaneLow, 1)

	d2, ok := l.Lease()
	if !ok {
		t.Fatal("Lease after backoff: expected the requeued item")
	}
	if d2.Item.Msg.ID != item.Msg.ID {
		t.Errorf("requeued item: want %s, got %s", item.Msg.ID, d2.Item.Msg.ID)
	}
	if d2.Item.Attempt.Status != queue.StatusPending {
		t.Errorf("requeued status: want pending, got %s", d2.Item.Attempt.Status)
	}
	if d2.Receipt == d.Receipt {
		t.Error("requeued lease must mint a fresh receipt handle")
	}
}

func TestLanes_ReleaseReturnsToFront(t *testing.T) {
	l := newLanes(t)
	first := newItem(t, queue.LaneHigh)
	second := newItem(t, queue.LaneHigh)
	l.Enqueue(first)
	l.Enqueue(second)

	d, _ := l.Lease() // first
	if err := l.Release(d.Receipt); err != nil {
		t.Fatalf("Release: %v", err)
	}

	d2, _ := l.Lease()
	if d2.Item.Msg.ID != first.Msg.ID {
		t.Errorf("released item must be re-leased first, got %s", d2.Item.Msg.ID)
	}
}

func TestLanes_UnknownReceipts(t *testing.T) {
	l := newLanes(t)
	if err := l.Ack("nope"); err == nil {
		t.Error("Ack unknown receipt: want error")
	}
	if err := l.Requeue("nope"); err == nil {
		t.Error("Requeue unknown receipt: want error")
	}
	if err := l.Release("nope"); err == nil {
		t.Error("Release unknown receipt: want error")
	}
}

// Two goroutines leasing concurrently must never receive the same item.
func TestLanes_ConcurrentLeaseNoDuplicates(t *testing.T) {
	l := newLanes(t)
	const n = 500
	for i := 0; i < n; i++ {
		l.Enqueue(newItem(t, queue.LaneDefault))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int, n)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, ok := l.Lease()
				if !ok {
					return
				}
				mu.Lock()
				seen[d.Item.Msg.ID]++
				mu.Unlock()
				_ = l.Ack(d.Receipt)
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("leased %d distinct items, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("item %s leased %d times", id, count)
		}
	}
}

func TestLanes_CloseRejectsEnqueue(t *testing.T) {
	l := queue.NewLanes()
	l.Close()
	l.Enqueue(newItem(t, queue.LaneHigh))
	if l.Depth(queue.LaneHigh) != 0 {
		t.Error("Enqueue after Close must be a no-op")
	}
}

// ─── state machine tests ─────────────────────────────────────────────────────

func TestValidTransition(t *testing.T) {
	allowed := map[queue.Status][]queue.Status{
		queue.StatusPending:         {queue.StatusInProgress},
		queue.StatusInProgress:      {queue.StatusSucceeded, queue.StatusFailedRetryable, queue.StatusFailedTerminal},
		queue.StatusFailedRetryable: {queue.StatusPending},
		queue.StatusSucceeded:       {},
		queue.StatusFailedTerminal:  {},
	}
	all := []queue.Status{
		queue.StatusPending, queue.StatusInProgress, queue.StatusSucceeded,
		queue.StatusFailedRetryable, queue.StatusFailedTerminal,
	}

	for from, tos := range allowed {
		ok := make(map[queue.Status]bool, len(tos))
		for _, to := range tos {
			ok[to] = true
		}
		for _, to := range all {
			got := queue.ValidTransition(from, to)
			if got != ok[to] {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", from, to, got, ok[to])
			}
		}
	}
}
