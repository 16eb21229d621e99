package queue

// timer.go — Min-Heap backed backoff timer.
//
// The timer goroutine peeks at the heap root (the soonest-due retry), sleeps
// until that point, then pops and fires the readyFn callback. A buffered
// notify channel lets schedule() interrupt the sleep early whenever a newly
// added item is due sooner than the current root.
//
//   - Heap peek   → O(1), regardless of how many retries are pending.
//   - Heap insert → O(log N).

import (
	"container/heap"
	"sync"
	"time"
)

// timerItem is one entry in the backoff Min-Heap.
type timerItem struct {
	item  *Item
	dueAt int64 // UTC milliseconds — sort key

	// heapIdx is the item's current position in the heap slice.
	// Maintained by retryHeap.Swap.
	heapIdx int
}

// retryHeap is a slice of *timerItem that satisfies heap.Interface.
// The smallest dueAt sits at index 0 (Min-Heap).
type retryHeap []*timerItem

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].dueAt < h[j].dueAt
}

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *retryHeap) Push(x any) {
	n := len(*h)
	it := x.(*timerItem)
	it.heapIdx = n
	*h = append(*h, it)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil  // allow GC
	it.heapIdx = -1 // mark as not in heap
	*h = old[:n-1]
	return it
}

// backoffTimer delivers items back to the lanes once their backoff delay has
// elapsed. All methods are safe for concurrent use.
type backoffTimer struct {
	mu sync.Mutex
	h  retryHeap

	readyFn func(*Item)

	// notify is a buffered channel of capacity 1. schedule() sends a signal
	// whenever a new item might be due earlier than the current timer
	// deadline, prompting the goroutine to re-evaluate its sleep duration.
	notify chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

func newBackoffTimer(readyFn func(*Item)) *backoffTimer {
	h := make(retryHeap, 0, 16)
	heap.Init(&h)
	return &backoffTimer{
		h:       h,
		readyFn: readyFn,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (t *backoffTimer) start() {
	t.wg.Add(1)
	go t.run()
}

// stop shuts down the timer goroutine and waits for it to exit.
// Items still in the heap are abandoned.
func (t *backoffTimer) stop() {
	select {
	case <-t.done:
		// already stopped
	default:
		close(t.done)
	}
	t.wg.Wait()
}

// schedule registers item for redelivery after delay.
// A delay <= 0 fires promptly on the next tick of the timer goroutine.
func (t *backoffTimer) schedule(item *Item, delay time.Duration) {
	t.mu.Lock()
	heap.Push(&t.h, &timerItem{
		item:  item,
		dueAt: time.Now().Add(delay).UnixMilli(),
	})
	t.mu.Unlock()

	// Signal the goroutine to re-evaluate. Non-blocking: if a signal is
	// already pending (channel full), no-op — the goroutine will wake soon.
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// pending returns the number of items waiting out their backoff delay.
func (t *backoffTimer) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.h.Len()
}

func (t *backoffTimer) run() {
	defer t.wg.Done()

	// tm is lazily allocated when there's something to wait for.
	var tm *time.Timer
	defer func() {
		if tm != nil {
			tm.Stop()
		}
	}()

	for {
		t.mu.Lock()
		var next *timerItem
		if t.h.Len() > 0 {
			next = t.h[0]
		}
		t.mu.Unlock()

		if next == nil {
			// Heap is empty — wait for a new item or shutdown.
			select {
			case <-t.done:
				return
			case <-t.notify:
				// An item was scheduled; loop around to re-evaluate.
			}
			continue
		}

		delay := time.Until(time.UnixMilli(next.dueAt))
		if delay <= 0 {
			// Already due — pop and deliver without sleeping.
			if it := t.popDue(); it != nil {
				t.readyFn(it.item)
			}
			continue
		}

		// Sleep until the next item is due, but stay responsive to new items
		// (notify) and shutdown signals.
		if tm == nil {
			tm = time.NewTimer(delay)
		} else {
			tm.Reset(delay)
		}

		select {
		case <-t.done:
			tm.Stop()
			return
		case <-t.notify:
			// A new item may be due sooner — re-evaluate from the top.
			tm.Stop()
			// Drain the timer channel if it fired between Reset and Stop.
			select {
			case <-tm.C:
			default:
			}
			tm = nil
		case <-tm.C:
			tm = nil
			if it := t.popDue(); it != nil {
				t.readyFn(it.item)
			}
		}
	}
}

// popDue pops the heap root. Returns nil when the heap is empty.
func (t *backoffTimer) popDue() *timerItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&t.h).(*timerItem)
}
