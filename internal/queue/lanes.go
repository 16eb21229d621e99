package queue

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/warelay/warelay/internal/ident"
)

// Item is one queued unit of work: the canonical message plus the delivery
// attempt state that travels with it. The message itself is never mutated
// across retries — only the Attempt changes.
type Item struct {
	Msg     *Message
	Attempt Attempt
	Lane    Lane
}

// Delivery bundles a leased item with its receipt handle. The receipt must be
// presented back via Ack or Requeue to resolve the lease.
type Delivery struct {
	Item    *Item
	Receipt string
}

// lease tracks an item currently held by a worker.
type lease struct {
	item    *Item
	receipt string
}

// Lanes is the shared queue core: three independent FIFO lanes with
// lease-based dequeue. A leased item is invisible to all other workers until
// its receipt is resolved, so no two workers ever process the same attempt.
//
// Architecture (per lane):
//   - "ready" is a linked list of *Item values (FIFO order, cheap pop-front).
//   - "leased" is a map of receipt handle → lease for O(1) Ack/Requeue.
//   - The backoff timer goroutine re-enqueues retryable items once their
//     delay expires.
//
// All public methods are safe for concurrent use.
type Lanes struct {
	mu     sync.Mutex
	ready  [len(AllLanes)]*list.List
	leased map[string]*lease
	closed bool

	timer *backoffTimer
}

// NewLanes creates the lane set and starts the backoff timer goroutine.
// Call Close() when the lanes are no longer needed.
func NewLanes() *Lanes {
	l := &Lanes{
		leased: make(map[string]*lease),
	}
	for i := range l.ready {
		l.ready[i] = list.New()
	}
	l.timer = newBackoffTimer(l.enqueueRetry)
	l.timer.start()
	return l
}

// Enqueue places item at the back of its lane with status pending.
func (l *Lanes) Enqueue(item *Item) {
	item.Attempt.Status = StatusPending
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.ready[item.Lane].PushBack(item)
}

// enqueueRetry is the backoff timer callback: the item's delay has expired
// and it returns to the BACK of its original lane as pending.
func (l *Lanes) enqueueRetry(item *Item) {
	l.Enqueue(item)
}

// Lease pops the front item of the highest-priority non-empty lane, marks it
// leased, and returns it with a fresh receipt handle. The strict
// high → default → low scan is the priority-draining contract: text and
// reactions are never starved behind bulk media.
//
// Returns ok == false when every lane is empty.
func (l *Lanes) Lease() (*Delivery, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, lane := range AllLanes {
		front := l.ready[lane].Front()
		if front == nil {
			continue
		}
		l.ready[lane].Remove(front)
		item := front.Value.(*Item)

		receipt := ident.MustNewID()
		l.leased[receipt] = &lease{item: item, receipt: receipt}
		return &Delivery{Item: item, Receipt: receipt}, true
	}
	return nil, false
}

// Ack resolves the lease permanently: the item leaves the system. Called on
// success and on terminal failure (after the failure has been reported).
func (l *Lanes) Ack(receipt string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.leased[receipt]; !ok {
		return fmt.Errorf("queue: ack: unknown receipt handle %q", receipt)
	}
	delete(l.leased, receipt)
	return nil
}

// Requeue resolves the lease by handing the item to the backoff timer. After
// the item's backoff delay expires it re-enters the back of its lane as
// pending. The caller has already set the attempt state to failed_retryable.
func (l *Lanes) Requeue(receipt string) error {
	l.mu.Lock()
	entry, ok := l.leased[receipt]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("queue: requeue: unknown receipt handle %q", receipt)
	}
	delete(l.leased, receipt)
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return nil
	}
	l.timer.schedule(entry.item, entry.item.Attempt.NextDelay())
	return nil
}

// Release resolves the lease by returning the item to the FRONT of its lane
// immediately, without counting an attempt. Used on worker shutdown so an
// interrupted item is the next one picked up.
func (l *Lanes) Release(receipt string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.leased[receipt]
	if !ok {
		return fmt.Errorf("queue: release: unknown receipt handle %q", receipt)
	}
	delete(l.leased, receipt)
	if !l.closed {
		entry.item.Attempt.Status = StatusPending
		l.ready[entry.item.Lane].PushFront(entry.item)
	}
	return nil
}

// Depth returns the number of pending items in lane.
func (l *Lanes) Depth(lane Lane) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready[lane].Len()
}

// LeasedCount returns the number of items currently held by workers.
func (l *Lanes) LeasedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leased)
}

// WaitingRetry returns the number of items sitting out a backoff delay.
func (l *Lanes) WaitingRetry() int {
	return l.timer.pending()
}

// Close stops the backoff timer and rejects further enqueues. Items still
// waiting out a backoff delay are abandoned.
func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.timer.stop()
}
