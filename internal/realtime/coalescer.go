package realtime

import (
	"time"

	"chatgenius-backend/internal/model"
)

// FlushReason labels why a pending batch was emitted.
type FlushReason string

const (
	FlushCapacity   FlushReason = "capacity"
	FlushInterval   FlushReason = "interval"
	FlushDisconnect FlushReason = "disconnect"
	FlushShutdown   FlushReason = "shutdown"
)

// Scheduler arms fire to run after d and returns a function that cancels it.
// In the hub fire is re-posted to the dispatch goroutine, never run on the
// timer goroutine.
type Scheduler func(d time.Duration, fire func()) (cancel func() bool)

// Emitter receives a flushed batch in enqueue order.
type Emitter func(room string, batch []model.Envelope, reason FlushReason)

// Coalescer buffers message-creation envelopes per room and flushes them as
// one batch when the buffer reaches capacity or the interval elapses,
// whichever comes first.
type Coalescer struct {
	capacity int
	interval time.Duration
	schedule Scheduler
	emit     Emitter
	batches  map[string]*pendingBatch
	gen      uint64
}

// pendingBatch holds at most one armed timer. gen identifies the timer
// across the coalescer's lifetime so an expiry that raced a flush is
// recognised as stale.
type pendingBatch struct {
	items   []model.Envelope
	origins map[string]struct{}
	cancel  func() bool
	gen     uint64
}

func NewCoalescer(capacity int, interval time.Duration, schedule Scheduler, emit Emitter) *Coalescer {
	if capacity < 1 {
		capacity = 1
	}
	return &Coalescer{
		capacity: capacity,
		interval: interval,
		schedule: schedule,
		emit:     emit,
		batches:  make(map[string]*pendingBatch),
	}
}

// Enqueue appends env to room's batch, flushing at capacity or arming the
// interval timer if none is armed.
func (c *Coalescer) Enqueue(room string, env model.Envelope) {
	c.EnqueueFrom(room, env, "")
}

// EnqueueFrom is Enqueue for an envelope produced by connection origin.
func (c *Coalescer) EnqueueFrom(room string, env model.Envelope, origin string) {
	b, ok := c.batches[room]
	if !ok {
		b = &pendingBatch{origins: make(map[string]struct{})}
		c.batches[room] = b
	}
	b.items = append(b.items, env)
	if origin != "" {
		b.origins[origin] = struct{}{}
	}

	if len(b.items) >= c.capacity {
		c.flush(room, FlushCapacity)
		return
	}
	if b.cancel == nil {
		c.gen++
		b.gen = c.gen
		gen := b.gen
		b.cancel = c.schedule(c.interval, func() { c.Expire(room, gen) })
	}
}

// Expire handles the interval timer for room. Stale generations are ignored.
func (c *Coalescer) Expire(room string, gen uint64) {
	b, ok := c.batches[room]
	if !ok || b.cancel == nil || b.gen != gen {
		return
	}
	c.flush(room, FlushInterval)
}

// Flush emits room's pending batch now. It returns the number of envelopes
// emitted.
func (c *Coalescer) Flush(room string, reason FlushReason) int {
	return c.flush(room, reason)
}

// FlushConn emits the batches of rooms and of every room holding an
// envelope that originated from connID.
func (c *Coalescer) FlushConn(connID string, rooms []string, reason FlushReason) int {
	n := 0
	for _, room := range rooms {
		n += c.flush(room, reason)
	}
	for room, b := range c.batches {
		if _, ok := b.origins[connID]; ok {
			n += c.flush(room, reason)
		}
	}
	return n
}

// FlushAll emits every non-empty batch.
func (c *Coalescer) FlushAll(reason FlushReason) int {
	n := 0
	for room := range c.batches {
		n += c.flush(room, reason)
	}
	return n
}

func (c *Coalescer) flush(room string, reason FlushReason) int {
	b, ok := c.batches[room]
	if !ok {
		return 0
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	items := b.items
	delete(c.batches, room)
	if len(items) == 0 {
		return 0
	}
	c.emit(room, items, reason)
	return len(items)
}

// Pending returns the number of buffered envelopes for room.
func (c *Coalescer) Pending(room string) int {
	if b, ok := c.batches[room]; ok {
		return len(b.items)
	}
	return 0
}

// Armed reports whether room has an interval timer running.
func (c *Coalescer) Armed(room string) bool {
	b, ok := c.batches[room]
	return ok && b.cancel != nil
}
