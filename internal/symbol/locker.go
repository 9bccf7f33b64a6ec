package symbol

import (
	"context"
	"fmt"
	"sync"

	"mecha/internal/logging"
)

// DefaultMailboxCap bounds the number of queued events per symbol.
const DefaultMailboxCap = 64

// EventHandler processes one event for one symbol and returns the symbol's
// state afterwards. The locker guarantees at most one invocation per
// identifier at a time, in FIFO arrival order.
type EventHandler func(ctx context.Context, id SymbolIdentifier, ev SymbolEvent) ActionState

// Locker maps each SymbolIdentifier to a single-slot execution lane with a
// FIFO mailbox. A lane is evicted only once its symbol is Finished and its
// queue has drained.
type Locker struct {
	mu       sync.Mutex
	lanes    map[SymbolIdentifier]*lane
	handler  EventHandler
	capacity int
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

type lane struct {
	queue   []SymbolEvent
	running bool
	state   ActionState
}

// NewLocker creates a locker dispatching to handler. capacity <= 0 selects
// DefaultMailboxCap.
func NewLocker(handler EventHandler, capacity int) *Locker {
	if capacity <= 0 {
		capacity = DefaultMailboxCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Locker{
		lanes:    make(map[SymbolIdentifier]*lane),
		handler:  handler,
		capacity: capacity,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Send enqueues an event for the symbol and returns once it is queued, not
// once it is handled. A full mailbox fails with ErrSymbolOverloaded. The
// queued-event count excludes the event a handler is currently processing,
// so a mailbox exactly at capacity still accepts one more while the handler
// is in flight.
func (l *Locker) Send(id SymbolIdentifier, ev SymbolEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLockerClosed
	}

	ln, ok := l.lanes[id]
	if !ok {
		ln = &lane{}
		l.lanes[id] = ln
	}
	if len(ln.queue) >= l.capacity {
		return fmt.Errorf("%w: %s has %d queued events", ErrSymbolOverloaded, id, len(ln.queue))
	}
	ln.queue = append(ln.queue, ev)
	logging.Locker("%s: queued %s (depth %d)", id, ev.eventName(), len(ln.queue))

	if !ln.running {
		ln.running = true
		l.wg.Add(1)
		go l.drain(id, ln)
	}
	return nil
}

// drain processes the lane's queue FIFO until empty, then parks. It holds
// l.mu only between events, never across a handler call.
func (l *Locker) drain(id SymbolIdentifier, ln *lane) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if len(ln.queue) == 0 {
			ln.running = false
			if ln.state == StateFinished {
				delete(l.lanes, id)
				logging.Locker("%s: finished and drained, evicted", id)
			}
			l.mu.Unlock()
			return
		}
		ev := ln.queue[0]
		ln.queue = ln.queue[1:]
		l.mu.Unlock()

		state := l.handler(l.baseCtx, id, ev)

		l.mu.Lock()
		// Finished is absorbing: a handler cannot resurrect the symbol.
		if ln.state != StateFinished {
			ln.state = state
		}
		l.mu.Unlock()
	}
}

// State reports the current state of a symbol; evicted or never-seen symbols
// read as OnGoing-equivalent absence.
func (l *Locker) State(id SymbolIdentifier) (ActionState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[id]
	if !ok {
		return StateOnGoing, false
	}
	return ln.state, true
}

// Active returns the number of live lanes.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// Close stops accepting events, cancels in-flight handlers, and waits for
// every lane to park.
func (l *Locker) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
