package symbol

import (
	"context"
	"sync"
)

// Engine owns the locker and the actor per symbol, wiring child spawns back
// through the locker so sibling ordering guarantees hold.
type Engine struct {
	mu     sync.Mutex
	cfg    ActorConfig
	actors map[SymbolIdentifier]*Actor
	locker *Locker
}

// NewEngine creates an engine; mailboxCap <= 0 selects DefaultMailboxCap.
func NewEngine(cfg ActorConfig, mailboxCap int) *Engine {
	e := &Engine{
		cfg:    cfg,
		actors: make(map[SymbolIdentifier]*Actor),
	}
	e.locker = NewLocker(e.dispatch, mailboxCap)
	if e.cfg.Send == nil {
		e.cfg.Send = e.Send
	}
	return e
}

// Send enqueues an event for a symbol, resolving on enqueue.
func (e *Engine) Send(id SymbolIdentifier, ev SymbolEvent) error {
	return e.locker.Send(id, ev)
}

// Actor returns the actor for id, if one has handled an event.
func (e *Engine) Actor(id SymbolIdentifier) (*Actor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[id]
	return a, ok
}

// Close drains the locker and stops accepting events.
func (e *Engine) Close() { e.locker.Close() }

func (e *Engine) dispatch(ctx context.Context, id SymbolIdentifier, ev SymbolEvent) ActionState {
	e.mu.Lock()
	a, ok := e.actors[id]
	if !ok {
		a = NewActor(id, e.cfg)
		e.actors[id] = a
	}
	e.mu.Unlock()
	return a.Handle(ctx, ev)
}
