// Package bus is an in-process pub/sub event bus. It decouples the poll
// loops from observers (metrics, debug logging) and keeps a bounded replay
// history for diagnostics.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event names emitted by the bridge.
const (
	EventUpdateReceived = "update.received"
	EventUpdateSkipped  = "update.skipped"
	EventUpdateFailed   = "update.failed"
	EventPollCycleError = "poll.cycle_error"
	EventReplySent      = "reply.sent"
	EventReplyFailed    = "reply.failed"
	EventAccountStarted = "account.started"
	EventAccountStopped = "account.stopped"
)

// Event is one published record.
type Event struct {
	Name      string
	AccountID string
	Data      map[string]any
	Timestamp time.Time
}

// Handler receives published events. Handlers must not block; long work
// belongs behind EmitAsync or the handler's own goroutine.
type Handler func(Event)

const defaultHistorySize = 200

// Bus dispatches events to subscribers. "*" subscribes to every event.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	history  []Event
	histCap  int
	nextID   int
	logger   *slog.Logger
}

type subscription struct {
	id int
	fn Handler
}

// New creates a Bus with the default history size.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		histCap:  defaultHistorySize,
		logger:   logger,
	}
}

// On subscribes to an event name and returns a subscription id for Off.
func (b *Bus) On(name string, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, fn: fn})
	return id
}

// Off removes a subscription by id.
func (b *Bus) Off(name string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event synchronously. A panicking handler is recovered
// and logged so one bad observer cannot take down a poll loop.
func (b *Bus) Emit(name, accountID string, data map[string]any) {
	ev := Event{Name: name, AccountID: accountID, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}
	subs := make([]subscription, 0, len(b.handlers[name])+len(b.handlers["*"]))
	subs = append(subs, b.handlers[name]...)
	subs = append(subs, b.handlers["*"]...)
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(s, ev)
	}
}

// EmitAsync publishes an event on a fresh goroutine.
func (b *Bus) EmitAsync(name, accountID string, data map[string]any) {
	go b.Emit(name, accountID, data)
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	s.fn(ev)
}

// Replay invokes fn for each event in history, oldest first.
func (b *Bus) Replay(fn Handler) {
	b.mu.RLock()
	events := make([]Event, len(b.history))
	copy(events, b.history)
	b.mu.RUnlock()
	for _, ev := range events {
		fn(ev)
	}
}

// HistoryLen returns the number of retained events.
func (b *Bus) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}
