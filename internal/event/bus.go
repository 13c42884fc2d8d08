package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultQueueSize bounds the publish queue.
	DefaultQueueSize = 1024

	// DefaultPollInterval is how long the drain loop waits on an empty
	// queue before re-checking the stop signal.
	DefaultPollInterval = time.Second
)

// Logger is a minimal logging interface so the bus doesn't depend on telemetry.
type Logger interface {
	Warn(msg string, keyvals ...interface{})
}

// Handler processes one event. A returned error is logged and otherwise
// ignored; it never interrupts dispatch or sibling handlers.
type Handler func(Event) error

// Subscription identifies one registered handler for later removal.
// The zero value is inert.
type Subscription struct {
	id    string
	event EventType
}

type registration struct {
	id string
	fn Handler
}

// Bus dispatches events to registered handlers through a single FIFO queue
// drained by a single goroutine.
//
// Dispatch rules:
//  1. Events dispatch strictly in publish order. Handlers for event N+1
//     never start before every handler for event N has returned.
//  2. Within one event, handlers run concurrently and are all joined
//     before the loop advances.
//  3. A handler error or panic is logged as a warning; it never stops the
//     loop or affects sibling handlers.
//  4. Publish never blocks the caller: a full queue drops the event.
//  5. A nil Bus is safe to use — all methods are no-ops.
type Bus struct {
	mu       sync.Mutex
	handlers map[EventType][]registration
	queue    chan Event
	poll     time.Duration
	logger   Logger

	running bool
	stop    chan struct{}
	done    chan struct{}

	published   atomic.Int64
	dropped     atomic.Int64
	handlerErrs atomic.Int64
}

// NewBus creates an idle bus; the drain loop starts on the first Publish
// or an explicit Drain. Pass nil logger for silent operation.
func NewBus(logger Logger) *Bus {
	return NewBusSize(logger, DefaultQueueSize, DefaultPollInterval)
}

// NewBusSize creates a bus with an explicit queue capacity and idle poll
// interval. Zero or negative arguments fall back to the defaults.
func NewBusSize(logger Logger, queueSize int, poll time.Duration) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Bus{
		handlers: make(map[EventType][]registration),
		queue:    make(chan Event, queueSize),
		poll:     poll,
		logger:   logger,
	}
}

// Register adds a handler for one event type and returns the token that
// removes it. Registration during dispatch takes effect from the next
// event, not the one currently dispatching.
func (b *Bus) Register(t EventType, h Handler) Subscription {
	if b == nil || h == nil {
		return Subscription{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	reg := registration{id: uuid.NewString(), fn: h}
	b.handlers[t] = append(b.handlers[t], reg)
	return Subscription{id: reg.id, event: t}
}

// Unregister removes a previously registered handler. Unknown or zero
// subscriptions are no-ops.
func (b *Bus) Unregister(sub Subscription) {
	if b == nil || sub.id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[sub.event]
	for i, r := range regs {
		if r.id == sub.id {
			b.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.event]) == 0 {
		delete(b.handlers, sub.event)
	}
}

// Publish enqueues an event for dispatch and reports whether it was
// accepted. The call never blocks: when the queue is full the event is
// dropped and counted. The first accepted publish starts the drain loop.
func (b *Bus) Publish(ev Event) bool {
	if b == nil {
		return false
	}
	select {
	case b.queue <- ev:
		b.published.Add(1)
		b.Drain()
		return true
	default:
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Warn("Event queue full, dropping event", "type", string(ev.Type))
		}
		return false
	}
}

// Drain starts the drain loop if it is not already running. Safe to call
// repeatedly and after Stop.
func (b *Bus) Drain() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.loop(b.stop, b.done)
}

// Stop halts the drain loop after the in-flight event's handlers finish.
// Queued events stay queued and are dispatched when the loop restarts.
// The context bounds how long Stop waits for the loop to wind down.
func (b *Bus) Stop(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if !b.running || b.stop == nil {
		b.mu.Unlock()
		return nil
	}
	close(b.stop)
	b.stop = nil
	done := b.done
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Published reports how many events the bus has accepted.
func (b *Bus) Published() int64 {
	if b == nil {
		return 0
	}
	return b.published.Load()
}

// Dropped reports how many events were rejected on a full queue.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// HandlerErrors reports how many handler invocations returned an error or
// panicked.
func (b *Bus) HandlerErrors() int64 {
	if b == nil {
		return 0
	}
	return b.handlerErrs.Load()
}

func (b *Bus) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		close(done)
	}()

	idle := time.NewTicker(b.poll)
	defer idle.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-idle.C:
			// Queue empty; loop back to re-check the stop signal.
		}
	}
}

// dispatch fans an event out to every handler registered for its type and
// waits for all of them before returning.
func (b *Bus) dispatch(ev Event) {
	b.mu.Lock()
	regs := b.handlers[ev.Type]
	fns := make([]Handler, len(regs))
	for i, r := range regs {
		fns[i] = r.fn
	}
	b.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.handlerErrs.Add(1)
					if b.logger != nil {
						b.logger.Warn("Handler panicked",
							"event", string(ev.Type),
							"panic", r,
						)
					}
				}
			}()
			if err := h(ev); err != nil {
				b.handlerErrs.Add(1)
				if b.logger != nil {
					b.logger.Warn("Handler failed",
						"event", string(ev.Type),
						"error", err,
					)
				}
			}
		}(fn)
	}
	wg.Wait()
}
