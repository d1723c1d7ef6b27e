package authkeeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// eventBus numbers state-change events and hands them to one delivery
// goroutine, which feeds the configured sink and then every subscriber.
//
// Repeats of a session-ending event (logged out, cleared, expired) inside
// CoalesceWindow are folded into the first one, so a burst of 401s or
// racing tabs yields a single event. A login starts a new session and
// resets the window. Subscribers see Seq gaps for events they missed;
// coalesced events never consume a Seq.
type eventBus struct {
	cfg    EventsConfig
	clock  clockwork.Clock
	logger *slog.Logger
	sink   EventSink

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	// emitMu orders numbering and enqueueing so Seq follows queue order.
	emitMu sync.Mutex
	seq    uint64
	ended  map[EventType]time.Time

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
	coalesced atomic.Uint64
}

func newEventBus(cfg EventsConfig, clock clockwork.Clock, logger *slog.Logger, sink EventSink) *eventBus {
	if sink == nil {
		sink = NoOpSink{}
	}
	b := &eventBus{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		sink:   sink,
		done:   make(chan struct{}),
		ended:  make(map[EventType]time.Time),
		subs:   make(map[int]chan Event),
	}
	if !cfg.Enabled {
		return b
	}
	if b.cfg.BufferSize <= 0 {
		b.cfg.BufferSize = 1
	}
	b.queue = make(chan Event, b.cfg.BufferSize)
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *eventBus) enabled() bool {
	return b != nil && b.cfg.Enabled && !b.closed.Load()
}

// Emit numbers ev and queues it for delivery. With DropIfFull a full queue
// drops the event; otherwise Emit waits for room, ctx or Close.
func (b *eventBus) Emit(ctx context.Context, ev Event) {
	if !b.enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	if b.fold(ev.Type, b.clock.Now()) {
		b.coalesced.Add(1)
		return
	}
	b.seq++
	ev.Seq = b.seq

	if b.cfg.DropIfFull {
		select {
		case b.queue <- ev:
		case <-b.done:
		default:
			b.dropped.Add(1)
		}
		return
	}
	select {
	case b.queue <- ev:
	case <-ctx.Done():
		b.dropped.Add(1)
	case <-b.done:
	}
}

// fold reports whether t repeats a session-ending event still inside the
// window, recording t otherwise. Caller holds emitMu.
func (b *eventBus) fold(t EventType, now time.Time) bool {
	switch t {
	case EventLogin:
		clear(b.ended)
		return false
	case EventLogout, EventStateCleared, EventSessionExpired:
	default:
		return false
	}
	if b.cfg.CoalesceWindow <= 0 {
		return false
	}
	if at, ok := b.ended[t]; ok && now.Sub(at) < b.cfg.CoalesceWindow {
		return true
	}
	b.ended[t] = now
	return false
}

func (b *eventBus) run() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *eventBus) deliver(ev Event) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("authkeeper: event sink panicked", "type", ev.Type, "panic", r)
			}
		}()
		b.sink.Emit(context.Background(), ev)
	}()

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// subscribe registers a channel. The cancel func closes it; Close closes
// every channel still registered.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.subMu.Lock()
	if b.closed.Load() {
		b.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

// Close delivers what is queued, then closes every subscriber channel.
func (b *eventBus) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.wg.Wait()

		b.subMu.Lock()
		defer b.subMu.Unlock()
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	})
}

// Dropped counts events lost to a full queue or a full subscriber.
func (b *eventBus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Coalesced counts repeats folded into an earlier session-ending event.
func (b *eventBus) Coalesced() uint64 {
	if b == nil {
		return 0
	}
	return b.coalesced.Load()
}
