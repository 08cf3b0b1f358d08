package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the broadcast engine and its supporting services.
const (
	TypeTick           = "broadcast.tick"
	TypeTickSkipped    = "broadcast.tick_skipped"
	TypeSanitizeNotice = "broadcast.sanitize_notice"
	TypeNoEligible     = "broadcast.no_eligible"
	TypeStarted        = "broadcast.started"
	TypeStopped        = "broadcast.stopped"
	TypeConfigApplied  = "config.applied"
	TypeConfigRejected = "config.rejected"
	TypeNoticeSent     = "notifier.sent"
	TypeNoticeFailed   = "notifier.failed"
	TypeNoticeDeduped  = "notifier.deduped"
	TypeNoticeDropped  = "notifier.dropped"
)

// Event is an in-memory signal. Publish never blocks: subscribers use
// buffered channels and slow ones drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event. Subscribe returns a channel that never fires.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	return make(chan Event), func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending; unsubscribe closes under the write
	// lock, so a send never hits a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Dropped reports how many deliveries were skipped because a subscriber was
// full. Only meaningful for buses created by New.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
