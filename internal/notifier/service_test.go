package notifier

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"versebot/internal/broadcast"
	"versebot/internal/eventbus"
	"versebot/internal/sanitize"
	"versebot/internal/storage"
	kit "versebot/internal/transport"
	logx "versebot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends first
	err   error
	calls int
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		err := f.err
		if err == nil {
			err = errors.New("flaky")
		}
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), f.calls
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func waitFor(t *testing.T, bus <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-bus:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

// waitAll waits for one event of each type, in any order.
func waitAll(t *testing.T, bus <-chan eventbus.Event, types ...string) {
	t.Helper()
	want := map[string]bool{}
	for _, typ := range types {
		want[typ] = true
	}
	deadline := time.After(3 * time.Second)
	for len(want) > 0 {
		select {
		case ev := <-bus:
			delete(want, ev.Type)
		case <-deadline:
			t.Fatalf("missing events %v", want)
		}
	}
}

func TestNotifyRetriesThenSends(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	fa := &fakeAdapter{fails: 2}
	s := New(testConfig(), fa, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), kit.Notification{Channel: "telegram", Priority: 9, Target: kit.ChatTarget{ChatID: 1}, Text: "down"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	ev := waitFor(t, events, eventbus.TypeNoticeSent)
	if id := ev.Data.(NotificationEvent).ID; len(id) != 36 {
		t.Fatalf("notice id %q is not a uuid", id)
	}
	sent, calls := fa.snapshot()
	if calls != 3 || len(sent) != 1 || sent[0] != "🚨 down" {
		t.Fatalf("calls=%d sent=%q", calls, sent)
	}
	if h := s.History(); len(h) != 1 || h[0].Text != "🚨 down" {
		t.Fatalf("history=%+v", h)
	}
}

func TestUnavailableChatIsNotRetried(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	fa := &fakeAdapter{fails: 5, err: kit.ErrChatUnavailable}
	s := New(testConfig(), fa, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: 1}, Text: "x"})
	waitFor(t, events, eventbus.TypeNoticeFailed)
	if _, calls := fa.snapshot(); calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestDedupAcrossRestart(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.PersistDedup = true
	n := kit.Notification{Channel: "telegram", Target: kit.ChatTarget{ChatID: 1}, Text: "same"}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	fa := &fakeAdapter{}
	s := New(cfg, fa, logx.Nop(), bus, st)
	s.Start(context.Background())
	_ = s.Notify(context.Background(), n)
	_ = s.Notify(context.Background(), n)
	waitAll(t, events, eventbus.TypeNoticeDeduped, eventbus.TypeNoticeSent)
	s.Stop(context.Background())

	// A fresh service has an empty memory cache; storage still knows.
	s2 := New(cfg, fa, logx.Nop(), bus, st)
	s2.Start(context.Background())
	defer s2.Stop(context.Background())
	_ = s2.Notify(context.Background(), n)
	waitFor(t, events, eventbus.TypeNoticeDeduped)

	if sent, _ := fa.snapshot(); len(sent) != 1 {
		t.Fatalf("sent=%q, want one delivery", sent)
	}
}

func TestBusEventsReachOwners(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	fa := &fakeAdapter{}
	s := New(testConfig(), fa, logx.Nop(), bus, nil)
	s.SetOwners([]int64{10, 11})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	events, unsub := bus.Subscribe(32)
	defer unsub()
	bus.Publish(eventbus.Event{Type: eventbus.TypeNoEligible, Data: broadcast.SkipNotice{Language: "english", Reason: "no eligible messages"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: broadcast.TickEvent{}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeSanitizeNotice, Data: sanitize.Notice{MessageID: 3, Kind: sanitize.NoticeUnknownMarker, Reason: "unknown marker {gold}"}})

	for i := 0; i < 4; i++ {
		waitFor(t, events, eventbus.TypeNoticeSent)
	}
	sent, _ := fa.snapshot()
	joined := strings.Join(sent, "\n")
	for _, want := range []string{"filter none", "message 3: unknown marker {gold}"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("notices %q missing %q", sent, want)
		}
	}
	if len(sent) != 4 {
		t.Fatalf("sent %d notices, want 4", len(sent))
	}
}

func TestNotifyWhenStoppedOrDisabled(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &fakeAdapter{}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before Start: %v", err)
	}
	cfg := testConfig()
	cfg.Enabled = false
	s = New(cfg, &fakeAdapter{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestNoticeFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		ev     eventbus.Event
		want   string
		prio   int
		routed bool
	}{
		{
			name:   "no eligible",
			ev:     eventbus.Event{Type: eventbus.TypeNoEligible, Data: broadcast.SkipNotice{Language: "english", Filter: "groups=5-10", Reason: "no eligible messages"}},
			want:   "broadcast skipped: no eligible messages (language english, filter groups=5-10): no eligible messages",
			prio:   7,
			routed: true,
		},
		{
			name:   "config rejected",
			ev:     eventbus.Event{Type: eventbus.TypeConfigRejected, Data: "load catalog: boom"},
			want:   "config reload rejected, previous settings kept: load catalog: boom",
			prio:   8,
			routed: true,
		},
		{name: "wrong payload", ev: eventbus.Event{Type: eventbus.TypeSanitizeNotice, Data: "x"}},
		{name: "tick", ev: eventbus.Event{Type: eventbus.TypeTick}},
	}
	for _, tc := range cases {
		text, prio, ok := noticeFor(tc.ev)
		if ok != tc.routed || text != tc.want || prio != tc.prio {
			t.Fatalf("%s: noticeFor=(%q,%d,%v), want (%q,%d,%v)", tc.name, text, prio, ok, tc.want, tc.prio, tc.routed)
		}
	}
}
