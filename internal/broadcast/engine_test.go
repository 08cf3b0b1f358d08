package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"versebot/internal/catalog"
	"versebot/internal/eventbus"
	"versebot/internal/filter"
	"versebot/internal/sanitize"
	"versebot/internal/selection"
	"versebot/internal/subscriber"
	logx "versebot/pkg/logx"
)

type delivery struct {
	id   int64
	text string
}

type recorder struct {
	mu   sync.Mutex
	got  []delivery
	fail map[int64]error

	panicOn int64
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	calls       atomic.Int32
}

func (r *recorder) Deliver(ctx context.Context, id int64, text string) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	r.calls.Add(1)
	for {
		m := r.maxInFlight.Load()
		if n <= m || r.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panicOn != 0 && id == r.panicOn {
		panic("transport exploded")
	}
	if err := r.fail[id]; err != nil {
		return err
	}
	r.mu.Lock()
	r.got = append(r.got, delivery{id: id, text: text})
	r.mu.Unlock()
	return nil
}

func (r *recorder) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func mustCatalog(t *testing.T, lang, prefix string, n int) *catalog.Catalog {
	t.Helper()
	doc := catalog.Document{Prefix: prefix}
	for i := 1; i <= n; i++ {
		doc.Messages = append(doc.Messages, catalog.Message{ID: i, Text: fmt.Sprintf("verse %d", i)})
	}
	c, err := catalog.New(lang, doc)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

// tickNow runs one tick of the current generation synchronously.
func tickNow(e *Engine) {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	e.runTick(gen)
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", typ)
		}
	}
}

func messageIDs(t *testing.T, ds []delivery) []int {
	t.Helper()
	out := make([]int, 0, len(ds))
	for _, d := range ds {
		var id int
		if _, err := fmt.Sscanf(sanitize.Plain(d.text), "%d|", &id); err != nil {
			t.Fatalf("unexpected text %q: %v", d.text, err)
		}
		out = append(out, id)
	}
	return out
}

func hourly(mode selection.Mode) Config {
	return Config{Interval: time.Hour, Mode: mode, Delivery: subscriber.Public}
}

func TestSequentialTicks(t *testing.T) {
	t.Parallel()

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(10, false)
	reg.OnConnect(11, true)
	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg})

	if err := e.Start(context.Background(), hourly(selection.Sequential), mustCatalog(t, "english", "{0}|{1}", 3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	for i := 0; i < 4; i++ {
		tickNow(e)
	}

	got := rec.deliveries()
	if diff := cmp.Diff([]int{1, 2, 3, 1}, messageIDs(t, got)); diff != "" {
		t.Fatalf("message order (-want +got):\n%s", diff)
	}
	for _, d := range got {
		if d.id != 10 {
			t.Fatalf("automated subscriber received a broadcast: %+v", d)
		}
	}
	st := e.Status()
	if st.Ticks != 4 || st.Last.MessageID != 1 || st.Last.Delivered != 1 || st.Last.Recipients != 1 {
		t.Fatalf("status after ticks: %+v", st)
	}
}

func TestStopStartKeepsPosition(t *testing.T) {
	t.Parallel()

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(10, false)
	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg})
	cat := mustCatalog(t, "english", "{0}|{1}", 4)

	if err := e.Start(context.Background(), hourly(selection.Sequential), cat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tickNow(e)
	tickNow(e)
	e.Stop()
	if err := e.Start(context.Background(), hourly(selection.Sequential), cat); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer e.Stop()
	tickNow(e)

	if diff := cmp.Diff([]int{1, 2, 3}, messageIDs(t, rec.deliveries())); diff != "" {
		t.Fatalf("message order across restart (-want +got):\n%s", diff)
	}
}

func TestNoEligibleSkipsTick(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(1, false)
	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg, Bus: bus})

	cfg := hourly(selection.ShuffleRandom)
	cfg.Filter, _ = filter.New([]string{"50-60"}, nil)
	if err := e.Start(context.Background(), cfg, mustCatalog(t, "english", "{0}|{1}", 5)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	tickNow(e)

	ev := waitEvent(t, events, eventbus.TypeNoEligible)
	if n, ok := ev.Data.(SkipNotice); !ok || n.Language != "english" || n.Reason == "" {
		t.Fatalf("skip notice = %#v", ev.Data)
	}
	if !e.Running() {
		t.Fatal("a skipped tick must not stop the engine")
	}
	if st := e.Status(); !st.Last.Skipped || st.Eligible != 0 {
		t.Fatalf("status = %+v", st)
	}
	if len(rec.deliveries()) != 0 {
		t.Fatal("nothing should be delivered")
	}
}

func TestDeliveryFailureIsolated(t *testing.T) {
	t.Parallel()

	reg := subscriber.NewRegistry("english")
	for _, id := range []int64{1, 2, 3, 4} {
		reg.OnConnect(id, false)
	}
	rec := &recorder{fail: map[int64]error{2: errors.New("blocked")}, panicOn: 3}
	e := New(Options{Transport: rec, Audience: reg})
	if err := e.Start(context.Background(), hourly(selection.Sequential), mustCatalog(t, "english", "{0}|{1}", 2)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	tickNow(e)

	var ids []int64
	for _, d := range rec.deliveries() {
		ids = append(ids, d.id)
	}
	if diff := cmp.Diff([]int64{1, 4}, ids); diff != "" {
		t.Fatalf("delivered to (-want +got):\n%s", diff)
	}
	if last := e.Status().Last; last.Delivered != 2 || last.Failed != 2 {
		t.Fatalf("last tick = %+v", last)
	}
}

func TestSanitizeNoticePublished(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	cat, err := catalog.New("english", catalog.Document{
		Prefix:   "{0} {1}",
		Messages: []catalog.Message{{ID: 9, Text: "{sparkle} shine"}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	e := New(Options{Bus: bus, Audience: subscriber.NewRegistry("english")})
	if err := e.Start(context.Background(), hourly(selection.Sequential), cat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	tickNow(e)

	ev := waitEvent(t, events, eventbus.TypeSanitizeNotice)
	n, ok := ev.Data.(sanitize.Notice)
	if !ok || n.MessageID != 9 || n.Kind != sanitize.NoticeUnknownMarker {
		t.Fatalf("notice = %#v", ev.Data)
	}
}

func TestFilterChangeResetsPolicy(t *testing.T) {
	t.Parallel()

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(1, false)
	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg})
	cat := mustCatalog(t, "english", "{0}|{1}", 5)
	ctx := context.Background()

	cfg := hourly(selection.Sequential)
	if err := e.Start(ctx, cfg, cat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()
	for i := 0; i < 4; i++ {
		tickNow(e)
	}

	narrowed := cfg
	narrowed.Filter, _ = filter.New([]string{"1-2"}, nil)
	if err := e.Reload(ctx, narrowed, cat); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	tickNow(e)
	tickNow(e)
	tickNow(e)

	// Same snapshot again: the position survives a restart.
	if err := e.Reload(ctx, narrowed, cat); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	tickNow(e)

	want := []int{1, 2, 3, 4, 1, 2, 1, 2}
	if diff := cmp.Diff(want, messageIDs(t, rec.deliveries())); diff != "" {
		t.Fatalf("message order (-want +got):\n%s", diff)
	}
}

func TestStartFailureKeepsState(t *testing.T) {
	t.Parallel()

	e := New(Options{Audience: subscriber.NewRegistry("english")})
	ctx := context.Background()
	cat := mustCatalog(t, "english", "{0}|{1}", 3)
	if err := e.Start(ctx, hourly(selection.Sequential), cat); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()
	before := e.Status()

	if err := e.Start(ctx, hourly(selection.FullRandom), nil); !errors.Is(err, ErrNoCatalog) {
		t.Fatalf("Start(nil catalog) err = %v", err)
	}
	bad := hourly(selection.FullRandom)
	bad.Interval = 0
	if err := e.Reload(ctx, bad, mustCatalog(t, "english", "{0}|{1}", 1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Reload(invalid) err = %v", err)
	}

	if diff := cmp.Diff(before, e.Status()); diff != "" {
		t.Fatalf("status changed after failed start (-before +after):\n%s", diff)
	}
}

func TestRestartNeverOverlapsTimers(t *testing.T) {
	t.Parallel()

	const interval = 20 * time.Millisecond
	reg := subscriber.NewRegistry("english")
	reg.OnConnect(1, false)
	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg})
	cat := mustCatalog(t, "english", "{0}|{1}", 3)
	cfg := Config{Interval: interval, Mode: selection.Sequential}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := e.Start(ctx, cfg, cat); err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
		e.Stop()
		if err := e.Start(ctx, cfg, cat); err != nil {
			t.Fatalf("restart #%d: %v", i, err)
		}
	}

	base := e.Status().Ticks
	const window = 210 * time.Millisecond
	time.Sleep(window)
	e.Stop()

	ticks := e.Status().Ticks - base
	if limit := uint64(window/interval) + 1; ticks > limit {
		t.Fatalf("%d ticks in %s, at most %d expected from a single timer", ticks, window, limit)
	}
	if m := rec.maxInFlight.Load(); m > 1 {
		t.Fatalf("ticks overlapped: %d concurrent deliveries", m)
	}

	after := rec.calls.Load()
	time.Sleep(3 * interval)
	if got := rec.calls.Load(); got != after {
		t.Fatalf("delivery after Stop: %d -> %d", after, got)
	}
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	t.Parallel()

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(1, false)
	rec := &recorder{delay: 80 * time.Millisecond}
	e := New(Options{Transport: rec, Audience: reg})
	if err := e.Start(context.Background(), Config{Interval: 5 * time.Millisecond}, mustCatalog(t, "english", "{0}|{1}", 2)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.inFlight.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no tick started")
		}
		time.Sleep(time.Millisecond)
	}
	e.Stop()
	if n := rec.inFlight.Load(); n != 0 {
		t.Fatalf("Stop returned with %d deliveries in flight", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	e := New(Options{})
	e.Stop()
	if err := e.Start(context.Background(), hourly(selection.Sequential), mustCatalog(t, "english", "{0}|{1}", 1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()
	e.Stop()
	if e.Running() {
		t.Fatal("engine still running after Stop")
	}
}

func TestLocalizedRender(t *testing.T) {
	t.Parallel()

	src := catalog.NewMemSource()
	src.Put("english", catalog.Document{Prefix: "{0}|{1}", Messages: []catalog.Message{{ID: 1, Text: "In the beginning"}}})
	src.Put("t-chinese", catalog.Document{Prefix: "{0}|{1}", Messages: []catalog.Message{{ID: 1, Text: "起初"}}})
	loader := catalog.NewLoader(src, "english", logx.Nop())
	en, err := loader.Load("english")
	if err != nil {
		t.Fatalf("Load english: %v", err)
	}
	if _, err := loader.Load("t-chinese"); err != nil {
		t.Fatalf("Load t-chinese: %v", err)
	}

	reg := subscriber.NewRegistry("english")
	reg.OnConnect(1, false)
	reg.OnConnect(2, false)
	if _, err := reg.SetLanguage(2, "t-chinese", loader); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}

	rec := &recorder{}
	e := New(Options{Transport: rec, Audience: reg, Catalogs: loader})
	cfg := hourly(selection.Sequential)
	cfg.Localized = true
	if err := e.Start(context.Background(), cfg, en); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	tickNow(e)

	got := map[int64]string{}
	for _, d := range rec.deliveries() {
		got[d.id] = sanitize.Plain(d.text)
	}
	want := map[int64]string{1: "1|In the beginning", 2: "1|起初"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("localized deliveries (-want +got):\n%s", diff)
	}
}
