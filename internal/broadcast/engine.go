package broadcast

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"versebot/internal/catalog"
	"versebot/internal/eventbus"
	"versebot/internal/filter"
	"versebot/internal/sanitize"
	"versebot/internal/selection"
	logx "versebot/pkg/logx"
)

type Options struct {
	Transport Transport
	Audience  Audience
	// Catalogs is only consulted when Config.Localized is set.
	Catalogs CatalogCache
	Bus      eventbus.Bus
	Log      logx.Logger
	// Rand seeds the random policies. Nil means a randomly seeded source.
	Rand *rand.Rand
	Now  func() time.Time
}

type eligibleKey struct {
	version uint64
	filter  string
}

type Engine struct {
	ctlMu  sync.Mutex // Start/Stop/Reload
	tickMu sync.Mutex // one tick body at a time
	mu     sync.Mutex // state below

	tr   Transport
	aud  Audience
	cats CatalogCache
	bus  eventbus.Bus
	log  logx.Logger
	rng  *rand.Rand
	now  func() time.Time

	running   bool
	gen       uint64
	c         *cron.Cron
	runCtx    context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	cfg    Config
	cat    *catalog.Catalog
	policy selection.Policy

	memo     eligibleKey
	eligible []catalog.Message

	ticks uint64
	last  TickStats
}

func New(opts Options) *Engine {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tr := opts.Transport
	if tr == nil {
		tr = TransportFunc(func(context.Context, int64, string) error { return nil })
	}
	return &Engine{
		tr:   tr,
		aud:  opts.Audience,
		cats: opts.Catalogs,
		bus:  bus,
		log:  log,
		rng:  opts.Rand,
		now:  now,
	}
}

// Start begins broadcasting cat with cfg. A running timer is torn down
// first. On a validation error nothing changes.
//
// ctx only contributes values to tick contexts; its cancellation does not
// stop the engine. Use Stop.
func (e *Engine) Start(ctx context.Context, cfg Config, cat *catalog.Catalog) error {
	return e.restart(ctx, "start", cfg, cat)
}

// Reload swaps in a new snapshot. It either fully applies or leaves the
// running schedule untouched.
func (e *Engine) Reload(ctx context.Context, cfg Config, cat *catalog.Catalog) error {
	return e.restart(ctx, "reload", cfg, cat)
}

func (e *Engine) restart(ctx context.Context, op string, cfg Config, cat *catalog.Catalog) error {
	if cat == nil {
		return fmt.Errorf("%s: %w", op, ErrNoCatalog)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.stopLocked()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := newCron(e.log)

	e.mu.Lock()
	e.applyLocked(cfg, cat)
	e.gen++
	gen := e.gen
	e.c = c
	e.running = true
	e.runCtx, e.cancel = runCtx, cancel
	e.startedAt = e.now()
	eligible := len(e.eligible)
	e.mu.Unlock()

	c.Schedule(fixedInterval{d: cfg.Interval}, cron.FuncJob(func() { e.runTick(gen) }))
	c.Start()

	msg := "broadcast started"
	if op == "reload" {
		msg = "broadcast reloaded"
	}
	e.log.Info(msg,
		logx.String("language", cat.Language),
		logx.Duration("interval", cfg.Interval),
		logx.String("mode", cfg.Mode.String()),
		logx.String("delivery", cfg.Delivery.String()),
		logx.String("filter", cfg.Filter.String()),
		logx.Int("eligible", eligible),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeStarted, Data: e.Status()})
	return nil
}

// applyLocked swaps config and catalog. The policy is rebuilt when the mode
// changes and reset when the eligible membership changes.
func (e *Engine) applyLocked(cfg Config, cat *catalog.Catalog) {
	fresh := e.policy == nil || e.policy.Mode() != cfg.Mode
	if fresh {
		e.policy = selection.New(cfg.Mode, e.rng)
	}
	e.cfg, e.cat = cfg, cat
	if e.refreshEligibleLocked() && !fresh {
		e.policy.Reset()
	}
}

// refreshEligibleLocked recomputes the eligible subset when the catalog
// version or the filter key differs from the memoized one.
func (e *Engine) refreshEligibleLocked() bool {
	key := eligibleKey{version: e.cat.Version, filter: e.cfg.Filter.Key()}
	if e.eligible != nil && key == e.memo {
		return false
	}
	e.eligible = filter.Resolve(e.cat, e.cfg.Filter)
	e.memo = key
	return true
}

// Stop cancels the timer and waits for an in-flight tick. No-op when
// stopped.
func (e *Engine) Stop() {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()
	if e.stopLocked() {
		e.log.Info("broadcast stopped")
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeStopped, Data: e.Status()})
	}
}

func (e *Engine) stopLocked() bool {
	e.mu.Lock()
	c, cancel := e.c, e.cancel
	e.c, e.cancel = nil, nil
	e.running = false
	e.gen++
	e.mu.Unlock()

	if c == nil {
		return false
	}
	<-c.Stop().Done()
	// A tick that passed the generation check before the bump still holds
	// tickMu; wait for it.
	e.tickMu.Lock()
	e.tickMu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Running:   e.running,
		StartedAt: e.startedAt,
		Config:    e.cfg,
		Eligible:  len(e.eligible),
		Ticks:     e.ticks,
		Last:      e.last,
	}
	if e.cat != nil {
		st.Language = e.cat.Language
		st.CatalogVersion = e.cat.Version
	}
	return st
}

func (e *Engine) publish(typ string, data any) {
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}

func (e *Engine) runTick(gen uint64) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := e.now()

	e.mu.Lock()
	if !e.running || e.gen != gen {
		e.mu.Unlock()
		return
	}
	cfg, cat, runCtx := e.cfg, e.cat, e.runCtx
	e.refreshEligibleLocked()
	eligible := e.eligible
	idx, err := e.policy.Next(len(eligible))
	if err != nil {
		e.ticks++
		e.last = TickStats{At: start, Language: cat.Language, Skipped: true, Reason: err.Error()}
		e.mu.Unlock()

		e.log.Warn("tick skipped",
			logx.String("language", cat.Language),
			logx.String("filter", cfg.Filter.String()),
			logx.Err(err),
		)
		e.publish(eventbus.TypeNoEligible, SkipNotice{Language: cat.Language, Filter: cfg.Filter.String(), Reason: err.Error()})
		return
	}
	msg := eligible[idx]
	e.mu.Unlock()

	text, notices := sanitize.Format(cat.Prefix, msg.ID, msg.Text)
	for _, n := range notices {
		e.log.Warn("message sanitized", logx.Int("id", n.MessageID), logx.String("kind", string(n.Kind)), logx.String("reason", n.Reason))
		e.publish(eventbus.TypeSanitizeNotice, n)
	}

	var ids []int64
	if e.aud != nil {
		ids = e.aud.Recipients(cfg.Delivery)
	}

	ctx, cancel := context.WithTimeout(runCtx, cfg.tickTimeout())
	defer cancel()

	renders := map[string]string{cat.Language: text}
	delivered, failed := 0, 0
	for _, id := range ids {
		out := text
		if cfg.Localized {
			out = e.localized(renders, cat, msg.ID, e.aud.Language(id))
		}
		if err := e.deliver(ctx, id, out); err != nil {
			failed++
			e.log.Warn("delivery failed", logx.Int64("subscriber", id), logx.Int("id", msg.ID), logx.Err(err))
			continue
		}
		delivered++
	}

	stats := TickStats{
		At:         start,
		MessageID:  msg.ID,
		Language:   cat.Language,
		Recipients: len(ids),
		Delivered:  delivered,
		Failed:     failed,
		Took:       e.now().Sub(start),
	}
	e.mu.Lock()
	e.ticks++
	e.last = stats
	e.mu.Unlock()

	e.log.Debug("tick delivered",
		logx.Int("id", msg.ID),
		logx.Int("recipients", len(ids)),
		logx.Int("delivered", delivered),
		logx.Int("failed", failed),
		logx.Duration("took", stats.Took),
	)
	e.publish(eventbus.TypeTick, TickEvent{MessageID: msg.ID, Recipients: len(ids), Delivered: delivered, Failed: failed})
}

// deliver isolates one subscriber, including a panicking transport.
func (e *Engine) deliver(ctx context.Context, id int64, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return e.tr.Deliver(ctx, id, text)
}

// localized renders message id in lang, once per language per tick. A
// language that is not cached, or lacks the id, gets the base render.
func (e *Engine) localized(renders map[string]string, base *catalog.Catalog, id int, lang string) string {
	lang = catalog.NormalizeLanguage(lang)
	if r, ok := renders[lang]; ok {
		return r
	}
	out := renders[base.Language]
	if e.cats != nil {
		if c, ok := e.cats.Cached(lang); ok {
			if m, ok := c.Lookup(id); ok {
				out, _ = sanitize.Format(c.Prefix, m.ID, m.Text)
			}
		}
	}
	renders[lang] = out
	return out
}
