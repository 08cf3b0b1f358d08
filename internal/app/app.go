package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"versebot/internal/broadcast"
	"versebot/internal/catalog"
	"versebot/internal/config"
	"versebot/internal/eventbus"
	"versebot/internal/notifier"
	rtsup "versebot/internal/runtime/supervisor"
	"versebot/internal/storage"
	"versebot/internal/subscriber"
	kit "versebot/internal/transport"
	telegram "versebot/internal/transport/telegram/adapter"
	"versebot/internal/transport/telegram/router"
	logx "versebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	loader *catalog.Loader
	reg    *subscriber.Registry
	engine *broadcast.Engine
	notif  *notifier.Service
	cmdm   *router.CommandManager

	// ctlMu serializes reload, start and stop requests from commands and
	// the config watcher.
	ctlMu   sync.Mutex
	applied *config.Config
	issues  []ConfigIssue

	updates chan kit.Update
}

type options struct {
	adapter kit.Adapter
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter, e.g. with a fake in tests.
func WithAdapter(ad kit.Adapter) Option {
	return func(o *options) { o.adapter = ad }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.NewService(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.Seconds(cfg.Telegram.PollTimeoutSec, 10*time.Second),
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ad = tg
	}
	if snd, ok := ad.(logx.Sender); ok {
		logSvc.SetSender(snd)
	}

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	loader := catalog.NewLoader(catalog.DirSource{Dir: cfg.Catalog.Dir}, cfg.Catalog.DefaultLanguage, root.With(logx.String("comp", "catalog")))
	if cfg.Catalog.GenerateDefaults {
		ensureCatalogs(loader, cfg.Catalog.Dir, log)
	}

	reg := subscriber.NewRegistry(loader.Default())
	// Configured chats are opted in, so private mode reaches them too.
	for _, id := range cfg.Broadcast.Chats {
		reg.OnConnect(id, false)
		reg.SetSubscribed(id, true)
	}

	tr := broadcast.NewAdapterTransport(ad, mapTransportConfig(cfg.Broadcast), root.With(logx.String("comp", "transport")))
	tr.OnGone = func(id int64) {
		if reg.OnDisconnect(id) {
			log.Info("subscriber unreachable; removed", logx.Int64("chat_id", id))
		}
	}

	engine := broadcast.New(broadcast.Options{
		Transport: tr,
		Audience:  reg,
		Catalogs:  loader,
		Bus:       bus,
		Log:       root.With(logx.String("comp", "broadcast")),
	})

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, root, bus, store)
	notif.SetOwners(cfg.Telegram.OwnerUserIDs)

	cmdm := router.NewCommandManager(root.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)

	_, issues := mapBroadcastConfig(cfg.Broadcast, loader.Default())

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		loader:  loader,
		reg:     reg,
		engine:  engine,
		notif:   notif,
		cmdm:    cmdm,
		applied: cfg,
		issues:  issues,
		updates: make(chan kit.Update, 256),
	}, nil
}

// ensureCatalogs writes the sample catalogs when dir holds no language.
func ensureCatalogs(loader *catalog.Loader, dir string, log logx.Logger) {
	if langs, err := loader.Languages(); err == nil && len(langs) > 0 {
		return
	}
	wrote, err := catalog.Generate(dir)
	if err != nil {
		log.Warn("generating default catalogs failed", logx.String("dir", dir), logx.Err(err))
		return
	}
	if len(wrote) > 0 {
		log.Info("default catalogs generated", logx.Strs("files", wrote))
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Registry() *subscriber.Registry { return a.reg }

func (a *App) Engine() *broadcast.Engine { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validate)

	a.cmdm.SetAppSupervisor(a.sup)
	a.cmdm.SetObserver(a.observe)
	a.cmdm.SetRegistry(a.commands())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	a.ctlMu.Lock()
	cfg := a.applied
	a.ctlMu.Unlock()
	if cfg.Broadcast.Enabled {
		if err := a.StartBroadcast(a.sup.Context()); err != nil {
			// The bot stays up so an owner can fix the catalog and reload.
			a.log.Error("broadcast not started", logx.Err(err))
		}
	} else {
		a.log.Info("broadcast disabled via config")
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				if err := a.apply(c, next); err != nil {
					a.log.Warn("config change not applied; keeping previous broadcast", logx.Err(err))
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// validate is the config manager hook for file reloads.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// Reload re-reads the config file and catalogs, then restarts the
// broadcast with the new snapshot. On failure nothing is committed and the
// running broadcast keeps its previous settings.
func (a *App) Reload(ctx context.Context) error {
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	cfg, err := a.cfgm.Parse()
	if err != nil {
		a.rejected(err)
		return fmt.Errorf("reload config: %w", err)
	}
	if err := a.validate(ctx, cfg); err != nil {
		a.rejected(err)
		return fmt.Errorf("reload config: %w", err)
	}
	if err := a.apply(ctx, cfg); err != nil {
		return err
	}
	a.cfgm.Commit(cfg)
	return nil
}

// apply pushes cfg into every running component. The broadcast part is
// all or nothing: a catalog that fails to load leaves the engine as it was.
func (a *App) apply(ctx context.Context, cfg *config.Config) error {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()

	prev := a.applied
	sections, attrs := config.SummarizeChange(prev, cfg)

	if err := a.applyBroadcastLocked(ctx, cfg, true); err != nil {
		a.rejected(err)
		return err
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.notif.SetOwners(cfg.Telegram.OwnerUserIDs)

	if ncfg, err := mapNotifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled && a.sup != nil:
			a.log.Info("notifier enabled via config")
			a.notif.Start(a.sup.Context())
		}
	}

	for _, s := range sections {
		switch s {
		case "telegram", "storage":
			if restartOnly(prev, cfg, s) {
				a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
			}
		}
	}
	if prev != nil && prev.Catalog.Dir != cfg.Catalog.Dir {
		a.log.Warn("catalog.dir changed; restart required for it to take effect")
	}

	a.applied = cfg
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Time: time.Now(), Data: sections})
	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
	return nil
}

// restartOnly reports whether section s changed in a way Apply cannot pick
// up. Owner ids are live; the token, poll timeout and storage are not.
func restartOnly(prev, next *config.Config, s string) bool {
	if prev == nil {
		return false
	}
	switch s {
	case "telegram":
		return prev.Telegram.Token != next.Telegram.Token || prev.Telegram.PollTimeoutSec != next.Telegram.PollTimeoutSec
	case "storage":
		return true
	}
	return false
}

// applyBroadcastLocked loads the catalog for cfg and swaps it into the
// engine, or stops the engine when cfg disables broadcasting. With reload
// the catalog cache is re-read from disk; otherwise cached catalogs are
// reused so a restarted engine keeps its selection position.
func (a *App) applyBroadcastLocked(ctx context.Context, cfg *config.Config, reload bool) error {
	prevDef := a.loader.Default()
	a.loader.SetDefault(cfg.Catalog.DefaultLanguage)

	bc, issues := mapBroadcastConfig(cfg.Broadcast, a.loader.Default())
	for _, is := range issues {
		a.log.Warn("broadcast config value replaced by default",
			logx.String("field", is.Field), logx.String("value", is.Value), logx.String("reason", is.Reason))
	}

	if !cfg.Broadcast.Enabled {
		if a.engine.Running() {
			a.engine.Stop()
			a.log.Info("broadcast disabled via config")
		}
		a.reg.SetDefaultLanguage(a.loader.Default())
		a.issues = issues
		return nil
	}

	load, swap := a.loader.Load, a.engine.Start
	if reload {
		load, swap = a.loader.Reload, a.engine.Reload
	}
	cat, err := load(bc.Language)
	if err != nil {
		a.loader.SetDefault(prevDef)
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := swap(ctx, bc, cat); err != nil {
		a.loader.SetDefault(prevDef)
		return err
	}
	a.reg.SetDefaultLanguage(a.loader.Default())
	a.issues = issues
	if bc.Localized {
		a.warmLanguages()
	}
	return nil
}

// warmLanguages caches the catalogs subscribers asked for, since localized
// renders only read the cache.
func (a *App) warmLanguages() {
	for _, lang := range a.reg.Languages() {
		if _, err := a.loader.Load(lang); err != nil {
			a.log.Warn("subscriber language unavailable", logx.String("language", lang), logx.Err(err))
		}
	}
}

func (a *App) rejected(err error) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigRejected, Time: time.Now(), Data: err.Error()})
}

// StartBroadcast (re)starts the engine with the applied config, even when
// the config has broadcasting disabled.
func (a *App) StartBroadcast(ctx context.Context) error {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	cfg := *a.applied
	cfg.Broadcast.Enabled = true
	return a.applyBroadcastLocked(ctx, &cfg, false)
}

// StopBroadcast stops the engine. It reports false when it was not running.
func (a *App) StopBroadcast() bool {
	a.ctlMu.Lock()
	defer a.ctlMu.Unlock()
	if !a.engine.Running() {
		return false
	}
	a.engine.Stop()
	return true
}

// Report builds the diagnostic self-check without changing any state.
func (a *App) Report() broadcast.Report {
	a.ctlMu.Lock()
	cfg, issues := a.applied, append([]ConfigIssue(nil), a.issues...)
	a.ctlMu.Unlock()

	st := a.engine.Status()
	if st.Config.Interval == 0 {
		// Never started: describe what a start would use.
		st.Config, _ = mapBroadcastConfig(cfg.Broadcast, a.loader.Default())
	}
	rep := broadcast.BuildReport(st, a.loader, issueStrings(issues))
	connected, subscribed := a.reg.Counts()
	rep.Chats = &broadcast.ChatCounts{Connected: connected, Subscribed: subscribed}
	return rep
}

// Check builds the self-check report for cfgPath without connecting to
// Telegram.
func Check(cfgPath string) (broadcast.Report, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetLogger(logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return broadcast.Report{}, err
	}
	loader := catalog.NewLoader(catalog.DirSource{Dir: cfg.Catalog.Dir}, cfg.Catalog.DefaultLanguage, logx.Nop())
	bc, issues := mapBroadcastConfig(cfg.Broadcast, loader.Default())
	st := broadcast.Status{Config: bc}
	msgs := issueStrings(issues)
	if cat, err := loader.Load(bc.Language); err != nil {
		msgs = append(msgs, "catalog: "+err.Error())
	} else {
		st.Language = cat.Language
		st.CatalogVersion = cat.Version
	}
	return broadcast.BuildReport(st, loader, msgs), nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping+"\nSTATUS=stopping: "+string(reason))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("broadcast", 3*time.Second, func(context.Context) error { a.engine.Stop(); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
