package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"versebot/internal/catalog"
	"versebot/internal/config"
	"versebot/internal/filter"
	"versebot/internal/selection"
	"versebot/internal/subscriber"
	kit "versebot/internal/transport"
)

const owner = int64(42)

type reply struct {
	chat int64
	text string
}

type fakeAdapter struct {
	mu  sync.Mutex
	out chan<- kit.Update

	replies chan reply
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{replies: make(chan reply, 64)} }

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.replies <- reply{chat: to.ChatID, text: text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) send(chat, from int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, FromUsername: "tester", Text: text}}
}

// ask sends a command and returns the reply to that chat.
func (f *fakeAdapter) ask(t *testing.T, chat, from int64, text string) string {
	t.Helper()
	f.send(chat, from, text)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-f.replies:
			if r.chat == chat {
				return r.text
			}
		case <-deadline:
			t.Fatalf("no reply to %q", text)
		}
	}
}

type testEnv struct {
	dir     string
	cfgPath string
}

func writeConfig(t *testing.T, env testEnv, broadcast string) {
	t.Helper()
	body := fmt.Sprintf(`{
  "telegram": {"token": "test", "owner_user_ids": [%d]},
  "logging": {"level": "error", "console": false},
  "broadcast": %s,
  "catalog": {"dir": %q, "default_language": "english", "generate_defaults": true},
  "notifier": {"enabled": false},
  "storage": {"driver": "file", "path": %q}
}`, owner, broadcast, filepath.Join(env.dir, "languages"), filepath.Join(env.dir, "store"))
	if err := os.WriteFile(env.cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

const publicBroadcast = `{"enabled": true, "interval_seconds": 3600, "random_mode": "sequential", "broadcast_mode": "public", "language": "english"}`

func newTestApp(t *testing.T, broadcast string) (*App, *fakeAdapter, testEnv) {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{dir: dir, cfgPath: filepath.Join(dir, "config.json")}
	writeConfig(t, env, broadcast)

	fa := newFakeAdapter()
	a, err := New(env.cfgPath, WithAdapter(fa))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, fa, env
}

func closeUnstarted(a *App) {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
}

func startApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, StopAppStop)
		cancel()
	})
}

func TestMapBroadcastConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		in         config.BroadcastConfig
		want       func(c *wantCfg)
		wantIssues []string
	}{
		{
			name: "defaults for empty values",
			in:   config.BroadcastConfig{IntervalSeconds: 0},
			want: func(*wantCfg) {},
			wantIssues: []string{
				"broadcast.interval_seconds",
			},
		},
		{
			name: "valid values",
			in: config.BroadcastConfig{
				IntervalSeconds: 45,
				RandomMode:      "shuffle_random",
				BroadcastMode:   "Private",
				Language:        "T-Chinese",
				MessageGroups:   []string{"5,10", "1-3"},
				TextSearches:    []string{"Lord"},
				Localized:       true,
				TickTimeout:     "5s",
			},
			want: func(c *wantCfg) {
				c.Interval = 45 * time.Second
				c.Mode = selection.ShuffleRandom
				c.Delivery = subscriber.Private
				c.Language = "t-chinese"
				c.Groups = []filter.Range{{Start: 5, End: 10}, {Start: 1, End: 3}}
				c.Keywords = []string{"Lord"}
				c.Localized = true
				c.TickTimeout = 5 * time.Second
			},
		},
		{
			name: "bad values replaced",
			in: config.BroadcastConfig{
				IntervalSeconds: -5,
				RandomMode:      "chaotic",
				BroadcastMode:   "secret",
				MessageGroups:   []string{"10-5", "x", "2-4"},
				TextSearches:    []string{" ", "grace"},
			},
			want: func(c *wantCfg) {
				c.Groups = []filter.Range{{Start: 2, End: 4}}
				c.Keywords = []string{"grace"}
			},
			wantIssues: []string{
				"broadcast.interval_seconds",
				"broadcast.random_mode",
				"broadcast.broadcast_mode",
				"broadcast.message_groups",
				"broadcast.message_groups",
				"broadcast.text_searches",
			},
		},
	}

	for _, tc := range cases {
		got, issues := mapBroadcastConfig(tc.in, "english")

		want := wantCfg{
			Interval:    defaultInterval,
			Mode:        selection.Sequential,
			Delivery:    subscriber.Public,
			Language:    "english",
			TickTimeout: 30 * time.Second,
		}
		tc.want(&want)
		gotView := wantCfg{
			Interval:    got.Interval,
			Mode:        got.Mode,
			Delivery:    got.Delivery,
			Language:    got.Language,
			Groups:      got.Filter.Groups,
			Keywords:    got.Filter.Keywords,
			Localized:   got.Localized,
			TickTimeout: got.TickTimeout,
		}
		if diff := cmp.Diff(want, gotView, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%s: config (-want +got):\n%s", tc.name, diff)
		}

		var fields []string
		for _, is := range issues {
			fields = append(fields, is.Field)
		}
		if diff := cmp.Diff(tc.wantIssues, fields, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%s: issues (-want +got):\n%s", tc.name, diff)
		}
		if err := got.Validate(); err != nil {
			t.Fatalf("%s: mapped config must always validate: %v", tc.name, err)
		}
	}
}

type wantCfg struct {
	Interval    time.Duration
	Mode        selection.Mode
	Delivery    subscriber.DeliveryMode
	Language    string
	Groups      []filter.Range
	Keywords    []string
	Localized   bool
	TickTimeout time.Duration
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file", sc: &config.StorageConfig{Driver: "file", Path: "./x"}, enabled: true},
		{name: "sqlite", sc: &config.StorageConfig{Driver: "SQLite", Path: "./x.db", BusyTimeout: "2s"}, enabled: true},
		{name: "sqlite without path", sc: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", sc: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		_, enabled, err := mapStorageConfig(&config.Config{Storage: tc.sc})
		if (err != nil) != tc.wantErr || enabled != tc.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tc.name, enabled, err)
		}
	}
}

func TestMapLogConfigDefaultsChatToOwner(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Telegram.OwnerUserIDs = []int64{7, 8}
	cfg.Logging.Telegram.Enabled = true
	lc := mapLogConfig(cfg)
	if !lc.Chat.Enabled || lc.Chat.ChatID != 7 {
		t.Fatalf("chat sink = %+v, want enabled for owner 7", lc.Chat)
	}
	cfg.Telegram.OwnerUserIDs = nil
	if lc := mapLogConfig(cfg); lc.Chat.Enabled {
		t.Fatal("chat sink without a target must stay off")
	}
}

func TestObserveMembership(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, publicBroadcast)
	defer closeUnstarted(a)

	a.observe(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 1, FromID: 1, Text: "hi"}})
	a.observe(context.Background(), kit.Update{Kind: kit.UpdateJoined, Member: &kit.MemberChange{ChatID: -100, IsGroup: true}})
	a.observe(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -200, FromIsBot: true, IsGroup: true}})
	if diff := cmp.Diff([]int64{-100, 1}, a.reg.Recipients(subscriber.Public)); diff != "" {
		t.Fatalf("recipients (-want +got):\n%s", diff)
	}

	a.observe(context.Background(), kit.Update{Kind: kit.UpdateLeft, Member: &kit.MemberChange{ChatID: 1}})
	if _, ok := a.reg.Get(1); ok {
		t.Fatal("left chat must be forgotten")
	}
}

func TestSeededChats(t *testing.T) {
	t.Parallel()

	a, _, _ := newTestApp(t, `{"enabled": false, "interval_seconds": 60, "chats": [5, 6]}`)
	defer closeUnstarted(a)

	for _, mode := range []subscriber.DeliveryMode{subscriber.Public, subscriber.Private} {
		if diff := cmp.Diff([]int64{5, 6}, a.reg.Recipients(mode)); diff != "" {
			t.Fatalf("seeded %s recipients (-want +got):\n%s", mode, diff)
		}
	}
	if !strings.Contains(a.Report().Render(), "- chats: 2 connected, 2 subscribed") {
		t.Fatalf("report lacks chat counts:\n%s", a.Report().Render())
	}
}

func TestUserCommands(t *testing.T) {
	t.Parallel()

	a, fa, _ := newTestApp(t, publicBroadcast)
	startApp(t, a)
	if !a.engine.Running() {
		t.Fatal("broadcast should start from config")
	}

	if got := fa.ask(t, 100, 100, "/start"); !strings.Contains(got, "Welcome") {
		t.Fatalf("/start reply %q", got)
	}
	if _, ok := a.reg.Get(100); !ok {
		t.Fatal("/start must register the chat")
	}
	if got := fa.ask(t, 100, 100, "/bible"); !strings.Contains(got, "public mode") {
		t.Fatalf("/bible in public mode: %q", got)
	}
	if got := fa.ask(t, 100, 100, "/bible language list"); got != "Available languages: english, t-chinese" {
		t.Fatalf("language list: %q", got)
	}
	if got := fa.ask(t, 100, 100, "/bible language T-Chinese"); got != "Language set to t-chinese." {
		t.Fatalf("set language: %q", got)
	}
	if got := fa.ask(t, 100, 100, "/bible language klingon"); got != "Error: language klingon not found. Set to english." {
		t.Fatalf("fallback language: %q", got)
	}
	if got := fa.ask(t, 100, 100, "/bible_language t-chinese"); got != "Language set to t-chinese." {
		t.Fatalf("alias: %q", got)
	}

	got := fa.ask(t, 100, 100, "/verse 1")
	if !strings.Contains(got, "100Bible 1") || !strings.Contains(got, "神愛世人") || strings.ContainsAny(got, "\x01\x04\x0B") {
		t.Fatalf("/verse 1 = %q", got)
	}
	if got := fa.ask(t, 100, 100, "/verse 999"); got != "Verse 999 not found." {
		t.Fatalf("/verse 999 = %q", got)
	}
	if got := fa.ask(t, 100, 100, "/verse"); !strings.Contains(got, "100Bible") {
		t.Fatalf("/verse = %q", got)
	}
}

func TestPrivateToggle(t *testing.T) {
	t.Parallel()

	a, fa, _ := newTestApp(t, `{"enabled": true, "interval_seconds": 3600, "broadcast_mode": "private", "language": "english"}`)
	startApp(t, a)

	if got := fa.ask(t, 7, 7, "/bible"); got != "100Bible messages enabled." {
		t.Fatalf("first toggle: %q", got)
	}
	if !a.reg.IsEligible(7, subscriber.Private) {
		t.Fatal("toggle should subscribe")
	}
	if got := fa.ask(t, 7, 7, "/bible"); got != "100Bible messages disabled." {
		t.Fatalf("second toggle: %q", got)
	}
}

func TestAdminCommands(t *testing.T) {
	t.Parallel()

	a, fa, env := newTestApp(t, publicBroadcast)
	startApp(t, a)

	if got := fa.ask(t, 9, 9, "/bibleadmin"); got != "unauthorized" {
		t.Fatalf("non-owner: %q", got)
	}
	report := fa.ask(t, owner, owner, "/bibleadmin")
	for _, want := range []string{"self-check report", "english: 12 messages", "t-chinese: 12 messages", "status: running"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report %q missing %q", report, want)
		}
	}

	if got := fa.ask(t, owner, owner, "/bibleadmin stop"); got != "Broadcast stopped." {
		t.Fatalf("stop: %q", got)
	}
	if a.engine.Running() {
		t.Fatal("engine still running after stop")
	}
	if got := fa.ask(t, owner, owner, "/bibleadmin stop"); got != "Broadcast already stopped." {
		t.Fatalf("second stop: %q", got)
	}
	if got := fa.ask(t, owner, owner, "/bibleadmin start"); got != "Broadcast started." {
		t.Fatalf("start: %q", got)
	}

	writeConfig(t, env, `{"enabled": true, "interval_seconds": 120, "broadcast_mode": "private", "random_mode": "fullrandom", "language": "t-chinese"}`)
	if got := fa.ask(t, owner, owner, "/bibleadmin reload"); got != "100Bible reloaded successfully." {
		t.Fatalf("reload: %q", got)
	}
	st := a.engine.Status()
	if st.Config.Delivery != subscriber.Private || st.Config.Mode != selection.FullRandom || st.Language != "t-chinese" || st.Config.Interval != 2*time.Minute {
		t.Fatalf("status after reload: %+v", st)
	}

	audit := fa.ask(t, owner, owner, "/bibleadmin audit")
	for _, want := range []string{"reload", "start", "stop", "@tester"} {
		if !strings.Contains(audit, want) {
			t.Fatalf("audit %q missing %q", audit, want)
		}
	}
}

func TestReloadKeepsPreviousOnCatalogFailure(t *testing.T) {
	t.Parallel()

	a, _, env := newTestApp(t, publicBroadcast)
	startApp(t, a)
	before := a.engine.Status()

	if err := os.Remove(filepath.Join(env.dir, "languages", "english.json")); err != nil {
		t.Fatalf("remove catalog: %v", err)
	}
	writeConfig(t, env, `{"enabled": true, "interval_seconds": 90, "broadcast_mode": "private", "language": "english"}`)
	if err := a.Reload(context.Background()); err == nil {
		t.Fatal("reload without the default catalog should fail")
	}

	after := a.engine.Status()
	if !after.Running || after.CatalogVersion != before.CatalogVersion || after.Config.Interval != before.Config.Interval || after.Config.Delivery != subscriber.Public {
		t.Fatalf("engine changed after failed reload: before %+v after %+v", before, after)
	}
	if a.loader.Default() != catalog.DefaultLanguage {
		t.Fatalf("loader default = %q", a.loader.Default())
	}
}

func TestStopStartKeepsCatalog(t *testing.T) {
	t.Parallel()

	a, _, env := newTestApp(t, publicBroadcast)
	startApp(t, a)
	before := a.engine.Status()
	cached, ok := a.loader.Cached("english")
	if !ok {
		t.Fatal("english not cached after start")
	}

	if !a.StopBroadcast() {
		t.Fatal("StopBroadcast reported not running")
	}
	// A restart must serve the cached catalog, not the file.
	if err := os.Remove(filepath.Join(env.dir, "languages", "english.json")); err != nil {
		t.Fatalf("remove catalog: %v", err)
	}
	if err := a.StartBroadcast(context.Background()); err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	after := a.engine.Status()
	if !after.Running || after.CatalogVersion != before.CatalogVersion {
		t.Fatalf("catalog version before=%d after=%d running=%v", before.CatalogVersion, after.CatalogVersion, after.Running)
	}
	if again, _ := a.loader.Cached("english"); again != cached {
		t.Fatal("restart replaced the cached catalog")
	}
}

func TestCheckReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	env := testEnv{dir: dir, cfgPath: filepath.Join(dir, "config.json")}
	writeConfig(t, env, `{"enabled": true, "interval_seconds": 0, "random_mode": "shufflerandom", "language": "english", "message_groups": ["1-3"]}`)
	if _, err := catalog.Generate(filepath.Join(dir, "languages")); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	r, err := Check(env.cfgPath)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	out := r.Render()
	for _, want := range []string{"1 issue(s)", "broadcast.interval_seconds", "random mode: ShuffleRandom", "filter: groups=1-3", "english: 12 messages", "status: stopped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report %q missing %q", out, want)
		}
	}
	if r.Status.Running {
		t.Fatal("check must not start anything")
	}
}
