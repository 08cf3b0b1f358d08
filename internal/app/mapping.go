package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"versebot/internal/broadcast"
	"versebot/internal/catalog"
	"versebot/internal/config"
	"versebot/internal/filter"
	"versebot/internal/notifier"
	"versebot/internal/selection"
	"versebot/internal/storage"
	"versebot/internal/subscriber"
	logx "versebot/pkg/logx"
)

const defaultInterval = 30 * time.Second

// ConfigIssue is a broadcast setting that was replaced by its default.
type ConfigIssue struct {
	Field  string
	Value  string
	Reason string
}

func (i ConfigIssue) String() string {
	return fmt.Sprintf("%s: %s (got %q)", i.Field, i.Reason, i.Value)
}

func issueStrings(issues []ConfigIssue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.String())
	}
	return out
}

// mapBroadcastConfig turns the raw broadcast block into an engine snapshot.
// Bad values never fail: each one is replaced by its default and reported.
// Empty values take the default silently.
func mapBroadcastConfig(bc config.BroadcastConfig, defLang string) (broadcast.Config, []ConfigIssue) {
	var issues []ConfigIssue
	add := func(field, value, reason string) {
		issues = append(issues, ConfigIssue{Field: field, Value: value, Reason: reason})
	}

	out := broadcast.Config{
		Interval:  defaultInterval,
		Mode:      selection.Sequential,
		Delivery:  subscriber.Public,
		Localized: bc.Localized,
	}

	if bc.IntervalSeconds > 0 {
		out.Interval = time.Duration(bc.IntervalSeconds) * time.Second
	} else {
		add("broadcast.interval_seconds", strconv.Itoa(bc.IntervalSeconds), "must be positive, using 30")
	}

	if raw := strings.TrimSpace(bc.RandomMode); raw != "" {
		if m, ok := selection.ParseMode(raw); ok {
			out.Mode = m
		} else {
			add("broadcast.random_mode", bc.RandomMode, "unknown mode, using Sequential")
		}
	}

	if raw := strings.TrimSpace(bc.BroadcastMode); raw != "" {
		if d, ok := subscriber.ParseDeliveryMode(raw); ok {
			out.Delivery = d
		} else {
			add("broadcast.broadcast_mode", bc.BroadcastMode, "must be public or private, using public")
		}
	}

	out.Language = catalog.NormalizeLanguage(bc.Language)
	if out.Language == "" {
		out.Language = catalog.NormalizeLanguage(defLang)
	}
	if out.Language == "" {
		out.Language = catalog.DefaultLanguage
	}

	groups, rejected := filter.ParseGroups(bc.MessageGroups)
	for _, g := range rejected {
		add("broadcast.message_groups", g, "expected start-end or start,end with 1 <= start <= end, skipped")
	}
	keywords, blank := filter.ParseKeywords(bc.TextSearches)
	if blank > 0 {
		add("broadcast.text_searches", "", fmt.Sprintf("%d empty search(es) skipped", blank))
	}
	out.Filter = filter.Set{Groups: groups, Keywords: keywords}

	tt, err := config.ParseDurationOrDefault("broadcast.tick_timeout", bc.TickTimeout, broadcast.DefaultTickTimeout)
	if err != nil {
		add("broadcast.tick_timeout", bc.TickTimeout, "invalid duration, using "+broadcast.DefaultTickTimeout.String())
		tt = broadcast.DefaultTickTimeout
	}
	out.TickTimeout = tt

	return out, issues
}

func mapTransportConfig(bc config.BroadcastConfig) broadcast.TransportConfig {
	return broadcast.TransportConfig{
		RatePerSec: bc.RatePerSec,
		RetryMax:   bc.RetryMax,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	storeOn := cfg.Storage != nil && !strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "none") &&
		strings.TrimSpace(cfg.Storage.Driver) != ""
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   window,
		PersistDedup:  storeOn && window > 0,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapLogConfig routes chat logging to the first owner when no chat is set.
func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chatID := lc.Telegram.ChatID
	if chatID == 0 && len(cfg.Telegram.OwnerUserIDs) > 0 {
		chatID = cfg.Telegram.OwnerUserIDs[0]
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled && chatID != 0,
			ChatID:     chatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}
