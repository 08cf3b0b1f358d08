package config

import (
	"slices"
	"strings"

	logx "versebot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe fields
// for logging. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeoutSec != nt.PollTimeoutSec || !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.poll_timeout_sec", nt.PollTimeoutSec),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	ob, nb := oldCfg.Broadcast, newCfg.Broadcast
	if !broadcastEqual(ob, nb) {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.Bool("broadcast.enabled", nb.Enabled),
			logx.Int("broadcast.interval_seconds", nb.IntervalSeconds),
			logx.String("broadcast.random_mode", nb.RandomMode),
			logx.String("broadcast.broadcast_mode", nb.BroadcastMode),
			logx.String("broadcast.language", nb.Language),
			logx.Strs("broadcast.message_groups", nb.MessageGroups),
			logx.Int("broadcast.text_searches", len(nb.TextSearches)),
		)
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		fields = append(fields,
			logx.String("catalog.dir", newCfg.Catalog.Dir),
			logx.String("catalog.default_language", newCfg.Catalog.DefaultLanguage),
		)
	}

	if !ptrEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			fields = append(fields, logx.Bool("notifier.enabled", n.Enabled), logx.String("notifier.dedup_window", n.DedupWindow))
		}
	}

	if !ptrEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			fields = append(fields, logx.String("storage.driver", strings.ToLower(s.Driver)), logx.String("storage.path", s.Path))
		}
	}

	return changed, fields
}

func broadcastEqual(a, b BroadcastConfig) bool {
	return a.Enabled == b.Enabled &&
		a.IntervalSeconds == b.IntervalSeconds &&
		a.RandomMode == b.RandomMode &&
		a.BroadcastMode == b.BroadcastMode &&
		a.Language == b.Language &&
		slices.Equal(a.MessageGroups, b.MessageGroups) &&
		slices.Equal(a.TextSearches, b.TextSearches) &&
		slices.Equal(a.Chats, b.Chats) &&
		a.Localized == b.Localized &&
		a.RatePerSec == b.RatePerSec &&
		a.RetryMax == b.RetryMax &&
		a.TickTimeout == b.TickTimeout
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
