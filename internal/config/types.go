package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Catalog   CatalogConfig   `json:"catalog"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeoutSec is the getUpdates long-poll timeout. 0 means 10s.
	PollTimeoutSec int `json:"poll_timeout_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings to a chat. ChatID 0 means the first owner.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BroadcastConfig is kept raw: invalid values fall back to defaults when the
// app maps it, so a typo never stops the bot.
type BroadcastConfig struct {
	Enabled         bool     `json:"enabled"`
	IntervalSeconds int      `json:"interval_seconds"`
	RandomMode      string   `json:"random_mode"`
	BroadcastMode   string   `json:"broadcast_mode"`
	Language        string   `json:"language"`
	MessageGroups   []string `json:"message_groups,omitempty"`
	TextSearches    []string `json:"text_searches,omitempty"`
	Chats           []int64  `json:"chats,omitempty"`
	Localized       bool     `json:"localized,omitempty"`

	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"` // Go duration string
}

type CatalogConfig struct {
	Dir              string `json:"dir"`
	DefaultLanguage  string `json:"default_language"`
	GenerateDefaults bool   `json:"generate_defaults"`
}

// NotifierConfig controls owner notices. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
}

// StorageConfig controls the audit and dedup store.
//
//	"storage": { "driver": "sqlite", "path": "./versebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// Default is the config written by "versebot init".
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeoutSec: 10},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./versebot.log"},
		},
		Broadcast: BroadcastConfig{
			Enabled:         true,
			IntervalSeconds: 30,
			RandomMode:      "sequential",
			BroadcastMode:   "public",
			Language:        "english",
			RatePerSec:      20,
			RetryMax:        2,
			TickTimeout:     "30s",
		},
		Catalog: CatalogConfig{
			Dir:              "./languages",
			DefaultLanguage:  "english",
			GenerateDefaults: true,
		},
		Notifier: &NotifierConfig{
			Enabled:     true,
			Workers:     1,
			QueueSize:   64,
			RatePerSec:  1,
			RetryMax:    3,
			DedupWindow: "10m",
		},
		Storage: &StorageConfig{Driver: "file", Path: "./versebot_store"},
	}
}

// Validate rejects configs that cannot run at all. Soft problems in the
// broadcast block are reported by the app instead.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for _, id := range c.Telegram.OwnerUserIDs {
		if id == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids: 0 is not a user id"))
			break
		}
	}
	if c.Telegram.PollTimeoutSec < 0 {
		errs = append(errs, errors.New("telegram.poll_timeout_sec: must be >= 0"))
	}
	if _, err := ParseDurationField("broadcast.tick_timeout", c.Broadcast.TickTimeout); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Catalog.Dir) == "" {
		errs = append(errs, errors.New("catalog.dir: required"))
	}
	if n := c.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
