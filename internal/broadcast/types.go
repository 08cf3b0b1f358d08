package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"versebot/internal/catalog"
	"versebot/internal/filter"
	"versebot/internal/selection"
	"versebot/internal/subscriber"
)

var (
	ErrNoCatalog     = errors.New("no catalog")
	ErrInvalidConfig = errors.New("invalid broadcast config")
)

const DefaultTickTimeout = 30 * time.Second

// Config is an immutable snapshot of the broadcast settings.
type Config struct {
	Interval  time.Duration
	Mode      selection.Mode
	Delivery  subscriber.DeliveryMode
	Filter    filter.Set
	Language  string
	Localized bool

	// TickTimeout bounds the delivery fan-out of one tick. Zero means
	// DefaultTickTimeout.
	TickTimeout time.Duration
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrInvalidConfig, c.Interval)
	}
	switch c.Mode {
	case selection.Sequential, selection.FullRandom, selection.ShuffleRandom:
	default:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidConfig, int(c.Mode))
	}
	switch c.Delivery {
	case subscriber.Public, subscriber.Private:
	default:
		return fmt.Errorf("%w: unknown delivery mode %d", ErrInvalidConfig, int(c.Delivery))
	}
	if c.TickTimeout < 0 {
		return fmt.Errorf("%w: tick timeout must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func (c Config) tickTimeout() time.Duration {
	if c.TickTimeout <= 0 {
		return DefaultTickTimeout
	}
	return c.TickTimeout
}

// Transport pushes one rendered message to one subscriber.
type Transport interface {
	Deliver(ctx context.Context, subscriberID int64, text string) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, subscriberID int64, text string) error

func (f TransportFunc) Deliver(ctx context.Context, id int64, text string) error {
	return f(ctx, id, text)
}

// Audience is the delivery gate consulted on each tick.
type Audience interface {
	Recipients(mode subscriber.DeliveryMode) []int64
	Language(id int64) string
}

// CatalogCache serves already loaded catalogs for localized renders.
type CatalogCache interface {
	Cached(lang string) (*catalog.Catalog, bool)
}

// TickStats describes the outcome of the latest tick.
type TickStats struct {
	At         time.Time
	MessageID  int
	Language   string
	Recipients int
	Delivered  int
	Failed     int
	Skipped    bool
	Reason     string
	Took       time.Duration
}

// Status is a read-only view of the engine.
type Status struct {
	Running        bool
	StartedAt      time.Time
	Config         Config
	Language       string
	CatalogVersion uint64
	Eligible       int
	Ticks          uint64
	Last           TickStats
}

// SkipNotice is published when a tick has nothing to send.
type SkipNotice struct {
	Language string `json:"language"`
	Filter   string `json:"filter"`
	Reason   string `json:"reason"`
}

// TickEvent is published after every delivered tick.
type TickEvent struct {
	MessageID  int `json:"message_id"`
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}
