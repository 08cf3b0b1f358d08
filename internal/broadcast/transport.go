package broadcast

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"versebot/internal/sanitize"
	kit "versebot/internal/transport"
	logx "versebot/pkg/logx"
)

// TextSender is the part of the chat adapter used for delivery.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type TransportConfig struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// AdapterTransport delivers through a chat adapter with a shared rate limit
// and bounded retry. Control codes are stripped because the chat client
// cannot render them.
type AdapterTransport struct {
	snd TextSender
	cfg TransportConfig
	lim *rate.Limiter
	log logx.Logger

	// OnGone is called when the chat reports the subscriber as unreachable.
	OnGone func(id int64)
}

func NewAdapterTransport(snd TextSender, cfg TransportConfig, log logx.Logger) *AdapterTransport {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &AdapterTransport{
		snd: snd,
		cfg: cfg,
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log: log,
	}
}

func (t *AdapterTransport) Deliver(ctx context.Context, id int64, text string) error {
	plain := sanitize.Plain(text)
	if plain == "" {
		return nil
	}
	to := kit.ChatTarget{ChatID: id}
	maxAttempts := 1 + t.cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := t.lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
		_, err := t.snd.SendText(callCtx, to, plain, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, kit.ErrChatUnavailable) {
			if t.OnGone != nil {
				t.OnGone(id)
			}
			return err
		}
		t.log.Debug("deliver failed", logx.Int64("subscriber", id), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		timer := time.NewTimer(retryDelay(t.cfg, attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped at
// RetryMaxDelay.
func retryDelay(cfg TransportConfig, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
