package notifier

import (
	"context"
	"fmt"

	"versebot/internal/broadcast"
	"versebot/internal/eventbus"
	"versebot/internal/sanitize"
	logx "versebot/pkg/logx"
)

// watchEvents turns engine warnings into owner notices until ctx is done.
// Identical notices collapse inside the dedup window, so a catalog with a
// bad template does not page the owners on every tick.
func (s *Service) watchEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			text, prio, ok := noticeFor(ev)
			if !ok {
				continue
			}
			if err := s.NotifyOwners(ctx, prio, text); err != nil {
				s.log.Debug("owner notice not queued", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

func noticeFor(ev eventbus.Event) (text string, priority int, ok bool) {
	switch ev.Type {
	case eventbus.TypeNoEligible:
		n, ok := ev.Data.(broadcast.SkipNotice)
		if !ok {
			return "", 0, false
		}
		filter := n.Filter
		if filter == "" {
			filter = "none"
		}
		return fmt.Sprintf("broadcast skipped: no eligible messages (language %s, filter %s): %s", n.Language, filter, n.Reason), 7, true
	case eventbus.TypeSanitizeNotice:
		n, ok := ev.Data.(sanitize.Notice)
		if !ok {
			return "", 0, false
		}
		return fmt.Sprintf("message %d: %s", n.MessageID, n.Reason), 5, true
	case eventbus.TypeConfigRejected:
		reason, ok := ev.Data.(string)
		if !ok {
			return "", 0, false
		}
		return "config reload rejected, previous settings kept: " + reason, 8, true
	}
	return "", 0, false
}
