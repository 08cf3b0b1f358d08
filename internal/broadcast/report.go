package broadcast

import (
	"fmt"
	"strings"
	"time"

	"versebot/internal/catalog"
)

// LanguageChecker validates language sources without caching them.
type LanguageChecker interface {
	Languages() ([]string, error)
	Check(lang string) catalog.Check
}

// Report is the diagnostic self-check. Building it never mutates state.
type Report struct {
	GeneratedAt  time.Time
	Status       Status
	Languages    []catalog.Check
	LanguagesErr error
	Issues       []string

	// Chats is nil when no registry backs the report.
	Chats *ChatCounts
}

type ChatCounts struct {
	Connected  int
	Subscribed int
}

func BuildReport(st Status, lc LanguageChecker, issues []string) Report {
	r := Report{
		GeneratedAt: time.Now(),
		Status:      st,
		Issues:      append([]string(nil), issues...),
	}
	if lc == nil {
		return r
	}
	langs, err := lc.Languages()
	if err != nil {
		r.LanguagesErr = err
		return r
	}
	for _, l := range langs {
		r.Languages = append(r.Languages, lc.Check(l))
	}
	return r
}

// OK reports whether every known language is usable and the config had no
// issues.
func (r Report) OK() bool {
	if r.LanguagesErr != nil || len(r.Issues) > 0 || len(r.Languages) == 0 {
		return false
	}
	for _, c := range r.Languages {
		if !c.OK() {
			return false
		}
	}
	return true
}

func (r Report) Render() string {
	var b strings.Builder
	cfg := r.Status.Config

	b.WriteString("versebot self-check report:\n")
	if len(r.Issues) == 0 {
		b.WriteString("- config: valid\n")
	} else {
		fmt.Fprintf(&b, "- config: %d issue(s), defaults applied\n", len(r.Issues))
		for _, is := range r.Issues {
			b.WriteString("  - " + is + "\n")
		}
	}

	b.WriteString("- languages:\n")
	switch {
	case r.LanguagesErr != nil:
		b.WriteString("  - unavailable: " + r.LanguagesErr.Error() + "\n")
	case len(r.Languages) == 0:
		b.WriteString("  - none found\n")
	}
	for _, c := range r.Languages {
		b.WriteString("  - " + c.Language + ": " + describeCheck(c) + "\n")
	}

	fmt.Fprintf(&b, "- broadcast interval: %s\n", cfg.Interval)
	fmt.Fprintf(&b, "- random mode: %s\n", cfg.Mode)
	fmt.Fprintf(&b, "- broadcast mode: %s\n", cfg.Delivery)
	fmt.Fprintf(&b, "- language: %s\n", orDash(r.Status.Language, cfg.Language))
	fmt.Fprintf(&b, "- filter: %s\n", cfg.Filter)
	if cfg.Localized {
		b.WriteString("- localized render: on\n")
	}

	if r.Status.Running {
		fmt.Fprintf(&b, "- status: running, %d eligible message(s)\n", r.Status.Eligible)
	} else {
		b.WriteString("- status: stopped\n")
	}
	if r.Chats != nil {
		fmt.Fprintf(&b, "- chats: %d connected, %d subscribed\n", r.Chats.Connected, r.Chats.Subscribed)
	}
	if last := r.Status.Last; !last.At.IsZero() {
		if last.Skipped {
			fmt.Fprintf(&b, "- last tick: %s skipped (%s)\n", last.At.Format(time.RFC3339), last.Reason)
		} else {
			fmt.Fprintf(&b, "- last tick: %s message %d, %d/%d delivered\n",
				last.At.Format(time.RFC3339), last.MessageID, last.Delivered, last.Recipients)
		}
		fmt.Fprintf(&b, "- ticks: %d\n", r.Status.Ticks)
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeCheck(c catalog.Check) string {
	if !c.Found {
		return "not found"
	}
	if !c.Parsed {
		return "invalid: " + c.Err.Error()
	}
	d := c.Diagnosis
	parts := []string{fmt.Sprintf("%d messages", d.Messages)}
	if d.EmptyText > 0 {
		parts = append(parts, "has empty texts")
	} else {
		parts = append(parts, "no empty texts")
	}
	if d.InvalidIDs == 0 && d.Duplicates == 0 {
		parts = append(parts, "valid ids, no duplicates")
	} else {
		parts = append(parts, "invalid ids or duplicates")
	}
	if !d.HasPrefix {
		parts = append(parts, "missing prefix")
	} else if len(d.MissingSlots) > 0 {
		parts = append(parts, "prefix lacks "+strings.Join(d.MissingSlots, " and "))
	}
	return strings.Join(parts, ", ")
}

func orDash(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "-"
}
