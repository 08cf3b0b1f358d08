package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

var (
	ErrNotFound = errors.New("catalog not found")
	ErrInvalid  = errors.New("catalog invalid")
)

// LoadError carries the language id and the kind of failure.
// Callers branch with errors.Is(err, ErrNotFound) / errors.Is(err, ErrInvalid).
type LoadError struct {
	Language string
	Kind     error
	Reason   string
}

func (e *LoadError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("language %q: %v", e.Language, e.Kind)
	}
	return fmt.Sprintf("language %q: %v: %s", e.Language, e.Kind, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Kind }

// Message is one catalog entry. The JSON names match the language files
// shipped with earlier releases.
type Message struct {
	ID   int    `json:"Id"`
	Text string `json:"Text"`
}

// Document is the decoded form of a language file.
type Document struct {
	Prefix   string    `json:"MessagePrefix"`
	Messages []Message `json:"Messages"`
}

// Catalog is an immutable, validated set of messages for one language.
// A reload builds a new Catalog; existing ones are never mutated.
type Catalog struct {
	Language string
	Prefix   string
	Messages []Message

	// Version is unique per constructed catalog within the process.
	Version uint64

	byID map[int]int
}

var versionSeq atomic.Uint64

// New validates doc and builds a catalog for lang.
func New(lang string, doc Document) (*Catalog, error) {
	d := Diagnose(doc)
	if reason := d.Problem(); reason != "" {
		return nil, &LoadError{Language: lang, Kind: ErrInvalid, Reason: reason}
	}
	msgs := append([]Message(nil), doc.Messages...)
	byID := make(map[int]int, len(msgs))
	for i, m := range msgs {
		byID[m.ID] = i
	}
	return &Catalog{
		Language: lang,
		Prefix:   doc.Prefix,
		Messages: msgs,
		Version:  versionSeq.Add(1),
		byID:     byID,
	}, nil
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Messages)
}

// Lookup returns the message with the given id.
func (c *Catalog) Lookup(id int) (Message, bool) {
	if c == nil {
		return Message{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	return c.Messages[i], true
}

// Diagnosis summarizes the health of a language document.
type Diagnosis struct {
	Messages   int
	EmptyText  int
	InvalidIDs int
	Duplicates int
	HasPrefix  bool

	// MissingSlots lists the "{0}" (id) and "{1}" (text) slots the prefix
	// template lacks.
	MissingSlots []string
}

var prefixSlots = []string{"{0}", "{1}"}

func Diagnose(doc Document) Diagnosis {
	d := Diagnosis{
		Messages:  len(doc.Messages),
		HasPrefix: strings.TrimSpace(doc.Prefix) != "",
	}
	if d.HasPrefix {
		for _, slot := range prefixSlots {
			if !strings.Contains(doc.Prefix, slot) {
				d.MissingSlots = append(d.MissingSlots, slot)
			}
		}
	}
	seen := make(map[int]struct{}, len(doc.Messages))
	for _, m := range doc.Messages {
		if m.ID < 1 {
			d.InvalidIDs++
		}
		if m.Text == "" {
			d.EmptyText++
		}
		if _, dup := seen[m.ID]; dup {
			d.Duplicates++
		}
		seen[m.ID] = struct{}{}
	}
	return d
}

// Problem returns a short reason when the document cannot be used, or "".
func (d Diagnosis) Problem() string {
	switch {
	case !d.HasPrefix:
		return "empty message prefix"
	case len(d.MissingSlots) > 0:
		return "message prefix lacks " + strings.Join(d.MissingSlots, " and ")
	case d.Messages == 0:
		return "no messages"
	case d.InvalidIDs > 0:
		return fmt.Sprintf("%d message(s) with id < 1", d.InvalidIDs)
	case d.EmptyText > 0:
		return fmt.Sprintf("%d message(s) with empty text", d.EmptyText)
	case d.Duplicates > 0:
		return fmt.Sprintf("%d duplicate id(s)", d.Duplicates)
	}
	return ""
}

// NormalizeLanguage maps user input and file names ("English.json") to a
// language id ("english").
func NormalizeLanguage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		s = strings.TrimSuffix(s, ext)
	}
	return s
}
