// Package filter narrows a catalog down to the messages eligible for
// broadcast, by id range groups and keyword searches.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"versebot/internal/catalog"
)

// Range is an inclusive id range with 1 <= Start <= End.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Contains(id int) bool { return id >= r.Start && id <= r.End }

func (r Range) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Set is an immutable filter. Eligible messages are those whose id falls
// in any group OR whose text contains any keyword. An empty Set admits
// every message.
type Set struct {
	Groups   []Range  `json:"groups,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// New builds a Set from raw config strings. Malformed groups and blank
// keywords are dropped and returned as rejected entries.
func New(groups, keywords []string) (Set, []string) {
	gs, rejected := ParseGroups(groups)
	ks, blank := ParseKeywords(keywords)
	for i := 0; i < blank; i++ {
		rejected = append(rejected, "")
	}
	return Set{Groups: gs, Keywords: ks}, rejected
}

// ParseGroups accepts "start-end" and "start,end".
func ParseGroups(raw []string) (groups []Range, rejected []string) {
	seen := map[Range]struct{}{}
	for _, g := range raw {
		r, ok := parseRange(g)
		if !ok {
			rejected = append(rejected, g)
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		groups = append(groups, r)
	}
	return groups, rejected
}

func parseRange(s string) (Range, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "-")
	a, b, ok := strings.Cut(s, "-")
	if !ok || !digits(a) || !digits(b) {
		return Range{}, false
	}
	start, err1 := strconv.Atoi(a)
	end, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || start < 1 || end < start {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseKeywords drops whitespace-only entries and duplicates. It returns
// the kept keywords and how many blanks were dropped.
func ParseKeywords(raw []string) ([]string, int) {
	var out []string
	blank := 0
	seen := map[string]struct{}{}
	for _, k := range raw {
		if strings.TrimSpace(k) == "" {
			blank++
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, blank
}

func (s Set) Empty() bool { return len(s.Groups) == 0 && len(s.Keywords) == 0 }

// Key is a canonical string identifying the filter's semantics.
func (s Set) Key() string {
	gs := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		gs = append(gs, g.String())
	}
	sort.Strings(gs)
	fold := cases.Fold()
	ks := make([]string, 0, len(s.Keywords))
	for _, k := range s.Keywords {
		ks = append(ks, strconv.Quote(fold.String(k)))
	}
	sort.Strings(ks)
	return "g[" + strings.Join(gs, ",") + "]k[" + strings.Join(ks, ",") + "]"
}

func (s Set) String() string {
	if s.Empty() {
		return "all messages"
	}
	var parts []string
	if len(s.Groups) > 0 {
		gs := make([]string, 0, len(s.Groups))
		for _, g := range s.Groups {
			gs = append(gs, g.String())
		}
		parts = append(parts, "groups="+strings.Join(gs, ","))
	}
	if len(s.Keywords) > 0 {
		parts = append(parts, "searches="+strings.Join(s.Keywords, ","))
	}
	return strings.Join(parts, " ")
}

// Resolve returns the eligible messages of c ordered by id ascending.
// Keyword matching uses Unicode case folding.
func Resolve(c *catalog.Catalog, s Set) []catalog.Message {
	if c == nil {
		return nil
	}
	fold := cases.Fold()
	keys := make([]string, 0, len(s.Keywords))
	for _, k := range s.Keywords {
		keys = append(keys, fold.String(k))
	}

	out := make([]catalog.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if s.Empty() || inGroups(m.ID, s.Groups) || containsAny(fold.String(m.Text), keys) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inGroups(id int, gs []Range) bool {
	for _, g := range gs {
		if g.Contains(id) {
			return true
		}
	}
	return false
}

func containsAny(text string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
