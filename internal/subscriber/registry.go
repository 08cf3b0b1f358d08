// Package subscriber tracks who is connected, who opted in, and which
// language each subscriber prefers. State lives in memory only.
package subscriber

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DeliveryMode decides which subscribers a broadcast reaches.
type DeliveryMode int

const (
	// Public reaches every connected, non-automated subscriber.
	Public DeliveryMode = iota
	// Private reaches only subscribers that opted in.
	Private
)

func (m DeliveryMode) String() string {
	if m == Private {
		return "private"
	}
	return "public"
}

func ParseDeliveryMode(s string) (DeliveryMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return Public, true
	case "private":
		return Private, true
	}
	return Public, false
}

type Entry struct {
	ID          int64
	Subscribed  bool
	Language    string
	Automated   bool
	ConnectedAt time.Time
}

// LanguageResolver validates a language id and reports the language that
// will actually be served (the default one after a fallback).
type LanguageResolver interface {
	Resolve(lang string) (string, error)
}

// Registry is safe for concurrent use. Each operation is atomic for a
// single entry; there is no cross-entry consistency.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	defLang string
	now     func() time.Time
}

func NewRegistry(defaultLang string) *Registry {
	return &Registry{
		entries: map[int64]*Entry{},
		defLang: defaultLang,
		now:     time.Now,
	}
}

func (r *Registry) SetDefaultLanguage(lang string) {
	r.mu.Lock()
	r.defLang = lang
	r.mu.Unlock()
}

func (r *Registry) DefaultLanguage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defLang
}

// getLocked returns the entry for id, creating it when missing.
func (r *Registry) getLocked(id int64) *Entry {
	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id, ConnectedAt: r.now()}
		r.entries[id] = e
	}
	return e
}

// OnConnect registers id. Calling it again only refreshes the automated flag.
func (r *Registry) OnConnect(id int64, automated bool) {
	r.mu.Lock()
	e := r.getLocked(id)
	e.Automated = automated
	r.mu.Unlock()
}

// OnDisconnect forgets id entirely.
func (r *Registry) OnDisconnect(id int64) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	return ok
}

// Toggle flips the opt-in flag and returns the new value.
func (r *Registry) Toggle(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.getLocked(id)
	e.Subscribed = !e.Subscribed
	return e.Subscribed
}

// SetSubscribed sets the opt-in flag explicitly.
func (r *Registry) SetSubscribed(id int64, on bool) {
	r.mu.Lock()
	r.getLocked(id).Subscribed = on
	r.mu.Unlock()
}

// SetLanguage validates lang through res and records the language that
// will be served. On a resolver error the default language is recorded and
// the error returned. It never reloads the broadcast engine.
func (r *Registry) SetLanguage(id int64, lang string, res LanguageResolver) (string, error) {
	got, err := res.Resolve(lang)
	if err != nil || got == "" {
		got = r.DefaultLanguage()
	}
	r.mu.Lock()
	r.getLocked(id).Language = got
	r.mu.Unlock()
	return got, err
}

// Language returns the preferred language of id, or the default.
func (r *Registry) Language(id int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok && e.Language != "" {
		return e.Language
	}
	return r.defLang
}

func (r *Registry) Get(id int64) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IsEligible is the delivery gate for one subscriber.
func (r *Registry) IsEligible(id int64, mode DeliveryMode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && eligible(e, mode)
}

func eligible(e *Entry, mode DeliveryMode) bool {
	if mode == Private {
		return e.Subscribed
	}
	return !e.Automated
}

// Recipients returns the eligible ids in ascending order.
func (r *Registry) Recipients(mode DeliveryMode) []int64 {
	r.mu.RLock()
	out := make([]int64, 0, len(r.entries))
	for id, e := range r.entries {
		if eligible(e, mode) {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Counts returns (connected, subscribed) totals.
func (r *Registry) Counts() (connected, subscribed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		connected++
		if e.Subscribed {
			subscribed++
		}
	}
	return connected, subscribed
}

// Languages returns the distinct preferred languages, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	seen := map[string]struct{}{}
	for _, e := range r.entries {
		if e.Language != "" {
			seen[e.Language] = struct{}{}
		}
	}
	r.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
