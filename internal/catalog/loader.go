package catalog

import (
	"errors"
	"io/fs"
	"sync"

	logx "versebot/pkg/logx"
)

// DefaultLanguage is used when nothing else is configured.
const DefaultLanguage = "english"

// Loader resolves language ids to cached catalogs.
//
// A missing non-default language falls back to the default language once.
// Failure of the default language is returned to the caller.
type Loader struct {
	src Source
	log logx.Logger

	mu    sync.RWMutex
	def   string
	cache map[string]*Catalog
}

func NewLoader(src Source, defaultLang string, log logx.Logger) *Loader {
	if log.IsZero() {
		log = logx.Nop()
	}
	def := NormalizeLanguage(defaultLang)
	if def == "" {
		def = DefaultLanguage
	}
	return &Loader{src: src, log: log, def: def, cache: map[string]*Catalog{}}
}

func (l *Loader) Default() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.def
}

func (l *Loader) SetDefault(lang string) {
	lang = NormalizeLanguage(lang)
	if lang == "" {
		lang = DefaultLanguage
	}
	l.mu.Lock()
	l.def = lang
	l.mu.Unlock()
}

// Load returns the catalog for lang, or for the default language when lang
// has no source. The returned catalog's Language field names the language
// actually used.
func (l *Loader) Load(lang string) (*Catalog, error) {
	lang = NormalizeLanguage(lang)
	def := l.Default()
	if lang == "" {
		lang = def
	}

	c, err := l.loadOne(lang)
	if err == nil {
		return c, nil
	}
	if lang == def || !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	l.log.Warn("language not found; falling back",
		logx.String("language", lang),
		logx.String("fallback", def),
	)
	c, ferr := l.loadOne(def)
	if ferr != nil {
		return nil, ferr
	}
	return c, nil
}

// Resolve reports which language Load(lang) would serve.
func (l *Loader) Resolve(lang string) (string, error) {
	c, err := l.Load(lang)
	if err != nil {
		return "", err
	}
	return c.Language, nil
}

// Cached returns an already loaded catalog without touching the source.
func (l *Loader) Cached(lang string) (*Catalog, bool) {
	lang = NormalizeLanguage(lang)
	l.mu.RLock()
	c, ok := l.cache[lang]
	l.mu.RUnlock()
	return c, ok
}

// Reload loads lang into a fresh cache and swaps it in only on success.
// On failure the existing cache is left untouched.
func (l *Loader) Reload(lang string) (*Catalog, error) {
	fresh := &Loader{src: l.src, log: l.log, def: l.Default(), cache: map[string]*Catalog{}}
	c, err := fresh.Load(lang)
	if err != nil {
		return nil, err
	}
	fresh.mu.RLock()
	next := fresh.cache
	fresh.mu.RUnlock()

	l.mu.Lock()
	l.cache = next
	l.mu.Unlock()
	return c, nil
}

// Languages lists the language ids the source knows about.
func (l *Loader) Languages() ([]string, error) {
	return l.src.Languages()
}

// Check inspects one language without caching it.
type Check struct {
	Language string
	Found    bool
	// Parsed is false when the source exists but could not be decoded.
	Parsed    bool
	Diagnosis Diagnosis
	Err       error
}

func (c Check) OK() bool { return c.Found && c.Err == nil }

func (l *Loader) Check(lang string) Check {
	lang = NormalizeLanguage(lang)
	out := Check{Language: lang}
	doc, err := l.src.Read(lang)
	if errors.Is(err, fs.ErrNotExist) {
		out.Err = &LoadError{Language: lang, Kind: ErrNotFound}
		return out
	}
	out.Found = true
	if err != nil {
		out.Err = &LoadError{Language: lang, Kind: ErrInvalid, Reason: err.Error()}
		return out
	}
	out.Parsed = true
	out.Diagnosis = Diagnose(doc)
	if reason := out.Diagnosis.Problem(); reason != "" {
		out.Err = &LoadError{Language: lang, Kind: ErrInvalid, Reason: reason}
	}
	return out
}

func (l *Loader) loadOne(lang string) (*Catalog, error) {
	if c, ok := l.Cached(lang); ok {
		return c, nil
	}

	doc, err := l.src.Read(lang)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Language: lang, Kind: ErrNotFound}
	}
	if err != nil {
		return nil, &LoadError{Language: lang, Kind: ErrInvalid, Reason: err.Error()}
	}
	c, err := New(lang, doc)
	if err != nil {
		l.log.Warn("language rejected", logx.String("language", lang), logx.Err(err))
		return nil, err
	}

	l.mu.Lock()
	if prev, ok := l.cache[lang]; ok {
		// Lost a race with a concurrent load; keep the first instance.
		l.mu.Unlock()
		return prev, nil
	}
	l.cache[lang] = c
	l.mu.Unlock()

	l.log.Info("language loaded", logx.String("language", lang), logx.Int("messages", c.Len()))
	return c, nil
}
