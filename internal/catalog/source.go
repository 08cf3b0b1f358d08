package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"
)

// Source reads raw language documents. Read must return an error wrapping
// fs.ErrNotExist when no document exists for lang.
type Source interface {
	Read(lang string) (Document, error)
	Languages() ([]string, error)
}

var extensions = []string{".json", ".yaml", ".yml"}

// DirSource reads <dir>/<lang>.json (or .yaml/.yml).
type DirSource struct {
	Dir string
}

func (s DirSource) Read(lang string) (Document, error) {
	for _, ext := range extensions {
		p := filepath.Join(s.Dir, lang+ext)
		b, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Document{}, err
		}
		return decodeDocument(p, b)
	}
	return Document{}, fmt.Errorf("%s: %w", filepath.Join(s.Dir, lang+".json"), fs.ErrNotExist)
}

func (s DirSource) Languages() ([]string, error) {
	ents, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range extensions {
			if ext == want {
				set[NormalizeLanguage(e.Name())] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// decodeDocument decodes JSON directly and YAML by converting it to JSON
// first, so both formats accept the same field names.
func decodeDocument(path string, b []byte) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return Document{}, fmt.Errorf("yaml unmarshal: %w", err)
		}
		j, err := json.Marshal(normalizeYAML(v))
		if err != nil {
			return Document{}, fmt.Errorf("yaml->json marshal: %w", err)
		}
		b = j
	}
	var doc Document
	if err := json.NewDecoder(bytes.NewReader(b)).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("invalid json: %w", err)
	}
	return doc, nil
}

func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

// MemSource is an in-memory Source, mostly useful in tests.
type MemSource struct {
	mu   sync.RWMutex
	docs map[string]Document
	errs map[string]error
}

func NewMemSource() *MemSource {
	return &MemSource{docs: map[string]Document{}, errs: map[string]error{}}
}

func (s *MemSource) Put(lang string, doc Document) {
	s.mu.Lock()
	s.docs[lang] = doc
	delete(s.errs, lang)
	s.mu.Unlock()
}

// PutError makes Read(lang) fail with err, as if the file were corrupt.
func (s *MemSource) PutError(lang string, err error) {
	s.mu.Lock()
	s.errs[lang] = err
	s.mu.Unlock()
}

func (s *MemSource) Delete(lang string) {
	s.mu.Lock()
	delete(s.docs, lang)
	delete(s.errs, lang)
	s.mu.Unlock()
}

func (s *MemSource) Read(lang string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.errs[lang]; ok {
		return Document{}, err
	}
	doc, ok := s.docs[lang]
	if !ok {
		return Document{}, fmt.Errorf("%s: %w", lang, fs.ErrNotExist)
	}
	return doc, nil
}

func (s *MemSource) Languages() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := map[string]struct{}{}
	for k := range s.docs {
		set[k] = struct{}{}
	}
	for k := range s.errs {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
