// Package templates renders localized message templates with a language
// fallback chain.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"text/template"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// ErrTemplateNotFound is returned when no language in the chain defines the key.
var ErrTemplateNotFound = errors.New("template not found")

type snapshot struct {
	parsed map[string]map[string]*template.Template
}

// Catalog holds the parsed templates of a directory. It is safe for
// concurrent use and can be reloaded in place.
type Catalog struct {
	dir         string
	defaultLang string
	current     atomic.Pointer[snapshot]
	log         *slog.Logger
}

// Load parses every YAML file in dir. The default language must be present.
func Load(dir, defaultLang string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	if defaultLang == "" {
		defaultLang = "en"
	}

	c := &Catalog{
		dir:         dir,
		defaultLang: NormalizeLang(defaultLang),
		log:         log,
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}

	return c, nil
}

// Reload re-reads the directory. On failure the previous templates stay active.
func (c *Catalog) Reload() error {
	src, err := readDir(c.dir)
	if err != nil {
		return err
	}

	snap, err := compile(src)
	if err != nil {
		return err
	}

	if _, ok := snap.parsed[c.defaultLang]; !ok {
		return fmt.Errorf("templates: default language %q is missing", c.defaultLang)
	}

	c.current.Store(snap)
	return nil
}

func compile(src sources) (*snapshot, error) {
	snap := &snapshot{parsed: make(map[string]map[string]*template.Template, len(src))}

	for lang, bodies := range src {
		snap.parsed[lang] = make(map[string]*template.Template, len(bodies))
		for key, body := range bodies {
			tmpl, err := template.New(lang + "/" + key).
				Option("missingkey=error").
				Funcs(funcs).
				Parse(body)
			if err != nil {
				return nil, fmt.Errorf("templates: %s/%s: %w", lang, key, err)
			}
			snap.parsed[lang][key] = tmpl
		}
	}

	return snap, nil
}

// GetTemplate renders key in the best available language for lang: the exact
// tag, then its base language, then the default language.
func (c *Catalog) GetTemplate(key, lang string, data any) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", apperrors.NewValidationError("template key is required")
	}

	snap := c.current.Load()

	for _, candidate := range c.Chain(lang) {
		tmpl, ok := snap.parsed[candidate][key]
		if !ok {
			continue
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			metrics.RecordTemplateRender(candidate, err)
			return "", apperrors.NewValidationError(fmt.Sprintf("render template %q: %v", key, err))
		}

		metrics.RecordTemplateRender(candidate, nil)
		return buf.String(), nil
	}

	metrics.RecordTemplateRender(c.defaultLang, ErrTemplateNotFound)
	return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
}

// Chain returns the lookup order for lang without duplicates.
func (c *Catalog) Chain(lang string) []string {
	chain := make([]string, 0, 3)
	add := func(tag string) {
		if tag == "" {
			return
		}
		for _, existing := range chain {
			if existing == tag {
				return
			}
		}
		chain = append(chain, tag)
	}

	tag := NormalizeLang(lang)
	add(tag)
	if base, _, found := strings.Cut(tag, "-"); found {
		add(base)
	}
	add(c.defaultLang)

	return chain
}

// Languages returns the loaded languages in sorted order.
func (c *Catalog) Languages() []string {
	snap := c.current.Load()

	languages := make([]string, 0, len(snap.parsed))
	for lang := range snap.parsed {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

// DefaultLang returns the final fallback language.
func (c *Catalog) DefaultLang() string {
	return c.defaultLang
}
