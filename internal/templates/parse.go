package templates

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sources maps language -> dotted key -> template body.
type sources map[string]map[string]string

func readDir(dir string) (sources, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("templates: read dir %s: %w", dir, err)
	}

	catalog := make(sources)
	var processed bool

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		processed = true

		fileCatalog, err := readFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		for lang, bodies := range fileCatalog {
			if catalog[lang] == nil {
				catalog[lang] = make(map[string]string, len(bodies))
			}
			for key, body := range bodies {
				catalog[lang][key] = body
			}
		}
	}

	if !processed {
		return nil, fmt.Errorf("templates: no yaml files found in %s", dir)
	}

	return catalog, nil
}

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func readFile(path string) (sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read file %s: %w", path, err)
	}

	return parseYAML(path, data)
}

func parseYAML(name string, data []byte) (sources, error) {
	if strings.TrimSpace(string(data)) == "" {
		return sources{}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("templates: parse file %s: %w", name, err)
	}

	catalog := make(sources)
	for lang, value := range raw {
		tag := NormalizeLang(lang)
		if tag == "" {
			continue
		}

		tree, ok := value.(map[string]any)
		if !ok {
			continue
		}

		flat := make(map[string]string)
		flatten("", tree, flat)
		if len(flat) > 0 {
			catalog[tag] = flat
		}
	}

	return catalog, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		if key == "" {
			continue
		}

		next := key
		if prefix != "" {
			next = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[next] = v
		case map[string]any:
			flatten(next, v, out)
		}
	}
}

// NormalizeLang lower-cases a language tag and uses '-' as the separator.
func NormalizeLang(lang string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
}
