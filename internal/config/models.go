package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelMap maps a language hint to a remote speech model identifier.
//
// Example (YAML):
//
//	default: openai/whisper-large-v3
//	languages:
//	  en: distil-whisper/distil-large-v3
//	  hi: vasista22/whisper-hindi-large-v2
type ModelMap struct {
	Default   string            `yaml:"default"`
	Languages map[string]string `yaml:"languages"`
}

// DefaultModelMap is used when MODEL_MAP_FILE is not set.
func DefaultModelMap() ModelMap {
	return ModelMap{
		Default: "openai/whisper-large-v3",
		Languages: map[string]string{
			"en": "distil-whisper/distil-large-v3",
			"hi": "vasista22/whisper-hindi-large-v2",
			"es": "openai/whisper-large-v3",
		},
	}
}

// Resolve returns the model for a hint such as "en", "EN" or "en-US".
func (m ModelMap) Resolve(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if model, ok := m.Languages[hint]; ok && model != "" {
		return model
	}
	if base, _, found := strings.Cut(hint, "-"); found {
		if model, ok := m.Languages[base]; ok && model != "" {
			return model
		}
	}
	return m.Default
}

// LoadModelMap reads a YAML model map. An empty path yields DefaultModelMap.
func LoadModelMap(path string) (ModelMap, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultModelMap(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ModelMap{}, fmt.Errorf("read MODEL_MAP_FILE: %w", err)
	}

	var m ModelMap
	if err := yaml.Unmarshal(b, &m); err != nil {
		return ModelMap{}, fmt.Errorf("parse MODEL_MAP_FILE YAML: %w", err)
	}
	if strings.TrimSpace(m.Default) == "" {
		m.Default = DefaultModelMap().Default
	}
	normalized := make(map[string]string, len(m.Languages))
	for k, v := range m.Languages {
		normalized[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	m.Languages = normalized
	return m, nil
}
