package schema

import (
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/doc-extract/backend/internal/models"
)

// FieldHint overrides inference for one field.
type FieldHint struct {
	Type     models.FieldType     `yaml:"type,omitempty"`
	Label    string               `yaml:"label,omitempty"`
	Required bool                 `yaml:"required,omitempty"`
	Enum     []string             `yaml:"enum,omitempty"`
	Pattern  string               `yaml:"pattern,omitempty"`
	Fields   map[string]FieldHint `yaml:"fields,omitempty"`
}

// Hints holds the field hints of one extraction model.
type Hints struct {
	Fields map[string]FieldHint `yaml:"fields"`
}

// Field returns the hint for name; the zero hint when there is none.
func (h *Hints) Field(name string) FieldHint {
	if h == nil {
		return FieldHint{}
	}
	return h.Fields[name]
}

// child returns the hints of a nested field's inner schema.
func (h *Hints) child(name string) *Hints {
	hint := h.Field(name)
	if len(hint.Fields) == 0 {
		return nil
	}
	return &Hints{Fields: hint.Fields}
}

// HintSet is the parsed hints file: defaults plus per-model overrides keyed
// by model key.
type HintSet struct {
	Defaults Hints            `yaml:"defaults"`
	Models   map[string]Hints `yaml:"models"`
}

// For returns the hints of a model, falling back to the defaults.
func (s *HintSet) For(modelKey string) *Hints {
	if s == nil {
		return nil
	}
	if h, ok := s.Models[modelKey]; ok {
		return &h
	}
	if len(s.Defaults.Fields) == 0 {
		return nil
	}
	return &s.Defaults
}

// LoadHints parses a YAML hints file.
func LoadHints(path string) (*HintSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseHints(file)
}

// ParseHints parses hints from an io.Reader.
func ParseHints(r io.Reader) (*HintSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var set HintSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing schema hints: %w", err)
	}
	if err := checkPatterns("defaults", set.Defaults.Fields); err != nil {
		return nil, err
	}
	for _, key := range slices.Sorted(maps.Keys(set.Models)) {
		if err := checkPatterns("models."+key, set.Models[key].Fields); err != nil {
			return nil, err
		}
	}
	return &set, nil
}

// checkPatterns compiles every pattern below fields, nested ones included.
func checkPatterns(path string, fields map[string]FieldHint) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		hint := fields[name]
		if hint.Pattern != "" {
			if _, err := regexp.Compile(hint.Pattern); err != nil {
				return fmt.Errorf("schema hints %s.%s: invalid pattern: %w", path, name, err)
			}
		}
		if err := checkPatterns(path+"."+name, hint.Fields); err != nil {
			return err
		}
	}
	return nil
}
