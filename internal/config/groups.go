package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syzsky/autodoor/internal/groups"
)

// OCREntry is one persisted keyword group.
type OCREntry struct {
	ID              groups.ID `yaml:"id"`
	groups.OCRGroup `yaml:",inline"`
}

// TimedEntry is one persisted timed group.
type TimedEntry struct {
	ID                groups.ID `yaml:"id"`
	groups.TimedGroup `yaml:",inline"`
}

// NumberEntry is one persisted number region.
type NumberEntry struct {
	ID                 groups.ID `yaml:"id"`
	groups.NumberGroup `yaml:",inline"`
}

type OCRSection struct {
	Groups []OCREntry `yaml:"groups"`
}

type TimedSection struct {
	Groups []TimedEntry `yaml:"groups"`
}

type NumberSection struct {
	Regions []NumberEntry `yaml:"regions"`
}

// GroupFile is the layout of groups.yaml.
type GroupFile struct {
	OCR    OCRSection         `yaml:"ocr"`
	Timed  TimedSection       `yaml:"timed"`
	Number NumberSection      `yaml:"number"`
	Color  groups.ColorConfig `yaml:"color"`
	Script string             `yaml:"script"`
}

// LoadGroupFile reads groups.yaml. A missing file yields an empty
// configuration.
func LoadGroupFile(path string) (*GroupFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &GroupFile{}, nil
		}
		return nil, fmt.Errorf("failed to read group file %s: %w", path, err)
	}

	var f GroupFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group file: %w", err)
	}
	return &f, nil
}

// Save writes the file, creating its directory if needed.
func (f *GroupFile) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal group file: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create group file directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write group file %s: %w", path, err)
	}
	return nil
}

// Apply replaces the content of set with the file's groups. Entries without
// an ID get a fresh one, regions are validated and missing intervals or
// hold ranges come from set.Defaults.
func (f *GroupFile) Apply(set *groups.Set) error {
	ocr := make([]groups.Entry[groups.OCRGroup], 0, len(f.OCR.Groups))
	for i, e := range f.OCR.Groups {
		if err := groups.ValidateRegion(e.Region); err != nil {
			return fmt.Errorf("ocr group %d: %w", i+1, err)
		}
		ocr = append(ocr, groups.Entry[groups.OCRGroup]{ID: e.ID, Group: set.Defaults.FillOCR(e.OCRGroup)})
	}
	timed := make([]groups.Entry[groups.TimedGroup], 0, len(f.Timed.Groups))
	for _, e := range f.Timed.Groups {
		timed = append(timed, groups.Entry[groups.TimedGroup]{ID: e.ID, Group: set.Defaults.FillTimed(e.TimedGroup)})
	}
	number := make([]groups.Entry[groups.NumberGroup], 0, len(f.Number.Regions))
	for i, e := range f.Number.Regions {
		if err := groups.ValidateRegion(e.Region); err != nil {
			return fmt.Errorf("number region %d: %w", i+1, err)
		}
		number = append(number, groups.Entry[groups.NumberGroup]{ID: e.ID, Group: set.Defaults.FillNumber(e.NumberGroup)})
	}
	if err := groups.ValidateRegion(f.Color.Region); err != nil {
		return fmt.Errorf("color: %w", err)
	}

	if err := set.OCR.Replace(ocr); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := set.Timed.Replace(timed); err != nil {
		return fmt.Errorf("timed: %w", err)
	}
	if err := set.Number.Replace(number); err != nil {
		return fmt.Errorf("number: %w", err)
	}
	set.Color.Set(set.Defaults.FillColor(f.Color))
	set.Script.Set(f.Script)
	return nil
}

// FromSet snapshots set into a GroupFile, keeping IDs and order.
func FromSet(set *groups.Set) *GroupFile {
	f := &GroupFile{Color: set.Color.Get(), Script: set.Script.Get()}
	for _, e := range set.OCR.Snapshot() {
		f.OCR.Groups = append(f.OCR.Groups, OCREntry{ID: e.ID, OCRGroup: e.Group})
	}
	for _, e := range set.Timed.Snapshot() {
		f.Timed.Groups = append(f.Timed.Groups, TimedEntry{ID: e.ID, TimedGroup: e.Group})
	}
	for _, e := range set.Number.Snapshot() {
		f.Number.Regions = append(f.Number.Regions, NumberEntry{ID: e.ID, NumberGroup: e.Group})
	}
	return f
}

// GetValue looks up a dotted path such as "ocr.groups.0.key" in the file's
// YAML tree and returns def when any step is missing.
func (f *GroupFile) GetValue(path string, def interface{}) interface{} {
	data, err := yaml.Marshal(f)
	if err != nil {
		return def
	}
	var tree interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return def
	}

	cur := tree
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return def
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return def
			}
			cur = node[i]
		default:
			return def
		}
	}
	if cur == nil {
		return def
	}
	return cur
}
