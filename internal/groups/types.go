// Package groups holds the per-module group configurations edited by the
// user and read by the polling loops.
package groups

import (
	"errors"
	"math/rand"
	"time"

	"github.com/syzsky/autodoor/internal/screen"
)

var (
	ErrLimitReached  = errors.New("group limit reached")
	ErrNotFound      = errors.New("group not found")
	ErrInvalidRegion = errors.New("region must be at least 10x10")
)

// KeySpec is a key plus the hold-duration range used when pressing it.
type KeySpec struct {
	Key      string `yaml:"key"`
	DelayMin int    `yaml:"delay_min"`
	DelayMax int    `yaml:"delay_max"`
}

// RandomHold picks a duration uniformly from [DelayMin, DelayMax] ms.
func (k KeySpec) RandomHold() time.Duration {
	lo, hi := k.DelayMin, k.DelayMax
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	return time.Duration(lo+rand.Intn(hi-lo+1)) * time.Millisecond
}

// OCRGroup watches a region for keywords.
type OCRGroup struct {
	Enabled  bool           `yaml:"enabled"`
	Region   *screen.Region `yaml:"region,omitempty"`
	Interval float64        `yaml:"interval"`
	Pause    float64        `yaml:"pause"`
	KeySpec  `yaml:",inline"`
	Alarm    bool     `yaml:"alarm"`
	Keywords []string `yaml:"keywords"`
	Language string   `yaml:"language,omitempty"`
	Click    bool     `yaml:"click"`
}

// TimedGroup presses a key on a fixed interval.
type TimedGroup struct {
	Enabled      bool    `yaml:"enabled"`
	Interval     float64 `yaml:"interval"`
	KeySpec      `yaml:",inline"`
	Alarm        bool          `yaml:"alarm"`
	ClickEnabled bool          `yaml:"click_enabled"`
	Position     *screen.Point `yaml:"position,omitempty"`
}

// NumberGroup watches an "X/Y" readout and fires when X drops below Threshold.
type NumberGroup struct {
	Enabled   bool           `yaml:"enabled"`
	Region    *screen.Region `yaml:"region,omitempty"`
	Threshold int            `yaml:"threshold"`
	KeySpec   `yaml:",inline"`
	Alarm     bool `yaml:"alarm"`
}

// RGB is a target color.
type RGB struct {
	R uint8 `yaml:"r"`
	G uint8 `yaml:"g"`
	B uint8 `yaml:"b"`
}

// ColorConfig is the single color-recognition session.
type ColorConfig struct {
	Region    *screen.Region `yaml:"region,omitempty"`
	Target    RGB            `yaml:"target"`
	Tolerance int            `yaml:"tolerance"`
	Interval  float64        `yaml:"interval"`
	Commands  string         `yaml:"commands"`
}

// Defaults are the values used for new groups and for events whose group
// can no longer be resolved.
type Defaults struct {
	Key            KeySpec
	OCRInterval    float64
	OCRPause       float64
	TimedInterval  float64
	Language       string
	Threshold      int
	ColorTolerance int
	ColorInterval  float64
}

// DefaultValues is the built-in Defaults.
var DefaultValues = Defaults{
	Key:            KeySpec{Key: "", DelayMin: 50, DelayMax: 100},
	OCRInterval:    5,
	OCRPause:       180,
	TimedInterval:  10,
	Language:       "eng",
	Threshold:      100,
	ColorTolerance: 10,
	ColorInterval:  1,
}

// NewOCRGroup returns a disabled OCR group filled with defaults.
func (d Defaults) NewOCRGroup() OCRGroup {
	return OCRGroup{
		Interval: d.OCRInterval,
		Pause:    d.OCRPause,
		KeySpec:  d.Key,
		Language: d.Language,
	}
}

// NewTimedGroup returns a disabled timed group filled with defaults.
func (d Defaults) NewTimedGroup() TimedGroup {
	return TimedGroup{Interval: d.TimedInterval, KeySpec: d.Key}
}

// NewNumberGroup returns a disabled number group filled with defaults.
func (d Defaults) NewNumberGroup() NumberGroup {
	return NumberGroup{Threshold: d.Threshold, KeySpec: d.Key}
}

// NewColorConfig returns an empty color session filled with defaults.
func (d Defaults) NewColorConfig() ColorConfig {
	return ColorConfig{Tolerance: d.ColorTolerance, Interval: d.ColorInterval}
}

// FillKey replaces an unset hold range with the default one.
func (d Defaults) FillKey(k KeySpec) KeySpec {
	if k.DelayMin == 0 && k.DelayMax == 0 {
		k.DelayMin, k.DelayMax = d.Key.DelayMin, d.Key.DelayMax
	}
	return k
}

// FillOCR fills the zero cadence and hold fields of g.
func (d Defaults) FillOCR(g OCRGroup) OCRGroup {
	if g.Interval <= 0 {
		g.Interval = d.OCRInterval
	}
	if g.Language == "" {
		g.Language = d.Language
	}
	g.KeySpec = d.FillKey(g.KeySpec)
	return g
}

// FillTimed fills the zero interval and hold fields of g.
func (d Defaults) FillTimed(g TimedGroup) TimedGroup {
	if g.Interval <= 0 {
		g.Interval = d.TimedInterval
	}
	g.KeySpec = d.FillKey(g.KeySpec)
	return g
}

// FillNumber fills the zero hold fields of g.
func (d Defaults) FillNumber(g NumberGroup) NumberGroup {
	g.KeySpec = d.FillKey(g.KeySpec)
	return g
}

// FillColor fills a zero interval.
func (d Defaults) FillColor(c ColorConfig) ColorConfig {
	if c.Interval <= 0 {
		c.Interval = d.ColorInterval
	}
	return c
}

// ValidateRegion checks an optional region.
func ValidateRegion(r *screen.Region) error {
	if r != nil && !r.Valid() {
		return ErrInvalidRegion
	}
	return nil
}

// Clone returns a deep copy.
func (g OCRGroup) Clone() OCRGroup {
	g.Region = cloneRegion(g.Region)
	g.Keywords = append([]string(nil), g.Keywords...)
	return g
}

// Clone returns a deep copy.
func (g TimedGroup) Clone() TimedGroup {
	if g.Position != nil {
		p := *g.Position
		g.Position = &p
	}
	return g
}

// Clone returns a deep copy.
func (g NumberGroup) Clone() NumberGroup {
	g.Region = cloneRegion(g.Region)
	return g
}

// Clone returns a deep copy.
func (c ColorConfig) Clone() ColorConfig {
	c.Region = cloneRegion(c.Region)
	return c
}

func cloneRegion(r *screen.Region) *screen.Region {
	if r == nil {
		return nil
	}
	n := *r
	return &n
}
