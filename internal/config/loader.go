package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"github.com/syzsky/autodoor/internal/groups"
)

// Settings is the content of settings.ini.
type Settings struct {
	// General
	CacheDuration time.Duration
	LogLevel      string
	LogDir        string
	Database      string
	GroupsFile    string

	// Hotkeys
	StartHotkey string
	StopHotkey  string

	// OCR
	OCRLanguage string
	ClickDelay  time.Duration

	// Input
	FailSafe bool

	// Defaults for new groups and unresolved events
	Defaults groups.Defaults
}

// NewDefaultSettings creates settings with default values
func NewDefaultSettings() *Settings {
	return &Settings{
		CacheDuration: 100 * time.Millisecond,
		LogLevel:      "INFO",
		LogDir:        "logs",
		Database:      "autodoor.db",
		GroupsFile:    "groups.yaml",
		StartHotkey:   "f10",
		StopHotkey:    "f12",
		OCRLanguage:   "eng",
		ClickDelay:    200 * time.Millisecond,
		FailSafe:      true,
		Defaults:      groups.DefaultValues,
	}
}

// LoadSettings reads settings.ini. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := NewDefaultSettings()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings file: %w", err)
	}

	general := cfg.Section("General")
	s.CacheDuration = time.Duration(general.Key("cache_duration_ms").MustInt(100)) * time.Millisecond
	s.LogLevel = general.Key("log_level").MustString(s.LogLevel)
	s.LogDir = general.Key("log_dir").MustString(s.LogDir)
	s.Database = general.Key("database").MustString(s.Database)
	s.GroupsFile = general.Key("groups_file").MustString(s.GroupsFile)

	hotkeys := cfg.Section("Hotkeys")
	s.StartHotkey = hotkeys.Key("start").MustString(s.StartHotkey)
	s.StopHotkey = hotkeys.Key("stop").MustString(s.StopHotkey)

	ocr := cfg.Section("OCR")
	s.OCRLanguage = ocr.Key("language").MustString(s.OCRLanguage)
	s.ClickDelay = time.Duration(ocr.Key("click_delay_ms").MustInt(200)) * time.Millisecond

	s.FailSafe = cfg.Section("Input").Key("failsafe").MustBool(true)

	d := cfg.Section("Defaults")
	def := groups.DefaultValues
	s.Defaults = groups.Defaults{
		Key: groups.KeySpec{
			Key:      d.Key("key").MustString(def.Key.Key),
			DelayMin: d.Key("delay_min").MustInt(def.Key.DelayMin),
			DelayMax: d.Key("delay_max").MustInt(def.Key.DelayMax),
		},
		OCRInterval:    d.Key("ocr_interval").MustFloat64(def.OCRInterval),
		OCRPause:       d.Key("ocr_pause").MustFloat64(def.OCRPause),
		TimedInterval:  d.Key("timed_interval").MustFloat64(def.TimedInterval),
		Language:       s.OCRLanguage,
		Threshold:      d.Key("threshold").MustInt(def.Threshold),
		ColorTolerance: d.Key("color_tolerance").MustInt(def.ColorTolerance),
		ColorInterval:  d.Key("color_interval").MustFloat64(def.ColorInterval),
	}

	if s.CacheDuration <= 0 {
		s.CacheDuration = 100 * time.Millisecond
	}
	return s, nil
}

// SaveSettings writes settings to an INI file
func SaveSettings(s *Settings, path string) error {
	cfg := ini.Empty()

	general := cfg.Section("General")
	general.Key("cache_duration_ms").SetValue(strconv.FormatInt(s.CacheDuration.Milliseconds(), 10))
	general.Key("log_level").SetValue(s.LogLevel)
	general.Key("log_dir").SetValue(s.LogDir)
	general.Key("database").SetValue(s.Database)
	general.Key("groups_file").SetValue(s.GroupsFile)

	hotkeys := cfg.Section("Hotkeys")
	hotkeys.Key("start").SetValue(s.StartHotkey)
	hotkeys.Key("stop").SetValue(s.StopHotkey)

	ocr := cfg.Section("OCR")
	ocr.Key("language").SetValue(s.OCRLanguage)
	ocr.Key("click_delay_ms").SetValue(strconv.FormatInt(s.ClickDelay.Milliseconds(), 10))

	cfg.Section("Input").Key("failsafe").SetValue(strconv.FormatBool(s.FailSafe))

	d := cfg.Section("Defaults")
	d.Key("key").SetValue(s.Defaults.Key.Key)
	d.Key("delay_min").SetValue(strconv.Itoa(s.Defaults.Key.DelayMin))
	d.Key("delay_max").SetValue(strconv.Itoa(s.Defaults.Key.DelayMax))
	d.Key("ocr_interval").SetValue(formatFloat(s.Defaults.OCRInterval))
	d.Key("ocr_pause").SetValue(formatFloat(s.Defaults.OCRPause))
	d.Key("timed_interval").SetValue(formatFloat(s.Defaults.TimedInterval))
	d.Key("threshold").SetValue(strconv.Itoa(s.Defaults.Threshold))
	d.Key("color_tolerance").SetValue(strconv.Itoa(s.Defaults.ColorTolerance))
	d.Key("color_interval").SetValue(formatFloat(s.Defaults.ColorInterval))

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	return cfg.SaveTo(path)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
