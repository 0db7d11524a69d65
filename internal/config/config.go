// Package config holds project layout helpers and the tunable settings read
// from sdd/tierspec.toml and TIERSPEC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
)

const (
	// SDDDir is the project subdirectory everything lives under.
	SDDDir = "sdd"
	// SpecsDir holds the live documents, one <id>.md per document.
	SpecsDir = "specs"
	// CheckpointsDir holds one directory of snapshots per document.
	CheckpointsDir = "checkpoints"
	// ConfigFile is the optional settings file.
	ConfigFile = "tierspec.toml"
	// JournalFile is the SQLite operation journal.
	JournalFile = "journal.db"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TIERSPEC_"
)

// SDDPath returns the absolute path to the sdd/ directory.
func SDDPath(projectRoot string) string {
	return filepath.Join(projectRoot, SDDDir)
}

// SpecsPath returns the path to sdd/specs/.
func SpecsPath(projectRoot string) string {
	return filepath.Join(SDDPath(projectRoot), SpecsDir)
}

// CheckpointsPath returns the path to sdd/checkpoints/.
func CheckpointsPath(projectRoot string) string {
	return filepath.Join(SDDPath(projectRoot), CheckpointsDir)
}

// ConfigPath returns the path to sdd/tierspec.toml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(SDDPath(projectRoot), ConfigFile)
}

// JournalPath returns the path to sdd/journal.db.
func JournalPath(projectRoot string) string {
	return filepath.Join(SDDPath(projectRoot), JournalFile)
}

// Exists reports whether projectRoot has an sdd/ directory.
func Exists(projectRoot string) bool {
	info, err := os.Stat(SDDPath(projectRoot))
	return err == nil && info.IsDir()
}

// FindProjectRoot walks up from the current working directory looking for
// an existing sdd/ directory. If none is found it returns the working
// directory, and the caller decides what to do.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	current := dir
	for {
		if Exists(current) {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return dir, nil
		}
		current = parent
	}
}

// Settings are the knobs of the engine. Every field can be set in the TOML
// file (toml tag) and overridden by TIERSPEC_<env tag>.
type Settings struct {
	// MinRetained is the checkpoint count retention never goes below.
	MinRetained int `toml:"min_retained" env:"MIN_RETAINED"`
	// RetentionDays is the age after which the scheduler prunes checkpoints.
	RetentionDays int `toml:"retention_days" env:"RETENTION_DAYS"`
	// MaxDocumentBytes is the largest document a checkpoint accepts.
	MaxDocumentBytes int64 `toml:"max_document_bytes" env:"MAX_DOCUMENT_BYTES"`
	// MinCompleteRunes is the authored length a section needs to count as
	// complete.
	MinCompleteRunes int `toml:"min_complete_runes" env:"MIN_COMPLETE_RUNES"`

	LockTimeout    time.Duration `toml:"lock_timeout" env:"LOCK_TIMEOUT"`
	LockStaleAfter time.Duration `toml:"lock_stale_after" env:"LOCK_STALE_AFTER"`

	// RetentionSchedule is the cron spec for pruning while serving. Empty
	// disables the scheduler.
	RetentionSchedule string `toml:"retention_schedule" env:"RETENTION_SCHEDULE"`
	// Journal enables the SQLite operation journal.
	Journal bool `toml:"journal" env:"JOURNAL"`
	// WatchDebounce coalesces bursts of editor writes before a refresh.
	WatchDebounce time.Duration `toml:"watch_debounce" env:"WATCH_DEBOUNCE"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		MinRetained:       3,
		RetentionDays:     30,
		MaxDocumentBytes:  5 << 20,
		MinCompleteRunes:  1,
		LockTimeout:       5 * time.Second,
		LockStaleAfter:    10 * time.Minute,
		RetentionSchedule: "@daily",
		Journal:           true,
		WatchDebounce:     300 * time.Millisecond,
	}
}

// Load reads projectRoot's settings: defaults, then the TOML file when it
// exists, then environment overrides.
func Load(projectRoot string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(ConfigPath(projectRoot))
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parsing %s: %w", ConfigFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Settings{}, fmt.Errorf("reading %s: %w", ConfigFile, err)
	}

	if err := ApplyEnv(&s, os.LookupEnv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ApplyEnv overrides fields of s from lookup(EnvPrefix + env tag).
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("environment variable %s%s: %w", EnvPrefix, key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	converted, err := cast.FromType(raw, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", raw, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}

// Validate rejects settings the engine cannot run with.
func (s Settings) Validate() error {
	switch {
	case s.MinRetained < 1:
		return fmt.Errorf("min_retained must be at least 1, got %d", s.MinRetained)
	case s.RetentionDays < 1:
		return fmt.Errorf("retention_days must be at least 1, got %d", s.RetentionDays)
	case s.MaxDocumentBytes < 1:
		return fmt.Errorf("max_document_bytes must be positive, got %d", s.MaxDocumentBytes)
	case s.MinCompleteRunes < 1:
		return fmt.Errorf("min_complete_runes must be at least 1, got %d", s.MinCompleteRunes)
	case s.LockTimeout <= 0 || s.LockStaleAfter <= 0:
		return fmt.Errorf("lock_timeout and lock_stale_after must be positive")
	}
	return nil
}

// Encode renders s as TOML, for writing a starter settings file.
func (s Settings) Encode() ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(s); err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	return []byte(b.String()), nil
}
