// Package safety is the boundary every externally supplied string crosses
// before it reaches the filesystem.
//
// Document ids, checkpoint names and section names go through
// ValidateIdentifier; every path the other packages open, write or rename is
// produced by ValidatePath (or Resolve) against a base directory. Both
// functions are pure: they read the filesystem to resolve symlinks but never
// create, modify or delete anything.
package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxIdentifierLength is the longest identifier ValidateIdentifier accepts.
const MaxIdentifierLength = 64

// Identifier is a string that passed ValidateIdentifier.
type Identifier string

// String returns the identifier as a plain string.
func (id Identifier) String() string { return string(id) }

// IdentifierError reports an identifier that violates the charset, length or
// reserved-name rules.
type IdentifierError struct {
	Input    string
	Boundary string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Input, e.Boundary)
}

// PathSecurityError reports an input that would escape its base directory:
// traversal sequences, absolute paths, NUL bytes or symlink indirection.
type PathSecurityError struct {
	Input    string
	Base     string
	Boundary string
}

func (e *PathSecurityError) Error() string {
	if e.Base == "" {
		return fmt.Sprintf("path security violation for %q: %s", e.Input, e.Boundary)
	}
	return fmt.Sprintf("path security violation for %q (base %s): %s", e.Input, e.Base, e.Boundary)
}

// reservedNames are device names that resolve to something other than a
// regular file on Windows, whatever the extension.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidateIdentifier checks raw against the identifier whitelist: ASCII
// letters, digits, hyphen and underscore, at most MaxIdentifierLength bytes,
// not starting with a hyphen and not a reserved device name.
//
// Inputs that look like path manipulation (separators, "..", absolute paths,
// NUL bytes) fail with *PathSecurityError; every other violation fails with
// *IdentifierError.
func ValidateIdentifier(raw string) (Identifier, error) {
	if strings.ContainsRune(raw, 0) {
		return "", &PathSecurityError{Input: raw, Boundary: "contains NUL byte"}
	}
	if strings.Contains(raw, "..") {
		return "", &PathSecurityError{Input: raw, Boundary: "contains traversal sequence \"..\""}
	}
	if strings.ContainsAny(raw, `/\`) || filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return "", &PathSecurityError{Input: raw, Boundary: "contains path separator"}
	}

	if raw == "" {
		return "", &IdentifierError{Input: raw, Boundary: "must not be empty"}
	}
	if len(raw) > MaxIdentifierLength {
		return "", &IdentifierError{
			Input:    raw,
			Boundary: fmt.Sprintf("longer than %d characters", MaxIdentifierLength),
		}
	}
	for _, r := range raw {
		if !isIdentifierRune(r) {
			return "", &IdentifierError{
				Input:    raw,
				Boundary: fmt.Sprintf("character %q outside [A-Za-z0-9_-]", r),
			}
		}
	}
	if raw[0] == '-' {
		return "", &IdentifierError{Input: raw, Boundary: "must not start with a hyphen"}
	}
	if reservedNames[strings.ToLower(raw)] {
		return "", &IdentifierError{Input: raw, Boundary: "reserved device name"}
	}
	return Identifier(raw), nil
}

func isIdentifierRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

// ValidatePath resolves candidate relative to baseDir and returns the
// resolved absolute path. The result is guaranteed to lie strictly inside
// the symlink-resolved baseDir. Components that do not exist yet are allowed
// (callers create them), but the deepest existing ancestor is resolved so a
// symlink anywhere on the way cannot redirect the write.
func ValidatePath(candidate, baseDir string) (string, error) {
	if strings.ContainsRune(candidate, 0) || strings.ContainsRune(baseDir, 0) {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "contains NUL byte"}
	}
	if candidate == "" {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "empty path"}
	}
	if filepath.IsAbs(candidate) || filepath.VolumeName(candidate) != "" ||
		strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, `\`) {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "absolute path not allowed"}
	}
	for _, part := range strings.FieldsFunc(candidate, isSeparator) {
		if part == ".." {
			return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "traversal sequence \"..\""}
		}
	}

	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}
	base, err := resolveExisting(baseAbs)
	if err != nil {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: err.Error()}
	}

	target, err := resolveExisting(filepath.Join(baseAbs, candidate))
	if err != nil {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: err.Error()}
	}

	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "not relative to base"}
	}
	if rel == "." {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "resolves to the base directory itself"}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathSecurityError{Input: candidate, Base: baseDir, Boundary: "resolves outside base directory"}
	}
	return target, nil
}

// Resolve joins validated path elements and passes the result through
// ValidatePath. It is the usual entry point for the storage packages.
func Resolve(baseDir string, elems ...string) (string, error) {
	return ValidatePath(filepath.Join(elems...), baseDir)
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// resolveExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the missing tail. A dangling symlink anywhere on the existing
// prefix is refused: following it later could land anywhere.
func resolveExisting(p string) (string, error) {
	p = filepath.Clean(p)
	var tail []string
	current := p
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			parts := append([]string{resolved}, reverse(tail)...)
			return filepath.Join(parts...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("resolving %s: %w", current, err)
		}
		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("dangling symlink at %s", current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", p)
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
