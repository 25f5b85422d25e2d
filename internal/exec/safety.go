// Package exec provides executable safety validation utilities.
package exec

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Pattern definitions for executable safety validation.
var (
	// ShellMetachars matches shell metacharacters that could enable command injection.
	ShellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)

	// ControlChars matches control characters like newlines and carriage returns.
	ControlChars = regexp.MustCompile(`[\r\n]`)

	// QuoteChars matches quote characters that could enable argument injection.
	QuoteChars = regexp.MustCompile(`["']`)

	// BareNamePattern matches safe bare executable names without paths.
	BareNamePattern = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

	// WindowsDriveLetter matches Windows drive letter paths (e.g., C:\).
	WindowsDriveLetter = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
)

// Common errors for executable safety validation.
var (
	ErrEmptyValue           = errors.New("executable value is empty")
	ErrNullByte             = errors.New("executable value contains null byte")
	ErrControlChar          = errors.New("executable value contains control characters")
	ErrShellMetachar        = errors.New("executable value contains shell metacharacters")
	ErrQuoteChar            = errors.New("executable value contains quote characters")
	ErrOptionInjection      = errors.New("executable value starts with dash (option injection)")
	ErrInvalidBareNameChars = errors.New("executable value contains invalid characters for bare name")
)

// IsLikelyPath checks if the value appears to be a file path rather than a bare name.
// It returns true for values starting with . ~ / \ or matching Windows drive letters.
func IsLikelyPath(value string) bool {
	if value == "" {
		return false
	}

	// Check for common path prefixes
	if strings.HasPrefix(value, ".") || strings.HasPrefix(value, "~") {
		return true
	}

	// Check for path separators
	if strings.Contains(value, "/") || strings.Contains(value, "\\") {
		return true
	}

	// Check for Windows drive letter (e.g., C:\)
	return WindowsDriveLetter.MatchString(value)
}

// IsSafeExecutableValue validates that an executable name or path is safe to use.
// It checks for:
// 1. Empty or nil values (rejected)
// 2. Null bytes (rejected)
// 3. Control characters like newlines (rejected)
// 4. Shell metacharacters ;&|`$<> (rejected)
// 5. Quote characters "' (rejected)
// 6. Paths starting with . ~ / \ or drive letters (allowed)
// 7. Values starting with - (rejected for option injection)
// 8. Bare names matching [A-Za-z0-9._+-]+ (allowed)
func IsSafeExecutableValue(value string) bool {
	if value == "" {
		return false
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}

	// Check for null bytes
	if strings.Contains(trimmed, "\x00") {
		return false
	}

	// Check for control characters (newlines, carriage returns)
	if ControlChars.MatchString(trimmed) {
		return false
	}

	// Check for shell metacharacters
	if ShellMetachars.MatchString(trimmed) {
		return false
	}

	// Check for quote characters
	if QuoteChars.MatchString(trimmed) {
		return false
	}

	// If it looks like a path, allow it (paths have already passed the above checks)
	if IsLikelyPath(trimmed) {
		return true
	}

	// For bare names, reject option injection
	if strings.HasPrefix(trimmed, "-") {
		return false
	}

	// Validate bare name pattern
	return BareNamePattern.MatchString(trimmed)
}

// SanitizeExecutableValue validates the executable value and returns it trimmed if safe.
// Returns an error describing why the value is unsafe if validation fails.
func SanitizeExecutableValue(value string) (string, error) {
	if value == "" {
		return "", ErrEmptyValue
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyValue
	}

	// Check for null bytes
	if strings.Contains(trimmed, "\x00") {
		return "", ErrNullByte
	}

	// Check for control characters (newlines, carriage returns)
	if ControlChars.MatchString(trimmed) {
		return "", ErrControlChar
	}

	// Check for shell metacharacters
	if ShellMetachars.MatchString(trimmed) {
		return "", ErrShellMetachar
	}

	// Check for quote characters
	if QuoteChars.MatchString(trimmed) {
		return "", ErrQuoteChar
	}

	// If it looks like a path, allow it (paths have already passed the above checks)
	if IsLikelyPath(trimmed) {
		return trimmed, nil
	}

	// For bare names, reject option injection
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}

	// Validate bare name pattern
	if !BareNamePattern.MatchString(trimmed) {
		return "", ErrInvalidBareNameChars
	}

	return trimmed, nil
}

// mutatingTools is the union of the golden path's declared mutating-tool list
// (write_file, create_file, apply_patch, delete_file, plus shell/exec
// variants) and the separate shell-family names a PTY-backed tool may expose
// (shell_command, bash, run_pty_cmd, write_to_pty). A tool call against any
// of these requires Standard-or-higher workspace trust while plan mode is
// active; anything not in this set is treated as read-only for plan-mode
// purposes.
var mutatingTools = map[string]bool{
	"write_file":    true,
	"create_file":   true,
	"apply_patch":   true,
	"delete_file":   true,
	"exec":          true,
	"execute_code":  true,
	"shell":         true,
	"shell_command": true,
	"bash":          true,
	"run_pty_cmd":   true,
	"write_to_pty":  true,
	"process":       true,
	"sandbox":       true,
}

// IsMutatingTool reports whether a tool name belongs to the canonical
// mutating-tool set. Plan mode forbids dispatching these tools unless the
// caller's workspace trust is Standard or higher (see internal/agent's
// plan-mode gate).
func IsMutatingTool(name string) bool {
	return mutatingTools[strings.ToLower(strings.TrimSpace(name))]
}

// CanonicalizeArgs produces a stable string form of a tool call's JSON
// arguments: object keys sorted, arrays left in their original order,
// scalars rendered via their Go debug form. Two argument payloads that
// differ only in object-key order canonicalize identically, which is what
// lets the result cache and the repeated-call detector compare them safely.
func CanonicalizeArgs(argsJSON []byte) string {
	if len(argsJSON) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(argsJSON, &v); err != nil {
		// Not valid JSON (or not an object/array) - fall back to the raw text,
		// trimmed, so callers still get a deterministic key.
		return strings.TrimSpace(string(argsJSON))
	}
	return canonicalizeValue(v)
}

func canonicalizeValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%q:%s", k, canonicalizeValue(val[k]))
		}
		sb.WriteByte('}')
		return sb.String()
	case []any:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(canonicalizeValue(item))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return fmt.Sprintf("%#v", val)
	}
}

// FingerprintArgs computes a 64-bit FNV-1a hash of "toolName:canonicalArgs",
// the golden path's cache fingerprint (spec.md §4.3's argument
// canonicalization step).
func FingerprintArgs(toolName string, argsJSON []byte) uint64 {
	canonical := CanonicalizeArgs(argsJSON)
	var h uint64 = 14695981039346656037
	for _, b := range []byte(toolName + ":" + canonical) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// SimilarityRatio implements the golden path's fuzzy-reuse metric: a
// character-positional-match ratio over min(len(a), len(b)) of two
// canonicalized argument strings. It is pinned to this metric (not edit
// distance, not Jaccard) per spec.md's resolved fuzzy-similarity ambiguity.
func SimilarityRatio(a, b string) float64 {
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter == 0 {
		if len(a) == 0 && len(b) == 0 {
			return 1
		}
		return 0
	}
	matches := 0
	for i := 0; i < shorter; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(shorter)
}
