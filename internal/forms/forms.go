// Package forms parses the free-text inputs operators type into the panel.
package forms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultWorkingDir is used when no working directory is given.
const DefaultWorkingDir = "/workspace"

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseTimeoutSeconds returns ok=false for blank input. Anything else must be
// a positive integer.
func ParseTimeoutSeconds(value string) (seconds int, ok bool, err error) {
	n, ok, err := parseInt(value)
	if !ok || err != nil {
		return 0, ok, err
	}
	if n <= 0 {
		return 0, true, fmt.Errorf("timeout must be a positive integer number of seconds, got %q", value)
	}
	return n, true, nil
}

// ParseOptionalPort returns ok=false for blank input. Anything else must be
// an integer port in [1, 65535].
func ParseOptionalPort(value string) (port int, ok bool, err error) {
	n, ok, err := parseInt(value)
	if !ok || err != nil {
		return 0, ok, err
	}
	if !ValidPort(n) {
		return 0, true, fmt.Errorf("port must be an integer from 1 to 65535, got %q", value)
	}
	return n, true, nil
}

func ValidPort(n int) bool { return n > 0 && n <= 65535 }

func parseInt(value string) (int, bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, true, fmt.Errorf("%q is not an integer", value)
	}
	return n, true, nil
}

// ParseEnvLines reads KEY=VALUE lines. Blank lines and lines starting with #
// are skipped. Keys and values are trimmed; later keys win.
func ParseEnvLines(text string) (map[string]string, error) {
	env := make(map[string]string)
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		eq := strings.Index(line, "=")
		if eq <= 0 {
			return nil, fmt.Errorf("Invalid env var on line %d. Use KEY=VALUE format.", i+1)
		}

		key := strings.TrimSpace(line[:eq])
		if !ValidEnvKey(key) {
			return nil, fmt.Errorf("Invalid env var key %q on line %d.", key, i+1)
		}
		env[key] = strings.TrimSpace(line[eq+1:])
	}
	return env, nil
}

func ValidEnvKey(key string) bool { return envKeyPattern.MatchString(key) }

func ResolveWorkingDir(value string) string {
	if dir := strings.TrimSpace(value); dir != "" {
		return dir
	}
	return DefaultWorkingDir
}
