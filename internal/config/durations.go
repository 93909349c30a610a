package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration reads a config duration. Besides Go syntax ("90s", "1h30m")
// it takes a leading day count, so retention can be written "7d" or "1d12h".
// Blank means zero; negative values are rejected. key names the setting in
// error messages.
func parseDuration(key, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var days time.Duration
	if i := strings.IndexByte(s, 'd'); i > 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
		}
		days = time.Duration(n) * 24 * time.Hour
		s = s[i+1:]
	}
	var rest time.Duration
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
		}
		rest = d
	}
	d := days + rest
	if d < 0 {
		return 0, fmt.Errorf("%s: duration %q is negative", key, raw)
	}
	return d, nil
}

// durationOr is parseDuration with def standing in for blank or zero.
func durationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
