// Package txconfig parses the stringly-typed config maps every Factory
// receives into the typed values transports need, validating eagerly
// before Start is ever called.
package txconfig

import (
	"fmt"
	"strconv"
	"time"
)

// Int reads key as an integer, falling back to def when absent.
func Int(cfg map[string]string, key string, def int) (int, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config %q: %w", key, err)
	}
	return v, nil
}

// Int64 reads key as an int64, falling back to def when absent.
func Int64(cfg map[string]string, key string, def int64) (int64, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config %q: %w", key, err)
	}
	return v, nil
}

// Millis reads key as a millisecond count and returns it as a Duration.
func Millis(cfg map[string]string, key string, defMs int) (time.Duration, error) {
	v, err := Int(cfg, key, defMs)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Millisecond, nil
}

// String reads key as-is, falling back to def when absent.
func String(cfg map[string]string, key, def string) string {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def
	}
	return raw
}

// Bool reads key as a boolean, falling back to def when absent.
func Bool(cfg map[string]string, key string, def bool) (bool, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config %q: %w", key, err)
	}
	return v, nil
}
