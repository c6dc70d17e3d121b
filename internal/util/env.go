// Package util holds small shared helpers.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// GetEnv returns the value of an environment variable, or a default when it
// is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseBoolEnv parses a boolean environment variable. Unset, empty or
// malformed values fall back to the default; malformed values are logged.
func ParseBoolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Error("Invalid boolean environment variable", "error", err, "key", key, "value", v)
		return def
	}
	return b
}

// ParseIntEnv parses an integer environment variable with the same fallback
// behavior as ParseBoolEnv.
func ParseIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Error("Invalid integer environment variable", "error", err, "key", key, "value", v)
		return def
	}
	return n
}
