// Package env reads typed values from environment variables, falling back to defaults.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetBoolEnv returns the environment value converted to boolean type, or the fallback if the variable is not set or invalid.
func GetBoolEnv(key string, fallback bool) bool {
	if strVal, ok := LookupEnv(key); ok {
		if val, err := strconv.ParseBool(strVal); err == nil {
			return val
		}
	}

	return fallback
}

// GetIntEnv returns the environment value converted to integer type, or the fallback if the variable is not set or invalid.
func GetIntEnv(key string, fallback int) int {
	if strVal, ok := LookupEnv(key); ok {
		if val, err := strconv.Atoi(strVal); err == nil {
			return val
		}
	}

	return fallback
}

// GetDurationEnv accepts Go durations ("30s") as well as a bare number of seconds ("30").
func GetDurationEnv(key string, fallback time.Duration) time.Duration {
	strVal, ok := LookupEnv(key)
	if !ok {
		return fallback
	}

	if secs, err := strconv.Atoi(strVal); err == nil {
		return time.Duration(secs) * time.Second
	}

	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}

	return fallback
}

// GetStringEnv returns an environment variable by the given key, or the fallback if it is not present.
func GetStringEnv(key string, fallback string) string {
	if val, ok := LookupEnv(key); ok {
		return val
	}

	return fallback
}

// LookupEnv behaves the same as `os.LookupEnv`, but trims spaces and treats empty values as absent.
func LookupEnv(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)

	return val, ok && val != ""
}
