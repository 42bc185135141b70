package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Shared lookup helpers. Optional variables fall back to a default when
// unset or unparsable; required ones are collected into an error by the
// caller.

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

// required accumulates missing or malformed required variables so Load can
// report them all at once.
type required struct {
	missing []string
}

func (r *required) str(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.missing = append(r.missing, key)
		return ""
	}
	return v
}

func (r *required) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required env var(s): %s", strings.Join(r.missing, ", "))
}
