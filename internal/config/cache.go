package config

import "time"

// StateCacheConfig controls the short-lived cache of per-user token state
// (watermark, active flag, role) consulted on every access-token check.
// With Redis the cache is shared between instances; without it each
// instance keeps its own copy in memory. TTL bounds how long another
// instance may keep accepting a token after a watermark bump it did not
// perform itself.
type StateCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadStateCacheConfig reads STATE_CACHE_* variables.
func LoadStateCacheConfig() StateCacheConfig {
	c := StateCacheConfig{
		Enabled: envBool("STATE_CACHE_ENABLED", true),
		TTL:     envDur("STATE_CACHE_TTL", 30*time.Second),
		Prefix:  envStr("STATE_CACHE_PREFIX", "ustate"),
	}
	if c.TTL <= 0 {
		c.Enabled = false
	}
	return c
}
