package config

import (
	"os"
	"strconv"
	"time"
)

// RateLimitConfig configures the Redis token bucket in front of the API.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // ip, user, ip_route, user_route or ip_user_route
	Prefix         string
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.
func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    getenv("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:         getenv("RATE_LIMIT_PREFIX", "rl"),
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}

// IdempotencyConfig configures replay of mutating requests that carry an
// Idempotency-Key header.
type IdempotencyConfig struct {
	Enabled      bool
	TTL          time.Duration // how long a stored response is replayed
	LockTTL      time.Duration // how long an in-flight key blocks duplicates
	Prefix       string
	MaxBodyBytes int
}

// LoadIdempotencyConfig reads IDEMPOTENCY_* variables.
func LoadIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Enabled:      envBool("IDEMPOTENCY_ENABLED", true),
		TTL:          envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		LockTTL:      envDur("IDEMPOTENCY_LOCK_TTL", time.Minute),
		Prefix:       getenv("IDEMPOTENCY_PREFIX", "idem"),
		MaxBodyBytes: envInt("IDEMPOTENCY_MAX_BODY_BYTES", 1<<20),
	}
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
