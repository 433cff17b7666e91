package goswrcache

import "time"

type Config struct {
	// DedupeWindow is how long a freshly resolved value answers repeat calls
	// for the same key without touching either tier.
	DedupeWindow time.Duration

	// StaleAfter is the age past which a cached value is still served but
	// triggers a background revalidation.
	StaleAfter time.Duration

	// DefaultTTL applies when a resolution does not specify its own TTL.
	DefaultTTL time.Duration

	// RetryAttempts is the total number of fetch attempts before a
	// resolution fails. RetryDelay is the fixed wait between attempts.
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		DedupeWindow:  2 * time.Second,
		StaleAfter:    30 * time.Second,
		DefaultTTL:    5 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}
}
