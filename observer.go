package goswrcache

import "log/slog"

const (
	// TierMemory marks hits answered from the in-memory table.
	TierMemory = "memory"
	// TierStore marks hits answered from the durable tier.
	TierStore = "store"
)

// Observer receives resolution outcomes. Implementations must be fast and
// must not affect control flow; the Resolver calls them inline.
type Observer interface {
	Hit(key, tier string)
	Miss(key string)
	FetchError(key string, err error)
	Revalidate(key string)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Hit(string, string)       {}
func (NopObserver) Miss(string)              {}
func (NopObserver) FetchError(string, error) {}
func (NopObserver) Revalidate(string)        {}

// LogObserver writes resolution outcomes to a slog.Logger at debug level,
// fetch errors at warn.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Hit(key, tier string) {
	o.logger.Debug("cache hit", "key", key, "tier", tier)
}

func (o *LogObserver) Miss(key string) {
	o.logger.Debug("cache miss", "key", key)
}

func (o *LogObserver) FetchError(key string, err error) {
	o.logger.Warn("cache fetch failed", "key", key, "error", err)
}

func (o *LogObserver) Revalidate(key string) {
	o.logger.Debug("cache revalidation started", "key", key)
}
