package stores

import "time"

var (
	// DefaultSweepInterval is the default interval at which backends that
	// sweep expired rows in the background run their cleanup task.
	DefaultSweepInterval = 10 * time.Minute
)
