package constants

import "time"

const (
	// DedupLockTTL caps refresh frequency for one account no matter
	// what the cadence table says.
	DedupLockTTL = 1 * time.Hour

	// LeaderLockTTL guards the single scheduler instance; the loop
	// refreshes it each tick.
	LeaderLockTTL = 5 * time.Minute

	// DeltaTTL is how long emitted delta records stay readable.
	DeltaTTL = 7 * 24 * time.Hour
)

const (
	ExternalAPITimeout = 5 * time.Second
	DatabaseTimeout    = 5 * time.Second
	JobTimeout         = 60 * time.Second

	// MaxFetchConcurrency bounds the per-job sub-resource fan-out.
	MaxFetchConcurrency = 4
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// InactiveCutoff disables the recent feature entirely.
	InactiveCutoff = 360 * 24 * time.Hour
	// ProInactiveCutoff downgrades recent-pro enrollments.
	ProInactiveCutoff = 90 * 24 * time.Hour
)
