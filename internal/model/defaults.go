package model

import "time"

// Shared defaults used by the exporter core and the CLI.
const (
	DefaultPageLimit       = 5000
	DefaultFetchAttempts   = 3
	DefaultFetchRetryDelay = 1 * time.Second
	DefaultLookbackDays    = 1
	DefaultSchedule        = "5 * * * *" // five minutes past every hour
	DefaultCompression     = "gzip"
	DefaultFailurePolicy   = "fail-fast"
)
