package config

import "time"

// Default timing configurations used throughout the coordinator
const (
	// MinDialogTimeoutSeconds is the shortest accepted respondent timeout
	MinDialogTimeoutSeconds = 10

	// MaxDialogTimeoutSeconds is the longest accepted respondent timeout
	MaxDialogTimeoutSeconds = 60000

	// DefaultSweepInterval is how often expired sessions are swept
	DefaultSweepInterval = 60 * time.Second

	// DefaultReleaseWait bounds the wait for the web port to be released on shutdown
	DefaultReleaseWait = 2 * time.Second

	// DefaultHTTPShutdownTimeout bounds the respondent server shutdown
	DefaultHTTPShutdownTimeout = 2 * time.Second

	// DefaultGRPCStopTimeout is how long GracefulStop may run before Stop is forced
	DefaultGRPCStopTimeout = 2 * time.Second

	// DefaultMetricsShutdownTimeout bounds the final metrics flush
	DefaultMetricsShutdownTimeout = 5 * time.Second
)
