package nats

import "time"

// Processing and retry constants
const (
	MaxConsecutiveErrors  = 10
	BaseBackoffDelay      = time.Second
	MaxBackoffDelay       = 30 * time.Second
	BackoffMultiplier     = 2.0
	ProcessingTimeout     = 20 * time.Second
	MaxBatchSize          = 1000
	CleanupTimeout        = 30 * time.Second
	MetricsReportInterval = 1 * time.Minute
	RetryShortDelay       = time.Second
)

// HeaderPublishedAt carries the wall-clock publish time of an annotated record
const HeaderPublishedAt = "Timestamp"
