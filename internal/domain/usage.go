package domain

import "time"

// UsageLog records the work done by one succeeded export.
type UsageLog struct {
	JobID           string
	SessionID       string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
