package model

import "time"

// APICallLog is an append-only record of a guarded API request. It is
// written asynchronously after the response is produced and is never read
// back by the gateway decision itself.
type APICallLog struct {
	ID           int64     `json:"id" db:"id"`
	APIKeyID     string    `json:"api_key_id,omitempty" db:"api_key_id"`
	WorkspaceID  string    `json:"workspace_id" db:"workspace_id"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	Method       string    `json:"method" db:"method"`
	StatusCode   int       `json:"status_code" db:"status_code"`
	LatencyMs    int64     `json:"latency_ms" db:"latency_ms"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RateLimitCounter is the per-workspace fixed-window request counter. Rows
// are created lazily on the first request of a window and reclaimed once
// the window has rolled over.
type RateLimitCounter struct {
	WorkspaceID string `db:"workspace_id"`
	WindowStart int64  `db:"window_start"` // unix seconds, floor(now/window)*window
	Count       int    `db:"count"`
}
