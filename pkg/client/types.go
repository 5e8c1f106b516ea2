package client

// RecordRequest represents one response-time measurement submission.
type RecordRequest struct {
	Channel        string  `json:"channel"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// ChannelStats are the per-channel aggregates reported by the daemon.
type ChannelStats struct {
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Count      int     `json:"count"`
	Violations int     `json:"violations"`
}

// StatusResponse represents the daemon status endpoint payload.
type StatusResponse struct {
	BreakerState    string                  `json:"breaker_state"`
	Failures        int                     `json:"consecutive_failures"`
	BacklogUnsynced int                     `json:"backlog_unsynced"`
	Channels        map[string]ChannelStats `json:"channels"`
}

// ResyncResponse reports the outcome of a manual reconciliation cycle.
type ResyncResponse struct {
	Synced int `json:"synced"`
}

// HealthResponse reports the daemon's probe of the remote ingestion service.
type HealthResponse struct {
	Status  string  `json:"status"`
	Latency float64 `json:"latency_seconds,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
