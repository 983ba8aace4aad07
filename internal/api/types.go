package api

// ProcessResponse is returned by POST /documents/{documentID}/process.
type ProcessResponse struct {
	DocumentID string `json:"document_id"`
	// Status is "queued" when the document was added, "coalesced" when it was
	// already waiting.
	Status string `json:"status"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	PendingCount  int    `json:"pending_count"`
}
