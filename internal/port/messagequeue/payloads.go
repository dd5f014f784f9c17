package messagequeue

// SyncDispatchPayload is the schema for sync.dispatch.{type} messages.
type SyncDispatchPayload struct {
	UnitID   string `json:"unit_id"`
	SyncType string `json:"sync_type"`
	TenantID string `json:"tenant_id,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
	Priority int    `json:"priority"`
}

// SyncResultPayload is the schema for sync.result messages.
type SyncResultPayload struct {
	UnitID     string `json:"unit_id"`
	SyncType   string `json:"sync_type"`
	TenantID   string `json:"tenant_id,omitempty"`
	BatchID    string `json:"batch_id,omitempty"`
	Status     string `json:"status"`
	Processed  int    `json:"processed"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Conflicts  int    `json:"conflicts"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// SyncCancelPayload is the schema for sync.cancel messages.
type SyncCancelPayload struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason,omitempty"`
}
