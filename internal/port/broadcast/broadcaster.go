// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected operator clients.
// tenantcore broadcasts sync-unit status transitions and critical audit
// events so ops dashboards see them as they happen.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types published on the feed.
const (
	EventSyncStatus    = "sync.status"
	EventAuditCritical = "audit.critical"
)
