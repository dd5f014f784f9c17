package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tenantcore"

// Metrics holds all tenantcore metric instruments.
type Metrics struct {
	AuditEntries        metric.Int64Counter
	IsolationViolations metric.Int64Counter
	SyncUnitsStarted    metric.Int64Counter
	SyncUnitsCompleted  metric.Int64Counter
	SyncUnitsFailed     metric.Int64Counter
	SyncRetries         metric.Int64Counter
	SyncDuration        metric.Float64Histogram
	PartitionAcquires   metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AuditEntries, err = meter.Int64Counter("tenantcore.audit.entries",
		metric.WithDescription("Audit entries recorded, by severity"))
	if err != nil {
		return nil, err
	}

	m.IsolationViolations, err = meter.Int64Counter("tenantcore.isolation.violations",
		metric.WithDescription("Rejected cross-tenant access attempts"))
	if err != nil {
		return nil, err
	}

	m.SyncUnitsStarted, err = meter.Int64Counter("tenantcore.sync.units.started",
		metric.WithDescription("Sync units started"))
	if err != nil {
		return nil, err
	}

	m.SyncUnitsCompleted, err = meter.Int64Counter("tenantcore.sync.units.completed",
		metric.WithDescription("Sync units completed"))
	if err != nil {
		return nil, err
	}

	m.SyncUnitsFailed, err = meter.Int64Counter("tenantcore.sync.units.failed",
		metric.WithDescription("Sync units failed"))
	if err != nil {
		return nil, err
	}

	m.SyncRetries, err = meter.Int64Counter("tenantcore.sync.retries",
		metric.WithDescription("Sync unit retries consumed"))
	if err != nil {
		return nil, err
	}

	m.SyncDuration, err = meter.Float64Histogram("tenantcore.sync.duration_seconds",
		metric.WithDescription("Sync unit duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.PartitionAcquires, err = meter.Int64Counter("tenantcore.partition.acquires",
		metric.WithDescription("Partition-pinned connection acquisitions"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
