package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all mosbot metrics instruments.
type Metrics struct {
	RequestDuration     metric.Float64Histogram
	AggregationDuration metric.Float64Histogram
	WorkspaceReads      metric.Int64Counter
	WorkspaceFailures   metric.Int64Counter
	GatewayDegradations metric.Int64Counter
	RecordsPurged       metric.Int64Counter
	AuthRejects         metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("mosbot.request.duration",
		metric.WithDescription("API request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AggregationDuration, err = meter.Float64Histogram("mosbot.aggregation.duration",
		metric.WithDescription("Subagent aggregation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkspaceReads, err = meter.Int64Counter("mosbot.workspace.reads",
		metric.WithDescription("Workspace file reads attempted"),
	)
	if err != nil {
		return nil, err
	}

	m.WorkspaceFailures, err = meter.Int64Counter("mosbot.workspace.failures",
		metric.WithDescription("Workspace connectivity failures"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewayDegradations, err = meter.Int64Counter("mosbot.gateway.degradations",
		metric.WithDescription("Aggregations completed without gateway enrichment"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsPurged, err = meter.Int64Counter("mosbot.retention.purged",
		metric.WithDescription("Records deleted by the retention job"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthRejects, err = meter.Int64Counter("mosbot.auth.rejects",
		metric.WithDescription("Requests rejected by bearer auth"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
