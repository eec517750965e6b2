package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type loaderMetrics struct {
	attaches  metric.Int64Counter
	snapshots metric.Int64Counter
	writes    metric.Int64Counter
}

func newLoaderMetrics(m metric.Meter) (*loaderMetrics, error) {
	attaches, err := m.Int64Counter("catalog.attaches",
		metric.WithDescription("Catalog attach calls, by whether an existing subscription was reused"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "attaches counter")
	}
	snapshots, err := m.Int64Counter("catalog.snapshots",
		metric.WithDescription("Backend snapshots received, by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "snapshots counter")
	}
	writes, err := m.Int64Counter("catalog.writes",
		metric.WithDescription("Catalog writes, by operation and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "writes counter")
	}
	return &loaderMetrics{
		attaches:  attaches,
		snapshots: snapshots,
		writes:    writes,
	}, nil
}

func (m *loaderMetrics) attach(ctx context.Context, reused bool) {
	m.attaches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reused", reused)))
}

func (m *loaderMetrics) snapshot(ctx context.Context, outcome string) {
	m.snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *loaderMetrics) write(ctx context.Context, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}
