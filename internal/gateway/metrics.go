package gateway

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type gatewayMetrics struct {
	connections metric.Int64UpDownCounter
	received    metric.Int64Counter
	sentMsgs    metric.Int64Counter
}

func newGatewayMetrics(m metric.Meter) (*gatewayMetrics, error) {
	connections, err := m.Int64UpDownCounter("gateway.connections",
		metric.WithDescription("Open device connections"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connections counter")
	}
	received, err := m.Int64Counter("gateway.messages.received",
		metric.WithDescription("Client messages received, by type"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "received counter")
	}
	sent, err := m.Int64Counter("gateway.messages.sent",
		metric.WithDescription("Server messages sent, by type"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "sent counter")
	}
	return &gatewayMetrics{
		connections: connections,
		received:    received,
		sentMsgs:    sent,
	}, nil
}

func (m *gatewayMetrics) connected(delta int64) {
	m.connections.Add(context.Background(), delta)
}

func (m *gatewayMetrics) receivedMsg(kind string) {
	m.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}

func (m *gatewayMetrics) sent(kind string) {
	m.sentMsgs.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", kind)))
}
