package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jiaming2012/broker-bridge/src/models"
)

// StartSpan starts a span for a venue call on the global tracer provider.
func (b *Base) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(b.name)
	attrs = append(attrs, attribute.String("adapter", b.name))

	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func OrderAttributes(order *models.Order) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("orderID", order.UserID),
		attribute.String("brokerID", order.GetBrokerID()),
		attribute.String("symbol", order.Symbol),
		attribute.String("side", string(order.Side)),
		attribute.String("type", string(order.Type)),
		attribute.Float64("quantity", order.Quantity),
		attribute.String("tag", order.Tag),
	}
}
