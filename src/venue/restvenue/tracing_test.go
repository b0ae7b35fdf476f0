package restvenue

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracing(t *testing.T) {
	t.Run("requests are client spans under the caller's span", func(t *testing.T) {
		// arrange
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		otel.SetTracerProvider(provider)
		t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"account":{"data":{"account_id":"acc-1","currency":"USDT","balance":"10"}}}`))
		})
		ctx, parent := provider.Tracer("test").Start(context.Background(), "GetAccountSummary")

		// act
		_, err := client.GetAccountSummary(ctx)
		parent.End()

		// assert
		require.NoError(t, err)

		var clientSpans []sdktrace.ReadOnlySpan
		for _, span := range recorder.Ended() {
			if span.SpanKind() == trace.SpanKindClient {
				clientSpans = append(clientSpans, span)
			}
		}

		require.Len(t, clientSpans, 1)
		assert.Equal(t, parent.SpanContext().SpanID(), clientSpans[0].Parent().SpanID())
	})
}
