package diag

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestSetupTracingExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing(&buf, 1)
	require.NoError(t, err)

	_, span := otel.Tracer("mtdecode/test").Start(context.Background(), "decoder.translate")
	span.SetAttributes(attribute.Int("sentence_id", 7))
	span.End()
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"decoder.translate"`)
	assert.Contains(t, out, "sentence_id")
	assert.Contains(t, out, "mtdecode")
}
