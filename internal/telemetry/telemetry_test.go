package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	ctx := context.Background()
	// The exporter connects lazily, so no collector needs to be listening.
	shutdown, err := Setup(ctx, "http://127.0.0.1:4318")
	require.NoError(t, err)

	_, span := Tracer("test").Start(ctx, "probe")
	span.End()

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(cctx)
}
