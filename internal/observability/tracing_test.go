package observability

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracer_Disabled(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName: "osc-dm-proxy",
		Enabled:     false,
	})

	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.Nil(t, tracer.provider)

	ctx, span := tracer.StartSpan(context.Background(), "test-span")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_EnabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "osc-dm-proxy",
		Enabled:      true,
		SamplingRate: 1.0,
	})

	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.NotNil(t, tracer.provider)

	ctx, span := tracer.StartSpan(context.Background(), "forward")
	assert.True(t, span.SpanContext().HasTraceID())

	ctx = ContextWithSpan(ctx, span)
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
	assert.Equal(t, span.SpanContext().SpanID().String(), SpanIDFromContext(ctx))

	span.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestCreateSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rate     float64
		expected sdktrace.Sampler
	}{
		{name: "always", rate: 1.0, expected: sdktrace.AlwaysSample()},
		{name: "above one", rate: 2.0, expected: sdktrace.AlwaysSample()},
		{name: "never", rate: 0, expected: sdktrace.NeverSample()},
		{name: "negative", rate: -1, expected: sdktrace.NeverSample()},
		{name: "ratio", rate: 0.5, expected: sdktrace.TraceIDRatioBased(0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sampler := createSampler(tt.rate)
			assert.Equal(t, tt.expected.Description(), sampler.Description())
		})
	}
}

func TestBuildRetryConfig(t *testing.T) {
	t.Parallel()

	t.Run("nil uses defaults", func(t *testing.T) {
		t.Parallel()

		cfg := buildRetryConfig(nil)
		assert.True(t, cfg.Enabled)
		assert.Equal(t, DefaultOTLPRetryInitialInterval, cfg.InitialInterval)
		assert.Equal(t, DefaultOTLPRetryMaxInterval, cfg.MaxInterval)
		assert.Equal(t, DefaultOTLPRetryMaxElapsedTime, cfg.MaxElapsedTime)
	})

	t.Run("zero values use defaults", func(t *testing.T) {
		t.Parallel()

		cfg := buildRetryConfig(&OTLPRetryConfig{Enabled: true})
		assert.Equal(t, DefaultOTLPRetryInitialInterval, cfg.InitialInterval)
		assert.Equal(t, DefaultOTLPRetryMaxInterval, cfg.MaxInterval)
		assert.Equal(t, DefaultOTLPRetryMaxElapsedTime, cfg.MaxElapsedTime)
	})

	t.Run("custom values preserved", func(t *testing.T) {
		t.Parallel()

		cfg := buildRetryConfig(&OTLPRetryConfig{
			Enabled:         true,
			InitialInterval: DefaultOTLPRetryInitialInterval * 2,
			MaxInterval:     DefaultOTLPRetryMaxInterval * 2,
			MaxElapsedTime:  DefaultOTLPRetryMaxElapsedTime * 2,
		})
		assert.Equal(t, DefaultOTLPRetryInitialInterval*2, cfg.InitialInterval)
		assert.Equal(t, DefaultOTLPRetryMaxInterval*2, cfg.MaxInterval)
		assert.Equal(t, DefaultOTLPRetryMaxElapsedTime*2, cfg.MaxElapsedTime)
	})
}

func TestTraceContextPropagation(t *testing.T) {
	t.Parallel()

	tracer, err := NewTracer(TracerConfig{
		ServiceName:  "osc-dm-proxy",
		Enabled:      true,
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, span := tracer.StartSpan(context.Background(), "outbound")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://backend-a/api", nil)
	require.NoError(t, err)

	InjectTraceContext(ctx, req)
	assert.NotEmpty(t, req.Header.Get("traceparent"))

	extracted := ExtractTraceContext(context.Background(), req.Header)
	assert.Equal(t,
		span.SpanContext().TraceID(),
		SpanFromContext(extracted).SpanContext().TraceID(),
	)
}
