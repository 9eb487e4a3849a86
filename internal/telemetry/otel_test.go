package telemetry

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "valid configuration",
			opts: Options{ServiceName: "render-gate", ServiceVersion: "test", Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1},
		},
		{
			name: "empty service name",
			opts: Options{Endpoint: "localhost:4318", Insecure: true, SampleRatio: 0.5},
		},
		{
			name: "tls exporter",
			opts: Options{ServiceName: "render-gate", Endpoint: "collector.example.com:4318"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			tp, err := InitTracer(ctx, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("InitTracer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tp != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := Shutdown(shutdownCtx, tp); err != nil {
					t.Errorf("Shutdown() error = %v", err)
				}
			}
		})
	}
}

func TestSampler(t *testing.T) {
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	tests := []struct {
		name  string
		ratio float64
		want  sdktrace.SamplingDecision
	}{
		{"always", 1, sdktrace.RecordAndSample},
		{"above one", 3, sdktrace.RecordAndSample},
		{"never", 0, sdktrace.Drop},
		{"negative", -1, sdktrace.Drop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Sampler(tt.ratio).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       traceID,
				Name:          "span",
			})
			if res.Decision != tt.want {
				t.Errorf("decision = %v, want %v", res.Decision, tt.want)
			}
		})
	}
}

func TestSampler_HonorsSampledParent(t *testing.T) {
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)

	res := Sampler(0).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: ctx,
		TraceID:       parent.TraceID(),
		Name:          "span",
	})
	if res.Decision != sdktrace.RecordAndSample {
		t.Errorf("decision = %v, want RecordAndSample for a sampled parent", res.Decision)
	}
}

func TestShutdown(t *testing.T) {
	t.Run("shutdown with nil provider", func(t *testing.T) {
		if err := Shutdown(context.Background(), nil); err != nil {
			t.Errorf("Shutdown() with nil provider should not error, got: %v", err)
		}
	})

	t.Run("shutdown with valid provider", func(t *testing.T) {
		tp, err := InitTracer(context.Background(), Options{ServiceName: "render-gate", Endpoint: "localhost:4318", Insecure: true, SampleRatio: 1})
		if err != nil {
			t.Fatalf("Failed to initialize tracer: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := Shutdown(shutdownCtx, tp); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}
