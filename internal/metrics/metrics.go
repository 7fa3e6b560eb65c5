// Package metrics records feedback-session and port-negotiation counters
// through the OpenTelemetry metric API.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName = "feedback-mcp"
	meterName   = "github.com/AltairaLabs/feedback-mcp"
)

// Recorder receives lifecycle events from the session broker and the port
// negotiator.
type Recorder interface {
	SessionStarted(ctx context.Context)
	SessionFinished(ctx context.Context, state string, lifetime time.Duration)
	PortNegotiated(ctx context.Context, operation, outcome string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionStarted(context.Context) {}
func (Nop) SessionFinished(context.Context, string, time.Duration) {}
func (Nop) PortNegotiated(context.Context, string, string) {}

// OTelRecorder implements Recorder with OpenTelemetry instruments.
type OTelRecorder struct {
	sessionsStarted  metric.Int64Counter
	sessionsFinished metric.Int64Counter
	sessionLifetime  metric.Float64Histogram
	activeSessions   metric.Int64UpDownCounter
	portOps          metric.Int64Counter
}

// NewOTelRecorder creates the instruments on the given meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	started, err := meter.Int64Counter(
		"feedback_sessions_started_total",
		metric.WithDescription("Feedback sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions started counter: %w", err)
	}

	finished, err := meter.Int64Counter(
		"feedback_sessions_finished_total",
		metric.WithDescription("Feedback sessions that reached a terminal state"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sessions finished counter: %w", err)
	}

	lifetime, err := meter.Float64Histogram(
		"feedback_session_lifetime_seconds",
		metric.WithDescription("Time from session creation to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating lifetime histogram: %w", err)
	}

	active, err := meter.Int64UpDownCounter(
		"feedback_sessions_active",
		metric.WithDescription("Feedback sessions currently awaiting a response"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating active sessions counter: %w", err)
	}

	portOps, err := meter.Int64Counter(
		"feedback_port_operations_total",
		metric.WithDescription("Port negotiation operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating port operations counter: %w", err)
	}

	return &OTelRecorder{
		sessionsStarted:  started,
		sessionsFinished: finished,
		sessionLifetime:  lifetime,
		activeSessions:   active,
		portOps:          portOps,
	}, nil
}

// SessionStarted implements Recorder.
func (r *OTelRecorder) SessionStarted(ctx context.Context) {
	r.sessionsStarted.Add(ctx, 1)
	r.activeSessions.Add(ctx, 1)
}

// SessionFinished implements Recorder.
func (r *OTelRecorder) SessionFinished(ctx context.Context, state string, lifetime time.Duration) {
	opt := metric.WithAttributes(attribute.String("state", state))
	r.sessionsFinished.Add(ctx, 1, opt)
	r.sessionLifetime.Record(ctx, lifetime.Seconds(), opt)
	r.activeSessions.Add(ctx, -1)
}

// PortNegotiated implements Recorder.
func (r *OTelRecorder) PortNegotiated(ctx context.Context, operation, outcome string) {
	r.portOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// Provider owns the meter provider and its exporter.
type Provider struct {
	provider *sdkmetric.MeterProvider
	Recorder Recorder
}

// NewProvider builds a meter provider. With an empty endpoint no exporter is
// attached and instruments are recorded in-process only.
func NewProvider(ctx context.Context, endpoint, version string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if endpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	rec, err := NewOTelRecorder(provider.Meter(meterName))
	if err != nil {
		return nil, err
	}
	return &Provider{provider: provider, Recorder: rec}, nil
}

// Close flushes and shuts down the provider.
func (p *Provider) Close(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}
