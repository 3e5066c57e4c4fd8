package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sweetpotato0/veriflow/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName is the tracer name used by veriflow packages.
const InstrumentationName = "github.com/sweetpotato0/veriflow"

// Span attribute keys shared by the pipeline and the servers.
const (
	AttrSessionID  = attribute.Key("veriflow.session_id")
	AttrIteration  = attribute.Key("veriflow.iteration")
	AttrQuery      = attribute.Key("veriflow.query")
	AttrEvidence   = attribute.Key("veriflow.evidence_count")
	AttrStatus     = attribute.Key("veriflow.status")
	AttrFailure    = attribute.Key("veriflow.failure")
	AttrIterations = attribute.Key("veriflow.iterations_used")
	AttrVerified   = attribute.Key("veriflow.verified")
)

const maxQueryAttr = 200

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Config controls initialization of OpenTelemetry exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string // OTLP gRPC endpoint; falls back to OTEL_EXPORTER_OTLP_ENDPOINT
	// Output receives spans when no endpoint is set. Defaults to stderr so
	// stdout stays free for answers and the MCP stdio transport.
	Output io.Writer
	// SampleRatio below 1 samples sessions by trace ID; 0 means always.
	SampleRatio float64
	Disable     bool
	Logger      *slog.Logger
}

// Init installs a global tracer provider for the pipeline spans. The
// returned Shutdown flushes exporters when the process exits.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Disable {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "veriflow"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("telemetry")
	}

	exp, err := newExporter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
			return err
		}
		return nil
	}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newExporter(ctx context.Context, cfg Config, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		logger.Warn("no OTLP endpoint configured, writing spans to the log output")
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Output))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}
	logger.Info("OTLP trace exporter configured", "endpoint", cfg.Endpoint)
	return exp, nil
}

// Tracer returns the shared veriflow tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StepAttributes describes one retrieve/generate/critique/refine step.
func StepAttributes(sessionID string, iteration int, query string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSessionID.String(sessionID),
		AttrIteration.Int(iteration),
		AttrQuery.String(logging.Trim(query, maxQueryAttr)),
	}
}

// OutcomeAttributes describes how a session terminated.
func OutcomeAttributes(status, failure string, iterationsUsed int, verified bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStatus.String(status),
		AttrFailure.String(failure),
		AttrIterations.Int(iterationsUsed),
		AttrVerified.Bool(verified),
	}
}

// End finalizes a span and captures the provided error.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
