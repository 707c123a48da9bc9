package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"estate-voice-server/pkg/config"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "estate-voice-server/tracing"

var (
	tracerMutex   sync.RWMutex
	tracer        = otel.Tracer(instrumentationName)
	sessionScopes sync.Map // map[string]*SessionScope
)

func currentTracer() trace.Tracer {
	tracerMutex.RLock()
	defer tracerMutex.RUnlock()
	return tracer
}

// UseProvider switches the package tracer to provider
func UseProvider(provider trace.TracerProvider) {
	tracerMutex.Lock()
	tracer = provider.Tracer(instrumentationName)
	tracerMutex.Unlock()
}

// SessionScope is the root span of one conversation. Chunk spans hang
// beneath it while each chunk keeps its own cancellation.
type SessionScope struct {
	sessionID string
	span      trace.Span
	started   time.Time
	endOnce   sync.Once
}

// Span returns the root span for the session.
func (s *SessionScope) Span() trace.Span {
	if s == nil {
		return trace.SpanFromContext(context.Background())
	}
	return s.span
}

// SetAttributes attaches attributes to the session root span.
func (s *SessionScope) SetAttributes(attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attrs...)
}

// End completes the root span and forgets the scope.
func (s *SessionScope) End(err error) {
	if s == nil {
		return
	}
	s.endOnce.Do(func() {
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "completed")
		}
		s.span.SetAttributes(attribute.Float64("session.duration_s", time.Since(s.started).Seconds()))
		s.span.End()
		sessionScopes.Delete(s.sessionID)
	})
}

// Init configures the global tracer provider from the tracing config. The
// returned function flushes and shuts the provider down.
func Init(ctx context.Context, cfg config.TracingConfig, logger *logrus.Logger) (func(context.Context) error, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "estate-voice-server"
	}

	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1
	}

	var providerOpts []sdktrace.TracerProviderOption

	if res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	); err != nil {
		logger.WithError(err).Warn("failed to build OpenTelemetry resource")
	} else {
		providerOpts = append(providerOpts, sdktrace.WithResource(res))
	}

	providerOpts = append(providerOpts, sdktrace.WithSampler(
		sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio)),
	))

	var spanProcessor sdktrace.SpanProcessor
	if cfg.Enabled && cfg.Endpoint != "" {
		exporterCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}

		exporter, err := otlptracegrpc.New(exporterCtx, clientOpts...)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize OTLP tracing exporter; spans stay local")
		} else {
			spanProcessor = sdktrace.NewBatchSpanProcessor(exporter)
			providerOpts = append(providerOpts, sdktrace.WithSpanProcessor(spanProcessor))
		}
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	UseProvider(provider)

	logger.WithFields(logrus.Fields{
		"service":  serviceName,
		"exporter": spanProcessor != nil,
		"ratio":    sampleRatio,
	}).Info("Tracing initialized")

	return func(shutdownCtx context.Context) error {
		if spanProcessor != nil {
			if err := spanProcessor.ForceFlush(shutdownCtx); err != nil {
				logger.WithError(err).Warn("failed to flush spans during shutdown")
			}
		}
		return provider.Shutdown(shutdownCtx)
	}, nil
}

// StartSessionScope returns the session's scope, creating the root span on
// first use.
func StartSessionScope(sessionID string, attrs ...attribute.KeyValue) *SessionScope {
	if existing, ok := GetSessionScope(sessionID); ok {
		return existing
	}

	sessionAttrs := append([]attribute.KeyValue{attribute.String("session.id", sessionID)}, attrs...)
	_, span := currentTracer().Start(context.Background(), fmt.Sprintf("session.%s", sessionID),
		trace.WithAttributes(sessionAttrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)

	scope := &SessionScope{sessionID: sessionID, span: span, started: time.Now()}
	if actual, loaded := sessionScopes.LoadOrStore(sessionID, scope); loaded {
		// Lost the race; discard our span
		span.End()
		return actual.(*SessionScope)
	}
	return scope
}

// GetSessionScope retrieves the registered scope for a session.
func GetSessionScope(sessionID string) (*SessionScope, bool) {
	value, ok := sessionScopes.Load(sessionID)
	if !ok {
		return nil, false
	}
	scope, ok := value.(*SessionScope)
	return scope, ok
}

// EndSession ends the session's scope if one is open.
func EndSession(sessionID string, err error) {
	if scope, ok := GetSessionScope(sessionID); ok {
		scope.End(err)
	}
}

// StartChunk opens a span for one audio chunk beneath the session span.
// Cancellation still follows ctx.
func StartChunk(ctx context.Context, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	parent := ctx
	if scope, ok := GetSessionScope(sessionID); ok {
		parent = trace.ContextWithSpan(ctx, scope.span)
	}
	chunkAttrs := append([]attribute.KeyValue{attribute.String("session.id", sessionID)}, attrs...)
	return currentTracer().Start(parent, "chunk", trace.WithAttributes(chunkAttrs...))
}

// StartStage opens a span for one pipeline stage. Call the returned
// function with the stage outcome.
func StartStage(ctx context.Context, stage string) (context.Context, func(err error)) {
	ctx, span := currentTracer().Start(ctx, "stage."+stage, trace.WithAttributes(attribute.String("stage", stage)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartSpan creates a child span beneath the current context using the shared tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return currentTracer().Start(ctx, name, opts...)
}

// SpanFromContext safely resolves a span from context, falling back to a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	if ctx == nil {
		return trace.SpanFromContext(context.Background())
	}
	return trace.SpanFromContext(ctx)
}
