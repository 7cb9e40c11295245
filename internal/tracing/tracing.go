// Copyright 2025 The takt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing bootstraps OpenTelemetry for the daemon and carries the
// request id that correlates API responses with log lines. Spans are exported
// to a writer (stdout in development); production deployments point the
// writer at their collector sidecar's ingest file or disable export.
package tracing

import (
	"context"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/takt-io/takt/pkg/errors"
)

// tracerName is the instrumentation scope for the daemon's own spans.
const tracerName = "takt"

// Config controls the tracer provider.
type Config struct {
	// ServiceName and ServiceVersion identify the daemon in exported spans.
	ServiceName    string
	ServiceVersion string

	// Writer receives exported spans as JSON lines. Nil disables export;
	// spans are still created so request handling sees a uniform API.
	Writer io.Writer

	// PrettyPrint formats exported spans for human eyes.
	PrettyPrint bool
}

// Provider owns the OpenTelemetry tracer provider lifecycle.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup builds a tracer provider, installs it globally together with the W3C
// propagator, and returns it for shutdown.
func Setup(cfg Config) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "building tracing resource")
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Writer != nil {
		exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(cfg.Writer)}
		if cfg.PrettyPrint {
			exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
		}
		exporter, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "creating span exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and releases the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans synchronously.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}

// StartSpan opens a span under the daemon's tracer. Used around event
// application and other non-HTTP units of work.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Middleware creates a server span per request, named service/path, with the
// trace context extracted from inbound headers.
func Middleware(service string, next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, service+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.RequestURI()),
			),
		)
		defer span.End()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrapped.status))
		if wrapped.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(wrapped.status))
		}
	})
}

// statusWriter captures the response status code for span attributes.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
