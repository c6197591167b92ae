// Package telemetry adapts OpenTelemetry tracing to the engine's Trace
// callback, and provides no-op tracer plumbing for callers that want the
// wiring without an SDK behind it.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hsm "github.com/phamnamhien/HSM"
)

/******* Trace hook *******/

// Hook adapts tracer to a machine Trace: every engine step becomes a span
// named "hsm.<step>" carrying machine, state and event attributes, ended
// when the step completes. A nil tracer falls back to the package's no-op
// tracer, keeping the wiring inert.
//
// Spans are started without a parent context; the engine's dispatch path
// carries no context of its own.
func Hook(tracer trace.Tracer) hsm.Trace {
	if tracer == nil {
		tracer = NewProvider().Tracer("hsm")
	}
	return func(step string, args ...any) func(...any) {
		_, span := tracer.Start(context.Background(), "hsm."+step)
		span.SetAttributes(attributes(args)...)
		return func(results ...any) {
			for _, result := range results {
				if event, ok := result.(hsm.Event); ok {
					span.SetAttributes(attribute.String("hsm.residual", event.String()))
				}
			}
			span.End()
		}
	}
}

// attributes maps a step's arguments onto span attributes. Two states in
// one step always mean a transition's source and target, in that order.
func attributes(args []any) []attribute.KeyValue {
	var kvs []attribute.KeyValue
	var states []*hsm.State
	for _, arg := range args {
		switch v := arg.(type) {
		case *hsm.Machine:
			kvs = append(kvs,
				attribute.String("hsm.machine", v.Name()),
				attribute.String("hsm.id", v.ID()))
		case *hsm.State:
			states = append(states, v)
		case hsm.Event:
			kvs = append(kvs, attribute.String("hsm.event", v.String()))
		}
	}
	switch len(states) {
	case 1:
		kvs = append(kvs, attribute.String("hsm.state", states[0].Name()))
	case 2:
		kvs = append(kvs,
			attribute.String("hsm.source", states[0].Name()),
			attribute.String("hsm.target", states[1].Name()))
	}
	return kvs
}

/******* No-op plumbing *******/

type Provider struct {
	trace.TracerProvider
}

var (
	provider    = &Provider{}
	tracer      = &Tracer{}
	span        = &Span{}
	spanContext = trace.SpanContext{}
)

func NewProvider() *Provider {
	return provider
}

func (provider *Provider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tracer
}

type Tracer struct {
	trace.Tracer
}

func (tracer *Tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, span
}

type Span struct {
	trace.Span
}

func (span *Span) End(options ...trace.SpanEndOption)                  {}
func (span *Span) AddEvent(name string, options ...trace.EventOption)  {}
func (span *Span) AddLink(link trace.Link)                             {}
func (span *Span) IsRecording() bool                                   { return false }
func (span *Span) RecordError(err error, options ...trace.EventOption) {}
func (span *Span) SetAttributes(kv ...attribute.KeyValue)              {}
func (span *Span) SetName(name string)                                 {}
func (span *Span) SetStatus(code codes.Code, description string)       {}
func (span *Span) SpanContext() trace.SpanContext                      { return spanContext }
func (span *Span) TracerProvider() trace.TracerProvider                { return provider }
