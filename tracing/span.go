package tracing

import (
	"context"

	"github.com/datatrails/go-datatrails-coordination/logger"
	opentracing "github.com/opentracing/opentracing-go"
	opentracinglog "github.com/opentracing/opentracing-go/log"
)

// Span hides the opentracing span so callers do not import opentracing-go
// and a move to opentelemetry stays local to this package.
//
// Spans cross process boundaries that have no headers, such as pub/sub
// messages, as Attributes: a string map carried in the payload and turned
// back into a parent with NewSpanWithAttributes.
type Span struct {
	span opentracing.Span
	log  logger.Logger
}

func (s *Span) Close() {
	if s.span != nil {
		s.span.Finish()
		s.span = nil
	}
}

func (s *Span) SetTag(key string, value any) {
	if s.span != nil {
		s.span.SetTag(key, value)
	}
}

func (s *Span) LogField(key string, value any) {
	if s.span == nil {
		return
	}
	switch v := value.(type) {
	case bool:
		s.span.LogFields(opentracinglog.Bool(key, v))
	case error:
		s.span.LogFields(opentracinglog.Error(v))
	case int:
		s.span.LogFields(opentracinglog.Int(key, v))
	case int64:
		s.span.LogFields(opentracinglog.Int64(key, v))
	case float64:
		s.span.LogFields(opentracinglog.Float64(key, v))
	case string:
		s.span.LogFields(opentracinglog.String(key, v))
	}
}

func (s *Span) inject() (opentracing.TextMapCarrier, error) {
	carrier := opentracing.TextMapCarrier{}
	err := opentracing.GlobalTracer().Inject(s.span.Context(), opentracing.TextMap, carrier)
	return carrier, err
}

func (s *Span) TraceID() string {
	if s.span == nil {
		return ""
	}
	carrier, err := s.inject()
	if err != nil {
		return ""
	}
	return carrier[TraceID]
}

// Attributes is the span context as a string map, for propagation.
func (s *Span) Attributes() map[string]string {
	attributes := map[string]string{}
	if s.span == nil {
		return attributes
	}
	carrier, err := s.inject()
	if err != nil {
		s.log.Infof("Attributes: unable to inject span context: %v", err)
		return attributes
	}
	for k, v := range carrier {
		attributes[k] = v
	}
	return attributes
}

// AttributesFromContext returns the Attributes of the span in ctx, or nil if
// there is none.
func AttributesFromContext(ctx context.Context, log logger.Logger) map[string]string {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return nil
	}
	s := Span{span: span, log: log}
	return s.Attributes()
}

// NewSpanWithAttributes starts a span that is a child of the span described
// by attributes, or a root span if they carry no span context.
func NewSpanWithAttributes(ctx context.Context, name string, log logger.Logger, attributes map[string]string) (*Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if len(attributes) > 0 {
		spanCtx, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, opentracing.TextMapCarrier(attributes))
		if err != nil {
			log.Debugf("NewSpanWithAttributes: unable to extract span context: %v", err)
		} else {
			opts = append(opts, opentracing.ChildOf(spanCtx))
		}
	}
	span := opentracing.StartSpan(name, opts...)
	ctx = opentracing.ContextWithSpan(ctx, span)
	return &Span{span: span, log: log}, ctx
}

func StartSpanFromContext(ctx context.Context, log logger.Logger, name string) (*Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, name)
	return &Span{span: span, log: log}, ctx
}
