package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nebulalabs/cosmos/section"
)

// TransitionObserver records section transition outcomes into OpenTelemetry.
type TransitionObserver struct {
	tracer trace.Tracer

	transitions metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewTransitionObserver creates a transition observer bound to the provided
// meter/tracer.
func NewTransitionObserver(meter metric.Meter, tracer trace.Tracer) (*TransitionObserver, error) {
	transitions, err := meter.Int64Counter(
		"cosmos.section.transitions",
		metric.WithDescription("Number of section transition attempts"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"cosmos.section.transition.duration",
		metric.WithDescription("Section transition length in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &TransitionObserver{
		tracer:      tracer,
		transitions: transitions,
		duration:    duration,
	}, nil
}

// ObserveTransition records one transition outcome.
func (o *TransitionObserver) ObserveTransition(observation section.TransitionObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("section_id", observation.SectionID),
		attribute.String("mode", string(observation.Mode)),
		attribute.Bool("success", observation.Success),
	}
	if observation.Reason != "" {
		attrs = append(attrs, attribute.String("reason", observation.Reason))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.transitions.Add(ctx, 1, options)
	o.duration.Record(ctx, observation.Duration.Seconds(), options)

	if o.tracer == nil {
		return
	}
	_, span := o.tracer.Start(ctx, "section.transition", trace.WithAttributes(attrs...))
	if !observation.Success {
		span.SetStatus(codes.Error, observation.Reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ section.Observer = (*TransitionObserver)(nil)
