package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nebulalabs/cosmos"
)

// MetricsHandler translates bus events into OpenTelemetry metrics. Every
// event increments the per-kind counter; macro movements, rule outcomes,
// generation and render completions, and frame deltas additionally feed
// their own instruments.
type MetricsHandler struct {
	events             metric.Int64Counter
	macroChanges       metric.Int64Counter
	ruleFirings        metric.Int64Counter
	ruleRejections     metric.Int64Counter
	generationDuration metric.Float64Histogram
	renderDuration     metric.Float64Histogram
	frameDelta         metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	events, err := meter.Int64Counter("cosmos.bus.events",
		metric.WithDescription("Number of events seen on the bus, by kind"),
	)
	if err != nil {
		return nil, err
	}

	macroChanges, err := meter.Int64Counter("cosmos.macro.changes",
		metric.WithDescription("Number of macro channel movements"),
	)
	if err != nil {
		return nil, err
	}

	ruleFirings, err := meter.Int64Counter("cosmos.rule.firings",
		metric.WithDescription("Number of generation rules that applied"),
	)
	if err != nil {
		return nil, err
	}

	ruleRejections, err := meter.Int64Counter("cosmos.rule.rejections",
		metric.WithDescription("Number of generation rules that were declined"),
	)
	if err != nil {
		return nil, err
	}

	generationDuration, err := meter.Float64Histogram("cosmos.generation.duration",
		metric.WithDescription("Wall time per completed edition in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	renderDuration, err := meter.Float64Histogram("cosmos.render.duration",
		metric.WithDescription("Wall time per completed render in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	frameDelta, err := meter.Float64Histogram("cosmos.frame.delta",
		metric.WithDescription("Time between animation frames in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		events:             events,
		macroChanges:       macroChanges,
		ruleFirings:        ruleFirings,
		ruleRejections:     ruleRejections,
		generationDuration: generationDuration,
		renderDuration:     renderDuration,
		frameDelta:         frameDelta,
	}, nil
}

// Handle records the metrics for one event. It matches the bus handler
// signature, so it can be attached with SubscribeAll.
func (h *MetricsHandler) Handle(e cosmos.Event) {
	ctx := context.Background()
	h.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(e.Kind)),
	))

	switch p := e.Payload.(type) {
	case cosmos.MacroChanged:
		h.handleMacroChanged(ctx, p)
	case cosmos.RuleFired:
		h.ruleFirings.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rule", p.Rule),
		))
	case cosmos.RuleRejected:
		h.ruleRejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rule", p.Rule),
		))
	case cosmos.GenerationCompleted:
		h.generationDuration.Record(ctx, p.DurationMS/1000, metric.WithAttributes(
			attribute.Int("edition", p.Edition),
		))
	case cosmos.RenderCompleted:
		h.handleRenderCompleted(ctx, p)
	case cosmos.SystemFrame:
		h.frameDelta.Record(ctx, p.DeltaMS/1000)
	}
}

// handleMacroChanged counts one channel movement with its source.
func (h *MetricsHandler) handleMacroChanged(ctx context.Context, p cosmos.MacroChanged) {
	attrs := []attribute.KeyValue{
		attribute.String("channel", p.Channel),
	}
	if p.Source != "" {
		attrs = append(attrs, attribute.String("source", p.Source))
	}
	h.macroChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// handleRenderCompleted records one render duration by renderer.
func (h *MetricsHandler) handleRenderCompleted(ctx context.Context, p cosmos.RenderCompleted) {
	attrs := []attribute.KeyValue{
		attribute.String("renderer", p.Renderer),
	}
	if p.LayerID != "" {
		attrs = append(attrs, attribute.String("layer_id", p.LayerID))
	}
	h.renderDuration.Record(ctx, p.DurationMS/1000, metric.WithAttributes(attrs...))
}
