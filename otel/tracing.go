// Package otel translates bus events into OpenTelemetry metrics and spans.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nebulalabs/cosmos"
)

// TracingHandler turns each generation into a span tree: a root span per
// edition, child spans per render, and rule outcomes as span events. Rule
// and render events carry no edition on the wire, so they attach to the
// newest edition with an open span, the same attribution the audit logger
// uses.
type TracingHandler struct {
	tracer trace.Tracer

	mu           sync.RWMutex
	editionSpans map[int]trace.Span
	editionCtxs  map[int]context.Context
	renderSpans  map[string]trace.Span // renderer:layerID -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from bus events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:       tracer,
		editionSpans: make(map[int]trace.Span),
		editionCtxs:  make(map[int]context.Context),
		renderSpans:  make(map[string]trace.Span),
	}
}

// Handle creates or ends spans for one event. It matches the bus handler
// signature, so it can be attached with SubscribeAll.
func (h *TracingHandler) Handle(e cosmos.Event) {
	switch p := e.Payload.(type) {
	case cosmos.GenerationRequested:
		h.handleGenerationRequested(e, p)
	case cosmos.RuleFired:
		h.addRuleEvent(e, "rule.fired", p.Rule, "")
	case cosmos.RuleRejected:
		h.addRuleEvent(e, "rule.rejected", p.Rule, p.Reason)
	case cosmos.RenderStarted:
		h.handleRenderStarted(e, p)
	case cosmos.RenderCompleted:
		h.handleRenderCompleted(e, p)
	case cosmos.GenerationCompleted:
		h.handleGenerationCompleted(e, p)
	}
}

// handleGenerationRequested opens the root span for an edition.
func (h *TracingHandler) handleGenerationRequested(e cosmos.Event, p cosmos.GenerationRequested) {
	ctx, span := h.tracer.Start(context.Background(), "edition:"+strconv.Itoa(p.Edition),
		trace.WithAttributes(
			attribute.Int("cosmos.edition", p.Edition),
			attribute.String("cosmos.seed", p.Seed),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.editionSpans[p.Edition] = span
	h.editionCtxs[p.Edition] = ctx
	h.mu.Unlock()
}

// addRuleEvent records a rule outcome on the newest open edition span.
func (h *TracingHandler) addRuleEvent(e cosmos.Event, name, rule, reason string) {
	h.mu.RLock()
	span, ok := h.editionSpans[h.newestEditionLocked()]
	h.mu.RUnlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("cosmos.rule", rule),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("cosmos.reason", reason))
	}

	span.AddEvent(name, trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleRenderStarted opens a render span under the newest edition span.
func (h *TracingHandler) handleRenderStarted(e cosmos.Event, p cosmos.RenderStarted) {
	h.mu.RLock()
	parentCtx, ok := h.editionCtxs[h.newestEditionLocked()]
	h.mu.RUnlock()

	if !ok {
		// No edition in flight; the render still gets its own root span.
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "render:"+p.Renderer,
		trace.WithAttributes(
			attribute.String("cosmos.renderer", p.Renderer),
			attribute.String("cosmos.layer_id", p.LayerID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.renderSpans[renderKey(p.Renderer, p.LayerID)] = span
	h.mu.Unlock()
}

// handleRenderCompleted ends the matching render span.
func (h *TracingHandler) handleRenderCompleted(e cosmos.Event, p cosmos.RenderCompleted) {
	key := renderKey(p.Renderer, p.LayerID)

	h.mu.Lock()
	span, ok := h.renderSpans[key]
	if ok {
		delete(h.renderSpans, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(attribute.Float64("cosmos.duration_ms", p.DurationMS))
	if p.ContentHash != "" {
		span.SetAttributes(attribute.String("cosmos.content_hash", p.ContentHash))
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// handleGenerationCompleted ends the edition's root span.
func (h *TracingHandler) handleGenerationCompleted(e cosmos.Event, p cosmos.GenerationCompleted) {
	h.mu.Lock()
	span, ok := h.editionSpans[p.Edition]
	if ok {
		delete(h.editionSpans, p.Edition)
		delete(h.editionCtxs, p.Edition)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(
		attribute.Float64("cosmos.duration_ms", p.DurationMS),
		attribute.Int("cosmos.hashes", len(p.Hashes)),
	)
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveEditionSpanContext returns the SpanContext for the edition's open
// root span. Returns an empty SpanContext if the edition has no open span.
func (h *TracingHandler) ActiveEditionSpanContext(edition int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.editionSpans[edition]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRenderSpanContext returns the SpanContext for an in-flight render.
// Returns an empty SpanContext if no such render is open.
func (h *TracingHandler) ActiveRenderSpanContext(renderer, layerID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.renderSpans[renderKey(renderer, layerID)]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// newestEditionLocked returns the highest edition with an open span.
// Callers must hold mu.
func (h *TracingHandler) newestEditionLocked() int {
	newest := 0
	for edition := range h.editionSpans {
		if edition > newest {
			newest = edition
		}
	}
	return newest
}

func renderKey(renderer, layerID string) string {
	return renderer + ":" + layerID
}
