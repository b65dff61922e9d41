package audit

import (
	"io"
	"log/slog"
	"testing"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAudit(t *testing.T, cfg ...Config) (*bus.Bus, *Logger) {
	t.Helper()
	b := bus.New(bus.Config{Origin: "proc-test", Logger: quietLogger()})
	var c Config
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.Logger == nil {
		c.Logger = quietLogger()
	}
	l := Attach(b, c)
	t.Cleanup(l.Close)
	return b, l
}

func TestLogger_CapturesEvents(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.TransportStarted{BPM: 128})
	b.Emit(cosmos.SystemFrame{DeltaMS: 16})
	b.Emit(cosmos.ProjectLoaded{Name: "nebula"})

	if got := l.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	entries := l.Entries(0)
	wantKinds := []cosmos.Kind{
		cosmos.KindTransportStarted,
		cosmos.KindSystemFrame,
		cosmos.KindProjectLoaded,
	}
	for i, want := range wantKinds {
		if entries[i].Event.Kind != want {
			t.Errorf("entries[%d].Kind = %q, want %q", i, entries[i].Event.Kind, want)
		}
	}

	tail := l.Entries(2)
	if len(tail) != 2 {
		t.Fatalf("Entries(2) returned %d entries, want 2", len(tail))
	}
	if tail[0].Event.Kind != cosmos.KindSystemFrame {
		t.Errorf("Entries(2)[0].Kind = %q, want %q", tail[0].Event.Kind, cosmos.KindSystemFrame)
	}
}

func TestLogger_RingBound(t *testing.T) {
	b, l := newTestAudit(t, Config{MaxEntries: 5})

	for i := 0; i < 8; i++ {
		b.Emit(cosmos.SystemFrame{DeltaMS: float64(i)})
	}

	if got := l.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
	entries := l.Entries(0)
	if entries[0].Event.Seq != 4 {
		t.Errorf("oldest surviving Seq = %d, want 4", entries[0].Event.Seq)
	}
	if entries[4].Event.Seq != 8 {
		t.Errorf("newest Seq = %d, want 8", entries[4].Event.Seq)
	}
}

func TestLogger_DisableStopsCapture(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.SystemFrame{DeltaMS: 16})
	l.SetEnabled(false)
	if l.Enabled() {
		t.Fatal("Enabled() = true after SetEnabled(false)")
	}
	b.Emit(cosmos.SystemFrame{DeltaMS: 17})
	b.Emit(cosmos.SystemFrame{DeltaMS: 18})
	if got := l.Len(); got != 1 {
		t.Fatalf("Len() while disabled = %d, want 1", got)
	}

	l.SetEnabled(true)
	b.Emit(cosmos.SystemFrame{DeltaMS: 19})
	if got := l.Len(); got != 2 {
		t.Fatalf("Len() after re-enable = %d, want 2", got)
	}
}

func TestLogger_Clear(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.GenerationRequested{Edition: 1, Seed: "0x01"})
	b.Emit(cosmos.GenerationCompleted{Edition: 1, DurationMS: 100})
	if len(l.Records()) != 1 {
		t.Fatal("expected one finalized record before Clear")
	}

	l.Clear()

	if got := l.Len(); got != 0 {
		t.Errorf("Len() after Clear = %d, want 0", got)
	}
	if got := len(l.Records()); got != 0 {
		t.Errorf("Records() after Clear has %d records, want 0", got)
	}
	if _, ok := l.Record(1); ok {
		t.Error("Record(1) still found after Clear")
	}
}

func TestLogger_BuildsGenerationRecord(t *testing.T) {
	b, l := newTestAudit(t)

	var announced []cosmos.AuditRecorded
	b.Subscribe(cosmos.KindAuditRecorded, func(ev cosmos.Event) {
		announced = append(announced, ev.Payload.(cosmos.AuditRecorded))
	})

	b.Emit(cosmos.GenerationRequested{
		Edition: 12,
		Seed:    "0xCAFE",
		Traits: map[string]cosmos.TraitPick{
			"palette": {Value: "dusk", Reason: "seed roll 0.41"},
		},
	})
	b.Emit(cosmos.RuleFired{Rule: "audio.pulse>layer.bloom"})
	b.Emit(cosmos.RuleFired{Rule: "affect.frantic>macro.grit"})
	b.Emit(cosmos.RuleRejected{Rule: "tick.flash", Reason: "cooldown"})
	b.Emit(cosmos.RenderStarted{Renderer: "shader", LayerID: "L1"})
	b.Emit(cosmos.RenderStarted{Renderer: "shader", LayerID: "L2"})
	b.Emit(cosmos.RenderStarted{Renderer: "sketch", LayerID: "L3"})
	b.Emit(cosmos.RenderCompleted{Renderer: "shader", LayerID: "L1", ContentHash: "h1"})

	// Still in flight: readable but not finalized.
	rec, ok := l.Record(12)
	if !ok {
		t.Fatal("Record(12) not found while in flight")
	}
	if len(rec.Rules) != 2 {
		t.Errorf("in-flight Rules = %v, want 2 entries", rec.Rules)
	}
	if rec.Rejections != 1 {
		t.Errorf("in-flight Rejections = %d, want 1", rec.Rejections)
	}
	if rec.Renders["shader"] != 2 || rec.Renders["sketch"] != 1 {
		t.Errorf("in-flight Renders = %v, want shader:2 sketch:1", rec.Renders)
	}
	if len(l.Records()) != 0 {
		t.Fatal("Records() non-empty before completion")
	}

	b.Emit(cosmos.GenerationCompleted{Edition: 12, DurationMS: 5300, Hashes: []string{"h2"}})

	rec, ok = l.Record(12)
	if !ok {
		t.Fatal("Record(12) not found after completion")
	}
	if rec.Seed != "0xCAFE" {
		t.Errorf("Seed = %q, want %q", rec.Seed, "0xCAFE")
	}
	if rec.Traits["palette"].Value != "dusk" {
		t.Errorf("Traits[palette] = %+v, want value dusk", rec.Traits["palette"])
	}
	if rec.DurationMS != 5300 {
		t.Errorf("DurationMS = %g, want 5300", rec.DurationMS)
	}
	if len(rec.Hashes) != 2 || rec.Hashes[0] != "h1" || rec.Hashes[1] != "h2" {
		t.Errorf("Hashes = %v, want [h1 h2]", rec.Hashes)
	}
	if rec.CompletedAt.IsZero() {
		t.Error("CompletedAt is zero after completion")
	}
	if len(l.Records()) != 1 {
		t.Fatalf("Records() has %d records, want 1", len(l.Records()))
	}

	// Finalizing publishes the record back to the bus.
	if len(announced) != 1 {
		t.Fatalf("got %d audit.record events, want 1", len(announced))
	}
	if announced[0].Edition != 12 || announced[0].Record.Seed != "0xCAFE" {
		t.Errorf("announced record = %+v, want edition 12 seed 0xCAFE", announced[0])
	}

	// The synthetic event itself lands in the log too.
	entries := l.Entries(0)
	last := entries[len(entries)-1]
	if last.Event.Kind != cosmos.KindAuditRecorded {
		t.Errorf("last logged kind = %q, want %q", last.Event.Kind, cosmos.KindAuditRecorded)
	}
}

func TestLogger_AttributesToNewestEdition(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.GenerationRequested{Edition: 1, Seed: "0x01"})
	b.Emit(cosmos.GenerationRequested{Edition: 2, Seed: "0x02"})
	b.Emit(cosmos.RuleFired{Rule: "late-rule"})

	b.Emit(cosmos.GenerationCompleted{Edition: 2, DurationMS: 20})
	b.Emit(cosmos.GenerationCompleted{Edition: 1, DurationMS: 10})

	rec2, _ := l.Record(2)
	if len(rec2.Rules) != 1 || rec2.Rules[0] != "late-rule" {
		t.Errorf("edition 2 Rules = %v, want [late-rule]", rec2.Rules)
	}
	rec1, _ := l.Record(1)
	if len(rec1.Rules) != 0 {
		t.Errorf("edition 1 Rules = %v, want none", rec1.Rules)
	}
}

func TestLogger_CompletionWithoutRequest(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.GenerationCompleted{Edition: 99, DurationMS: 10, Hashes: []string{"h"}})

	rec, ok := l.Record(99)
	if !ok {
		t.Fatal("Record(99) not found")
	}
	if rec.DurationMS != 10 {
		t.Errorf("DurationMS = %g, want 10", rec.DurationMS)
	}
	if !rec.StartedAt.IsZero() {
		t.Errorf("StartedAt = %v, want zero for unmatched completion", rec.StartedAt)
	}
	if len(l.Records()) != 1 {
		t.Fatalf("Records() has %d records, want 1", len(l.Records()))
	}
}

func TestLogger_RecordCopiesAreIndependent(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.GenerationRequested{
		Edition: 3,
		Seed:    "0x03",
		Traits:  map[string]cosmos.TraitPick{"form": {Value: "spiral"}},
	})
	b.Emit(cosmos.RenderStarted{Renderer: "shader"})
	b.Emit(cosmos.GenerationCompleted{Edition: 3})

	rec, _ := l.Record(3)
	rec.Traits["form"] = cosmos.TraitPick{Value: "tampered"}
	rec.Renders["shader"] = 99

	again, _ := l.Record(3)
	if again.Traits["form"].Value != "spiral" {
		t.Errorf("Traits[form] = %q after caller mutation, want spiral", again.Traits["form"].Value)
	}
	if again.Renders["shader"] != 1 {
		t.Errorf("Renders[shader] = %d after caller mutation, want 1", again.Renders["shader"])
	}
}

func TestLogger_CloseDetaches(t *testing.T) {
	b, l := newTestAudit(t)

	b.Emit(cosmos.SystemFrame{DeltaMS: 16})
	l.Close()
	b.Emit(cosmos.SystemFrame{DeltaMS: 17})

	if got := l.Len(); got != 1 {
		t.Fatalf("Len() after Close = %d, want 1", got)
	}
}

func TestLogger_LoggedAtUsesClock(t *testing.T) {
	fixed := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	b, l := newTestAudit(t, Config{Now: func() time.Time { return fixed }})

	b.Emit(cosmos.SystemFrame{DeltaMS: 16})

	entries := l.Entries(0)
	if !entries[0].LoggedAt.Equal(fixed) {
		t.Errorf("LoggedAt = %v, want %v", entries[0].LoggedAt, fixed)
	}
}
