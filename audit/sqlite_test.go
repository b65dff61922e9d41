package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
	"github.com/nebulalabs/cosmos/bus"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestArchive(t *testing.T, cfg ...ArchiveConfig) *Archive {
	t.Helper()
	var c ArchiveConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.DSN == "" {
		c.DSN = testDSN(t)
	}
	if c.Logger == nil {
		c.Logger = quietLogger()
	}
	a, err := NewArchive(c)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func archivedEvent(seq uint64, p cosmos.Payload) cosmos.Event {
	return cosmos.Event{
		Kind:    p.Kind(),
		Time:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
		Seq:     seq,
		Origin:  "proc-test",
		Payload: p,
	}
}

// --- Append and query ---

func TestArchive_AppendAndList(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	events := []cosmos.Event{
		archivedEvent(1, cosmos.TransportStarted{BPM: 128}),
		archivedEvent(2, cosmos.SystemFrame{DeltaMS: 16}),
		archivedEvent(3, cosmos.MacroChanged{Channel: "A", Value: 0.7, Source: "ui"}),
		archivedEvent(4, cosmos.SystemFrame{DeltaMS: 17}),
		archivedEvent(5, cosmos.TransportTempo{BPM: 90}),
	}
	for _, ev := range events {
		if err := a.AppendEvent(ctx, ev, time.Now()); err != nil {
			t.Fatalf("AppendEvent(%d): %v", ev.Seq, err)
		}
	}

	got, err := a.Events(ctx, "", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5", len(got))
	}

	// Round-trip fidelity.
	e := got[4]
	if e.Seq != 5 {
		t.Errorf("Seq = %d, want 5", e.Seq)
	}
	if e.Origin != "proc-test" {
		t.Errorf("Origin = %q, want proc-test", e.Origin)
	}
	p, ok := e.Payload.(cosmos.TransportTempo)
	if !ok {
		t.Fatalf("Payload is %T, want TransportTempo", e.Payload)
	}
	if p.BPM != 90 {
		t.Errorf("BPM = %v, want 90", p.BPM)
	}
	if !e.Time.Equal(events[4].Time) {
		t.Errorf("Time = %v, want %v", e.Time, events[4].Time)
	}
}

func TestArchive_EventsKindFilter(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	a.AppendEvent(ctx, archivedEvent(1, cosmos.SystemFrame{DeltaMS: 16}), time.Now())
	a.AppendEvent(ctx, archivedEvent(2, cosmos.TransportStarted{BPM: 120}), time.Now())
	a.AppendEvent(ctx, archivedEvent(3, cosmos.SystemFrame{DeltaMS: 17}), time.Now())

	got, err := a.Events(ctx, cosmos.KindSystemFrame, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d system.frame events, want 2", len(got))
	}
	for _, ev := range got {
		if ev.Kind != cosmos.KindSystemFrame {
			t.Errorf("kind = %q, want %q", ev.Kind, cosmos.KindSystemFrame)
		}
	}
}

func TestArchive_EventsLimit(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		a.AppendEvent(ctx, archivedEvent(i, cosmos.SystemFrame{DeltaMS: 16}), time.Now())
	}

	got, err := a.Events(ctx, "", 3)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Seq != 1 {
		t.Errorf("first Seq = %d, want 1", got[0].Seq)
	}
}

// --- Generation records ---

func TestArchive_SaveRecordUpsert(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	rec := cosmos.GenerationRecord{
		Edition:    3,
		Seed:       "0x03",
		Traits:     map[string]cosmos.TraitPick{"form": {Value: "spiral", Reason: "roll"}},
		Rules:      []string{"r1"},
		Renders:    map[string]int{"shader": 2},
		DurationMS: 100,
		Hashes:     []string{"h1"},
		StartedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := a.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	// Re-finalizing the same edition replaces the row.
	rec.DurationMS = 250
	rec.CompletedAt = rec.StartedAt.Add(250 * time.Millisecond)
	if err := a.SaveRecord(ctx, rec); err != nil {
		t.Fatalf("SaveRecord (second): %v", err)
	}

	records, err := a.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0]
	if got.DurationMS != 250 {
		t.Errorf("DurationMS = %g, want 250", got.DurationMS)
	}
	if got.Traits["form"].Value != "spiral" {
		t.Errorf("Traits[form] = %+v, want spiral", got.Traits["form"])
	}
	if got.Renders["shader"] != 2 {
		t.Errorf("Renders[shader] = %d, want 2", got.Renders["shader"])
	}
	if got.CompletedAt.IsZero() {
		t.Error("CompletedAt lost in round trip")
	}
}

// --- Retention pruning ---

func TestArchive_PruneByAge(t *testing.T) {
	a := newTestArchive(t, ArchiveConfig{
		DSN:          testDSN(t),
		RetentionAge: 500 * time.Millisecond,
	})
	ctx := context.Background()

	old := archivedEvent(1, cosmos.SystemFrame{DeltaMS: 16})
	old.Time = time.Now().Add(-1 * time.Hour)
	a.AppendEvent(ctx, old, time.Now())

	recent := archivedEvent(2, cosmos.SystemFrame{DeltaMS: 17})
	recent.Time = time.Now()
	a.AppendEvent(ctx, recent, time.Now())

	if err := a.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, _ := a.Events(ctx, "", 0)
	if len(got) != 1 {
		t.Fatalf("after prune got %d events, want 1", len(got))
	}
	if got[0].Seq != 2 {
		t.Errorf("remaining Seq = %d, want 2", got[0].Seq)
	}
}

func TestArchive_PruneByCount(t *testing.T) {
	a := newTestArchive(t, ArchiveConfig{
		DSN:            testDSN(t),
		RetentionCount: 3,
	})
	ctx := context.Background()

	for i := uint64(1); i <= 7; i++ {
		a.AppendEvent(ctx, archivedEvent(i, cosmos.SystemFrame{DeltaMS: 16}), time.Now())
	}

	if err := a.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	n, err := a.EventCount(ctx)
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("after prune EventCount = %d, want 3", n)
	}
	got, _ := a.Events(ctx, "", 0)
	if got[0].Seq != 5 || got[2].Seq != 7 {
		t.Errorf("surviving seqs = %d..%d, want 5..7", got[0].Seq, got[2].Seq)
	}
}

func TestArchive_PruneKeepsRecords(t *testing.T) {
	a := newTestArchive(t, ArchiveConfig{
		DSN:            testDSN(t),
		RetentionCount: 1,
	})
	ctx := context.Background()

	a.SaveRecord(ctx, cosmos.GenerationRecord{Edition: 1, Seed: "0x01"})
	for i := uint64(1); i <= 5; i++ {
		a.AppendEvent(ctx, archivedEvent(i, cosmos.SystemFrame{DeltaMS: 16}), time.Now())
	}

	if err := a.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	records, err := a.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records after prune = %d, want 1 (records are never pruned)", len(records))
	}
}

// --- Persistence across close/reopen ---

func TestArchive_PersistenceAcrossReopen(t *testing.T) {
	dsn := t.TempDir() + "/audit.db"
	ctx := context.Background()

	a1, err := NewArchive(ArchiveConfig{DSN: dsn, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	a1.AppendEvent(ctx, archivedEvent(1, cosmos.ProjectSaved{Name: "nebula"}), time.Now())
	a1.SaveRecord(ctx, cosmos.GenerationRecord{Edition: 4, Seed: "0x04"})
	if err := a1.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}

	a2, err := NewArchive(ArchiveConfig{DSN: dsn, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	defer a2.Close()

	got, err := a2.Events(ctx, "", 0)
	if err != nil {
		t.Fatalf("Events after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("after reopen got %d events, want 1", len(got))
	}
	if p, ok := got[0].Payload.(cosmos.ProjectSaved); !ok || p.Name != "nebula" {
		t.Errorf("payload = %+v, want ProjectSaved nebula", got[0].Payload)
	}

	records, err := a2.Records(ctx)
	if err != nil {
		t.Fatalf("Records after reopen: %v", err)
	}
	if len(records) != 1 || records[0].Edition != 4 {
		t.Errorf("records after reopen = %+v, want edition 4", records)
	}
}

// --- WAL concurrent reads ---

func TestArchive_ConcurrentReads(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	for i := uint64(1); i <= 20; i++ {
		a.AppendEvent(ctx, archivedEvent(i, cosmos.SystemFrame{DeltaMS: 16}), time.Now())
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.Events(ctx, "", 0)
			if err != nil {
				errs <- fmt.Errorf("Events: %w", err)
				return
			}
			if len(got) != 20 {
				errs <- fmt.Errorf("got %d events, want 20", len(got))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// --- Bus wiring ---

func TestArchiveSubscriber_WritesThrough(t *testing.T) {
	a := newTestArchive(t)
	ctx := context.Background()

	b := bus.New(bus.Config{Origin: "proc-test", Logger: quietLogger()})
	l := Attach(b, Config{Logger: quietLogger()})
	defer l.Close()

	sub := NewArchiveSubscriber(a, quietLogger())
	unsub := b.SubscribeAll(sub.Handle)
	defer unsub()

	b.Emit(cosmos.TransportStarted{BPM: 128})
	b.Emit(cosmos.GenerationRequested{Edition: 5, Seed: "0x05"})
	b.Emit(cosmos.GenerationCompleted{Edition: 5, DurationMS: 80})

	// Three emitted events plus the synthetic audit.record.
	got, err := a.Events(ctx, "", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("archived %d events, want 4", len(got))
	}

	recorded, err := a.Events(ctx, cosmos.KindAuditRecorded, 0)
	if err != nil {
		t.Fatalf("Events(audit.record): %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("archived %d audit.record events, want 1", len(recorded))
	}

	records, err := a.Records(ctx)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("archived %d records, want 1", len(records))
	}
	if records[0].Edition != 5 || records[0].Seed != "0x05" {
		t.Errorf("archived record = %+v, want edition 5 seed 0x05", records[0])
	}
}

func TestArchive_RequiresDSN(t *testing.T) {
	if _, err := NewArchive(ArchiveConfig{}); err == nil {
		t.Fatal("expected error for empty DSN, got nil")
	}
}
