package macro

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"
)

func newTestSystem() *System {
	n := 0
	return NewSystem(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("curve-%d", n)
		},
	})
}

func TestSystem_Defaults(t *testing.T) {
	s := newTestSystem()

	for _, ch := range []string{"A", "B", "C", "D"} {
		v, ok := s.Value(ch)
		if !ok {
			t.Fatalf("Value(%q) not found", ch)
		}
		if v != 0.5 {
			t.Errorf("Value(%q) = %v, want 0.5", ch, v)
		}
		if s.Locked(ch) {
			t.Errorf("%q should start unlocked", ch)
		}
	}
}

func TestSystem_SetByAlias(t *testing.T) {
	s := newTestSystem()

	if !s.Set("Tone", 0.8, SourceUI) {
		t.Fatal("Set(Tone) reported no change")
	}

	if v, _ := s.Value("A"); v != 0.8 {
		t.Errorf("Value(A) = %v, want 0.8", v)
	}
	if v, _ := s.Value("Tone"); v != 0.8 {
		t.Errorf("Value(Tone) = %v, want 0.8", v)
	}

	// And the other direction.
	s.Set("D", 0.1, SourceUI)
	if v, _ := s.Value("Grit"); v != 0.1 {
		t.Errorf("Value(Grit) = %v, want 0.1", v)
	}
}

func TestSystem_Clamp(t *testing.T) {
	s := newTestSystem()

	s.Set("A", 1.7, SourceUI)
	if v, _ := s.Value("A"); v != 1 {
		t.Errorf("Value(A) = %v, want clamped to 1", v)
	}
	s.Set("A", -0.2, SourceUI)
	if v, _ := s.Value("A"); v != 0 {
		t.Errorf("Value(A) = %v, want clamped to 0", v)
	}
}

func TestSystem_UnchangedValueIsSilent(t *testing.T) {
	s := newTestSystem()

	calls := 0
	s.OnChange(func(string, float64, string) { calls++ })

	if s.Set("A", 0.5, SourceUI) {
		t.Error("setting the current value should report no change")
	}
	if calls != 0 {
		t.Errorf("listener ran %d times, want 0", calls)
	}

	if !s.Set("A", 0.6, SourceUI) {
		t.Error("a real change should report true")
	}
	if calls != 1 {
		t.Errorf("listener ran %d times, want 1", calls)
	}
}

func TestSystem_Lock(t *testing.T) {
	s := newTestSystem()

	s.Lock("Movement", true)
	if !s.Locked("B") {
		t.Fatal("lock via alias should lock the canonical channel")
	}

	if s.Set("B", 0.9, SourceUI) {
		t.Error("locked channel should ignore writes")
	}
	if v, _ := s.Value("B"); v != 0.5 {
		t.Errorf("Value(B) = %v, want untouched 0.5", v)
	}

	s.Lock("B", false)
	if !s.Set("B", 0.9, SourceUI) {
		t.Error("unlocked channel should accept writes again")
	}
}

func TestSystem_ToggleLock(t *testing.T) {
	s := newTestSystem()

	if !s.ToggleLock("Space") {
		t.Fatal("first toggle should report locked")
	}
	if !s.Locked("C") {
		t.Fatal("toggle via alias should lock the canonical channel")
	}
	if s.Set("C", 0.9, SourceUI) {
		t.Error("locked channel should ignore writes")
	}

	if s.ToggleLock("C") {
		t.Fatal("second toggle should report unlocked")
	}
	if !s.Set("C", 0.9, SourceUI) {
		t.Error("unlocked channel should accept writes again")
	}

	if s.ToggleLock("E") {
		t.Error("unknown channel should never report locked")
	}
}

func TestSystem_UnknownChannel(t *testing.T) {
	s := newTestSystem()

	if s.Set("E", 0.4, SourceUI) {
		t.Error("unknown channel should be a no-op")
	}
	if _, ok := s.Value("E"); ok {
		t.Error("unknown channel should not exist")
	}
}

func TestSystem_SetMany(t *testing.T) {
	s := newTestSystem()

	var heard []string
	s.OnChange(func(channel string, _ float64, source string) {
		heard = append(heard, channel+"/"+source)
	})

	s.Lock("C", true)
	s.SetMany(map[string]float64{
		"A":     0.1,
		"Grit":  0.9,
		"C":     0.3, // locked, silent
		"B":     0.5, // unchanged, silent
		"ghost": 0.7, // unknown, ignored
	}, SourceSection)

	want := []string{"A/section", "D/section"}
	if len(heard) != len(want) {
		t.Fatalf("heard %v, want %v", heard, want)
	}
	for i := range want {
		if heard[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, heard[i], want[i])
		}
	}
	if v, _ := s.Value("C"); v != 0.5 {
		t.Errorf("locked C = %v, want 0.5", v)
	}
}

func TestSystem_RandomizeSafe(t *testing.T) {
	draws := []float64{0, 0.5, 0.999, 0.25}
	i := 0
	s := NewSystem(Config{Random: func() float64 {
		v := draws[i%len(draws)]
		i++
		return v
	}})

	s.Randomize(false)

	for _, ch := range []string{"A", "B", "C", "D"} {
		v, _ := s.Value(ch)
		if v < 0.2 || v > 0.8 {
			t.Errorf("safe randomize put %q at %v, want within [0.2,0.8]", ch, v)
		}
	}
	// Draw 0 maps to the bottom of the safe band.
	if v, _ := s.Value("A"); v != 0.2 {
		t.Errorf("Value(A) = %v, want 0.2", v)
	}
}

func TestSystem_RandomizeSafeSweep(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 42))
	s := NewSystem(Config{Random: rng.Float64})

	for i := 0; i < 1000; i++ {
		s.Randomize(false)
		for _, ch := range []string{"A", "B", "C", "D"} {
			if v, _ := s.Value(ch); v < 0.2 || v > 0.8 {
				t.Fatalf("iteration %d: %q = %v, want within [0.2,0.8]", i, ch, v)
			}
		}
	}
}

func TestSystem_RandomizeChaosRespectsLocks(t *testing.T) {
	s := NewSystem(Config{Random: func() float64 { return 0.05 }})

	s.Lock("D", true)
	s.Randomize(true)

	if v, _ := s.Value("A"); v != 0.05 {
		t.Errorf("chaos Value(A) = %v, want full-range 0.05", v)
	}
	if v, _ := s.Value("D"); v != 0.5 {
		t.Errorf("locked D = %v, want untouched 0.5", v)
	}
}

func TestSystem_Reset(t *testing.T) {
	s := newTestSystem()

	var heard []string
	s.OnChange(func(channel string, v float64, source string) {
		heard = append(heard, fmt.Sprintf("%s=%g/%s", channel, v, source))
	})

	s.Lock("B", true)
	s.Reset(SourceUI)

	for _, ch := range []string{"A", "C", "D"} {
		if v, _ := s.Value(ch); v != 0 {
			t.Errorf("reset %q = %v, want 0", ch, v)
		}
	}
	if v, _ := s.Value("B"); v != 0.5 {
		t.Errorf("locked B = %v, want untouched 0.5", v)
	}

	want := []string{"A=0/ui", "C=0/ui", "D=0/ui"}
	if len(heard) != len(want) {
		t.Fatalf("heard %v, want %v", heard, want)
	}
	for i := range want {
		if heard[i] != want[i] {
			t.Errorf("notification %d = %q, want %q", i, heard[i], want[i])
		}
	}
}

func TestSystem_CurveRoundTrip(t *testing.T) {
	s := newTestSystem()

	s.Set("A", 0.11, SourceUI)
	s.Set("B", 0.22, SourceUI)
	curve := s.SaveCurve("dawn")

	if curve.ID == "" || curve.Name != "dawn" {
		t.Fatalf("curve = %+v", curve)
	}
	if curve.Values["A"] != 0.11 || curve.Values["B"] != 0.22 {
		t.Errorf("curve values = %v", curve.Values)
	}

	// Drift away, then recall.
	s.Set("A", 0.9, SourceUI)
	s.Set("B", 0.9, SourceUI)
	s.Lock("B", true)

	if err := s.RecallCurve(curve.ID); err != nil {
		t.Fatalf("RecallCurve() error: %v", err)
	}

	if v, _ := s.Value("A"); v != 0.11 {
		t.Errorf("recalled A = %v, want 0.11", v)
	}
	if v, _ := s.Value("B"); v != 0.9 {
		t.Errorf("locked B = %v, want 0.9 (recall must respect locks)", v)
	}

	// Recall carries the curve source to listeners.
	var sources []string
	s.OnChange(func(_ string, _ float64, source string) {
		sources = append(sources, source)
	})
	s.Set("A", 0.4, SourceUI)
	if err := s.RecallCurve(curve.ID); err != nil {
		t.Fatalf("RecallCurve() error: %v", err)
	}
	if len(sources) != 2 || sources[1] != SourceCurve {
		t.Errorf("sources = %v, want [ui curve]", sources)
	}
}

func TestSystem_CurveEviction(t *testing.T) {
	s := newTestSystem()

	for i := 0; i < DefaultMaxCurves+1; i++ {
		s.SaveCurve(fmt.Sprintf("c%d", i))
	}

	curves := s.Curves()
	if len(curves) != DefaultMaxCurves {
		t.Fatalf("retained %d curves, want %d", len(curves), DefaultMaxCurves)
	}
	if curves[0].Name != "c1" {
		t.Errorf("oldest retained = %q, want c1 (c0 evicted)", curves[0].Name)
	}
	if curves[len(curves)-1].Name != fmt.Sprintf("c%d", DefaultMaxCurves) {
		t.Errorf("newest = %q", curves[len(curves)-1].Name)
	}
}

func TestSystem_CurveErrors(t *testing.T) {
	s := newTestSystem()

	if err := s.RecallCurve("missing"); !errors.Is(err, ErrCurveNotFound) {
		t.Errorf("RecallCurve() error = %v, want ErrCurveNotFound", err)
	}
	if err := s.DeleteCurve("missing"); !errors.Is(err, ErrCurveNotFound) {
		t.Errorf("DeleteCurve() error = %v, want ErrCurveNotFound", err)
	}

	curve := s.SaveCurve("keep")
	if err := s.DeleteCurve(curve.ID); err != nil {
		t.Fatalf("DeleteCurve() error: %v", err)
	}
	if len(s.Curves()) != 0 {
		t.Error("curve should be gone after delete")
	}
}

func TestSystem_UnsubscribeListener(t *testing.T) {
	s := newTestSystem()

	calls := 0
	unsub := s.OnChange(func(string, float64, string) { calls++ })

	s.Set("A", 0.6, SourceUI)
	unsub()
	s.Set("A", 0.7, SourceUI)

	if calls != 1 {
		t.Errorf("listener ran %d times, want 1", calls)
	}
}
