package section

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClock is a settable clock shared between a test and the scheduler.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestScheduler(t *testing.T, m *Manager, clock *testClock) *Scheduler {
	t.Helper()
	s, err := NewScheduler(SchedulerConfig{
		Manager: m,
		Logger:  quietLogger(),
		Now:     clock.now,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func TestScheduler_AddValidates(t *testing.T) {
	m, _, _ := newTestManager(t)
	sec := m.Add(Section{Name: "Evening"})
	clock := &testClock{t: time.Date(2025, 4, 2, 17, 30, 0, 0, time.UTC)}
	s := newTestScheduler(t, m, clock)

	if _, err := s.Add("ghost", "0 18 * * *", Transition{}); !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("Add(unknown section) = %v, want ErrSectionNotFound", err)
	}
	if _, err := s.Add(sec.ID, "not a cron", Transition{}); err == nil {
		t.Error("Add with invalid cron succeeded, want error")
	}
	if _, err := s.Add(sec.ID, "CRON_TZ=UTC 0 18 * * *", Transition{}); err == nil ||
		!strings.Contains(err.Error(), "UTC-only") {
		t.Errorf("Add with timezone prefix = %v, want UTC-only error", err)
	}

	sched, err := s.Add(sec.ID, "0 18 * * *", Transition{Mode: ModeFade, Beats: 8})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !sched.Enabled {
		t.Error("new schedule is not enabled")
	}
	if sched.LastStatus != ScheduleStatusPending {
		t.Errorf("LastStatus = %q, want pending", sched.LastStatus)
	}
	want := time.Date(2025, 4, 2, 18, 0, 0, 0, time.UTC)
	if !sched.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", sched.NextRunAt, want)
	}
}

func TestScheduler_RunOnceFiresDue(t *testing.T) {
	m, _, _ := newTestManager(t)
	sec := m.Add(Section{Name: "Evening"})
	clock := &testClock{t: time.Date(2025, 4, 2, 17, 30, 0, 0, time.UTC)}
	s := newTestScheduler(t, m, clock)

	sched, err := s.Add(sec.ID, "0 18 * * *", Transition{Mode: ModeCut})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Not due yet.
	s.RunOnce()
	if _, ok := m.Current(); ok {
		t.Fatal("schedule fired before its time")
	}

	firedAt := time.Date(2025, 4, 2, 18, 0, 1, 0, time.UTC)
	clock.set(firedAt)
	s.RunOnce()

	cur, ok := m.Current()
	if !ok || cur.ID != sec.ID {
		t.Fatalf("Current() = %+v/%v, want %q", cur, ok, sec.ID)
	}

	got := s.Schedules()[0]
	if got.LastStatus != ScheduleStatusCompleted {
		t.Errorf("LastStatus = %q, want completed", got.LastStatus)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(firedAt) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, firedAt)
	}
	wantNext := time.Date(2025, 4, 3, 18, 0, 0, 0, time.UTC)
	if !got.NextRunAt.Equal(wantNext) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, wantNext)
	}
	if got.ID != sched.ID {
		t.Errorf("schedule id changed: %q -> %q", sched.ID, got.ID)
	}
}

func TestScheduler_DisabledSchedulesDoNotFire(t *testing.T) {
	m, _, _ := newTestManager(t)
	sec := m.Add(Section{Name: "Evening"})
	clock := &testClock{t: time.Date(2025, 4, 2, 17, 59, 0, 0, time.UTC)}
	s := newTestScheduler(t, m, clock)

	sched, err := s.Add(sec.ID, "0 18 * * *", Transition{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.SetEnabled(sched.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	clock.set(clock.now().Add(2 * time.Minute))
	s.RunOnce()

	if _, ok := m.Current(); ok {
		t.Error("disabled schedule fired")
	}
	if got := s.Schedules()[0]; got.LastStatus != ScheduleStatusPending {
		t.Errorf("LastStatus = %q, want pending", got.LastStatus)
	}
}

func TestScheduler_SkipsWhileTransitioning(t *testing.T) {
	eng := newFakeEngine()
	mac := newFakeMacros()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m, err := NewManager(Config{
		Engine: eng,
		Macros: mac,
		Logger: quietLogger(),
		Sleep: func(time.Duration) {
			once.Do(func() { close(started) })
			<-release
		},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	a := m.Add(Section{Name: "A"})
	b := m.Add(Section{Name: "B"})

	clock := &testClock{t: time.Date(2025, 4, 2, 17, 59, 30, 0, time.UTC)}
	s := newTestScheduler(t, m, clock)
	if _, err := s.Add(b.ID, "0 18 * * *", Transition{}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Trigger(a.ID, Transition{Mode: ModeFade, Beats: 0.25})
	}()
	<-started

	clock.set(clock.now().Add(time.Minute))
	s.RunOnce()

	if got := s.Schedules()[0]; got.LastStatus != ScheduleStatusSkipped {
		t.Errorf("LastStatus = %q, want skipped", got.LastStatus)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if cur, _ := m.Current(); cur.ID != a.ID {
		t.Errorf("current = %q, want %q (skipped schedule must not switch)", cur.ID, a.ID)
	}
}

func TestScheduler_Remove(t *testing.T) {
	m, _, _ := newTestManager(t)
	sec := m.Add(Section{Name: "Evening"})
	clock := &testClock{t: time.Date(2025, 4, 2, 17, 30, 0, 0, time.UTC)}
	s := newTestScheduler(t, m, clock)

	sched, err := s.Add(sec.ID, "0 18 * * *", Transition{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Remove(sched.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := len(s.Schedules()); got != 0 {
		t.Errorf("Schedules() len = %d, want 0", got)
	}
	if err := s.Remove(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("Remove(gone) = %v, want ErrScheduleNotFound", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	m, _, _ := newTestManager(t)
	clock := &testClock{t: time.Now().UTC()}
	s := newTestScheduler(t, m, clock)

	s.Start()
	s.Start() // no-op on a running scheduler

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
