package section

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSchedulePollInterval = 5 * time.Second

// Schedule statuses reported after each pass.
const (
	// ScheduleStatusPending means the schedule has not fired yet.
	ScheduleStatusPending = "pending"
	// ScheduleStatusCompleted means the last trigger succeeded.
	ScheduleStatusCompleted = "completed"
	// ScheduleStatusSkipped means the last firing found a transition
	// already in flight and gave way.
	ScheduleStatusSkipped = "skipped"
	// ScheduleStatusFailed means the last trigger returned an error.
	ScheduleStatusFailed = "failed"
)

// ErrScheduleNotFound reports an unknown schedule id.
var ErrScheduleNotFound = errors.New("section: schedule not found")

// Schedule fires a section transition on a UTC cron expression. It is how
// unattended installations change scenes through the day.
type Schedule struct {
	ID         string     `json:"id"`
	SectionID  string     `json:"section_id"`
	Cron       string     `json:"cron"`
	Transition Transition `json:"transition"`
	Enabled    bool       `json:"enabled"`

	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status"`
	LastError  string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Manager      *Manager
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically fires due section schedules against a Manager.
type Scheduler struct {
	manager      *Manager
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu        sync.Mutex
	schedules []Schedule
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Manager == nil {
		return nil, errors.New("section: scheduler manager is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		manager:      cfg.Manager,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}, nil
}

// Add registers a schedule after validating its cron expression and target
// section. New schedules start enabled.
func (s *Scheduler) Add(sectionID, cronExpr string, t Transition) (Schedule, error) {
	if _, ok := s.manager.Section(sectionID); !ok {
		return Schedule{}, fmt.Errorf("%w: %q", ErrSectionNotFound, sectionID)
	}
	now := s.now().UTC()
	nextRun, err := nextCronRunUTC(cronExpr, now)
	if err != nil {
		return Schedule{}, fmt.Errorf("section: schedule: %w", err)
	}

	sched := Schedule{
		ID:         uuid.NewString(),
		SectionID:  sectionID,
		Cron:       cronExpr,
		Transition: t,
		Enabled:    true,
		NextRunAt:  nextRun,
		LastStatus: ScheduleStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.schedules = append(s.schedules, sched)
	s.mu.Unlock()
	return sched, nil
}

// Remove deletes a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sched := range s.schedules {
		if sched.ID == id {
			s.schedules = append(s.schedules[:i], s.schedules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
}

// SetEnabled pauses or resumes a schedule.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.schedules {
		if s.schedules[i].ID == id {
			s.schedules[i].Enabled = enabled
			s.schedules[i].UpdatedAt = s.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
}

// Schedules returns all registered schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}

// Start begins background polling. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunOnce()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

// Stop halts background polling, waiting for the loop to exit or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass, firing every enabled schedule
// whose next run time has arrived.
func (s *Scheduler) RunOnce() {
	now := s.now().UTC()

	s.mu.Lock()
	var due []Schedule
	for i := range s.schedules {
		sched := &s.schedules[i]
		if !sched.Enabled || sched.NextRunAt.After(now) {
			continue
		}
		nextRun, err := nextCronRunUTC(sched.Cron, now)
		if err != nil {
			sched.LastStatus = ScheduleStatusFailed
			sched.LastError = err.Error()
			sched.UpdatedAt = now
			continue
		}
		sched.NextRunAt = nextRun
		sched.UpdatedAt = now
		due = append(due, *sched)
	}
	s.mu.Unlock()

	for _, sched := range due {
		s.fire(sched, now)
	}
}

// fire triggers one due schedule. A transition already in flight downgrades
// the run to a skip rather than an error; the next cron slot tries again.
func (s *Scheduler) fire(sched Schedule, firedAt time.Time) {
	err := s.manager.Trigger(sched.SectionID, sched.Transition)

	status := ScheduleStatusCompleted
	lastErr := ""
	switch {
	case errors.Is(err, ErrTransitioning):
		status = ScheduleStatusSkipped
		lastErr = err.Error()
		s.logger.Warn("section schedule skipped",
			"schedule_id", sched.ID, "section_id", sched.SectionID)
	case err != nil:
		status = ScheduleStatusFailed
		lastErr = err.Error()
		s.logger.Error("section schedule failed",
			"schedule_id", sched.ID, "section_id", sched.SectionID, "error", err)
	}

	s.mu.Lock()
	for i := range s.schedules {
		if s.schedules[i].ID != sched.ID {
			continue
		}
		t := firedAt
		s.schedules[i].LastRunAt = &t
		s.schedules[i].LastStatus = status
		s.schedules[i].LastError = lastErr
		s.schedules[i].UpdatedAt = s.now().UTC()
		break
	}
	s.mu.Unlock()
}
