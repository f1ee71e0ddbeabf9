// Package scheduler triggers capture cycles at a day or night cadence and
// switches between the two when the sun crosses the horizon.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/webcam-capture/internal/pipeline"
)

// State of the scheduler's state machine.
type State int

const (
	Idle State = iota
	ArmedDay
	ArmedNight
)

func (s State) String() string {
	switch s {
	case ArmedDay:
		return "armed_day"
	case ArmedNight:
		return "armed_night"
	default:
		return "idle"
	}
}

func stateFor(isDay bool) State {
	if isDay {
		return ArmedDay
	}
	return ArmedNight
}

// Cycle runs one capture cycle.
type Cycle interface {
	RunCycle(ctx context.Context, trigger time.Time) pipeline.Report
}

// Clock answers day/night questions for the camera location.
type Clock interface {
	IsDaytime(t time.Time) bool
	NextTransition(t time.Time) time.Time
}

// Intervals are the capture periods and the transition-check period.
type Intervals struct {
	Day   time.Duration
	Night time.Duration
	Check time.Duration
}

func (iv Intervals) forState(st State) time.Duration {
	if st == ArmedDay {
		return iv.Day
	}
	return iv.Night
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State          State     `json:"-"`
	StateName      string    `json:"state"`
	IsDay          bool      `json:"isDay"`
	Interval       string    `json:"interval"`
	IntervalNs     int64     `json:"intervalNs"`
	NextTransition time.Time `json:"nextTransition,omitzero"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
	LastCheck      time.Time `json:"lastCheck,omitzero"`
	Rearms         int       `json:"rearms"`
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithStateHook calls fn whenever the capture timer is armed, with the new
// state and interval. fn runs under the scheduler lock and must not call back into it.
func WithStateHook(fn func(st State, interval time.Duration, rearm bool)) Option {
	return func(s *Scheduler) { s.onArm = fn }
}

// WithReportHook receives the report of every dispatched cycle.
func WithReportHook(fn func(pipeline.Report)) Option {
	return func(s *Scheduler) { s.onReport = fn }
}

// Scheduler owns the capture timer and the transition-check timer.
type Scheduler struct {
	cycle     Cycle
	clock     Clock
	intervals Intervals
	runner    jobRunner
	logger    *zap.Logger
	now       func() time.Time
	onArm     func(State, time.Duration, bool)
	onReport  func(pipeline.Report)

	mu         sync.Mutex
	state      State
	started    bool
	stopped    bool
	startedAt  time.Time
	lastCheck  time.Time
	rearms     int
	captureJob any

	inflight sync.WaitGroup
}

// New builds a Scheduler backed by gocron.
func New(cycle Cycle, clock Clock, intervals Intervals, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if intervals.Check <= 0 {
		intervals.Check = 5 * time.Minute
	}
	s := &Scheduler{
		cycle:     cycle,
		clock:     clock,
		intervals: intervals,
		runner:    newGocronRunner(),
		logger:    logger.Named("scheduler"),
		now:       time.Now,
		onArm:     func(State, time.Duration, bool) {},
		onReport:  func(pipeline.Report) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start requests one capture immediately, then arms the capture and
// transition-check timers. Calling Start twice panics.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("scheduler: Start called twice")
	}
	s.started = true
	now := s.now()
	s.startedAt = now
	s.lastCheck = now
	s.state = stateFor(s.clock.IsDaytime(now))
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		zap.String("state", s.state.String()),
		zap.Duration("day_interval", s.intervals.Day),
		zap.Duration("night_interval", s.intervals.Night),
		zap.Duration("transition_check", s.intervals.Check),
	)
	s.dispatch(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.runner.every(s.intervals.Check, s.onCheckTick); err != nil {
		return fmt.Errorf("schedule transition check: %w", err)
	}
	if err := s.armLocked(s.state, false); err != nil {
		return err
	}
	s.runner.start()
	return nil
}

// Stop cancels both timers and waits for an in-flight cycle to finish or ctx
// to expire. The cycle itself is never cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.state = Idle
	s.mu.Unlock()

	// Not under s.mu: the runner may wait for job functions that take the lock.
	s.runner.stop()
	s.logger.Info("scheduler stopped, waiting for in-flight cycle")

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight cycle: %w", ctx.Err())
	}
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:     s.state,
		StateName: s.state.String(),
		IsDay:     s.state == ArmedDay,
		StartedAt: s.startedAt,
		LastCheck: s.lastCheck,
		Rearms:    s.rearms,
	}
	if s.state != Idle {
		iv := s.intervals.forState(s.state)
		snap.Interval = iv.String()
		snap.IntervalNs = int64(iv)
		snap.NextTransition = s.clock.NextTransition(s.now())
	}
	return snap
}

func (s *Scheduler) onCheckTick() {
	s.checkTransition(s.now())
}

// onCaptureTick re-evaluates the state before dispatching so a cycle that
// starts at a boundary sees the fresh state.
func (s *Scheduler) onCaptureTick() {
	now := s.now()
	s.checkTransition(now)
	s.dispatch(now)
}

// checkTransition re-arms the capture timer when the day/night state changed.
// The re-arm happens even when both intervals are equal.
func (s *Scheduler) checkTransition(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.started {
		return
	}
	s.lastCheck = now
	want := stateFor(s.clock.IsDaytime(now))
	if want == s.state {
		return
	}

	from := s.state
	if err := s.armLocked(want, true); err != nil {
		s.logger.Error("re-arm capture timer failed", zap.String("to", want.String()), zap.Error(err))
		return
	}
	s.logger.Info("day/night transition",
		zap.String("from", from.String()),
		zap.String("to", want.String()),
		zap.Duration("interval", s.intervals.forState(want)),
	)
}

func (s *Scheduler) armLocked(st State, rearm bool) error {
	if s.captureJob != nil {
		s.runner.remove(s.captureJob)
		s.captureJob = nil
	}
	iv := s.intervals.forState(st)
	job, err := s.runner.every(iv, s.onCaptureTick)
	if err != nil {
		return fmt.Errorf("schedule capture every %s: %w", iv, err)
	}
	s.captureJob = job
	s.state = st
	if rearm {
		s.rearms++
	}
	s.onArm(st, iv, rearm)
	return nil
}

// dispatch runs a cycle on its own goroutine. The orchestrator drops it if one
// is already running.
func (s *Scheduler) dispatch(trigger time.Time) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		r := s.cycle.RunCycle(context.Background(), trigger)
		s.onReport(r)
	}()
}
