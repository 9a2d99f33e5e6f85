package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/ids"
)

// StreamIDProvider returns the stream the next tick should evaluate. An empty id skips the tick.
type StreamIDProvider func() string

// Start arms the timer and runs a tick immediately. Starting a running loop replaces its job.
func (s *Supervisor) Start(ctx context.Context, provider StreamIDProvider) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	if s.job != nil {
		if err := s.scheduler.RemoveJob(s.job.ID()); err != nil {
			s.logger.Warn("failed to remove supervisor job", zap.Error(err))
		}
		s.job = nil
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(s.opts.Interval),
		gocron.NewTask(func() {
			s.scheduledTick(ctx, provider)
		}),
		gocron.WithName("supervisor_tick"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule supervisor: %w", err)
	}
	s.job = job

	if !s.started {
		s.scheduler.Start()
		s.started = true
	}

	s.logger.Info("supervisor started", zap.Duration("interval", s.opts.Interval))
	return nil
}

// Stop disarms the timer. A tick already waiting on the gateway completes but its result
// is discarded.
func (s *Supervisor) Stop() {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	defer func() {
		s.commitMu.Lock()
		s.epoch.Add(1)
		s.commitMu.Unlock()
	}()

	if s.job == nil {
		return
	}
	if err := s.scheduler.RemoveJob(s.job.ID()); err != nil {
		s.logger.Warn("failed to remove supervisor job", zap.Error(err))
	}
	s.job = nil
	s.logger.Info("supervisor stopped")
}

// Running reports whether the timer is armed.
func (s *Supervisor) Running() bool {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.job != nil
}

func (s *Supervisor) scheduledTick(ctx context.Context, provider StreamIDProvider) {
	if ctx.Err() != nil {
		return
	}
	streamID := provider()
	if streamID == "" {
		return
	}
	if _, err := s.Tick(ctx, streamID); err != nil && !errors.Is(err, errors.ErrBusy) {
		s.logger.Debug("scheduled tick failed", zap.Error(err))
	}
}

const profileNudge = "Your profile is missing goals and aspirations. Add them so I can tell " +
	"whether the agents are working toward what matters to you."

// CheckProfileCompleteness emits a request_guidance decision, without calling the gateway,
// when both goals and aspirations are too short to evaluate against. It fires at most once
// per supervisor and reports whether it did.
func (s *Supervisor) CheckProfileCompleteness(p Profile) (*Decision, bool) {
	goals := len(strings.TrimSpace(p.Goals))
	aspirations := len(strings.TrimSpace(p.Aspirations))
	if goals >= s.opts.ProfileMinChars || aspirations >= s.opts.ProfileMinChars {
		return nil, false
	}
	if !s.profiled.CompareAndSwap(false, true) {
		return nil, false
	}

	decision := Decision{
		ID:               ids.New(),
		Timestamp:        time.Now().UTC(),
		Type:             DecisionRequestGuidance,
		ConfidenceScore:  100,
		SimulationResult: "Profile incomplete",
		Reasoning:        "Goals and aspirations are empty or too short to evaluate agent activity against.",
		UserMessage:      profileNudge,
		RelevantGoal:     "Profile Setup",
		DisplayMode:      DisplayToast,
	}

	s.mu.Lock()
	s.decisions = append([]Decision{decision}, s.decisions...)
	snapshot := make([]Decision, len(s.decisions))
	copy(snapshot, s.decisions)
	s.mu.Unlock()

	s.metrics.Decision(string(decision.Type), string(decision.DisplayMode))
	s.logger.Info("profile incomplete, guidance requested")
	s.events.Publish(snapshot)
	return &decision, true
}
