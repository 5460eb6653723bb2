// Package schedule is the schedule core: proposal, voting and the
// PROPOSED -> CONFIRMED | CANCELLED state machine.  Every mutation of a
// schedule runs load-mutate-save inside that schedule's lock, so concurrent
// votes, manual finalization and the deadline timer observe each other's
// writes in a total order.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/meetup-schedule/internal/lock"
	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/repository"
)

// Timers is the deadline registry as seen by the core.
type Timers interface {
	Arm(scheduleID string, fireAt time.Time)
	Disarm(scheduleID string)
}

// Notifier accepts a notification task after a change has been committed.
// Submit must not block.
type Notifier interface {
	Submit(s model.Schedule, kind model.MessageKind) bool
}

// Invalidator drops derived copies of a schedule, such as cached HTTP
// responses, once a change to it has been committed.
type Invalidator interface {
	Invalidate(ctx context.Context, s model.Schedule)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type noopTimers struct{}

func (noopTimers) Arm(string, time.Time) {}
func (noopTimers) Disarm(string)         {}

type noopNotifier struct{}

func (noopNotifier) Submit(model.Schedule, model.MessageKind) bool { return false }

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, model.Schedule) {}

// Dependencies wires a Service.  Schedules and Participants are required;
// the rest default to in-process or no-op implementations.
type Dependencies struct {
	Schedules    repository.ScheduleStore
	Participants repository.ParticipantStore
	Locker       lock.Locker
	Timers       Timers
	Notifier     Notifier
	Invalidator  Invalidator
	Clock        Clock
	NewID        func() string
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
}

// Service implements the schedule operations.
type Service struct {
	schedules    repository.ScheduleStore
	participants repository.ParticipantStore
	locker       lock.Locker
	timers       Timers
	notifier     Notifier
	invalidator  Invalidator
	clock        Clock
	newID        func() string
	logger       *slog.Logger
	metrics      *serviceMetrics
}

// NewService builds a Service from deps.  It panics when a required
// dependency is missing.
func NewService(deps Dependencies) *Service {
	if deps.Schedules == nil || deps.Participants == nil {
		panic("schedule: nil store passed to NewService")
	}
	s := &Service{
		schedules:    deps.Schedules,
		participants: deps.Participants,
		locker:       deps.Locker,
		timers:       deps.Timers,
		notifier:     deps.Notifier,
		invalidator:  deps.Invalidator,
		clock:        deps.Clock,
		newID:        deps.NewID,
		logger:       deps.Logger,
		metrics:      newServiceMetrics(deps.Registerer),
	}
	if s.locker == nil {
		s.locker = lock.NewKeyed()
	}
	if s.timers == nil {
		s.timers = noopTimers{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.invalidator == nil {
		s.invalidator = noopInvalidator{}
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ProposeCommand carries the input of Propose.
type ProposeCommand struct {
	MeetupID     string
	ProposedAt   time.Time
	Location     string
	DeadlineExpr string
	ActingUserID string
}

// Propose creates a PROPOSED schedule with an empty voter set.  The voting
// deadline is derived from DeadlineExpr relative to ProposedAt and armed
// when it lies in the future.
func (s *Service) Propose(ctx context.Context, cmd ProposeCommand) (model.Schedule, error) {
	if strings.TrimSpace(cmd.MeetupID) == "" {
		return model.Schedule{}, fmt.Errorf("%w: meetup id is required", repository.ErrInvalidInput)
	}
	if cmd.ProposedAt.IsZero() {
		return model.Schedule{}, fmt.Errorf("%w: proposed time is required", repository.ErrInvalidInput)
	}
	deadline, err := ParseDeadline(cmd.DeadlineExpr, cmd.ProposedAt)
	if err != nil {
		return model.Schedule{}, err
	}
	if err := s.authorize(ctx, cmd.MeetupID, cmd.ActingUserID, ActionPropose); err != nil {
		return model.Schedule{}, err
	}

	now := s.clock.Now().UTC()
	deadline = deadline.UTC()
	sch := model.Schedule{
		ID:             s.newID(),
		MeetupID:       cmd.MeetupID,
		ProposedAt:     cmd.ProposedAt.UTC(),
		Location:       strings.TrimSpace(cmd.Location),
		Status:         model.StatusProposed,
		Voters:         model.NewVoterSet(),
		VotingDeadline: &deadline,
		CreatedBy:      cmd.ActingUserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.schedules.Create(ctx, sch); err != nil {
		return model.Schedule{}, fmt.Errorf("create schedule: %w", err)
	}
	s.invalidator.Invalidate(ctx, sch)
	s.timers.Arm(sch.ID, deadline)
	s.notifier.Submit(sch, model.MessageScheduleCreation)

	s.logger.Info("schedule proposed",
		"event", "schedule_proposed",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", sch.ID,
		"meetup_id", sch.MeetupID,
		"user_id", cmd.ActingUserID,
		"voting_deadline", deadline,
	)
	return sch, nil
}

// Get returns a schedule that has not been deleted.
func (s *Service) Get(ctx context.Context, id string) (model.Schedule, error) {
	return s.schedules.Get(ctx, id)
}

// ListByMeetup returns the meetup's schedules ordered by proposed time.
func (s *Service) ListByMeetup(ctx context.Context, meetupID string) ([]model.Schedule, error) {
	return s.schedules.ListByMeetup(ctx, meetupID)
}

// Delete soft-deletes a schedule and drops its timer.  Only hosts and
// sub-hosts may delete, whatever the schedule's status.
func (s *Service) Delete(ctx context.Context, id, actingUserID string) error {
	_, err := s.mutate(ctx, id, func(sch *model.Schedule) error {
		if err := s.authorize(ctx, sch.MeetupID, actingUserID, ActionDelete); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		sch.DeletedAt = &now
		sch.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	s.timers.Disarm(id)
	s.logger.Info("schedule deleted",
		"event", "schedule_deleted",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", id,
		"user_id", actingUserID,
	)
	return nil
}

// mutate loads the schedule inside its lock, applies fn and persists the
// result when fn succeeds.  Derived copies are invalidated before the lock
// is released.  The saved copy is returned.
func (s *Service) mutate(ctx context.Context, id string, fn func(*model.Schedule) error) (model.Schedule, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("lock schedule %s: %w", id, err)
	}
	defer unlock()

	sch, err := s.schedules.Get(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	if err := fn(&sch); err != nil {
		return model.Schedule{}, err
	}
	if err := s.schedules.Save(ctx, sch); err != nil {
		return model.Schedule{}, fmt.Errorf("save schedule %s: %w", id, err)
	}
	s.invalidator.Invalidate(ctx, sch)
	return sch, nil
}

// authorize resolves the acting user's membership in meetupID and checks
// it against action.  An unknown participant is Forbidden, not NotFound.
func (s *Service) authorize(ctx context.Context, meetupID, userID string, action Action) error {
	if userID == "" {
		return fmt.Errorf("%w: %s requires an acting user", repository.ErrForbidden, action)
	}
	p, err := s.participants.GetParticipant(ctx, meetupID, userID)
	if errors.Is(err, repository.ErrParticipantNotFound) {
		return fmt.Errorf("%w: user %s is not a participant of meetup %s", repository.ErrForbidden, userID, meetupID)
	}
	if err != nil {
		return fmt.Errorf("load participant: %w", err)
	}
	if !Authorize(p.Role, p.Status, action) {
		return fmt.Errorf("%w: %s %s may not %s", repository.ErrForbidden, p.Status, p.Role, action)
	}
	return nil
}

type serviceMetrics struct {
	transitions *prometheus.CounterVec
	votes       *prometheus.CounterVec
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	m := &serviceMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_transitions_total",
			Help: "Schedule state transitions by target status and trigger",
		}, []string{"status", "trigger"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_votes_total",
			Help: "Vote ledger changes by operation",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.votes)
	}
	return m
}

func trigger(actingUserID *string) string {
	if actingUserID == nil {
		return "deadline"
	}
	return "manual"
}
