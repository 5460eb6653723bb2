package schedule

import (
	"context"
	"strings"

	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/repository"
)

// Finalize confirms a PROPOSED schedule.  A nil actingUserID marks the
// automatic path taken when the voting deadline elapses and skips role
// checks; otherwise the actor must be an approved host or sub-host.
//
// Finalizing twice is a conflict (ErrAlreadyConfirmed), as is finalizing a
// cancelled schedule.  The CONFIRMATION notification is submitted after the
// change is saved and its outcome never affects the result.
func (s *Service) Finalize(ctx context.Context, id string, actingUserID *string) (model.Schedule, error) {
	sch, err := s.mutate(ctx, id, func(sch *model.Schedule) error {
		switch sch.Status {
		case model.StatusConfirmed:
			return repository.ErrAlreadyConfirmed
		case model.StatusCancelled:
			return repository.ErrFinalizeNotAllowed
		}
		if actingUserID != nil {
			if err := s.authorize(ctx, sch.MeetupID, *actingUserID, ActionFinalize); err != nil {
				return err
			}
		}
		sch.Status = model.StatusConfirmed
		sch.UpdatedAt = s.clock.Now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Warn("schedule finalize rejected",
			"event", "schedule_finalize_rejected",
			"module", "internal/schedule",
			"layer", "service",
			"schedule_id", id,
			"trigger", trigger(actingUserID),
			"error", err.Error(),
		)
		return model.Schedule{}, err
	}

	s.timers.Disarm(id)
	s.metrics.transitions.WithLabelValues(string(model.StatusConfirmed), trigger(actingUserID)).Inc()
	s.notifier.Submit(sch, model.MessageConfirmation)
	s.logger.Info("schedule confirmed",
		"event", "schedule_confirmed",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", id,
		"meetup_id", sch.MeetupID,
		"trigger", trigger(actingUserID),
		"votes", sch.Voters.Len(),
	)
	return sch, nil
}

// Cancel moves a PROPOSED schedule to CANCELLED and records reason.  Any
// other status yields ErrCancellationNotAllowed.  Authorization follows
// Finalize: a nil actingUserID is a system cancellation.
func (s *Service) Cancel(ctx context.Context, id, reason string, actingUserID *string) (model.Schedule, error) {
	sch, err := s.mutate(ctx, id, func(sch *model.Schedule) error {
		if !sch.Status.CanTransition(model.StatusCancelled) {
			return repository.ErrCancellationNotAllowed
		}
		if actingUserID != nil {
			if err := s.authorize(ctx, sch.MeetupID, *actingUserID, ActionCancel); err != nil {
				return err
			}
		}
		r := strings.TrimSpace(reason)
		sch.Status = model.StatusCancelled
		sch.CancellationReason = &r
		sch.UpdatedAt = s.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return model.Schedule{}, err
	}

	s.timers.Disarm(id)
	s.metrics.transitions.WithLabelValues(string(model.StatusCancelled), trigger(actingUserID)).Inc()
	s.notifier.Submit(sch, model.MessageCancellation)
	s.logger.Info("schedule cancelled",
		"event", "schedule_cancelled",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", id,
		"meetup_id", sch.MeetupID,
		"trigger", trigger(actingUserID),
		"reason", *sch.CancellationReason,
	)
	return sch, nil
}
