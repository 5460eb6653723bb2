package repository

import (
	"context"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

// ScheduleStore persists schedules together with their voter sets.  Get and
// the list methods never return soft-deleted schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s model.Schedule) error
	Get(ctx context.Context, id string) (model.Schedule, error)
	Save(ctx context.Context, s model.Schedule) error
	ListByMeetup(ctx context.Context, meetupID string) ([]model.Schedule, error)
	// ListPendingWithDeadline returns every PROPOSED schedule that has a
	// voting deadline, overdue or not.  It feeds startup reconciliation.
	ListPendingWithDeadline(ctx context.Context) ([]model.Schedule, error)
}

// ParticipantStore is the read-only view of meetup membership.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, meetupID, userID string) (model.Participant, error)
	ListApproved(ctx context.Context, meetupID string) ([]model.Participant, error)
}
