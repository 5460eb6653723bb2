package model

import (
	"sort"
	"time"
)

// ScheduleStatus is the lifecycle state of a schedule.  PROPOSED is the
// only non-terminal state; CONFIRMED and CANCELLED never change again.
type ScheduleStatus string

const (
	StatusProposed  ScheduleStatus = "PROPOSED"
	StatusConfirmed ScheduleStatus = "CONFIRMED"
	StatusCancelled ScheduleStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave this status.
func (s ScheduleStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case StatusProposed, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.  The only
// legal edges are PROPOSED -> CONFIRMED and PROPOSED -> CANCELLED.
func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	if s != StatusProposed {
		return false
	}
	return next == StatusConfirmed || next == StatusCancelled
}

// VoterSet holds the user IDs that voted for a schedule.  A user appears at
// most once; ordering is not meaningful.
type VoterSet map[string]struct{}

// NewVoterSet builds a set from the given IDs, collapsing duplicates.
func NewVoterSet(ids ...string) VoterSet {
	vs := make(VoterSet, len(ids))
	for _, id := range ids {
		vs[id] = struct{}{}
	}
	return vs
}

// Has reports whether userID has voted.
func (vs VoterSet) Has(userID string) bool {
	_, ok := vs[userID]
	return ok
}

// Add inserts userID and reports whether it was newly added.
func (vs VoterSet) Add(userID string) bool {
	if vs.Has(userID) {
		return false
	}
	vs[userID] = struct{}{}
	return true
}

// Remove deletes userID and reports whether it was present.
func (vs VoterSet) Remove(userID string) bool {
	if !vs.Has(userID) {
		return false
	}
	delete(vs, userID)
	return true
}

// Len returns the number of voters.
func (vs VoterSet) Len() int { return len(vs) }

// Sorted returns the voter IDs in ascending order, for stable output.
func (vs VoterSet) Sorted() []string {
	out := make([]string, 0, len(vs))
	for id := range vs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (vs VoterSet) Clone() VoterSet {
	out := make(VoterSet, len(vs))
	for id := range vs {
		out[id] = struct{}{}
	}
	return out
}

// Schedule is one candidate time for a meetup.  Members vote on it and it
// is confirmed either by a host or automatically when the voting deadline
// passes.
//
// Fields:
//
//	ID                 – opaque identifier, immutable once created.
//	MeetupID           – meetup the schedule belongs to.
//	ProposedAt         – candidate date/time of the meetup.
//	Location           – free-text location.
//	Status             – PROPOSED, CONFIRMED or CANCELLED.
//	Voters             – users who voted for this time.
//	VotingDeadline     – when voting closes (nil means no automatic finalize).
//	CancellationReason – set only when Status is CANCELLED.
//	CreatedBy          – user who proposed the schedule.
//	CreatedAt          – creation timestamp.
//	UpdatedAt          – last update timestamp.
//	DeletedAt          – soft-delete marker; deleted schedules are invisible.
type Schedule struct {
	ID                 string         // schedules.id
	MeetupID           string         // schedules.meetup_id
	ProposedAt         time.Time      // schedules.proposed_at
	Location           string         // schedules.location
	Status             ScheduleStatus // schedules.status
	Voters             VoterSet       // schedule_voters rows
	VotingDeadline     *time.Time     // schedules.voting_deadline (nullable)
	CancellationReason *string        // schedules.cancellation_reason (nullable)
	CreatedBy          string         // schedules.created_by
	CreatedAt          time.Time      // schedules.created_at
	UpdatedAt          time.Time      // schedules.updated_at
	DeletedAt          *time.Time     // schedules.deleted_at (nullable)
}

// Clone returns a deep copy so callers can mutate without affecting the
// original (stores hand out copies, never shared references).
func (s Schedule) Clone() Schedule {
	out := s
	out.Voters = s.Voters.Clone()
	if s.VotingDeadline != nil {
		d := *s.VotingDeadline
		out.VotingDeadline = &d
	}
	if s.CancellationReason != nil {
		r := *s.CancellationReason
		out.CancellationReason = &r
	}
	if s.DeletedAt != nil {
		d := *s.DeletedAt
		out.DeletedAt = &d
	}
	return out
}

// Deleted reports whether the schedule has been soft-deleted.
func (s Schedule) Deleted() bool { return s.DeletedAt != nil }

// HasPendingDeadline reports whether the schedule is PROPOSED and carries a
// voting deadline, i.e. whether it needs a timer.
func (s Schedule) HasPendingDeadline() bool {
	return s.Status == StatusProposed && s.VotingDeadline != nil && !s.Deleted()
}
