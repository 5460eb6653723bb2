package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ScheduleStatus
		want     bool
	}{
		{StatusProposed, StatusConfirmed, true},
		{StatusProposed, StatusCancelled, true},
		{StatusProposed, StatusProposed, false},
		{StatusConfirmed, StatusCancelled, false},
		{StatusConfirmed, StatusProposed, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusProposed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.False(t, StatusProposed.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, ScheduleStatus("DRAFT").Valid())
}

func TestVoterSet(t *testing.T) {
	vs := NewVoterSet("b", "a", "b")
	assert.Equal(t, 2, vs.Len())
	assert.False(t, vs.Add("a"))
	assert.True(t, vs.Add("c"))
	assert.True(t, vs.Remove("b"))
	assert.False(t, vs.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, vs.Sorted())
}

func TestSchedule_CloneIsDeep(t *testing.T) {
	dl := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reason := "rain"
	s := Schedule{
		ID:                 "s1",
		Status:             StatusProposed,
		Voters:             NewVoterSet("u1"),
		VotingDeadline:     &dl,
		CancellationReason: &reason,
	}
	c := s.Clone()
	c.Voters.Add("u2")
	*c.VotingDeadline = dl.Add(time.Hour)
	*c.CancellationReason = "snow"

	assert.Equal(t, 1, s.Voters.Len())
	assert.Equal(t, dl, *s.VotingDeadline)
	assert.Equal(t, "rain", *s.CancellationReason)
}

func TestSchedule_HasPendingDeadline(t *testing.T) {
	dl := time.Now()
	now := time.Now()
	assert.True(t, Schedule{Status: StatusProposed, VotingDeadline: &dl}.HasPendingDeadline())
	assert.False(t, Schedule{Status: StatusProposed}.HasPendingDeadline())
	assert.False(t, Schedule{Status: StatusConfirmed, VotingDeadline: &dl}.HasPendingDeadline())
	assert.False(t, Schedule{Status: StatusProposed, VotingDeadline: &dl, DeletedAt: &now}.HasPendingDeadline())
}

func TestParticipant_Recipient(t *testing.T) {
	assert.Equal(t, "a@example.com", Participant{UserID: "u1", Contact: "a@example.com"}.Recipient())
	assert.Equal(t, "u1", Participant{UserID: "u1"}.Recipient())
	assert.True(t, Participant{Status: ApprovalApproved}.Approved())
	assert.False(t, Participant{Status: ApprovalWaiting}.Approved())
}
