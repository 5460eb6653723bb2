package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingGateway struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]error
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{sent: map[string][]string{}, fail: map[string]error{}}
}

func (g *recordingGateway) Send(_ context.Context, recipient, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail[recipient]; err != nil {
		return err
	}
	g.sent[recipient] = append(g.sent[recipient], message)
	return nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, msgs := range g.sent {
		n += len(msgs)
	}
	return n
}

func seedMeetup(store *repository.MemoryStore, meetupID string) {
	store.PutParticipant(model.Participant{MeetupID: meetupID, UserID: "host", Role: model.RoleHost, Status: model.ApprovalApproved, Contact: "host@example.com"})
	store.PutParticipant(model.Participant{MeetupID: meetupID, UserID: "alice", Role: model.RoleMember, Status: model.ApprovalApproved, Contact: "alice@example.com"})
	store.PutParticipant(model.Participant{MeetupID: meetupID, UserID: "bob", Role: model.RoleMember, Status: model.ApprovalApproved})
	store.PutParticipant(model.Participant{MeetupID: meetupID, UserID: "carol", Role: model.RoleMember, Status: model.ApprovalWaiting, Contact: "carol@example.com"})
}

func testSchedule(meetupID string) model.Schedule {
	return model.Schedule{
		ID:         "sched-1",
		MeetupID:   meetupID,
		ProposedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Location:   "Gangnam",
		Status:     model.StatusConfirmed,
		Voters:     model.NewVoterSet(),
	}
}

func TestNotify_SendsToApprovedParticipantsOnly(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	gw := newRecordingGateway()
	d := NewDispatcher(Options{Participants: store, Gateway: gw})

	report, err := d.Notify(context.Background(), testSchedule("m1"), model.MessageConfirmation)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 3, report.Delivered)
	assert.Zero(t, report.Failed())

	assert.Len(t, gw.sent["host@example.com"], 1)
	assert.Len(t, gw.sent["alice@example.com"], 1)
	assert.Len(t, gw.sent["bob"], 1, "recipient falls back to user id without contact")
	assert.NotContains(t, gw.sent, "carol@example.com")
	assert.Contains(t, gw.sent["alice@example.com"][0], "sched-1")
}

func TestNotify_FailingRecipientDoesNotAbortFanOut(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	gw := newRecordingGateway()
	boom := errors.New("smtp unavailable")
	gw.fail["alice@example.com"] = boom

	reg := prometheus.NewRegistry()
	d := NewDispatcher(Options{Participants: store, Gateway: gw, Registerer: reg})

	report, err := d.Notify(context.Background(), testSchedule("m1"), model.MessageConfirmation)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "alice@example.com", report.Failures[0].Recipient)
	assert.ErrorIs(t, report.Failures[0], boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.deliveries.WithLabelValues(string(model.MessageConfirmation), "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(d.metrics.deliveries.WithLabelValues(string(model.MessageConfirmation), "delivered")))
}

func TestNotify_GatewayPanicIsContained(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	var delivered int
	gw := GatewayFunc(func(_ context.Context, recipient, _ string) error {
		if recipient == "host@example.com" {
			panic("driver bug")
		}
		delivered++
		return nil
	})
	d := NewDispatcher(Options{Participants: store, Gateway: gw})

	report, err := d.Notify(context.Background(), testSchedule("m1"), model.MessageCancellation)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "gateway panic")
}

func TestNotify_NoParticipants(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PutParticipant(model.Participant{MeetupID: "empty", UserID: "x", Role: model.RoleMember, Status: model.ApprovalWithdrawn})
	gw := newRecordingGateway()
	d := NewDispatcher(Options{Participants: store, Gateway: gw})

	_, err := d.Notify(context.Background(), testSchedule("empty"), model.MessageConfirmation)
	require.ErrorIs(t, err, ErrNoParticipants)
	assert.Zero(t, gw.count())
}

func TestSubmit_WorkersDeliverQueuedTasks(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	gw := newRecordingGateway()
	d := NewDispatcher(Options{Participants: store, Gateway: gw, Workers: 2})
	d.Start()

	for i := 0; i < 5; i++ {
		require.True(t, d.Submit(testSchedule("m1"), model.MessageScheduleCreation))
	}
	d.Stop()

	assert.Equal(t, 15, gw.count(), "stop drains every queued task")
}

func TestSubmit_DropsWhenQueueFullOrStopped(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	gw := newRecordingGateway()
	reg := prometheus.NewRegistry()
	d := NewDispatcher(Options{Participants: store, Gateway: gw, QueueSize: 1, Registerer: reg})

	// Not started: the first task waits in the queue, the second has no room.
	require.True(t, d.Submit(testSchedule("m1"), model.MessageConfirmation))
	assert.False(t, d.Submit(testSchedule("m1"), model.MessageConfirmation))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.dropped.WithLabelValues("queue_full")))

	d.Start()
	d.Stop()
	assert.Equal(t, 3, gw.count())

	assert.False(t, d.Submit(testSchedule("m1"), model.MessageConfirmation))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.dropped.WithLabelValues("stopped")))
}

func TestSubmit_SnapshotIsIsolatedFromCaller(t *testing.T) {
	store := repository.NewMemoryStore()
	seedMeetup(store, "m1")
	gw := newRecordingGateway()
	d := NewDispatcher(Options{Participants: store, Gateway: gw})

	s := testSchedule("m1")
	require.True(t, d.Submit(s, model.MessageConfirmation))
	s.Location = "changed after submit"

	d.Start()
	d.Stop()
	require.Len(t, gw.sent["host@example.com"], 1)
	assert.Contains(t, gw.sent["host@example.com"][0], "Gangnam")
}

func TestStartStop_Idempotent(t *testing.T) {
	d := NewDispatcher(Options{Participants: repository.NewMemoryStore(), Gateway: newRecordingGateway()})
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
	d.Start()
}

func TestFormatMessage(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	reason := "venue closed"
	s := testSchedule("m1")
	s.VotingDeadline = &deadline
	s.CancellationReason = &reason

	created := FormatMessage(s, model.MessageScheduleCreation)
	assert.Contains(t, created, "sched-1")
	assert.Contains(t, created, "2026-03-01 10:00 UTC")
	assert.Contains(t, created, "Voting closes 2026-03-01 13:00 UTC")

	assert.Contains(t, FormatMessage(s, model.MessageConfirmation), "is confirmed")
	assert.Contains(t, FormatMessage(s, model.MessageCancellation), "Reason: venue closed")

	s.Location = ""
	assert.Contains(t, FormatMessage(s, model.MessageConfirmation), "at TBD")
}
