package notify

import (
	"fmt"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

const messageTimeLayout = "2006-01-02 15:04 MST"

// FormatMessage renders the text sent for kind.  Every template carries
// the schedule ID so recipients and support staff can correlate it.
func FormatMessage(s model.Schedule, kind model.MessageKind) string {
	when := s.ProposedAt.UTC().Format(messageTimeLayout)
	where := s.Location
	if where == "" {
		where = "TBD"
	}
	switch kind {
	case model.MessageScheduleCreation:
		msg := fmt.Sprintf("[meetup %s] New time proposed for %s at %s (schedule %s). Cast your vote!",
			s.MeetupID, when, where, s.ID)
		if s.VotingDeadline != nil {
			msg += " Voting closes " + s.VotingDeadline.UTC().Format(messageTimeLayout) + "."
		}
		return msg
	case model.MessageConfirmation:
		return fmt.Sprintf("[meetup %s] Schedule %s is confirmed: %s at %s.",
			s.MeetupID, s.ID, when, where)
	case model.MessageCancellation:
		msg := fmt.Sprintf("[meetup %s] Schedule %s (%s at %s) was cancelled.",
			s.MeetupID, s.ID, when, where)
		if s.CancellationReason != nil && *s.CancellationReason != "" {
			msg += " Reason: " + *s.CancellationReason
		}
		return msg
	default:
		return fmt.Sprintf("[meetup %s] Schedule %s was updated (%s).", s.MeetupID, s.ID, kind)
	}
}

