package schedule

import (
	"context"

	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/repository"
)

// CastVote records userID's vote.  Votes are accepted only while the
// schedule is PROPOSED and never finalize it, however many arrive.
func (s *Service) CastVote(ctx context.Context, id, userID string) (model.Schedule, error) {
	sch, err := s.mutate(ctx, id, func(sch *model.Schedule) error {
		if sch.Status.Terminal() {
			return repository.ErrVotingNotAllowed
		}
		if sch.Voters == nil {
			sch.Voters = model.NewVoterSet()
		}
		if !sch.Voters.Add(userID) {
			return repository.ErrAlreadyVoted
		}
		sch.UpdatedAt = s.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return model.Schedule{}, err
	}
	s.metrics.votes.WithLabelValues("cast").Inc()
	s.logger.Debug("vote cast",
		"event", "schedule_vote_cast",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", id,
		"user_id", userID,
		"votes", sch.Voters.Len(),
	)
	return sch, nil
}

// RetractVote removes userID's vote while the schedule is PROPOSED.
func (s *Service) RetractVote(ctx context.Context, id, userID string) (model.Schedule, error) {
	sch, err := s.mutate(ctx, id, func(sch *model.Schedule) error {
		if sch.Status.Terminal() {
			return repository.ErrVotingNotAllowed
		}
		if !sch.Voters.Remove(userID) {
			return repository.ErrVoteNotFound
		}
		sch.UpdatedAt = s.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return model.Schedule{}, err
	}
	s.metrics.votes.WithLabelValues("retract").Inc()
	s.logger.Debug("vote retracted",
		"event", "schedule_vote_retracted",
		"module", "internal/schedule",
		"layer", "service",
		"schedule_id", id,
		"user_id", userID,
		"votes", sch.Voters.Len(),
	)
	return sch, nil
}

// VoteCount returns the number of distinct voters.
func (s *Service) VoteCount(ctx context.Context, id string) (int, error) {
	sch, err := s.schedules.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sch.Voters.Len(), nil
}
