// Package repository defines the persistence contracts for schedules and
// participants, their MySQL and in-memory implementations, and the error
// values shared by every layer above them.  Category sentinels (ErrNotFound,
// ErrConflict, ErrForbidden) are wrapped by the specific errors so that
// handlers can map a whole category with a single errors.Is check while
// tests can still assert the precise failure.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is the category for missing schedules or votes.  Handlers
// translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is the category for operations rejected because of the
// schedule's current state.  Handlers translate it into an HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when the acting user may not perform the
// operation on the schedule's meetup.  Handlers translate it into a 403.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidInput rejects malformed commands (missing IDs, unparseable
// deadline expressions).  Handlers translate it into an HTTP 400.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrScheduleNotFound    = fmt.Errorf("schedule %w", ErrNotFound)
	ErrVoteNotFound        = fmt.Errorf("vote %w", ErrNotFound)
	ErrParticipantNotFound = fmt.Errorf("participant %w", ErrNotFound)

	ErrAlreadyVoted           = fmt.Errorf("%w: user already voted", ErrConflict)
	ErrAlreadyConfirmed       = fmt.Errorf("%w: schedule already confirmed", ErrConflict)
	ErrVotingNotAllowed       = fmt.Errorf("%w: voting is closed for this schedule", ErrConflict)
	ErrCancellationNotAllowed = fmt.Errorf("%w: schedule can no longer be cancelled", ErrConflict)
	ErrFinalizeNotAllowed     = fmt.Errorf("%w: cancelled schedule cannot be confirmed", ErrConflict)
	ErrScheduleAlreadyExists  = fmt.Errorf("%w: schedule id already exists", ErrConflict)
)
