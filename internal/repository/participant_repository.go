package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

// ParticipantRepo reads the meetup_participants table.  The membership
// subsystem owns the rows; this repository never writes them.
type ParticipantRepo struct {
	db *sql.DB
}

// NewParticipantRepo returns a new ParticipantRepo bound to the provided database.
func NewParticipantRepo(db *sql.DB) *ParticipantRepo { return &ParticipantRepo{db: db} }

// GetParticipant returns the membership record of userID in meetupID, or
// ErrParticipantNotFound when the user never joined.
func (r *ParticipantRepo) GetParticipant(ctx context.Context, meetupID, userID string) (model.Participant, error) {
	const q = `SELECT meetup_id, user_id, role, status, contact
	           FROM meetup_participants WHERE meetup_id = ? AND user_id = ? LIMIT 1`
	var (
		p            model.Participant
		role, status string
	)
	err := r.db.QueryRowContext(ctx, q, meetupID, userID).Scan(&p.MeetupID, &p.UserID, &role, &status, &p.Contact)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Participant{}, ErrParticipantNotFound
		}
		return model.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	p.Role = model.Role(role)
	p.Status = model.ApprovalStatus(status)
	return p, nil
}

// ListApproved returns the APPROVED participants of a meetup ordered by
// user ID.  An empty slice is not an error at this layer.
func (r *ParticipantRepo) ListApproved(ctx context.Context, meetupID string) ([]model.Participant, error) {
	const q = `SELECT meetup_id, user_id, role, status, contact
	           FROM meetup_participants
	           WHERE meetup_id = ? AND status = 'APPROVED'
	           ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, q, meetupID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()
	var out []model.Participant
	for rows.Next() {
		var (
			p            model.Participant
			role, status string
		)
		if err := rows.Scan(&p.MeetupID, &p.UserID, &role, &status, &p.Contact); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Role = model.Role(role)
		p.Status = model.ApprovalStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}
