package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// ScheduleRepo provides MySQL access to the schedules and schedule_voters
// tables.  The voter set is stored one row per (schedule_id, user_id); the
// composite primary key backs the one-vote-per-user invariant.  All
// timestamps are stored and compared in UTC.
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the provided database.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

const scheduleColumns = `id, meetup_id, proposed_at, location, status, voting_deadline,
	cancellation_reason, created_by, created_at, updated_at, deleted_at`

// Create inserts a new schedule and its (normally empty) voter set in one
// transaction.  A duplicate ID yields ErrScheduleAlreadyExists.
func (r *ScheduleRepo) Create(ctx context.Context, s model.Schedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create schedule: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO schedules (id, meetup_id, proposed_at, location, status, voting_deadline,
		cancellation_reason, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		s.ID, s.MeetupID, s.ProposedAt.UTC(), s.Location, string(s.Status),
		nullTime(s.VotingDeadline), nullString(s.CancellationReason),
		s.CreatedBy, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrScheduleAlreadyExists
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	if err := insertVotersTx(ctx, tx, s.ID, s.Voters.Sorted()); err != nil {
		return err
	}
	return tx.Commit()
}

// Get loads a non-deleted schedule with its voters.  Missing and
// soft-deleted rows both yield ErrScheduleNotFound.
func (r *ScheduleRepo) Get(ctx context.Context, id string) (model.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ? AND deleted_at IS NULL`
	s, err := scanSchedule(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Schedule{}, ErrScheduleNotFound
		}
		return model.Schedule{}, fmt.Errorf("select schedule: %w", err)
	}
	voters, err := r.loadVoters(ctx, []string{s.ID})
	if err != nil {
		return model.Schedule{}, err
	}
	s.Voters = voters[s.ID]
	if s.Voters == nil {
		s.Voters = model.NewVoterSet()
	}
	return s, nil
}

// Save writes back every mutable column and applies the difference between
// the stored and the given voter set, so untouched rows keep their
// voted_at.  The caller must hold the schedule's lock so that concurrent
// Saves for the same ID cannot interleave.
func (r *ScheduleRepo) Save(ctx context.Context, s model.Schedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save schedule: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `UPDATE schedules
		SET proposed_at = ?, location = ?, status = ?, voting_deadline = ?,
		    cancellation_reason = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`
	res, err := tx.ExecContext(ctx, q,
		s.ProposedAt.UTC(), s.Location, string(s.Status), nullTime(s.VotingDeadline),
		nullString(s.CancellationReason), s.UpdatedAt.UTC(), nullTime(s.DeletedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	// MySQL reports changed rows, not matched rows, so zero is only an
	// error when the row is really gone.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schedules WHERE id = ?)`, s.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check schedule: %w", err)
		}
		if !exists {
			return ErrScheduleNotFound
		}
	}

	stored, err := votersForUpdateTx(ctx, tx, s.ID)
	if err != nil {
		return err
	}
	var added, removed []string
	for uid := range s.Voters {
		if !stored.Has(uid) {
			added = append(added, uid)
		}
	}
	for uid := range stored {
		if !s.Voters.Has(uid) {
			removed = append(removed, uid)
		}
	}
	if err := deleteVotersTx(ctx, tx, s.ID, removed); err != nil {
		return err
	}
	if err := insertVotersTx(ctx, tx, s.ID, added); err != nil {
		return err
	}
	return tx.Commit()
}

// votersForUpdateTx reads the stored voter set and locks its rows until the
// transaction ends.
func votersForUpdateTx(ctx context.Context, tx *sql.Tx, scheduleID string) (model.VoterSet, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id FROM schedule_voters WHERE schedule_id = ? FOR UPDATE`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("select voters: %w", err)
	}
	defer rows.Close()
	out := model.NewVoterSet()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		out.Add(uid)
	}
	return out, rows.Err()
}

// deleteVotersTx removes the given voter rows.  An empty slice is a no-op.
func deleteVotersTx(ctx context.Context, tx *sql.Tx, scheduleID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	sort.Strings(userIDs)
	args := make([]any, 0, len(userIDs)+1)
	args = append(args, scheduleID)
	for _, uid := range userIDs {
		args = append(args, uid)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	_, err := tx.ExecContext(ctx,
		`DELETE FROM schedule_voters WHERE schedule_id = ? AND user_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete voters: %w", err)
	}
	return nil
}

// ListByMeetup returns the meetup's non-deleted schedules ordered by
// proposed time.
func (r *ScheduleRepo) ListByMeetup(ctx context.Context, meetupID string) ([]model.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE meetup_id = ? AND deleted_at IS NULL
		ORDER BY proposed_at, id`
	return r.list(ctx, q, meetupID)
}

// ListPendingWithDeadline returns every PROPOSED, non-deleted schedule with
// a voting deadline.  Overdue rows are included on purpose so startup
// reconciliation can finalize them.
func (r *ScheduleRepo) ListPendingWithDeadline(ctx context.Context) ([]model.Schedule, error) {
	q := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE status = 'PROPOSED' AND voting_deadline IS NOT NULL AND deleted_at IS NULL
		ORDER BY voting_deadline, id`
	return r.list(ctx, q)
}

func (r *ScheduleRepo) list(ctx context.Context, q string, args ...any) ([]model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select schedules: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	voters, err := r.loadVoters(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if vs, ok := voters[out[i].ID]; ok {
			out[i].Voters = vs
		} else {
			out[i].Voters = model.NewVoterSet()
		}
	}
	return out, nil
}

// loadVoters fetches the voter rows for all given schedules with a single
// IN query and groups them by schedule ID.
func (r *ScheduleRepo) loadVoters(ctx context.Context, scheduleIDs []string) (map[string]model.VoterSet, error) {
	out := make(map[string]model.VoterSet, len(scheduleIDs))
	if len(scheduleIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(scheduleIDs)), ",")
	args := make([]any, len(scheduleIDs))
	for i, id := range scheduleIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT schedule_id, user_id FROM schedule_voters WHERE schedule_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select voters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid, uid string
		if err := rows.Scan(&sid, &uid); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		vs, ok := out[sid]
		if !ok {
			vs = model.NewVoterSet()
			out[sid] = vs
		}
		vs.Add(uid)
	}
	return out, rows.Err()
}

// insertVotersTx bulk inserts voter rows in a single statement.  Passing an
// empty slice has no effect and returns nil.
func insertVotersTx(ctx context.Context, tx *sql.Tx, scheduleID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	sort.Strings(userIDs)
	query := `INSERT INTO schedule_voters (schedule_id, user_id) VALUES `
	args := make([]any, 0, len(userIDs)*2)
	for i, uid := range userIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, scheduleID, uid)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert voters: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (model.Schedule, error) {
	var (
		s        model.Schedule
		status   string
		deadline sql.NullTime
		reason   sql.NullString
		deleted  sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.MeetupID, &s.ProposedAt, &s.Location, &status, &deadline,
		&reason, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &deleted,
	)
	if err != nil {
		return model.Schedule{}, err
	}
	s.Status = model.ScheduleStatus(status)
	s.ProposedAt = s.ProposedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if deadline.Valid {
		d := deadline.Time.UTC()
		s.VotingDeadline = &d
	}
	if reason.Valid {
		r := reason.String
		s.CancellationReason = &r
	}
	if deleted.Valid {
		d := deleted.Time.UTC()
		s.DeletedAt = &d
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
