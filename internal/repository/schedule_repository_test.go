package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/meetup-schedule/internal/model"
)

var scheduleCols = []string{
	"id", "meetup_id", "proposed_at", "location", "status", "voting_deadline",
	"cancellation_reason", "created_by", "created_at", "updated_at", "deleted_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestScheduleRepo_CreateInsertsVoters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	s := proposed("s1", t0, nil)
	s.Voters = model.NewVoterSet("b", "a")

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO schedules")).
		WithArgs("s1", "m1", sqlmock.AnyArg(), "", "PROPOSED", nil, nil, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("INSERT INTO schedule_voters (schedule_id, user_id) VALUES (?, ?),(?, ?)")).
		WithArgs("s1", "a", "s1", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), s))
}

func TestScheduleRepo_CreateDuplicateID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO schedules")).
		WillReturnError(&mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry 's1'"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), proposed("s1", t0, nil))
	assert.ErrorIs(t, err, ErrScheduleAlreadyExists)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestScheduleRepo_GetLoadsVoters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)
	dl := t0.Add(time.Hour)

	mock.ExpectQuery(q("FROM schedules WHERE id = ? AND deleted_at IS NULL")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("s1", "m1", t0, "Hongdae", "PROPOSED", dl, nil, "u1", t0, t0, nil))
	mock.ExpectQuery(q("FROM schedule_voters WHERE schedule_id IN (?)")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"schedule_id", "user_id"}).
			AddRow("s1", "u2").AddRow("s1", "u3"))

	s, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProposed, s.Status)
	assert.Equal(t, "Hongdae", s.Location)
	require.NotNil(t, s.VotingDeadline)
	assert.True(t, s.VotingDeadline.Equal(dl))
	assert.Nil(t, s.CancellationReason)
	assert.Equal(t, []string{"u2", "u3"}, s.Voters.Sorted())
}

func TestScheduleRepo_GetMissingOrDeleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	mock.ExpectQuery(q("FROM schedules WHERE id = ? AND deleted_at IS NULL")).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(scheduleCols))

	_, err := repo.Get(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestScheduleRepo_SaveAppliesVoterDiff(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	s := proposed("s1", t0, nil)
	s.Voters = model.NewVoterSet("b", "c")

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE schedules")).
		WithArgs(sqlmock.AnyArg(), "", "PROPOSED", nil, nil, sqlmock.AnyArg(), nil, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT user_id FROM schedule_voters WHERE schedule_id = ? FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("a").AddRow("b"))
	mock.ExpectExec(q("DELETE FROM schedule_voters WHERE schedule_id = ? AND user_id IN (?)")).
		WithArgs("s1", "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO schedule_voters (schedule_id, user_id) VALUES (?, ?)")).
		WithArgs("s1", "c").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), s))
}

func TestScheduleRepo_SaveKeepsUnchangedVoters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	s := proposed("s1", t0, nil)
	s.Status = model.StatusConfirmed
	s.Voters = model.NewVoterSet("a")

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE schedules")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("a"))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), s))
}

func TestScheduleRepo_SaveRollsBackOnVoterFailure(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	s := proposed("s1", t0, nil)
	s.Voters = model.NewVoterSet("a")

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE schedules")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FOR UPDATE")).WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectExec(q("INSERT INTO schedule_voters")).WillReturnError(errors.New("deadlock found"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert voters")
}

func TestScheduleRepo_SaveUnknownRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE schedules")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT EXISTS(SELECT 1 FROM schedules WHERE id = ?)")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), proposed("nope", t0, nil))
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestScheduleRepo_ListPendingWithDeadline(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)
	overdue := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)

	mock.ExpectQuery(q("WHERE status = 'PROPOSED' AND voting_deadline IS NOT NULL AND deleted_at IS NULL")).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("s1", "m1", t0, "", "PROPOSED", overdue, nil, "u1", t0, t0, nil).
			AddRow("s2", "m1", t0, "", "PROPOSED", future, nil, "u1", t0, t0, nil))
	mock.ExpectQuery(q("FROM schedule_voters WHERE schedule_id IN (?,?)")).
		WithArgs("s1", "s2").
		WillReturnRows(sqlmock.NewRows([]string{"schedule_id", "user_id"}).AddRow("s1", "u9"))

	list, err := repo.ListPendingWithDeadline(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].ID)
	assert.True(t, list[0].HasPendingDeadline())
	assert.Equal(t, []string{"u9"}, list[0].Voters.Sorted())
	require.NotNil(t, list[1].Voters)
	assert.Zero(t, list[1].Voters.Len())
}

func TestScheduleRepo_ListByMeetupEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewScheduleRepo(db)

	mock.ExpectQuery(q("WHERE meetup_id = ? AND deleted_at IS NULL")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(scheduleCols))

	list, err := repo.ListByMeetup(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestParticipantRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewParticipantRepo(db)
	cols := []string{"meetup_id", "user_id", "role", "status", "contact"}

	mock.ExpectQuery(q("FROM meetup_participants WHERE meetup_id = ? AND user_id = ?")).
		WithArgs("m1", "ghost").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(q("WHERE meetup_id = ? AND status = 'APPROVED'")).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m1", "a", "HOST", "APPROVED", "a@example.com").
			AddRow("m1", "b", "MEMBER", "APPROVED", ""))

	_, err := repo.GetParticipant(context.Background(), "m1", "ghost")
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	list, err := repo.ListApproved(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.RoleHost, list[0].Role)
	assert.Equal(t, "a@example.com", list[0].Recipient())
	assert.Equal(t, "b", list[1].Recipient())
}
