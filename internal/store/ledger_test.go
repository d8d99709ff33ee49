package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newWithDB(db), mock
}

func TestDebitRollsBackWhenEditInsertFails(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credits = credits - \\?").
		WithArgs(5, sqlmock.AnyArg(), "u1", 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO edits").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.DebitAndRecordEdit(context.Background(), "u1", 5, &Edit{ResultURL: "x", Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitSkipsInsertWhenBalanceTooLow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credits = credits - \\?").
		WithArgs(5, sqlmock.AnyArg(), "u1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.DebitAndRecordEdit(context.Background(), "u1", 5, &Edit{ResultURL: "x", Prompt: "p"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitCommitsBothWrites(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET credits = credits - \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO edits").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT credits FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(5))
	mock.ExpectCommit()

	remaining, err := s.DebitAndRecordEdit(context.Background(), "u1", 5, &Edit{ResultURL: "x", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditPaymentDuplicateDoesNotTouchBalance(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payment_events").
		WithArgs("evt_1", "u1", 50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err := s.CreditPayment(context.Background(), "evt_1", "u1", 50)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.NoError(t, mock.ExpectationsWereMet())
}
