package remote

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cols = []string{"id", "client_id", "user_id", "title", "description", "completed", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresGateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresGateway(db, nil, time.Second), mock
}

func TestList_ScansRows(t *testing.T) {
	g, mock := newMock(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM tasks\s+WHERE user_id = \$1\s+ORDER BY created_at`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("srv-1", "l1", "u1", "a", "", false, created, created).
			AddRow("srv-2", "l2", "u1", "b", "desc", true, created, created.Add(time.Hour)))

	got, err := g.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "srv-1", got[0].ServerID)
	assert.Equal(t, "l1", got[0].ID)
	assert.Equal(t, "u1", got[0].UserID)
	assert.True(t, got[1].Completed)
	assert.Equal(t, created.Add(time.Hour), got[1].UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ReturnsServerRow(t *testing.T) {
	g, mock := newMock(t)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO tasks .* ON CONFLICT \(user_id, client_id\) DO UPDATE`).
		WithArgs("u1", "l1", "Buy milk", "", false, now).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("srv-1", "l1", "u1", "Buy milk", "", false, now, now))

	got, err := g.Create(context.Background(), "u1", TaskInput{ClientID: "l1", Title: "Buy milk", UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, "Buy milk", got.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_NoRowIsNotFound(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs("t", "", true, sqlmock.AnyArg(), "srv-9", "u1").
		WillReturnError(sql.ErrNoRows)

	_, err := g.Update(context.Background(), "u1", "srv-9", TaskInput{Title: "t", Completed: true})
	require.ErrorIs(t, err, common.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_Success(t *testing.T) {
	g, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE tasks .* WHERE id::text = \$5 AND user_id = \$6`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("srv-1", "l1", "u1", "new", "", true, now, now))

	got, err := g.Update(context.Background(), "u1", "srv-1", TaskInput{Title: "new", Completed: true, UpdatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.True(t, got.Completed)
}

func TestDelete(t *testing.T) {
	g, mock := newMock(t)

	mock.ExpectExec(`DELETE FROM tasks WHERE id::text = \$1 AND user_id = \$2`).
		WithArgs("srv-1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM tasks`).
		WithArgs("srv-2", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, g.Delete(context.Background(), "u1", "srv-1"))
	require.ErrorIs(t, g.Delete(context.Background(), "u1", "srv-2"), common.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_PgErrorsAreClassified(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{pgerrcode.UniqueViolation, common.ErrDuplicateID},
		{pgerrcode.InsufficientPrivilege, common.ErrUnauthorized},
		{pgerrcode.InvalidPassword, common.ErrUnauthorized},
		{pgerrcode.ConnectionFailure, common.ErrUnavailable},
		{pgerrcode.AdminShutdown, common.ErrUnavailable},
		{pgerrcode.TooManyConnections, common.ErrUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			g, mock := newMock(t)
			mock.ExpectQuery(`INSERT INTO tasks`).
				WillReturnError(&pgconn.PgError{Code: tc.code, Message: "boom"})

			_, err := g.Create(context.Background(), "u1", TaskInput{ClientID: "l1", Title: "x"})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(sql.ErrNoRows), common.ErrNotFound)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), common.ErrUnavailable)
	assert.ErrorIs(t, classify(context.DeadlineExceeded), context.DeadlineExceeded)

	other := errors.New("syntax")
	assert.Same(t, other, classify(other))

	pgOther := &pgconn.PgError{Code: pgerrcode.SyntaxError}
	assert.Equal(t, error(pgOther), classify(pgOther))
}

func TestList_TimeoutIsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	g := NewPostgresGateway(db, nil, 10*time.Millisecond)

	mock.ExpectQuery(`SELECT`).WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows(cols))

	_, err = g.List(context.Background(), "u1")
	require.ErrorIs(t, err, common.ErrUnavailable)
}

func TestInputFrom(t *testing.T) {
	now := time.Now()
	in := InputFrom(taskFixture(now))
	assert.Equal(t, TaskInput{ClientID: "l1", Title: "a", Description: "d", Completed: true, UpdatedAt: now}, in)
}
