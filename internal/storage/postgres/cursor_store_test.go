package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestCursorStoreGetMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT page_token FROM fetch_progress").
		WithArgs("vid-1").
		WillReturnRows(pgxmock.NewRows([]string{"page_token"}))

	token, found, err := store.Get(context.Background(), "vid-1")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreGetCaughtUpRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT page_token FROM fetch_progress").
		WithArgs("vid-1").
		WillReturnRows(pgxmock.NewRows([]string{"page_token"}).AddRow(nil))

	token, found, err := store.Get(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreGetInProgressRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	saved := "page-7"
	mock.ExpectQuery("SELECT page_token FROM fetch_progress").
		WithArgs("vid-1").
		WillReturnRows(pgxmock.NewRows([]string{"page_token"}).AddRow(&saved))

	token, found, err := store.Get(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, token)
	require.Equal(t, "page-7", *token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreSaveUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	token := "page-2"
	mock.ExpectExec("INSERT INTO fetch_progress").
		WithArgs("vid-1", &token).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), "vid-1", &token))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreSaveNilTokenMarksCaughtUp(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO fetch_progress").
		WithArgs("chan::chan-1", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), "chan::chan-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStorePruneStale(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	cutoff := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM fetch_progress").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.PruneStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("vid-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
