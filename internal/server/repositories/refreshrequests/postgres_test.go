package refreshrequests

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var target = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+refresh_requests\b.*VALUES\s*\(\$1,\s*false,\s*\$2,\s*\$3,\s*\$4\)\s*RETURNING id$`
	mock.ExpectQuery(q).
		WithArgs(int64(12), int64(50), target, "ab12").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := repo.Create(context.Background(), &models.RefreshRequest{
		FileID:             12,
		DownloadsRemaining: 50,
		ExpiresAt:          target,
		RHash:              "ab12",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateRHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+refresh_requests`).
		WillReturnError(errors.New(`duplicate key value violates unique constraint "refresh_requests_rhash_key"`))

	_, err := repo.Create(context.Background(), &models.RefreshRequest{RHash: "ab12"})
	if err == nil || !regexp.MustCompile(`failed to insert refresh request: .*duplicate key`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByRHash_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, file_id, invoice_paid, downloads_remaining, expires_at, rhash FROM refresh_requests WHERE rhash=\$1`).
		WithArgs("ab12").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_id", "invoice_paid", "downloads_remaining", "expires_at", "rhash"}).
			AddRow(int64(3), int64(12), false, int64(50), target, "ab12"))

	got, err := repo.FindByRHash(context.Background(), "ab12")
	require.NoError(t, err)
	assert.Equal(t, &models.RefreshRequest{ID: 3, FileID: 12, DownloadsRemaining: 50, ExpiresAt: target, RHash: "ab12"}, got)
}

func TestFindByRHash_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM refresh_requests WHERE rhash=\$1`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByRHash(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestMarkPaid_IsConditional(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `UPDATE refresh_requests SET invoice_paid=true WHERE rhash=\$1 AND invoice_paid=false`
	mock.ExpectExec(q).WithArgs("ab12").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("ab12").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.MarkPaid(context.Background(), "ab12")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.MarkPaid(context.Background(), "ab12")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMarkPaid_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE refresh_requests`).WillReturnError(errors.New("db down"))

	_, err := repo.MarkPaid(context.Background(), "ab12")
	assert.ErrorContains(t, err, "failed to mark refresh request paid: db down")
}

func TestDeleteByFileID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM refresh_requests WHERE file_id=\$1`).
		WithArgs(int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.DeleteByFileID(context.Background(), 12))
	require.NoError(t, mock.ExpectationsWereMet())
}
