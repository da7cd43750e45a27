package invoices

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ompldr/server/internal/common"
	"github.com/ompldr/server/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO invoices \(memo, bolt11, rhash\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("tok", "lnbc1...", "beef").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Create(context.Background(), &models.InvoiceRecord{Memo: "tok", Bolt11: "lnbc1...", RHash: "beef"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO invoices`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.InvoiceRecord{})
	assert.ErrorContains(t, err, "failed to insert invoice: db down")
}

func TestFirstByMemo(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, memo, bolt11, rhash FROM invoices WHERE memo=\$1 ORDER BY id ASC LIMIT 1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "memo", "bolt11", "rhash"}).AddRow(int64(2), "tok", "lnbc", "beef"))

	got, err := repo.FirstByMemo(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, &models.InvoiceRecord{ID: 2, Memo: "tok", Bolt11: "lnbc", RHash: "beef"}, got)
}

func TestFirstByMemo_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM invoices WHERE memo=\$1`).WithArgs("tok").WillReturnError(sql.ErrNoRows)

	_, err := repo.FirstByMemo(context.Background(), "tok")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFirstByMemo_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM invoices`).WillReturnError(errors.New("boom"))

	_, err := repo.FirstByMemo(context.Background(), "tok")
	assert.ErrorContains(t, err, "failed to select invoice: boom")
}
