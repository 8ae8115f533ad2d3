package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresSuggest(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT email, display_name FROM directory_entries WHERE search_key LIKE").
		WithArgs("%soren%", "company.dk", "example.dk", 5).
		WillReturnRows(sqlmock.NewRows([]string{"email", "display_name"}).
			AddRow("søren@company.dk", "Søren").
			AddRow("soren.k@example.dk", ""))

	got, err := pg.Suggest(context.Background(), Query{Text: "Søren", Limit: 5, Domains: Domains{"company.dk", "example.dk"}})
	require.NoError(t, err)
	assert.Equal(t, []Suggestion{
		{ID: "søren@company.dk", Display: "Søren"},
		{ID: "soren.k@example.dk", Display: "soren.k@example.dk"},
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSuggestEscapesLikeWildcards(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT email, display_name FROM directory_entries").
		WithArgs(`%qa\_proof\%%`, "company.dk", DefaultLimit).
		WillReturnRows(sqlmock.NewRows([]string{"email", "display_name"}))

	got, err := pg.Suggest(context.Background(), Query{Text: "qa_proof%", Domains: Domains{"company.dk"}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSuggestWithoutDomainsSkipsQuery(t *testing.T) {
	pg, mock := newMockPostgres(t)

	got, err := pg.Suggest(context.Background(), Query{Text: "anne"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSuggestQueryError(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT email, display_name FROM directory_entries").
		WillReturnError(errors.New("connection refused"))

	_, err := pg.Suggest(context.Background(), Query{Domains: Domains{"company.dk"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query directory")
}

func TestPostgresSeedUpsertsInTransaction(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO directory_entries").
		WithArgs("anne.hansen@company.dk", "Anne Hansen", "company.dk", "anne.hansen@company.dk anne hansen").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO directory_entries").
		WithArgs("søren@company.dk", "Søren", "company.dk", "soren@company.dk soren").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pg.Seed(context.Background(), []Entry{
		{Email: "anne.hansen@company.dk", Display: "Anne Hansen"},
		{Email: "søren@company.dk", Display: "Søren"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSeedRollsBackOnError(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO directory_entries").
		WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	err := pg.Seed(context.Background(), []Entry{{Email: "anne.hansen@company.dk"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureSchema(t *testing.T) {
	pg, mock := newMockPostgres(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS directory_entries").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, pg.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
