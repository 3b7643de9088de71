package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"augustine-rag/internal/config"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	return NewStore(NewDB(sqldb, false), "match_documents", "documents"), mock
}

func TestVector_Value(t *testing.T) {
	v, err := Vector{0.5, -1, 0.25}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.5,-1,0.25]", v)

	v, err = Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestVector_Scan(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan([]byte("[0.5, -1,0.25]")))
	assert.Equal(t, Vector{0.5, -1, 0.25}, v)

	require.NoError(t, v.Scan("[]"))
	assert.Empty(t, v)

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)

	assert.Error(t, v.Scan("[a,b]"))
	assert.Error(t, v.Scan(42))
}

func TestStore_Match(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, content, similarity FROM "match_documents"\('\[0\.1,0\.2\]'::vector, 0\.3, 5\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "similarity"}).
			AddRow(3, "Grace is unearned favor.", 0.8).
			AddRow(9, "Grace precedes faith.", 0.4))

	passages, err := s.Match(context.Background(), []float32{0.1, 0.2}, 0.3, 5)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "3", passages[0].ID)
	assert.Equal(t, "Grace is unearned favor.", passages[0].Content)
	assert.Equal(t, "Grace precedes faith.", passages[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MatchError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`match_documents`).WillReturnError(errors.New("function does not exist"))

	_, err := s.Match(context.Background(), []float32{1}, 0.3, 5)
	assert.EqualError(t, err, "function does not exist")
}

func TestStore_Ping(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT "id" FROM "documents" LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PingError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM "documents"`).WillReturnError(errors.New("connection refused"))

	assert.Error(t, s.Ping(context.Background()))
}

func TestConnectDB_UnknownDriver(t *testing.T) {
	_, err := ConnectDB(&config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}
