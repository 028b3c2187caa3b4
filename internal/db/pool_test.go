package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Pool stays the narrow set of calls the stores make, so both the real
// pool and pgxmock satisfy it.
var _ Pool = (*pgxpool.Pool)(nil)

func TestPool_MockSatisfiesInterface(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var p Pool = mock
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	_, err = p.Exec(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPool_BadConnString(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: parse config")
}
