package database

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_isUniqueViolation(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "unique violation", err: &pq.Error{Code: uniqueViolation}, expected: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation}), expected: true},
		{name: "other postgres error", err: &pq.Error{Code: "23503"}, expected: false},
		{name: "plain error", err: errors.New("boom"), expected: false},
		{name: "nil", err: nil, expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isUniqueViolation(tc.err))
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	up, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	down, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)

	assert.Len(t, up, 2, "expected an up migration per table")
	assert.Len(t, down, len(up), "expected a down migration for every up migration")
}

func TestPgGoChatRepository_CloseWithoutConnection(t *testing.T) {
	db := &PgGoChatRepository{}
	assert.NoError(t, db.Close())
}

func TestRoom_IsDefault(t *testing.T) {
	tcases := map[string]bool{
		"General":  true,
		"general":  true,
		"GENERAL":  true,
		"Go":       false,
		"General2": false,
	}

	for name, expected := range tcases {
		assert.Equal(t, expected, Room{Name: name}.IsDefault(), "IsDefault for %q", name)
	}
}
