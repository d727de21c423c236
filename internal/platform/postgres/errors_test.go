package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/stretchr/testify/assert"
)

// uniqueViolation builds the pg error the driver returns for a violated
// unique constraint.
func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: constraint}
}

// foreignKeyViolation builds the pg error the driver returns for a violated
// foreign key constraint.
func foreignKeyViolation(constraint string) error {
	return &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: constraint}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "nil_error_stays_nil",
			err:      nil,
			expected: nil,
		},
		{
			name:     "no_rows_maps_to_not_found",
			err:      sql.ErrNoRows,
			expected: store.ErrNotFound,
		},
		{
			name:     "unique_violation_maps_to_duplicate",
			err:      &pgconn.PgError{Code: uniqueViolationCode},
			expected: store.ErrDuplicate,
		},
		{
			name:     "foreign_key_violation_maps_to_invalid_entity",
			err:      &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "workflow_tasks_run_id_fkey"},
			expected: store.ErrInvalidEntity,
		},
		{
			name:     "check_violation_maps_to_invalid_entity",
			err:      &pgconn.PgError{Code: checkViolationCode, ConstraintName: "workflow_tasks_status_check"},
			expected: store.ErrInvalidEntity,
		},
		{
			name:     "not_null_violation_maps_to_invalid_entity",
			err:      &pgconn.PgError{Code: notNullViolationCode, ColumnName: "status"},
			expected: store.ErrInvalidEntity,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mapped := MapError(tc.err)
			if tc.expected == nil {
				assert.NoError(t, mapped)
				return
			}
			assert.ErrorIs(t, mapped, tc.expected)
		})
	}
}

func TestMapErrorPreservesUnknownErrors(t *testing.T) {
	t.Parallel()

	original := fmt.Errorf("connection reset by peer")
	mapped := MapError(original)

	assert.Equal(t, original, mapped, "errors without a specific mapping pass through unchanged")
}

func TestMapErrorWrapsOriginal(t *testing.T) {
	t.Parallel()

	pgErr := &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "users_email_key"}
	mapped := MapError(fmt.Errorf("insert user: %w", pgErr))

	assert.ErrorIs(t, mapped, store.ErrDuplicate)

	var unwrapped *pgconn.PgError
	assert.True(t, errors.As(mapped, &unwrapped), "original pg error stays reachable")
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: uniqueViolationCode})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate key value")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestIsForeignKeyViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: foreignKeyViolationCode}))
	assert.False(t, IsForeignKeyViolation(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.False(t, IsForeignKeyViolation(nil))
}
