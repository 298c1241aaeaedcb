package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/danielyj147/osrd/config"
	"github.com/danielyj147/osrd/errs"
)

func TestDSNFor(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "postgres untouched",
			cfg:  config.DatabaseConfig{Driver: config.DriverPostgres, DSN: "postgres://localhost/osrd"},
			want: "postgres://localhost/osrd",
		},
		{
			name: "modernc pragmas",
			cfg:  config.DatabaseConfig{Driver: config.DriverSQLite, DSN: "file:osrd.db"},
			want: "file:osrd.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		},
		{
			name: "modernc keeps explicit pragmas",
			cfg:  config.DatabaseConfig{Driver: config.DriverSQLite, DSN: "file:osrd.db?_pragma=foreign_keys(0)"},
			want: "file:osrd.db?_pragma=foreign_keys(0)&_pragma=busy_timeout(5000)",
		},
		{
			name: "mattn options",
			cfg:  config.DatabaseConfig{Driver: config.DriverSQLite3, DSN: "file:osrd.db?cache=shared"},
			want: "file:osrd.db?cache=shared&_foreign_keys=1&_busy_timeout=5000",
		},
		{
			name: "mattn fully specified",
			cfg:  config.DatabaseConfig{Driver: config.DriverSQLite3, DSN: "file:osrd.db?_fk=1&_busy_timeout=10"},
			want: "file:osrd.db?_fk=1&_busy_timeout=10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dsnFor(tt.cfg))
		})
	}
}

func TestClassify(t *testing.T) {
	plain := errors.New("syntax error")

	assert.NoError(t, Classify(nil, "create"))
	assert.Same(t, plain, Classify(plain, "create"))

	unique := &pq.Error{Code: "23505"}
	err := Classify(fmt.Errorf("insert: %w", unique), "create detector")
	assert.True(t, errs.IsConstraintViolation(err))
	assert.ErrorIs(t, err, unique)

	fk := &pgconn.PgError{Code: "23503"}
	assert.True(t, errs.IsConstraintViolation(Classify(fk, "create")))

	missing := &pgconn.PgError{Code: "42P01"}
	assert.False(t, IsConstraint(missing))
	assert.False(t, IsConstraint(&pq.Error{Code: "40001"}))
}
