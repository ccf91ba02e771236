//go:build integration

// Package dbtest starts a migrated PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/database"
)

// Start runs a PostgreSQL container, applies every migration and returns a
// connected bun.DB. Everything is torn down with the test.
func Start(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lessons"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := database.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	db, err := database.Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// CreateAccount inserts a verified account with the given role and balance
func CreateAccount(t *testing.T, db bun.IDB, role string, lessons int) uuid.UUID {
	t.Helper()

	row := &database.Account{
		Email:            uuid.NewString() + "@example.com",
		Name:             "Test " + role,
		Role:             role,
		PasswordHash:     "$argon2id$v=19$m=8192,t=1,p=1$AAAA$AAAA",
		EmailVerified:    true,
		AvailableLessons: lessons,
		Active:           true,
	}
	_, err := db.NewInsert().Model(row).Returning("id").Exec(context.Background())
	require.NoError(t, err)
	return row.ID
}
