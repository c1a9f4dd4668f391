//go:build integration

// Package dbtest starts a migrated PostgreSQL database for integration tests.
//
// Tests use DATABASE_URL when set and otherwise start a disposable container:
//
//	go test -tags=integration ./...
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/resortpay/internal/db"
)

// Open returns a connection to a freshly migrated database and registers cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("resortpay"),
			tcpostgres.WithUsername("resortpay"),
			tcpostgres.WithPassword("resortpay"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(ctr); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dbURL, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("failed to build connection string: %v", err)
		}
	}

	if err := db.Migrate("file://"+migrationsDir(), dbURL); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	conn, err := db.Open(ctx, dbURL, db.PoolConfig{MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	Truncate(t, conn)
	return conn
}

// Truncate empties every application table.
func Truncate(t *testing.T, conn *sql.DB) {
	t.Helper()
	_, err := conn.Exec(`TRUNCATE refunds, payments, bookings, webhook_events, notification_logs, audit_logs`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}
