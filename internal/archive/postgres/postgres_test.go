package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/slamon/internal/event"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	measurement := event.New("chat", event.KindMeasurement, map[string]any{"elapsed_seconds": 2.5})
	if err := sink.Send(ctx, measurement); err != nil {
		t.Fatalf("Failed to send measurement event: %v", err)
	}

	alert := event.New("chat", event.KindAlert, map[string]any{"elapsed_seconds": 45.0})
	if err := sink.Send(ctx, alert); err != nil {
		t.Fatalf("Failed to send alert event: %v", err)
	}

	rows, err := sink.db.QueryContext(ctx,
		"SELECT COUNT(*) FROM delivered_events WHERE channel = $1", "chat")
	if err != nil {
		t.Fatalf("Failed to query delivered_events: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatalf("Failed to scan count: %v", err)
		}
	}

	if count != 2 {
		t.Errorf("Expected 2 events in archive, got %d", count)
	}
}
