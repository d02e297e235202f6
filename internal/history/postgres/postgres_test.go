package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/streamgate/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() { _ = postgresContainer.Terminate(ctx) }()

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	id := uuid.NewString()
	ev := history.Event{
		ID:         id,
		Domain:     "cameras",
		Type:       "errored",
		EntityID:   "cam-7",
		Details:    map[string]any{"path": "yard", "restarts": 5},
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(ctx, ev); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	if err := sink.Send(ctx, ev); err != nil {
		t.Fatalf("Duplicate send should be ignored: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM telemetry_events WHERE entity_id = $1", "cam-7").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 event, got %d", count)
	}

	var restarts int
	if err := sink.db.QueryRowContext(ctx, "SELECT (details->>'restarts')::int FROM telemetry_events WHERE id = $1", id).Scan(&restarts); err != nil {
		t.Fatalf("Failed to query details: %v", err)
	}
	if restarts != 5 {
		t.Errorf("Expected restarts 5, got %d", restarts)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("Expected error for empty DSN")
	}
}
