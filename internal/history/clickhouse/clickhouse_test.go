package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/bedrockd/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	rec := history.Record{
		Server:    "Bedrock Server",
		RunID:     "ch-run",
		PID:       4242,
		StartedAt: time.Now().Add(-time.Minute).UTC(),
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
		t.Fatalf("Failed to send start event: %v", err)
	}
	stopped := time.Now().UTC()
	rec.StoppedAt = &stopped
	rec.ExitErr = "exit status 1"
	if err := sink.Send(ctx, history.Event{Type: history.EventCrash, OccurredAt: stopped, Record: rec}); err != nil {
		t.Fatalf("Failed to send crash event: %v", err)
	}

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM server_history WHERE run_id = ?", rec.RunID).Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if _, err := New(Options{Addr: "invalid-host.invalid:9000"}); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
