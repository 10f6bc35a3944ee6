//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production tables. Integration tests create them once
// per container and truncate between tests.
const schema = `
CREATE TABLE IF NOT EXISTS authorization_requests (
	id              UUID PRIMARY KEY,
	org_id          UUID NOT NULL,
	status          TEXT NOT NULL,
	idempotency_key TEXT,
	authentication  JSONB NOT NULL,
	action          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (org_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_authorization_requests_status
	ON authorization_requests (status);

CREATE TABLE IF NOT EXISTS request_approvals (
	id         UUID PRIMARY KEY,
	request_id UUID NOT NULL REFERENCES authorization_requests (id) ON DELETE CASCADE,
	signature  JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS request_evaluations (
	id          UUID PRIMARY KEY,
	request_id  UUID NOT NULL REFERENCES authorization_requests (id) ON DELETE CASCADE,
	decision    TEXT NOT NULL,
	attestation JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS clusters (
	id     UUID PRIMARY KEY,
	org_id UUID NOT NULL UNIQUE,
	size   INT NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster_nodes (
	id         UUID PRIMARY KEY,
	cluster_id UUID NOT NULL REFERENCES clusters (id) ON DELETE CASCADE,
	host       TEXT NOT NULL,
	port       INT NOT NULL,
	pub_key    TEXT NOT NULL,
	position   INT NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
	id         UUID PRIMARY KEY,
	org_id     UUID NOT NULL,
	request_id UUID NOT NULL UNIQUE,
	from_addr  TEXT NOT NULL,
	to_addr    TEXT NOT NULL,
	value      TEXT NOT NULL,
	chain_id   BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresContainer wraps a testcontainers Postgres instance with the schema
// already applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and applies the schema.
// Prefer Manager.GetPostgres so suites share one instance.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("sigil_test"),
		tcpostgres.WithUsername("sigil"),
		tcpostgres.WithPassword("sigil"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// TruncateTables empties the given tables. Pass tables in dependency order;
// CASCADE handles foreign keys either way.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", "))
	if _, err := p.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
