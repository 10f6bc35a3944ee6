package transfer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "sigil/pkg/domain"
	txcontext "sigil/pkg/platform/tx"
)

// PostgresStore persists transfers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Record(ctx context.Context, t Transfer) error {
	const query = `
		INSERT INTO transfers (id, org_id, request_id, from_addr, to_addr, value, chain_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		t.ID, uuid.UUID(t.OrgID), uuid.UUID(t.RequestID),
		t.From, t.To, t.Value, t.ChainID, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByOrgSince(ctx context.Context, orgID id.OrgID, since time.Time) ([]Transfer, error) {
	const query = `
		SELECT id, org_id, request_id, from_addr, to_addr, value, chain_id, created_at
		FROM transfers
		WHERE org_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(orgID), since)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []Transfer
	for rows.Next() {
		var (
			t     Transfer
			org   uuid.UUID
			reqID uuid.UUID
		)
		if err := rows.Scan(&t.ID, &org, &reqID, &t.From, &t.To, &t.Value, &t.ChainID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		t.OrgID = id.OrgID(org)
		t.RequestID = id.RequestID(reqID)
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}
