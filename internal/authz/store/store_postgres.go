package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sigil/internal/authz/models"
	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
	txcontext "sigil/pkg/platform/tx"
)

// PostgresStore persists authorization requests in PostgreSQL. The aggregate
// spans three tables: authorization_requests plus the append-only
// request_approvals and request_evaluations child tables.
type PostgresStore struct {
	db     *sql.DB
	runner *txcontext.Runner
}

// NewPostgres constructs a PostgreSQL-backed request store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runner: txcontext.NewRunner(db)}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, req *models.AuthorizationRequest) error {
	actionBytes, err := models.EncodeAction(req.Action)
	if err != nil {
		return err
	}
	authBytes, err := json.Marshal(req.Authentication)
	if err != nil {
		return fmt.Errorf("marshal authentication: %w", err)
	}

	const query = `
		INSERT INTO authorization_requests
			(id, org_id, status, idempotency_key, authentication, action, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(req.ID), uuid.UUID(req.OrgID), string(req.Status),
		req.IdempotencyKey, authBytes, actionBytes,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert authorization request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert authorization request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	const query = `
		SELECT id, org_id, status, COALESCE(idempotency_key, ''), authentication, action, created_at, updated_at
		FROM authorization_requests
		WHERE org_id = $1 AND id = $2
	`
	return s.loadOne(ctx, query, uuid.UUID(orgID), uuid.UUID(requestID))
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, orgID id.OrgID, key string) (*models.AuthorizationRequest, error) {
	const query = `
		SELECT id, org_id, status, COALESCE(idempotency_key, ''), authentication, action, created_at, updated_at
		FROM authorization_requests
		WHERE org_id = $1 AND idempotency_key = $2
	`
	return s.loadOne(ctx, query, uuid.UUID(orgID), key)
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status models.Status) ([]*models.AuthorizationRequest, error) {
	const query = `
		SELECT id, org_id, status, COALESCE(idempotency_key, ''), authentication, action, created_at, updated_at
		FROM authorization_requests
		WHERE status = $1
		ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	defer rows.Close()

	var out []*models.AuthorizationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	// Recovery does not need the child logs; callers that do use FindByID.
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, orgID id.OrgID, requestID id.RequestID, from, to models.Status, now time.Time) error {
	const query = `
		UPDATE authorization_requests
		SET status = $1, updated_at = $2
		WHERE org_id = $3 AND id = $4 AND status = $5
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		string(to), now, uuid.UUID(orgID), uuid.UUID(requestID), string(from),
	)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing request from a lost compare-and-set.
		if _, err := s.FindByID(ctx, orgID, requestID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) AppendApproval(ctx context.Context, orgID id.OrgID, requestID id.RequestID, approval models.Approval) (*models.AuthorizationRequest, error) {
	var out *models.AuthorizationRequest
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		sigBytes, err := json.Marshal(approval.Signature)
		if err != nil {
			return fmt.Errorf("marshal approval signature: %w", err)
		}
		const query = `
			INSERT INTO request_approvals (id, request_id, signature, created_at)
			SELECT $1, r.id, $3, $4
			FROM authorization_requests r
			WHERE r.org_id = $5 AND r.id = $2
		`
		res, err := s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(approval.ID), uuid.UUID(requestID), sigBytes,
			approval.CreatedAt, uuid.UUID(orgID),
		)
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert approval: %w", err)
		}
		if affected == 0 {
			return sentinel.ErrNotFound
		}
		out, err = s.FindByID(ctx, orgID, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) AppendEvaluation(ctx context.Context, orgID id.OrgID, requestID id.RequestID, eval models.Evaluation, from, to models.Status, now time.Time) error {
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var attBytes []byte
		if eval.Attestation != nil {
			b, err := json.Marshal(eval.Attestation)
			if err != nil {
				return fmt.Errorf("marshal attestation: %w", err)
			}
			attBytes = b
		}
		const query = `
			INSERT INTO request_evaluations (id, request_id, decision, attestation, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := s.execer(ctx).ExecContext(ctx, query,
			uuid.UUID(eval.ID), uuid.UUID(requestID), string(eval.Decision),
			attBytes, eval.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		return s.UpdateStatus(ctx, orgID, requestID, from, to, now)
	})
}

// loadOne loads a request row and hydrates its approval and evaluation logs.
func (s *PostgresStore) loadOne(ctx context.Context, query string, args ...any) (*models.AuthorizationRequest, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find authorization request: %w", err)
	}
	req, err := func() (*models.AuthorizationRequest, error) {
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("find authorization request: %w", err)
			}
			return nil, sentinel.ErrNotFound
		}
		return scanRequest(rows)
	}()
	if err != nil {
		return nil, err
	}

	if req.Approvals, err = s.loadApprovals(ctx, req.ID); err != nil {
		return nil, err
	}
	if req.Evaluations, err = s.loadEvaluations(ctx, req.ID); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) loadApprovals(ctx context.Context, requestID id.RequestID) ([]models.Approval, error) {
	const query = `
		SELECT id, signature, created_at
		FROM request_approvals
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	defer rows.Close()

	var out []models.Approval
	for rows.Next() {
		var (
			approvalID uuid.UUID
			sigBytes   []byte
			createdAt  time.Time
		)
		if err := rows.Scan(&approvalID, &sigBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		var sig models.Signature
		if err := json.Unmarshal(sigBytes, &sig); err != nil {
			return nil, fmt.Errorf("unmarshal approval signature: %w", err)
		}
		out = append(out, models.Approval{
			ID:        id.ApprovalID(approvalID),
			Signature: sig,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load approvals: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) loadEvaluations(ctx context.Context, requestID id.RequestID) ([]models.Evaluation, error) {
	const query = `
		SELECT id, decision, attestation, created_at
		FROM request_evaluations
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("load evaluations: %w", err)
	}
	defer rows.Close()

	var out []models.Evaluation
	for rows.Next() {
		var (
			evalID    uuid.UUID
			decision  string
			attBytes  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&evalID, &decision, &attBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		eval := models.Evaluation{
			ID:        id.EvaluationID(evalID),
			Decision:  models.DecisionValue(decision),
			CreatedAt: createdAt,
		}
		if len(attBytes) > 0 {
			var att models.Signature
			if err := json.Unmarshal(attBytes, &att); err != nil {
				return nil, fmt.Errorf("unmarshal attestation: %w", err)
			}
			eval.Attestation = &att
		}
		out = append(out, eval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load evaluations: %w", err)
	}
	return out, nil
}

func scanRequest(rows *sql.Rows) (*models.AuthorizationRequest, error) {
	var (
		requestID      uuid.UUID
		orgID          uuid.UUID
		status         string
		idempotencyKey string
		authBytes      []byte
		actionBytes    []byte
		createdAt      time.Time
		updatedAt      time.Time
	)
	if err := rows.Scan(&requestID, &orgID, &status, &idempotencyKey,
		&authBytes, &actionBytes, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan authorization request: %w", err)
	}

	parsedStatus, err := models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	var auth models.Signature
	if err := json.Unmarshal(authBytes, &auth); err != nil {
		return nil, fmt.Errorf("unmarshal authentication: %w", err)
	}
	action, err := models.DecodeAction(actionBytes)
	if err != nil {
		return nil, err
	}

	return &models.AuthorizationRequest{
		ID:             id.RequestID(requestID),
		OrgID:          id.OrgID(orgID),
		Status:         parsedStatus,
		IdempotencyKey: idempotencyKey,
		Authentication: auth,
		Action:         action,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

var _ Store = (*PostgresStore)(nil)
