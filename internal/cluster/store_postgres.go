package cluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
)

// PostgresStore reads cluster topology from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed cluster store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByOrg(ctx context.Context, orgID id.OrgID) (*Cluster, error) {
	const clusterQuery = `
		SELECT id, org_id, size
		FROM clusters
		WHERE org_id = $1
	`
	var (
		clusterID uuid.UUID
		storedOrg uuid.UUID
		size      int
	)
	err := s.db.QueryRowContext(ctx, clusterQuery, uuid.UUID(orgID)).Scan(&clusterID, &storedOrg, &size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find cluster for org: %w", err)
	}

	const nodesQuery = `
		SELECT id, host, port, pub_key
		FROM cluster_nodes
		WHERE cluster_id = $1
		ORDER BY position ASC
	`
	rows, err := s.db.QueryContext(ctx, nodesQuery, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list cluster nodes: %w", err)
	}
	defer rows.Close()

	c := &Cluster{
		ID:    id.ClusterID(clusterID),
		OrgID: id.OrgID(storedOrg),
		Size:  size,
	}
	for rows.Next() {
		var (
			nodeID uuid.UUID
			node   Node
		)
		if err := rows.Scan(&nodeID, &node.Host, &node.Port, &node.PubKey); err != nil {
			return nil, fmt.Errorf("scan cluster node: %w", err)
		}
		node.ID = id.NodeID(nodeID)
		node.ClusterID = c.ID
		c.Nodes = append(c.Nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster nodes: %w", err)
	}
	return c, nil
}
