//go:build integration

package cluster_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sigil/internal/cluster"
	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
	"sigil/pkg/testutil/containers"
)

type PostgresClusterSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *cluster.PostgresStore
}

func TestPostgresClusterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresClusterSuite))
}

func (s *PostgresClusterSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = cluster.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresClusterSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "cluster_nodes", "clusters")
	s.Require().NoError(err)
}

func (s *PostgresClusterSuite) seedCluster(orgID id.OrgID, hosts ...string) id.ClusterID {
	s.T().Helper()
	ctx := context.Background()
	clusterID := uuid.New()

	_, err := s.postgres.DB.ExecContext(ctx,
		`INSERT INTO clusters (id, org_id, size) VALUES ($1, $2, $3)`,
		clusterID, uuid.UUID(orgID), len(hosts))
	s.Require().NoError(err)

	for i, host := range hosts {
		_, err := s.postgres.DB.ExecContext(ctx,
			`INSERT INTO cluster_nodes (id, cluster_id, host, port, pub_key, position)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), clusterID, host, 9000+i, "pubkey-"+host, i)
		s.Require().NoError(err)
	}
	return id.ClusterID(clusterID)
}

func (s *PostgresClusterSuite) TestFindByOrgReturnsNodesInPositionOrder() {
	orgID := id.OrgID(uuid.New())
	clusterID := s.seedCluster(orgID, "node-a", "node-b", "node-c")

	found, err := s.store.FindByOrg(context.Background(), orgID)
	s.Require().NoError(err)
	s.Equal(clusterID, found.ID)
	s.Equal(orgID, found.OrgID)
	s.Equal(3, found.Size)

	s.Require().Len(found.Nodes, 3)
	s.Equal("node-a", found.Nodes[0].Host)
	s.Equal("node-b", found.Nodes[1].Host)
	s.Equal("node-c", found.Nodes[2].Host)
	s.Equal(9001, found.Nodes[1].Port)
	s.Equal(clusterID, found.Nodes[0].ClusterID)
}

func (s *PostgresClusterSuite) TestFindByOrgUnknownOrg() {
	s.seedCluster(id.OrgID(uuid.New()), "node-a")

	_, err := s.store.FindByOrg(context.Background(), id.OrgID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
