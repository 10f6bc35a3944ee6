//go:build integration

package transfer_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sigil/internal/transfer"
	id "sigil/pkg/domain"
	"sigil/pkg/testutil/containers"
)

type PostgresTransferSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *transfer.PostgresStore
}

func TestPostgresTransferSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTransferSuite))
}

func (s *PostgresTransferSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = transfer.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresTransferSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "transfers"))
}

func newTransfer(orgID id.OrgID, createdAt time.Time) transfer.Transfer {
	return transfer.Transfer{
		ID:        uuid.New(),
		OrgID:     orgID,
		RequestID: id.RequestID(uuid.New()),
		From:      "0x1111",
		To:        "0x2222",
		Value:     "500",
		ChainID:   1,
		CreatedAt: createdAt,
	}
}

func (s *PostgresTransferSuite) TestRecordAndListSince() {
	ctx := context.Background()
	orgID := id.OrgID(uuid.New())
	now := time.Now().UTC().Truncate(time.Microsecond)

	old := newTransfer(orgID, now.Add(-48*time.Hour))
	recent := newTransfer(orgID, now.Add(-time.Hour))
	other := newTransfer(id.OrgID(uuid.New()), now)

	s.Require().NoError(s.store.Record(ctx, old))
	s.Require().NoError(s.store.Record(ctx, recent))
	s.Require().NoError(s.store.Record(ctx, other))

	listed, err := s.store.ListByOrgSince(ctx, orgID, now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Equal(recent.RequestID, listed[0].RequestID)
	s.Equal("500", listed[0].Value)
	s.Equal(int64(1), listed[0].ChainID)
}

func (s *PostgresTransferSuite) TestRecordIdempotentPerRequest() {
	ctx := context.Background()
	orgID := id.OrgID(uuid.New())
	now := time.Now().UTC().Truncate(time.Microsecond)

	t := newTransfer(orgID, now)
	s.Require().NoError(s.store.Record(ctx, t))

	// Retried decision processing records the same request again; the
	// duplicate is silently dropped.
	dup := t
	dup.ID = uuid.New()
	s.Require().NoError(s.store.Record(ctx, dup))

	listed, err := s.store.ListByOrgSince(ctx, orgID, now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Len(listed, 1)
}
