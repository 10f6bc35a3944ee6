// Package cluster holds the policy-engine cluster topology an organization's
// requests are evaluated against. Clusters are configuration data: this
// service reads them, it never writes them.
package cluster

import (
	"context"
	"fmt"

	id "sigil/pkg/domain"
)

// Node is one redundant policy-evaluation node inside a cluster.
type Node struct {
	ID        id.NodeID    `json:"id"`
	ClusterID id.ClusterID `json:"clusterId"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	PubKey    string       `json:"pubKey"`
}

// URL renders the node's evaluation endpoint base address.
func (n Node) URL() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// Cluster is the set of redundant policy-evaluation nodes serving one
// organization. Node order is stable (insertion order) and used only for
// deterministic logging and tests, never for correctness.
type Cluster struct {
	ID    id.ClusterID `json:"id"`
	OrgID id.OrgID     `json:"orgId"`
	Size  int          `json:"size"`
	Nodes []Node       `json:"nodes"`
}

// Store reads cluster topology. Implementations return
// sentinel.ErrNotFound when an organization has no cluster configured.
type Store interface {
	FindByOrg(ctx context.Context, orgID id.OrgID) (*Cluster, error)
}
