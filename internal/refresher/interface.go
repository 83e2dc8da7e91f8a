// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package refresher

import (
	"context"
	"time"

	"github.com/cloudacademy/dbrefresh/core/accessrule"
)

// ClusterInfo is the orchestrator's view of one database cluster as
// reported by the platform.
type ClusterInfo struct {
	// ID is the cluster identifier.
	ID string
	// Status is the raw platform status string, e.g. "creating" or
	// "available".
	Status string
	// CreatedAt is when the cluster was created.
	CreatedAt time.Time
	// Endpoint is the writer endpoint, empty until provisioned.
	Endpoint string
	// Port is the endpoint port, zero until provisioned.
	Port int
	// MasterUsername is the administrative username inherited from the
	// source cluster.
	MasterUsername string
	// Tags are the resource tags attached to the cluster.
	Tags map[string]string
	// SecurityGroups are the network security group references
	// currently attached to the cluster.
	SecurityGroups []string
}

// CloneSpec describes a point-in-time clone to be created from a
// source cluster.
type CloneSpec struct {
	// SourceClusterID identifies the cluster to clone.
	SourceClusterID string
	// ClusterID is the identifier for the new clone.
	ClusterID string
	// InstanceClass sizes the reader instance created alongside the
	// cluster.
	InstanceClass string
	// SubnetGroup, when set, places the clone in a specific subnet
	// group rather than the source's default.
	SubnetGroup string
	// Tags are attached to every created resource.
	Tags map[string]string
}

// ClusterProvider abstracts the database platform. An implementation
// must be safe to call repeatedly: Describe returns NotFound for
// absent clusters, and Delete tolerates a cluster that is already
// being deleted.
type ClusterProvider interface {
	// Describe returns the current view of the named cluster, or a
	// NotFound error.
	Describe(ctx context.Context, clusterID string) (*ClusterInfo, error)
	// List returns every cluster whose identifier begins with the
	// given prefix, together with its tags.
	List(ctx context.Context, prefix string) ([]ClusterInfo, error)
	// Clone requests creation of a new point-in-time clone. It returns
	// once the request is accepted; the clone provisions asynchronously.
	Clone(ctx context.Context, spec CloneSpec) error
	// Tag adds or overwrites tags on the named cluster.
	Tag(ctx context.Context, clusterID string, tags map[string]string) error
	// SetSecurityGroups replaces the security groups attached to the
	// named cluster.
	SetSecurityGroups(ctx context.Context, clusterID string, groups []string) error
	// ResetMasterPassword rebinds the cluster's administrative
	// credential. A clone starts out with the source's password; the
	// reset is what scopes its credential to the generation.
	ResetMasterPassword(ctx context.Context, clusterID, password string) error
	// Delete tears down the named cluster and its instances. Deleting
	// an absent cluster is not an error.
	Delete(ctx context.Context, clusterID string) error
}

// GroupInfo describes one managed security group.
type GroupInfo struct {
	// Ref is the platform reference for the group.
	Ref string
	// Name is the group name, which follows the clone naming scheme.
	Name string
}

// NetworkProvider abstracts the network boundary: per-generation
// security groups and the ingress rules applied to them.
type NetworkProvider interface {
	// EnsureGroup creates the named security group if it does not
	// already exist and returns its reference either way.
	EnsureGroup(ctx context.Context, name string, tags map[string]string) (string, error)
	// LookupGroup returns the reference of the named group, or a
	// NotFound error.
	LookupGroup(ctx context.Context, name string) (string, error)
	// ListGroups returns every security group managed by the
	// orchestrator.
	ListGroups(ctx context.Context) ([]GroupInfo, error)
	// CurrentRules returns the ingress rules applied to the group.
	CurrentRules(ctx context.Context, ref string) (accessrule.Rules, error)
	// OpenRules adds the given ingress rules to the group.
	OpenRules(ctx context.Context, ref string, rules accessrule.Rules) error
	// CloseRules removes the given ingress rules from the group.
	CloseRules(ctx context.Context, ref string, rules accessrule.Rules) error
	// DeleteGroup removes the group. Deleting an absent group is not
	// an error.
	DeleteGroup(ctx context.Context, ref string) error
}

// SecretPayload is the material stored in a generation's scoped
// secret. The endpoint details are included so consumers need no
// second lookup.
type SecretPayload struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	ClusterID string `json:"cluster-id"`
}

// SecretStore abstracts the credential store.
type SecretStore interface {
	// Create stores a new secret under the given name and returns its
	// reference. An existing secret of the same name is replaced, so
	// re-running access configuration converges.
	Create(ctx context.Context, name string, payload SecretPayload, tags map[string]string) (string, error)
	// Delete removes the named secret. Deleting an absent secret is
	// not an error.
	Delete(ctx context.Context, name string) error
}
