// Package jobs defines the River job arguments of the atlas worker and how they are enqueued.
package jobs

import (
	"github.com/google/uuid"

	"github.com/formbricks/atlas/internal/service"
)

// Job kinds. Kept in sync with observability.AllowedJobKinds.
const (
	KindProjectOwner       = "atlas_project_owner"
	KindLayoutSatellites   = "atlas_layout_satellites"
	KindComputeSimilarity  = "atlas_compute_similarity"
	KindRegenerateClusters = "atlas_regenerate_clusters"
)

// ProjectOwnerArgs positions every unpositioned item of an owner.
type ProjectOwnerArgs struct {
	OwnerID  string `json:"owner_id"`
	ItemType string `json:"item_type,omitempty"`
	// FollowUp enqueues satellite layout, similarity for the newly positioned items and
	// cluster regeneration once the projection completes.
	FollowUp bool `json:"follow_up,omitempty"`
}

// Kind returns the job type identifier for River.
func (ProjectOwnerArgs) Kind() string { return KindProjectOwner }

// LayoutSatellitesArgs recomputes satellite positions around an owner's anchors. When Anchors is
// set, the anchor->satellite edges are written first.
type LayoutSatellitesArgs struct {
	OwnerID string                     `json:"owner_id"`
	Anchors []service.AnchorSatellites `json:"anchors,omitempty"`
}

// Kind returns the job type identifier for River.
func (LayoutSatellitesArgs) Kind() string { return KindLayoutSatellites }

// ComputeSimilarityArgs writes similar_to edges for the given items, or for every item of the
// owner when ItemIDs is empty.
type ComputeSimilarityArgs struct {
	OwnerID  string                 `json:"owner_id"`
	ItemType string                 `json:"item_type,omitempty"`
	ItemIDs  []uuid.UUID            `json:"item_ids,omitempty"`
	Mode     service.SimilarityMode `json:"mode,omitempty"`
}

// Kind returns the job type identifier for River.
func (ComputeSimilarityArgs) Kind() string { return KindComputeSimilarity }

// RegenerateClustersArgs replaces an owner's cluster set.
type RegenerateClustersArgs struct {
	OwnerID        string `json:"owner_id"`
	ItemType       string `json:"item_type,omitempty"`
	MinClusterSize int    `json:"min_cluster_size,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// Kind returns the job type identifier for River.
func (RegenerateClustersArgs) Kind() string { return KindRegenerateClusters }
