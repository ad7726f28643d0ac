package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/formbricks/atlas/internal/components"
	"github.com/formbricks/atlas/internal/models"
	"github.com/formbricks/atlas/internal/service"
)

const (
	opIngest     = "ingest"
	opProject    = "project"
	opSatellites = "satellites"
	opSimilarity = "similarity"
	opClusters   = "clusters"
	opAll        = "all"
	opShow       = "show"
)

var knownOps = map[string]struct{}{
	opIngest: {}, opProject: {}, opSatellites: {}, opSimilarity: {}, opClusters: {}, opAll: {}, opShow: {},
}

var (
	errMissingOwner = errors.New("-owner is required")
	errUnknownOp    = errors.New("unknown -op")
	errMissingFile  = errors.New("-file is required for -op ingest")
)

// summary is printed as JSON; only the stages that ran are set.
type summary struct {
	OwnerID    string                         `json:"owner_id"`
	Ingested   *int                           `json:"ingested,omitempty"`
	Projection *service.ProjectionResult      `json:"projection,omitempty"`
	Graph      *service.GraphBuildResult      `json:"graph,omitempty"`
	Satellites *service.SatelliteLayoutResult `json:"satellites,omitempty"`
	Similarity *service.BatchResult           `json:"similarity,omitempty"`
	Clusters   *service.ClusteringResult      `json:"clusters,omitempty"`
	Map        *mapView                       `json:"map,omitempty"`
}

// mapView is the stored map of an owner.
type mapView struct {
	Positions          []models.Position          `json:"positions"`
	Satellites         []models.Satellite         `json:"satellites"`
	SatellitePositions []models.SatellitePosition `json:"satellite_positions"`
	Clusters           []models.Cluster           `json:"clusters"`
}

// execute runs the requested operation. "all" runs projection first, since every other
// stage reads positions or benefits from them.
func execute(ctx context.Context, comps *components.Components, reader mapReader, opts options) (*summary, error) {
	out := &summary{OwnerID: opts.ownerID}

	itemType := opts.itemType
	if itemType == "" {
		itemType = models.ItemTypeContent
	}

	runs := func(op string) bool { return opts.op == op || opts.op == opAll }

	if opts.op == opIngest {
		n, err := ingestFile(ctx, comps.Store, opts.ownerID, itemType, opts.file)
		if err != nil {
			return nil, err
		}

		out.Ingested = &n

		return out, nil
	}

	if opts.op == opShow {
		view, err := readMap(ctx, reader, opts.ownerID, itemType)
		if err != nil {
			return nil, err
		}

		out.Map = view

		return out, nil
	}

	if runs(opProject) {
		res, err := comps.Projector.ProjectItems(ctx, opts.ownerID, itemType)
		if err != nil {
			return nil, fmt.Errorf("project: %w", err)
		}

		out.Projection = res
	}

	if runs(opSatellites) {
		if opts.anchors != "" {
			anchors, err := readAnchors(opts.anchors)
			if err != nil {
				return nil, err
			}

			graph, err := comps.Builder.Build(ctx, opts.ownerID, anchors)
			if err != nil {
				return nil, fmt.Errorf("build satellite graph: %w", err)
			}

			out.Graph = graph
		}

		res, err := comps.Resolver.Resolve(ctx, opts.ownerID)
		if err != nil {
			return nil, fmt.Errorf("resolve satellites: %w", err)
		}

		out.Satellites = res
	}

	if runs(opSimilarity) {
		res, err := comps.Similarity.ComputeForOwner(ctx, comps.Store, opts.ownerID, itemType, service.SimilarityOptions{
			Mode: service.SimilarityMode(opts.mode),
		})
		if err != nil {
			return nil, fmt.Errorf("similarity: %w", err)
		}

		out.Similarity = res
	}

	if runs(opClusters) {
		clusterOpts := service.ClusterOptions{MinClusterSize: opts.minClusterSize, ItemType: itemType}
		if opts.seedSet {
			clusterOpts.Seed = &opts.seed
		}

		res, err := comps.Clusters.RegenerateClusters(ctx, opts.ownerID, clusterOpts)
		if err != nil {
			return nil, fmt.Errorf("clusters: %w", err)
		}

		out.Clusters = res
	}

	return out, nil
}

func readMap(ctx context.Context, reader mapReader, ownerID, itemType string) (*mapView, error) {
	var (
		view mapView
		err  error
	)

	if view.Positions, err = reader.ListPositions(ctx, ownerID, itemType); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	if view.Satellites, err = reader.ListSatellites(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("list satellites: %w", err)
	}

	if view.SatellitePositions, err = reader.ListSatellitePositions(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("list satellite positions: %w", err)
	}

	if view.Clusters, err = reader.ListClusters(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	return &view, nil
}
