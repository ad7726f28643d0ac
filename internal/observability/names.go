// Package observability provides OpenTelemetry metrics, tracing and log correlation for atlas.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameProjections         = "atlas_projections_total"
	MetricNameProjectedItems      = "atlas_projected_items_total"
	MetricNameProjectionDuration  = "atlas_projection_duration_seconds"
	MetricNameReductionDuration   = "atlas_reduction_duration_seconds"
	MetricNameLayoutFallbacks     = "atlas_layout_fallbacks_total"
	MetricNamePersistFailures     = "atlas_persist_failures_total"
	MetricNameSatellitesPlaced    = "atlas_satellites_placed_total"
	MetricNameSimilarityEdges     = "atlas_similarity_edges_written_total"
	MetricNameSimilarityItems     = "atlas_similarity_items_total"
	MetricNameClustersGenerated   = "atlas_clusters_generated_total"
	MetricNameUnclusteredItems    = "atlas_unclustered_items_total"
	MetricNameClusteringDuration  = "atlas_clustering_duration_seconds"
	MetricNameLabelFallbacks      = "atlas_label_fallbacks_total"
	MetricNameCacheHits           = "atlas_cache_hits_total"
	MetricNameCacheMisses         = "atlas_cache_misses_total"
	MetricNameJobOutcomes         = "atlas_job_outcomes_total"
	MetricNameJobDuration         = "atlas_job_duration_seconds"
	MetricNameJobsEnqueued        = "atlas_jobs_enqueued_total"
	MetricNameJobEnqueueErrors    = "atlas_job_enqueue_errors_total"
	metricNameDurationPatternGlob = "atlas_*_duration_seconds"
)

// Attribute keys.
const (
	AttrMethod    = "method"
	AttrReason    = "reason"
	AttrStatus    = "status"
	AttrKind      = "kind"
	AttrMode      = "mode"
	AttrPlacement = "placement"
	AttrCache     = "cache"
	AttrJob       = "job"
)

// AllowedMethods for atlas_projections_total and atlas_projected_items_total.
var AllowedMethods = map[string]bool{
	"reduced":      true,
	"interpolated": true,
	"fallback":     true,
	"stored":       true,
}

// AllowedFallbackReasons for atlas_layout_fallbacks_total.
var AllowedFallbackReasons = map[string]bool{
	"degenerate_input": true,
	"timeout":          true,
	"compute_error":    true,
}

// AllowedPersistKinds for atlas_persist_failures_total.
var AllowedPersistKinds = map[string]bool{
	"position":           true,
	"satellite":          true,
	"satellite_position": true,
	"edge":               true,
	"clusters":           true,
}

// AllowedPlacements for atlas_satellites_placed_total.
var AllowedPlacements = map[string]bool{
	"single":   true,
	"multi":    true,
	"orphan":   true,
	"collided": true,
}

// AllowedModes for similarity metrics.
var AllowedModes = map[string]bool{
	"vector": true,
	"hybrid": true,
}

// AllowedItemStatuses for atlas_similarity_items_total and atlas_job_outcomes_total.
var AllowedItemStatuses = map[string]bool{
	"success": true,
	"skipped": true,
	"failed":  true,
}

// AllowedLabelFallbackReasons for atlas_label_fallbacks_total.
var AllowedLabelFallbackReasons = map[string]bool{
	"error":      true,
	"timeout":    true,
	"empty_name": true,
	"disabled":   true,
}

// AllowedCacheNames for cache hit/miss counters.
var AllowedCacheNames = map[string]bool{
	"cluster_label": true,
}

// AllowedJobKinds for job metrics; mirrors the River job kinds registered by the worker.
var AllowedJobKinds = map[string]bool{
	"atlas_project_owner":       true,
	"atlas_layout_satellites":   true,
	"atlas_compute_similarity":  true,
	"atlas_regenerate_clusters": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeMethod returns method if it is a known position method, otherwise "unknown".
func NormalizeMethod(method string) string {
	if AllowedMethods[method] {
		return method
	}

	return "unknown"
}

// NormalizeCacheName returns name if allowed, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
