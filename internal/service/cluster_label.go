package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/formbricks/atlas/pkg/embeddings"
)

const (
	maxRepresentatives    = 10
	maxSummaryRunes       = 200
	minLabelWordRunes     = 4
	labelFallbackError    = "error"
	labelFallbackTimeout  = "timeout"
	labelFallbackEmpty    = "empty_name"
	labelFallbackDisabled = "disabled"
)

// RepresentativeItem is a cluster member shown to the labeler.
type RepresentativeItem struct {
	ItemID  uuid.UUID `json:"item_id"`
	Title   string    `json:"title"`
	Summary string    `json:"summary"`
}

// GroupLabel is a short human-readable name for a group of items.
type GroupLabel struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Labeler names a group of items. Implementations may call a language model; failures are
// absorbed by the cluster engine.
type Labeler interface {
	LabelGroup(ctx context.Context, items []RepresentativeItem) (GroupLabel, error)
}

// labelStopwords are excluded from the frequency fallback label.
var labelStopwords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true, "being": true,
	"could": true, "does": true, "each": true, "from": true, "have": true, "here": true,
	"into": true, "just": true, "like": true, "more": true, "most": true, "only": true,
	"other": true, "over": true, "should": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "very": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "will": true, "with": true, "would": true,
	"your": true, "yours": true, "through": true, "because": true, "were": true, "make": true,
}

// clusterMember pairs a member's metadata with its distance to the cluster centroid.
type clusterMember struct {
	id       uuid.UUID
	title    string
	summary  string
	vector   []float32
	distance float64
}

// representatives returns up to 10 members closest to the centroid, ties by item id.
func representatives(members []clusterMember, centroid []float32) []RepresentativeItem {
	ranked := slices.Clone(members)
	for i := range ranked {
		ranked[i].distance = embeddings.CosineDistance(ranked[i].vector, centroid)
	}

	slices.SortFunc(ranked, func(a, b clusterMember) int {
		if c := cmp.Compare(a.distance, b.distance); c != 0 {
			return c
		}

		return compareIDs(a.id, b.id)
	})

	ranked = ranked[:min(maxRepresentatives, len(ranked))]
	out := make([]RepresentativeItem, len(ranked))

	for i, m := range ranked {
		out[i] = RepresentativeItem{ItemID: m.id, Title: m.title, Summary: truncateRunes(m.summary, maxSummaryRunes)}
	}

	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	return string([]rune(s)[:n])
}

// fallbackLabel names a cluster after the most frequent qualifying word in its members' titles
// (at least four letters, not a stopword, ties alphabetical). With no such word it is "Cluster N".
func fallbackLabel(titles []string, index int) GroupLabel {
	counts := make(map[string]int)

	for _, title := range titles {
		words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})

		for _, w := range words {
			if utf8.RuneCountInString(w) < minLabelWordRunes || labelStopwords[w] {
				continue
			}

			counts[w]++
		}
	}

	best, bestCount := "", 0

	for w, c := range counts {
		if c > bestCount || (c == bestCount && w < best) {
			best, bestCount = w, c
		}
	}

	if best == "" {
		return GroupLabel{Name: fmt.Sprintf("Cluster %d", index+1)}
	}

	return GroupLabel{Name: titleCase(best)}
}

func titleCase(w string) string {
	r, size := utf8.DecodeRuneInString(w)

	return string(unicode.ToUpper(r)) + w[size:]
}

// labelFallbackReason classifies a labeling failure for metrics.
func labelFallbackReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return labelFallbackTimeout
	}

	return labelFallbackError
}
