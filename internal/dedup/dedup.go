// Package dedup derives pattern fingerprints and similarity scores used to
// catch duplicate finding submissions. Both are pure functions of their
// inputs; the tuning knobs live in Policy so callers thread them in from
// the arena config instead of hardcoding them.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Policy carries the duplicate-detection tuning constants.
type Policy struct {
	LineBucketWidth     int
	SimilarityThreshold float64
}

// DefaultPolicy matches the calibration the scoring rules were tuned
// against: 10-line buckets and a 0.5 duplicate threshold.
func DefaultPolicy() Policy {
	return Policy{LineBucketWidth: 10, SimilarityThreshold: 0.5}
}

// Relative weights for the similarity terms. Line overlap dominates so that
// textual similarity alone cannot cross the duplicate threshold.
const (
	lineWeight = 0.6
	textWeight = 0.4
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"be": true, "been": true, "in": true, "on": true, "at": true, "of": true,
	"to": true, "for": true, "and": true, "or": true, "it": true, "its": true,
	"this": true, "that": true, "with": true, "can": true, "could": true,
	"may": true, "might": true, "will": true, "would": true, "when": true,
	"if": true, "by": true, "from": true, "as": true, "has": true, "have": true,
}

// SignificantTerms normalizes a description to its sorted set of
// significant terms: lowercased, whitespace-collapsed, stop words removed,
// duplicates dropped.
func SignificantTerms(description string) []string {
	fields := strings.Fields(strings.ToLower(description))
	seen := map[string]bool{}
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'`")
		if f == "" || stopWords[f] {
			continue
		}
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	sort.Strings(terms)
	return terms
}

// Hash returns a 16-hex-character fingerprint of a finding's location and
// normalized description. Line ranges are bucketed so adjacent or slightly
// shifted resubmissions of the same defect collapse to the same hash.
func (p Policy) Hash(filePath string, lineStart, lineEnd int, description string) string {
	width := p.LineBucketWidth
	if width <= 0 {
		width = DefaultPolicy().LineBucketWidth
	}
	bucketStart := lineStart / width
	bucketEnd := lineEnd / width
	terms := SignificantTerms(description)
	material := fmt.Sprintf("%s|%d-%d|%s", filePath, bucketStart, bucketEnd, strings.Join(terms, " "))
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:16]
}

// Location is the input pair for similarity scoring.
type Location struct {
	FilePath    string
	LineStart   int
	LineEnd     int
	Description string
}

// Similarity scores how likely two findings describe the same defect, in
// [0,1]. Findings in different files are never similar. The score combines
// a line-overlap term (1 when ranges touch, decaying with distance) and the
// fraction of shared significant terms.
func (p Policy) Similarity(a, b Location) float64 {
	if a.FilePath != b.FilePath {
		return 0
	}
	return lineWeight*lineOverlap(a, b) + textWeight*termOverlap(a.Description, b.Description)
}

// Overlaps reports whether two inclusive line ranges in the same file
// overlap or touch.
func Overlaps(a, b Location) bool {
	if a.FilePath != b.FilePath {
		return false
	}
	return a.LineStart <= b.LineEnd && b.LineStart <= a.LineEnd
}

func lineOverlap(a, b Location) float64 {
	if Overlaps(a, b) {
		return 1
	}
	var gap int
	if a.LineEnd < b.LineStart {
		gap = b.LineStart - a.LineEnd
	} else {
		gap = a.LineStart - b.LineEnd
	}
	// Decays to zero within 20 lines of separation.
	score := 1 - float64(gap)/20
	if score < 0 {
		return 0
	}
	return score
}

func termOverlap(a, b string) float64 {
	ta := SignificantTerms(a)
	tb := SignificantTerms(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := map[string]bool{}
	for _, t := range ta {
		set[t] = true
	}
	shared := 0
	for _, t := range tb {
		if set[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}
