// Package normalize canonicalises entity names and merges near-duplicate
// entities before they reach the graph.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/enjin-dev/enjin-ingest/engine/tagger"
)

// SimilarityThreshold is the minimum ratio at which two names of the
// same kind are treated as the same entity.
const SimilarityThreshold = 0.85

// Canonical normalises a raw entity name: NFC form, trimmed, inner
// whitespace collapsed to single spaces, title-cased. Idempotent.
// A fresh caser per call; cases.Caser carries state and is not safe
// to share across workers.
func Canonical(name string) string {
	s := norm.NFC.String(name)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.Und).String(s)
}

// Resolve canonicalises names and merges entities whose names are
// near-duplicates of an already-kept entity of the same kind. Merging
// sums occurrences, concatenates spans and keeps the longer canonical
// name. Order of first appearance is preserved.
func Resolve(entities []tagger.Entity, threshold float64) []tagger.Entity {
	var out []tagger.Entity
	for _, e := range entities {
		e.Name = Canonical(e.Name)
		if e.Name == "" {
			continue
		}
		merged := false
		for i := range out {
			if out[i].Kind != e.Kind {
				continue
			}
			if Similarity(strings.ToLower(out[i].Name), strings.ToLower(e.Name)) < threshold {
				continue
			}
			out[i].Occurrences += e.Occurrences
			out[i].Spans = append(out[i].Spans, e.Spans...)
			if e.Confidence > out[i].Confidence {
				out[i].Confidence = e.Confidence
			}
			if len(e.Name) > len(out[i].Name) {
				out[i].Name = e.Name
			}
			merged = true
			break
		}
		if !merged {
			out = append(out, e)
		}
	}
	return out
}

// Similarity is the Ratcliff/Obershelp ratio of two strings, in [0, 1].
// Two empty strings score 0.
func Similarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matches := matchingChars([]rune(a), []rune(b))
	return 2 * float64(matches) / float64(len([]rune(a))+len([]rune(b)))
}

// matchingChars counts characters in the longest common substring plus,
// recursively, the matches in the pieces to its left and right.
func matchingChars(a, b []rune) int {
	bestA, bestB, bestLen := 0, 0, 0
	for i := range a {
		for j := range b {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > bestLen {
				bestA, bestB, bestLen = i, j, k
			}
		}
	}
	if bestLen == 0 {
		return 0
	}
	return bestLen +
		matchingChars(a[:bestA], b[:bestB]) +
		matchingChars(a[bestA+bestLen:], b[bestB+bestLen:])
}
