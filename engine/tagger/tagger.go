// Package tagger extracts named entities from free text via an external
// NER sidecar.
package tagger

import (
	"context"
	"strings"
)

// Kind classifies an extracted entity.
type Kind string

const (
	KindPerson       Kind = "person"
	KindOrganization Kind = "organization"
	KindLocation     Kind = "location"
)

// Span is a character range of one mention within the tagged text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is one named entity found in a document.
type Entity struct {
	Name        string  `json:"name"`
	Kind        Kind    `json:"kind"`
	Confidence  float64 `json:"confidence"`
	Spans       []Span  `json:"spans"`
	Occurrences int     `json:"occurrences"`
}

// Tagger extracts entities from text. Implementations must return nil
// for text with no recognisable entities, not an error.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]Entity, error)
}

// labelKinds maps sidecar labels to entity kinds. Labels outside the
// map are dropped.
var labelKinds = map[string]Kind{
	"PERSON": KindPerson,
	"ORG":    KindOrganization,
	"GPE":    KindLocation,
	"LOC":    KindLocation,
}

// dedupe collapses mentions that share a case-insensitive name and kind
// to the first occurrence, preserving its span. Repeat mentions of the
// same surface form do not raise the occurrence count; within-document
// accumulation happens later, in the resolver, across distinct forms.
func dedupe(mentions []mention) []Entity {
	type key struct {
		name string
		kind Kind
	}
	seen := make(map[key]bool)
	var out []Entity
	for _, m := range mentions {
		kind, ok := labelKinds[m.Label]
		if !ok {
			continue
		}
		name := strings.TrimSpace(m.Text)
		if name == "" {
			continue
		}
		k := key{strings.ToLower(name), kind}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Entity{
			Name:        name,
			Kind:        kind,
			Confidence:  m.Confidence,
			Spans:       []Span{{Start: m.Start, End: m.End}},
			Occurrences: 1,
		})
	}
	return out
}
