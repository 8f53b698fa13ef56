package query

import (
	"strings"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
)

// PredicateKind selects how a predicate compares.
type PredicateKind int

const (
	// Equals compares the field's string form exactly.
	Equals PredicateKind = iota

	// Contains is a case-insensitive substring test.
	Contains

	// Intersects holds when the record shares at least one tag.
	Intersects

	// PathEquals compares a metadata leaf exactly after string coercion.
	PathEquals
)

// Predicate is one residual test on a fetched record.
type Predicate struct {
	Kind  PredicateKind
	Field string

	// Path is the location below metadata for PathEquals.
	Path document.Path

	Value string
	Tags  []string
}

// Match reports whether e satisfies every predicate. It stops at the first
// failing predicate.
func Match(e *entity.Entity, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Matches(e) {
			return false
		}
	}
	return true
}

// Matches evaluates the predicate. A field absent on the record never
// matches.
func (p Predicate) Matches(e *entity.Entity) bool {
	switch p.Kind {
	case Intersects:
		if len(p.Tags) == 0 {
			return true
		}
		return intersects(e.Tags, p.Tags)
	case PathEquals:
		v, ok := e.Metadata.Lookup(p.Path)
		return ok && v.Text() == p.Value
	}

	v, ok := e.Field(p.Field)
	if !ok {
		return false
	}
	switch p.Kind {
	case Equals:
		return v.Text() == p.Value
	case Contains:
		return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(p.Value))
	}
	return false
}

// intersects reports whether two tag sets share an element.
func intersects(have, want []string) bool {
	set := make(map[string]struct{}, len(want))
	for _, t := range want {
		set[t] = struct{}{}
	}
	for _, t := range have {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
