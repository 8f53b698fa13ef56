// Package query plans index-backed reads and filters their results.
//
// A caller's filter set is parsed into [Filters], turned into a [Plan] that
// names the most selective provisioned index, and the predicates the index
// cannot answer are applied to each fetched record with [Match].
package query

import (
	"sort"
	"strings"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/schema"
)

// Filters is a parsed filter set. Zero values mean "no constraint".
type Filters struct {
	OwnerKey string
	TypeTag  entity.TypeTag
	Status   entity.Status

	// Tags matches records sharing at least one tag.
	Tags []string

	// Attributes holds kind-specific top-level field filters.
	Attributes map[string]string

	// Metadata holds exact-match filters keyed by dot path below metadata.
	Metadata map[string]string
}

// ParseFilters validates a caller filter set against the kind's schema.
//
// Recognized keys are owner_key, type_tag, status, tags, metadata (a nested
// map whose leaves become path filters), metadata.<path>, and the kind's
// declared fields. Anything else is a validation error.
func ParseFilters(s *schema.Schema, raw document.Map) (Filters, error) {
	f := Filters{}

	for _, key := range raw.Keys() {
		v := raw[key]
		switch key {
		case entity.FieldOwnerKey:
			owner, ok := v.AsString()
			if !ok || strings.TrimSpace(owner) == "" {
				return Filters{}, errs.Invalid(key, "string", "must be a non-empty string")
			}
			f.OwnerKey = strings.TrimSpace(owner)
		case entity.FieldTypeTag:
			tag, err := s.ParseTypeTag(v.Text())
			if err != nil {
				return Filters{}, err
			}
			f.TypeTag = tag
		case entity.FieldStatus:
			st, err := s.ParseStatus(v.Text())
			if err != nil {
				return Filters{}, err
			}
			f.Status = st
		case entity.FieldTags:
			tags, err := tagList(v)
			if err != nil {
				return Filters{}, err
			}
			f.Tags = tags
		case entity.FieldMetadata:
			m, ok := v.AsMap()
			if !ok {
				return Filters{}, errs.Invalid(key, "map", "got "+v.Type().String())
			}
			flatten(nil, m, f.metadata())
		default:
			if rest, ok := strings.CutPrefix(key, entity.FieldMetadata+"."); ok {
				p, err := document.ParsePath(rest)
				if err != nil {
					return Filters{}, errs.Invalid(key, "dot-separated path", err.Error())
				}
				f.metadata()[p.String()] = v.Text()
				continue
			}
			if _, ok := s.Field(key); !ok {
				return Filters{}, errs.Invalid(key, "a filterable field", "unknown field")
			}
			if f.Attributes == nil {
				f.Attributes = make(map[string]string)
			}
			f.Attributes[key] = v.Text()
		}
	}

	return f, nil
}

func (f *Filters) metadata() map[string]string {
	if f.Metadata == nil {
		f.Metadata = make(map[string]string)
	}
	return f.Metadata
}

// flatten records every non-map leaf of m under its full path.
func flatten(prefix document.Path, m document.Map, out map[string]string) {
	for k, v := range m {
		p := append(append(document.Path(nil), prefix...), k)
		if sub, ok := v.AsMap(); ok && len(sub) > 0 {
			flatten(p, sub, out)
			continue
		}
		out[p.String()] = v.Text()
	}
}

func tagList(v document.Value) ([]string, error) {
	if s, ok := v.AsString(); ok {
		return entity.NormalizeTags([]string{s}), nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil, errs.Invalid(entity.FieldTags, "string or list of strings", "got "+v.Type().String())
	}
	tags := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, errs.Invalid(entity.FieldTags, "list of strings", "got item of type "+item.Type().String())
		}
		tags = append(tags, s)
	}
	return entity.NormalizeTags(tags), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
