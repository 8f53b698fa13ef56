package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/internal/shard"
)

// Update is a validated single-attribute write.
type Update struct {
	// Path is the full dot path, starting at a top-level field.
	Path document.Path

	// Value is the normalized value to store at Path.
	Value document.Value
}

// Field returns the top-level field the update addresses.
func (u Update) Field() string { return u.Path.Head() }

// ValidateCreate checks a caller-supplied field set for a new entity and
// returns the normalized entity. Identity and timestamps are left unset.
// A status, when supplied, must be the kind's initial status.
func (s *Schema) ValidateCreate(fields document.Map) (*entity.Entity, error) {
	e, err := s.build(fields)
	if err != nil {
		return nil, err
	}
	if e.Status == "" {
		e.Status = s.initial
	}
	if e.Status != s.initial {
		return nil, errs.Invalid(entity.FieldStatus, string(s.initial), "new entities start in the initial status")
	}
	return e, nil
}

// ValidateReplace checks a full-field replacement. It applies the same
// rules as ValidateCreate except that status may be any declared value;
// the caller checks the transition against the stored status.
func (s *Schema) ValidateReplace(fields document.Map) (*entity.Entity, error) {
	return s.build(fields)
}

func (s *Schema) build(fields document.Map) (*entity.Entity, error) {
	e := &entity.Entity{
		Kind:       s.kind,
		Attributes: document.Map{},
		Metadata:   document.Map{},
	}

	for _, name := range fields.Keys() {
		v := fields[name]
		if entity.Managed(name) {
			return nil, errs.Invalid(name, "", "field is managed by the repository")
		}
		switch name {
		case entity.FieldOwnerKey:
			owner, err := nonEmptyString(name, v)
			if err != nil {
				return nil, err
			}
			e.OwnerKey = owner
		case entity.FieldTypeTag:
			tag, err := s.typeTag(v)
			if err != nil {
				return nil, err
			}
			e.TypeTag = tag
		case entity.FieldStatus:
			st, err := s.statusValue(v)
			if err != nil {
				return nil, err
			}
			e.Status = st
		case entity.FieldTags:
			tags, err := stringList(name, v)
			if err != nil {
				return nil, err
			}
			e.Tags = entity.NormalizeTags(tags)
		case entity.FieldMetadata:
			m, ok := v.AsMap()
			if !ok {
				return nil, errs.Invalid(name, "map", "got "+v.Type().String())
			}
			if err := s.checkMetadata(nil, v); err != nil {
				return nil, err
			}
			e.Metadata = m.Clone()
		default:
			f, ok := s.fields[name]
			if !ok {
				return nil, s.unknownField(name)
			}
			if err := checkField(f, v); err != nil {
				return nil, err
			}
			e.Attributes[name] = canonical(f, v)
		}
	}

	for _, name := range s.fieldNames() {
		f := s.fields[name]
		if !f.Required {
			continue
		}
		v, ok := e.Attributes[name]
		if !ok || isBlank(v) {
			return nil, errs.Invalid(name, f.Type.String(), "field is required")
		}
	}
	if s.ownerRequired && e.OwnerKey == "" {
		return nil, errs.Invalid(entity.FieldOwnerKey, "string", "field is required")
	}
	if s.typeTagRequired && e.TypeTag == "" {
		return nil, errs.Invalid(entity.FieldTypeTag, s.typeTagShape(), "field is required")
	}

	return e, nil
}

// ValidateUpdate checks a single-attribute write at a top-level field or a
// dot-separated path below metadata (or below a map-typed attribute).
func (s *Schema) ValidateUpdate(path string, v document.Value) (Update, error) {
	p, err := document.ParsePath(path)
	if err != nil {
		return Update{}, errs.Invalid(path, "dot-separated path", err.Error())
	}
	head := p.Head()

	if entity.Managed(head) {
		return Update{}, errs.Invalid(head, "", "field is managed by the repository")
	}

	switch head {
	case entity.FieldStatus:
		return Update{}, errs.Invalid(head, "a declared transition", "status changes go through the transition graph")
	case entity.FieldOwnerKey:
		return Update{}, errs.Invalid(head, "", "owner key is immutable")
	case entity.FieldTypeTag:
		if len(p) > 1 {
			return Update{}, errs.Invalid(path, s.typeTagShape(), "type_tag has no nested fields")
		}
		if _, err := s.typeTag(v); err != nil {
			return Update{}, err
		}
		return Update{Path: p, Value: v}, nil
	case entity.FieldTags:
		if len(p) > 1 {
			return Update{}, errs.Invalid(path, "list of strings", "tags has no nested fields")
		}
		tags, err := stringList(head, v)
		if err != nil {
			return Update{}, err
		}
		normalized := entity.NormalizeTags(tags)
		items := make([]document.Value, len(normalized))
		for i, t := range normalized {
			items[i] = document.String(t)
		}
		return Update{Path: p, Value: document.List(items...)}, nil
	case entity.FieldMetadata:
		if len(p) == 1 {
			if _, ok := v.AsMap(); !ok {
				return Update{}, errs.Invalid(head, "map", "got "+v.Type().String())
			}
		}
		if err := s.checkMetadata(p.Tail(), v); err != nil {
			return Update{}, err
		}
		return Update{Path: p, Value: v.Clone()}, nil
	}

	f, ok := s.fields[head]
	if !ok {
		return Update{}, s.unknownField(head)
	}
	if f.Unique {
		return Update{}, errs.Invalid(head, "", "unique fields are immutable")
	}
	if len(p) > 1 {
		if f.Type != document.TypeMap {
			return Update{}, errs.Invalid(path, f.Type.String(), head+" has no nested fields")
		}
		return Update{Path: p, Value: v.Clone()}, nil
	}
	if err := checkField(f, v); err != nil {
		return Update{}, err
	}
	if f.Required && isBlank(v) {
		return Update{}, errs.Invalid(head, f.Type.String(), "field is required")
	}
	return Update{Path: p, Value: v.Clone()}, nil
}

// checkMetadata type-checks v, written at sub below metadata, against every
// declared metadata type that it covers or that covers it.
func (s *Schema) checkMetadata(sub document.Path, v document.Value) error {
	at := sub.String()
	for _, declared := range s.metadataPaths() {
		typ := s.metadata[declared]
		dp, _ := document.ParsePath(declared)
		full := "metadata." + declared

		switch {
		case at != "" && declared == at:
			if v.Type() != typ {
				return errs.Invalid(full, typ.String(), "got "+v.Type().String())
			}
		case hasPrefix(dp, sub):
			// The write replaces a subtree that contains a declared leaf.
			m, ok := v.AsMap()
			if !ok {
				if len(sub) == 0 {
					return errs.Invalid(entity.FieldMetadata, "map", "got "+v.Type().String())
				}
				return errs.Invalid("metadata."+at, "map", "contains declared field "+full)
			}
			leaf, found := m.Lookup(dp[len(sub):])
			if found && leaf.Type() != typ {
				return errs.Invalid(full, typ.String(), "got "+leaf.Type().String())
			}
		case hasPrefix(sub, dp) && typ != document.TypeMap:
			return errs.Invalid("metadata."+at, typ.String(), full+" is a "+typ.String()+" leaf")
		}
	}
	return nil
}

func (s *Schema) metadataPaths() []string {
	paths := make([]string, 0, len(s.metadata))
	for p := range s.metadata {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// hasPrefix reports whether prefix is a strict prefix of p.
func hasPrefix(p, prefix document.Path) bool {
	if len(prefix) >= len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

func checkField(f Field, v document.Value) error {
	if v.Type() != f.Type {
		return errs.Invalid(f.Name, f.Type.String(), "got "+v.Type().String())
	}
	if len(f.Enum) == 0 {
		return nil
	}
	s, _ := v.AsString()
	for _, allowed := range f.Enum {
		if s == allowed {
			return nil
		}
	}
	return errs.Invalid(f.Name, oneOf(f.Enum), fmt.Sprintf("value %q is not allowed", s))
}

func (s *Schema) typeTag(v document.Value) (entity.TypeTag, error) {
	raw, ok := v.AsString()
	if !ok {
		return "", errs.Invalid(entity.FieldTypeTag, s.typeTagShape(), "got "+v.Type().String())
	}
	tag, err := entity.ParseTypeTag(raw)
	if err != nil || !s.HasTypeTag(tag) {
		return "", errs.Invalid(entity.FieldTypeTag, s.typeTagShape(), fmt.Sprintf("value %q is not allowed", raw))
	}
	return tag, nil
}

func (s *Schema) statusValue(v document.Value) (entity.Status, error) {
	raw, ok := v.AsString()
	if !ok {
		return "", errs.Invalid(entity.FieldStatus, s.statusShape(), "got "+v.Type().String())
	}
	st, err := entity.ParseStatus(raw)
	if err != nil || !s.HasStatus(st) {
		return "", errs.Invalid(entity.FieldStatus, s.statusShape(), fmt.Sprintf("value %q is not allowed", raw))
	}
	return st, nil
}

// ParseStatus resolves a status declared for this kind.
func (s *Schema) ParseStatus(raw string) (entity.Status, error) {
	return s.statusValue(document.String(raw))
}

// ParseTypeTag resolves a type tag declared for this kind.
func (s *Schema) ParseTypeTag(raw string) (entity.TypeTag, error) {
	return s.typeTag(document.String(raw))
}

func (s *Schema) unknownField(name string) error {
	return errs.Invalid(name, oneOf(s.TopLevelFields()), "unknown field")
}

func (s *Schema) typeTagShape() string {
	names := make([]string, len(s.typeTags))
	for i, t := range s.typeTags {
		names[i] = string(t)
	}
	return oneOf(names)
}

func (s *Schema) statusShape() string {
	names := make([]string, len(s.statuses))
	for i, st := range s.statuses {
		names[i] = string(st)
	}
	return oneOf(names)
}

func oneOf(values []string) string {
	return "one of [" + strings.Join(values, " ") + "]"
}

func nonEmptyString(name string, v document.Value) (string, error) {
	s, ok := v.AsString()
	if !ok {
		return "", errs.Invalid(name, "string", "got "+v.Type().String())
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errs.Invalid(name, "string", "must not be empty")
	}
	return s, nil
}

func stringList(name string, v document.Value) ([]string, error) {
	items, ok := v.AsList()
	if !ok {
		return nil, errs.Invalid(name, "list of strings", "got "+v.Type().String())
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.AsString()
		if !ok {
			return nil, errs.Invalid(name, "list of strings", fmt.Sprintf("item %d is %s", i, item.Type()))
		}
		out[i] = s
	}
	return out, nil
}

func isBlank(v document.Value) bool {
	switch v.Type() {
	case document.TypeNull:
		return true
	case document.TypeString:
		s, _ := v.AsString()
		return strings.TrimSpace(s) == ""
	}
	return false
}

// canonical stores unique strings in the form the constraint table keys
// them by, so index lookups and guards agree.
func canonical(f Field, v document.Value) document.Value {
	if s, ok := v.AsString(); ok && f.Unique {
		return document.String(shard.UniqueValue(s))
	}
	return v.Clone()
}
