// Package schema holds the type schema registry and the attribute validator.
//
// The registry is loaded once from YAML and exposes read-only accessors;
// nothing in it can be mutated after [Load] returns.
package schema

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
)

//go:embed default.yaml
var defaultYAML []byte

// Index describes a provisioned secondary index.
type Index struct {
	// Name is the DynamoDB index name.
	Name string

	// Partition is the index partition key attribute.
	Partition string

	// Sort is the optional index sort key attribute.
	Sort string
}

// Field describes a kind-specific top-level attribute.
type Field struct {
	Name     string
	Type     document.Type
	Required bool

	// Unique fields are checked against Index before create and are
	// immutable afterwards.
	Unique bool
	Index  string

	// Enum is the closed value set for string fields, when declared.
	Enum []string

	// Exact string fields (reference ids) filter by equality instead of
	// case-insensitive substring.
	Exact bool
}

// Schema is the immutable description of one entity kind.
type Schema struct {
	kind            entity.Kind
	table           string
	initial         entity.Status
	statuses        []entity.Status
	transitions     map[entity.Status][]entity.Status
	typeTags        []entity.TypeTag
	typeTagRequired bool
	ownerRequired   bool
	owner           *Index
	typeIdx         *Index
	status          *Index
	fields          map[string]Field
	metadata        map[string]document.Type
}

// Registry maps every kind to its schema.
type Registry struct {
	schemas map[entity.Kind]*Schema
}

type fileConfig struct {
	Kinds map[string]kindConfig `yaml:"kinds"`
}

// Field match modes.
const (
	matchExact    = "exact"
	matchContains = "contains"
)

type indexConfig struct {
	Name      string `yaml:"name"`
	Partition string `yaml:"partition"`
	Sort      string `yaml:"sort"`
}

type fieldConfig struct {
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Unique   bool     `yaml:"unique"`
	Index    string   `yaml:"index"`
	Enum     []string `yaml:"enum"`
	Match    string   `yaml:"match"`
}

type kindConfig struct {
	Table           string                 `yaml:"table"`
	InitialStatus   string                 `yaml:"initial_status"`
	Statuses        []string               `yaml:"statuses"`
	Transitions     map[string][]string    `yaml:"transitions"`
	TypeTags        []string               `yaml:"type_tags"`
	TypeTagRequired bool                   `yaml:"type_tag_required"`
	OwnerRequired   bool                   `yaml:"owner_required"`
	Indexes         map[string]indexConfig `yaml:"indexes"`
	Fields          map[string]fieldConfig `yaml:"fields"`
	Metadata        map[string]string      `yaml:"metadata"`
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry built from the embedded default schema.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Parse(defaultYAML)
	})
	return defaultRegistry, defaultErr
}

// LoadFile reads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a registry from YAML.
func Load(r io.Reader) (*Registry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("schema: read: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML bytes. Every status, type tag and value
// type name is resolved against the closed enumerations; unknown names and
// cyclic transition graphs are rejected.
func Parse(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}
	if len(cfg.Kinds) == 0 {
		return nil, fmt.Errorf("schema: no kinds declared")
	}

	reg := &Registry{schemas: make(map[entity.Kind]*Schema, len(cfg.Kinds))}
	for name, kc := range cfg.Kinds {
		kind, err := entity.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		s, err := buildSchema(kind, kc)
		if err != nil {
			return nil, fmt.Errorf("schema: kind %s: %w", kind, err)
		}
		reg.schemas[kind] = s
	}
	return reg, nil
}

func buildSchema(kind entity.Kind, kc kindConfig) (*Schema, error) {
	if kc.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	s := &Schema{
		kind:            kind,
		table:           kc.Table,
		transitions:     make(map[entity.Status][]entity.Status),
		typeTagRequired: kc.TypeTagRequired,
		ownerRequired:   kc.OwnerRequired,
		fields:          make(map[string]Field, len(kc.Fields)),
		metadata:        make(map[string]document.Type, len(kc.Metadata)),
	}

	declared := make(map[entity.Status]bool)
	for _, name := range kc.Statuses {
		st, err := entity.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		declared[st] = true
		s.statuses = append(s.statuses, st)
	}
	if len(s.statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}

	initial, err := entity.ParseStatus(kc.InitialStatus)
	if err != nil {
		return nil, fmt.Errorf("initial_status: %w", err)
	}
	if !declared[initial] {
		return nil, fmt.Errorf("initial_status %s is not a declared status", initial)
	}
	s.initial = initial

	for fromName, targets := range kc.Transitions {
		from, err := entity.ParseStatus(fromName)
		if err != nil {
			return nil, err
		}
		if !declared[from] {
			return nil, fmt.Errorf("transition from undeclared status %s", from)
		}
		for _, toName := range targets {
			to, err := entity.ParseStatus(toName)
			if err != nil {
				return nil, err
			}
			if !declared[to] {
				return nil, fmt.Errorf("transition to undeclared status %s", to)
			}
			s.transitions[from] = append(s.transitions[from], to)
		}
	}
	if cycle := findCycle(s.transitions); cycle != "" {
		return nil, fmt.Errorf("transition graph is not forward-only: cycle through %s", cycle)
	}

	for _, name := range kc.TypeTags {
		tag, err := entity.ParseTypeTag(name)
		if err != nil {
			return nil, err
		}
		s.typeTags = append(s.typeTags, tag)
	}
	if s.typeTagRequired && len(s.typeTags) == 0 {
		return nil, fmt.Errorf("type_tag_required without type_tags")
	}

	for role, ic := range kc.Indexes {
		if ic.Name == "" || ic.Partition == "" {
			return nil, fmt.Errorf("index %s: name and partition are required", role)
		}
		idx := &Index{Name: ic.Name, Partition: ic.Partition, Sort: ic.Sort}
		switch role {
		case "owner":
			s.owner = idx
		case "type":
			s.typeIdx = idx
		case "status":
			s.status = idx
		default:
			return nil, fmt.Errorf("unknown index role %q", role)
		}
	}

	for name, fc := range kc.Fields {
		if isCommon(name) {
			return nil, fmt.Errorf("field %s shadows a common field", name)
		}
		typ, err := document.ParseType(fc.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if len(fc.Enum) > 0 && typ != document.TypeString {
			return nil, fmt.Errorf("field %s: enum requires type string", name)
		}
		if fc.Unique && fc.Index == "" {
			return nil, fmt.Errorf("field %s: unique requires an index", name)
		}
		switch fc.Match {
		case "", matchExact, matchContains:
		default:
			return nil, fmt.Errorf("field %s: unknown match %q", name, fc.Match)
		}
		s.fields[name] = Field{
			Name:     name,
			Type:     typ,
			Required: fc.Required,
			Unique:   fc.Unique,
			Index:    fc.Index,
			Enum:     append([]string(nil), fc.Enum...),
			Exact:    fc.Match == matchExact,
		}
	}

	for path, typeName := range kc.Metadata {
		if _, err := document.ParsePath(path); err != nil {
			return nil, fmt.Errorf("metadata %q: %w", path, err)
		}
		typ, err := document.ParseType(typeName)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", path, err)
		}
		s.metadata[path] = typ
	}

	return s, nil
}

// findCycle returns a status on a cycle of the graph, or "".
func findCycle(graph map[entity.Status][]entity.Status) entity.Status {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[entity.Status]int)
	var visit func(entity.Status) entity.Status
	visit = func(s entity.Status) entity.Status {
		switch state[s] {
		case visiting:
			return s
		case done:
			return ""
		}
		state[s] = visiting
		for _, next := range graph[s] {
			if c := visit(next); c != "" {
				return c
			}
		}
		state[s] = done
		return ""
	}
	for _, s := range entity.Statuses {
		if c := visit(s); c != "" {
			return c
		}
	}
	return ""
}

func isCommon(name string) bool {
	switch name {
	case entity.FieldID, entity.FieldKind, entity.FieldOwnerKey, entity.FieldTypeTag,
		entity.FieldStatus, entity.FieldTags, entity.FieldMetadata,
		entity.FieldCreatedAt, entity.FieldUpdatedAt:
		return true
	}
	return false
}

// Schema returns the schema of a kind.
func (r *Registry) Schema(kind entity.Kind) (*Schema, bool) {
	s, ok := r.schemas[kind]
	return s, ok
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []entity.Kind {
	var kinds []entity.Kind
	for _, k := range entity.Kinds {
		if _, ok := r.schemas[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s *Schema) Kind() entity.Kind { return s.kind }
func (s *Schema) Table() string { return s.table }
func (s *Schema) InitialStatus() entity.Status { return s.initial }
func (s *Schema) OwnerRequired() bool { return s.ownerRequired }

// Statuses returns a copy of the declared statuses.
func (s *Schema) Statuses() []entity.Status {
	return append([]entity.Status(nil), s.statuses...)
}

// TypeTags returns a copy of the declared type tags.
func (s *Schema) TypeTags() []entity.TypeTag {
	return append([]entity.TypeTag(nil), s.typeTags...)
}

// OwnerIndex returns the owner index, if declared.
func (s *Schema) OwnerIndex() (Index, bool) { return deref(s.owner) }

// TypeIndex returns the type tag index, if declared.
func (s *Schema) TypeIndex() (Index, bool) { return deref(s.typeIdx) }

// StatusIndex returns the status index, if declared.
func (s *Schema) StatusIndex() (Index, bool) { return deref(s.status) }

func deref(idx *Index) (Index, bool) {
	if idx == nil {
		return Index{}, false
	}
	return *idx, true
}

// Field returns a kind-specific field definition.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	if ok {
		f.Enum = append([]string(nil), f.Enum...)
	}
	return f, ok
}

// Fields returns all kind-specific fields sorted by name.
func (s *Schema) Fields() []Field {
	out := make([]Field, 0, len(s.fields))
	for _, name := range s.fieldNames() {
		f, _ := s.Field(name)
		out = append(out, f)
	}
	return out
}

// UniqueFields returns the fields declared unique, sorted by name.
func (s *Schema) UniqueFields() []Field {
	var out []Field
	for _, f := range s.Fields() {
		if f.Unique {
			out = append(out, f)
		}
	}
	return out
}

func (s *Schema) fieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopLevelFields returns every writable top-level field name, sorted.
func (s *Schema) TopLevelFields() []string {
	names := []string{entity.FieldMetadata, entity.FieldOwnerKey, entity.FieldStatus, entity.FieldTags, entity.FieldTypeTag}
	names = append(names, s.fieldNames()...)
	sort.Strings(names)
	return names
}

// MetadataType returns the declared type of a metadata path.
func (s *Schema) MetadataType(path string) (document.Type, bool) {
	t, ok := s.metadata[path]
	return t, ok
}

// HasStatus reports whether st is declared for the kind.
func (s *Schema) HasStatus(st entity.Status) bool {
	for _, d := range s.statuses {
		if d == st {
			return true
		}
	}
	return false
}

// HasTypeTag reports whether tag is declared for the kind.
func (s *Schema) HasTypeTag(tag entity.TypeTag) bool {
	for _, d := range s.typeTags {
		if d == tag {
			return true
		}
	}
	return false
}

// Transitions returns the statuses reachable in one step from from.
func (s *Schema) Transitions(from entity.Status) []entity.Status {
	return append([]entity.Status(nil), s.transitions[from]...)
}

// CanTransition reports whether from -> to is a declared edge.
func (s *Schema) CanTransition(from, to entity.Status) bool {
	for _, next := range s.transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
