// Package entity defines the generic record stored by the repository and
// the closed enumerations that classify it.
package entity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vishallnvk/knowlio/document"
)

// Kind selects the schema and table of an entity.
type Kind string

const (
	KindUser     Kind = "user"
	KindContent  Kind = "content"
	KindLicense  Kind = "license"
	KindUsageLog Kind = "usage_log"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{KindUser, KindContent, KindLicense, KindUsageLog}

// ParseKind resolves a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("entity: unknown kind %q", s)
}

// Status is the lifecycle state of an entity.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusActive      Status = "ACTIVE"
	StatusDeactivated Status = "DEACTIVATED"
	StatusDraft       Status = "DRAFT"
	StatusArchived    Status = "ARCHIVED"
	StatusRevoked     Status = "REVOKED"
	StatusExpired     Status = "EXPIRED"
	StatusRecorded    Status = "RECORDED"
)

// Statuses lists every status value.
var Statuses = []Status{
	StatusPending, StatusActive, StatusDeactivated, StatusDraft,
	StatusArchived, StatusRevoked, StatusExpired, StatusRecorded,
}

// ParseStatus resolves a status name. Matching is exact.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("entity: unknown status %q", s)
}

// TypeTag identifies the specialization of an entity within its kind:
// the role of a user, the media type of content, the grant of a license
// or the access type of a usage log.
type TypeTag string

const (
	TagAdmin     TypeTag = "ADMIN"
	TagPublisher TypeTag = "PUBLISHER"
	TagConsumer  TypeTag = "CONSUMER"

	TagBook    TypeTag = "BOOK"
	TagVideo   TypeTag = "VIDEO"
	TagAudio   TypeTag = "AUDIO"
	TagDataset TypeTag = "DATASET"
	TagText    TypeTag = "TEXT"

	TagStandard TypeTag = "STANDARD"
	TagRAG      TypeTag = "RAG"
	TagTraining TypeTag = "TRAINING"

	TagView     TypeTag = "VIEW"
	TagDownload TypeTag = "DOWNLOAD"
	TagStream   TypeTag = "STREAM"
)

// TypeTags lists every type tag value.
var TypeTags = []TypeTag{
	TagAdmin, TagPublisher, TagConsumer,
	TagBook, TagVideo, TagAudio, TagDataset, TagText,
	TagStandard, TagRAG, TagTraining,
	TagView, TagDownload, TagStream,
}

// ParseTypeTag resolves a type tag name. Matching is exact.
func ParseTypeTag(s string) (TypeTag, error) {
	for _, tt := range TypeTags {
		if string(tt) == s {
			return tt, nil
		}
	}
	return "", fmt.Errorf("entity: unknown type tag %q", s)
}

// Entity is the generic record persisted for every kind.
type Entity struct {
	ID       string
	Kind     Kind
	OwnerKey string
	TypeTag  TypeTag
	Status   Status
	Tags     []string

	// Attributes holds the kind-specific top-level fields (title, email...).
	Attributes document.Map

	// Metadata is the free-form nested tree.
	Metadata document.Map

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Common top-level field names shared by every kind.
const (
	FieldID        = "id"
	FieldKind      = "kind"
	FieldOwnerKey  = "owner_key"
	FieldTypeTag   = "type_tag"
	FieldStatus    = "status"
	FieldTags      = "tags"
	FieldMetadata  = "metadata"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Managed reports whether the field is maintained by the repository and
// may not be written by callers.
func Managed(field string) bool {
	switch field {
	case FieldID, FieldKind, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

// NormalizeTags trims, de-duplicates and sorts a tag set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Field returns the value of a top-level field, whether common or
// kind-specific. The bool is false when the field is absent.
func (e *Entity) Field(name string) (document.Value, bool) {
	switch name {
	case FieldID:
		return document.String(e.ID), true
	case FieldKind:
		return document.String(string(e.Kind)), true
	case FieldOwnerKey:
		return document.String(e.OwnerKey), e.OwnerKey != ""
	case FieldTypeTag:
		return document.String(string(e.TypeTag)), e.TypeTag != ""
	case FieldStatus:
		return document.String(string(e.Status)), e.Status != ""
	case FieldTags:
		items := make([]document.Value, len(e.Tags))
		for i, t := range e.Tags {
			items[i] = document.String(t)
		}
		return document.List(items...), len(e.Tags) > 0
	case FieldMetadata:
		return document.Object(e.Metadata), e.Metadata != nil
	case FieldCreatedAt:
		return document.String(formatTime(e.CreatedAt)), !e.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return document.String(formatTime(e.UpdatedAt)), !e.UpdatedAt.IsZero()
	}
	v, ok := e.Attributes[name]
	return v, ok
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Attributes = e.Attributes.Clone()
	c.Metadata = e.Metadata.Clone()
	return &c
}

// Ref returns the type-qualified reference (e.g., "content#uuid").
func (e *Entity) Ref() string {
	return string(e.Kind) + "#" + e.ID
}

// Map renders the entity as caller-facing fields.
func (e *Entity) Map() map[string]any {
	out := map[string]any{
		FieldID:        e.ID,
		FieldKind:      string(e.Kind),
		FieldStatus:    string(e.Status),
		FieldTags:      append([]string{}, e.Tags...),
		FieldMetadata:  e.Metadata.Interface(),
		FieldCreatedAt: formatTime(e.CreatedAt),
		FieldUpdatedAt: formatTime(e.UpdatedAt),
	}
	if e.OwnerKey != "" {
		out[FieldOwnerKey] = e.OwnerKey
	}
	if e.TypeTag != "" {
		out[FieldTypeTag] = string(e.TypeTag)
	}
	for k, v := range e.Attributes {
		out[k] = v.Interface()
	}
	return out
}
