package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vishallnvk/knowlio/document"
)

// TimeLayout is the stored timestamp format. It sorts lexicographically,
// which the secondary indexes rely on for their created_at sort key.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrMalformedItem is returned when a stored item cannot be decoded.
var ErrMalformedItem = errors.New("entity: malformed item")

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// FormatTime renders a timestamp in the stored layout.
func FormatTime(t time.Time) string { return formatTime(t) }

// ToItem encodes the entity as a DynamoDB item. Kind-specific attributes
// are flattened to the top level so they can back secondary indexes.
func (e *Entity) ToItem() map[string]types.AttributeValue {
	item := make(map[string]types.AttributeValue, len(e.Attributes)+9)
	for k, v := range e.Attributes {
		item[k] = document.ToAttributeValue(v)
	}

	item[FieldID] = &types.AttributeValueMemberS{Value: e.ID}
	item[FieldKind] = &types.AttributeValueMemberS{Value: string(e.Kind)}
	item[FieldStatus] = &types.AttributeValueMemberS{Value: string(e.Status)}
	item[FieldCreatedAt] = &types.AttributeValueMemberS{Value: formatTime(e.CreatedAt)}
	item[FieldUpdatedAt] = &types.AttributeValueMemberS{Value: formatTime(e.UpdatedAt)}

	// Index key attributes must be absent rather than empty.
	if e.OwnerKey != "" {
		item[FieldOwnerKey] = &types.AttributeValueMemberS{Value: e.OwnerKey}
	}
	if e.TypeTag != "" {
		item[FieldTypeTag] = &types.AttributeValueMemberS{Value: string(e.TypeTag)}
	}
	// DynamoDB rejects empty sets.
	if len(e.Tags) > 0 {
		item[FieldTags] = &types.AttributeValueMemberSS{Value: append([]string(nil), e.Tags...)}
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = document.Map{}
	}
	item[FieldMetadata] = &types.AttributeValueMemberM{Value: document.MapToAttributeValues(metadata)}

	return item
}

// FromItem decodes a stored item.
func FromItem(item map[string]types.AttributeValue) (*Entity, error) {
	e := &Entity{Attributes: document.Map{}, Metadata: document.Map{}}

	var err error
	if e.ID, err = stringAttr(item, FieldID, true); err != nil {
		return nil, err
	}
	kind, err := stringAttr(item, FieldKind, true)
	if err != nil {
		return nil, err
	}
	if e.Kind, err = ParseKind(kind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	status, err := stringAttr(item, FieldStatus, true)
	if err != nil {
		return nil, err
	}
	if e.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	if e.OwnerKey, err = stringAttr(item, FieldOwnerKey, false); err != nil {
		return nil, err
	}
	tag, err := stringAttr(item, FieldTypeTag, false)
	if err != nil {
		return nil, err
	}
	if tag != "" {
		if e.TypeTag, err = ParseTypeTag(tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
		}
	}
	if e.CreatedAt, err = timeAttr(item, FieldCreatedAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = timeAttr(item, FieldUpdatedAt); err != nil {
		return nil, err
	}

	if av, ok := item[FieldTags]; ok {
		var tags []string
		if err := attributevalue.Unmarshal(av, &tags); err != nil {
			return nil, fmt.Errorf("%w: tags: %v", ErrMalformedItem, err)
		}
		e.Tags = NormalizeTags(tags)
	}
	if av, ok := item[FieldMetadata]; ok {
		m, ok := av.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("%w: metadata is %T", ErrMalformedItem, av)
		}
		if e.Metadata, err = document.MapFromAttributeValues(m.Value); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedItem, err)
		}
	}

	for k, av := range item {
		switch k {
		case FieldID, FieldKind, FieldStatus, FieldOwnerKey, FieldTypeTag,
			FieldTags, FieldMetadata, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		v, err := document.FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
		}
		e.Attributes[k] = v
	}

	return e, nil
}

func stringAttr(item map[string]types.AttributeValue, key string, required bool) (string, error) {
	av, ok := item[key]
	if !ok {
		if required {
			return "", fmt.Errorf("%w: missing %s", ErrMalformedItem, key)
		}
		return "", nil
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrMalformedItem, key, av)
	}
	return s.Value, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := stringAttr(item, key, false)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedItem, key, err)
	}
	return t.UTC(), nil
}
