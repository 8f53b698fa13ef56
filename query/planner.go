package query

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/schema"
)

// Operation is the store read a plan issues.
type Operation int

const (
	OpScan Operation = iota
	OpQuery
)

func (o Operation) String() string {
	if o == OpQuery {
		return "query"
	}
	return "scan"
}

// KeyCondition is a partition key equality on an index.
type KeyCondition struct {
	Attribute string
	Value     string
}

// Plan is the chosen read and the predicates left to evaluate after it.
type Plan struct {
	Operation    Operation
	Index        schema.Index
	KeyCondition KeyCondition
	Residual     []Predicate
}

// Build plans a read for f. Index precedence is fixed: owner, type tag,
// status, then a full scan. Only declared indexes are used, so the same
// filter set always yields the same plan for a kind.
func Build(s *schema.Schema, f Filters) Plan {
	var plan Plan
	consumed := ""

	candidates := []struct {
		value string
		index func() (schema.Index, bool)
	}{
		{f.OwnerKey, s.OwnerIndex},
		{string(f.TypeTag), s.TypeIndex},
		{string(f.Status), s.StatusIndex},
	}
	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		idx, ok := c.index()
		if !ok {
			continue
		}
		plan.Operation = OpQuery
		plan.Index = idx
		plan.KeyCondition = KeyCondition{Attribute: idx.Partition, Value: c.value}
		consumed = idx.Partition
		break
	}

	plan.Residual = residual(s, f, consumed)
	return plan
}

// residual lists the predicates not answered by the key condition, cheapest
// first so matching can stop early.
func residual(s *schema.Schema, f Filters, consumed string) []Predicate {
	var preds []Predicate

	for _, eq := range []struct{ field, value string }{
		{entity.FieldOwnerKey, f.OwnerKey},
		{entity.FieldTypeTag, string(f.TypeTag)},
		{entity.FieldStatus, string(f.Status)},
	} {
		if eq.value != "" && eq.field != consumed {
			preds = append(preds, Predicate{Kind: Equals, Field: eq.field, Value: eq.value})
		}
	}

	if len(f.Tags) > 0 {
		preds = append(preds, Predicate{Kind: Intersects, Field: entity.FieldTags, Tags: f.Tags})
	}

	for _, name := range sortedKeys(f.Attributes) {
		kind := Contains
		if field, ok := s.Field(name); ok && (field.Exact || len(field.Enum) > 0 || field.Type != document.TypeString) {
			kind = Equals
		}
		preds = append(preds, Predicate{Kind: kind, Field: name, Value: f.Attributes[name]})
	}

	for _, path := range sortedKeys(f.Metadata) {
		preds = append(preds, Predicate{Kind: PathEquals, Field: entity.FieldMetadata, Path: document.Path(strings.Split(path, ".")), Value: f.Metadata[path]})
	}

	return preds
}

// Position extracts the resume position of a stored item under the plan:
// the table key plus the index key attributes when querying an index.
func (p Plan) Position(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	pos := make(map[string]types.AttributeValue, 3)
	keys := []string{entity.FieldID}
	if p.Operation == OpQuery {
		keys = append(keys, p.Index.Partition)
		if p.Index.Sort != "" {
			keys = append(keys, p.Index.Sort)
		}
	}
	for _, k := range keys {
		if v, ok := item[k]; ok {
			pos[k] = v
		}
	}
	return pos
}

// IndexName is the index the plan reads, or "" for a scan.
func (p Plan) IndexName() string {
	if p.Operation == OpQuery {
		return p.Index.Name
	}
	return ""
}
