package store

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Guard claims a unique value for an entity on the constraint table.
type Guard struct {
	// Kind is the entity kind owning the value (e.g. "user").
	Kind string

	// Field is the unique field name (e.g. "email").
	Field string

	// Value is the claimed value.
	Value string

	// EntityRef is the claiming entity's reference (e.g. "user#uuid").
	EntityRef string
}

// PutInput is an unconditional item write with optional unique guards.
type PutInput struct {
	Table  string
	Item   Item
	Guards []Guard
}

// QueryInput is a single-page partition key equality query on an index.
type QueryInput struct {
	Table string

	// Index is the GSI to query.
	Index string

	// KeyAttribute and KeyValue form the partition key condition.
	KeyAttribute string
	KeyValue     string

	// Limit caps the items evaluated per page (0 = store default).
	Limit int32

	// StartKey resumes after a previous page's LastEvaluatedKey.
	StartKey Item
}

// ScanInput is a single-page full table scan.
type ScanInput struct {
	Table    string
	Limit    int32
	StartKey Item
}

// Page is one page of read results.
type Page struct {
	Items []Item

	// LastEvaluatedKey is nil when the read is exhausted.
	LastEvaluatedKey Item
}

// Assignment sets the value at a document path.
type Assignment struct {
	// Path is the attribute path from the item root, one segment per name.
	Path  []string
	Value types.AttributeValue
}

// UpdateInput sets and removes paths on an existing item.
type UpdateInput struct {
	Table string
	Key   PK
	Set   []Assignment

	// Remove lists attribute paths to delete (e.g. an emptied tag set).
	Remove [][]string
}
