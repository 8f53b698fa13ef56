// Package memstore is an in-memory document store with DynamoDB read and
// write semantics, used in tests in place of store.Store.
//
// Index queries return items in ascending (sort key, id) order and scans in
// id order. A page ends after Limit items, and the LastEvaluatedKey is set
// whenever a page is full, as DynamoDB does. Faults can be injected per
// operation.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shopspring/decimal"

	"github.com/vishallnvk/knowlio/internal/shard"
	"github.com/vishallnvk/knowlio/schema"
	"github.com/vishallnvk/knowlio/store"
)

// Operation names used for fault injection and call counts.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpQuery  = "query"
	OpScan   = "scan"
	OpUpdate = "update"
)

type index struct {
	partition string
	sort      string
}

type fault struct {
	err       error
	remaining int
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	tables   map[string]map[string]store.Item
	indexes  map[string]map[string]index
	guards   map[string]string
	faults   map[string][]*fault
	calls    map[string]int
	pageSize int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:  make(map[string]map[string]store.Item),
		indexes: make(map[string]map[string]index),
		guards:  make(map[string]string),
		faults:  make(map[string][]*fault),
		calls:   make(map[string]int),
	}
}

// NewForRegistry creates a store with every index the registry declares,
// including the lookup indexes of unique fields.
func NewForRegistry(reg *schema.Registry) *Store {
	m := New()
	for _, kind := range reg.Kinds() {
		s, _ := reg.Schema(kind)
		for _, lookup := range []func() (schema.Index, bool){s.OwnerIndex, s.TypeIndex, s.StatusIndex} {
			if idx, ok := lookup(); ok {
				m.AddIndex(s.Table(), idx)
			}
		}
		for _, f := range s.UniqueFields() {
			m.AddIndex(s.Table(), schema.Index{Name: f.Index, Partition: f.Name})
		}
	}
	return m
}

// AddIndex declares a secondary index on a table.
func (m *Store) AddIndex(table string, idx schema.Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexes[table] == nil {
		m.indexes[table] = make(map[string]index)
	}
	m.indexes[table][idx.Name] = index{partition: idx.Partition, sort: idx.Sort}
}

// SetPageSize caps the items of every page below the requested limit,
// like DynamoDB's 1 MB page cap. Zero removes the cap.
func (m *Store) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageSize = n
}

// FailNext makes the next n calls of op fail with err.
func (m *Store) FailNext(op string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], &fault{err: err, remaining: n})
}

// Calls returns how many times op was invoked, failed calls included.
func (m *Store) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len returns the number of items in a table.
func (m *Store) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Throttled returns the fault DynamoDB raises when throughput is exceeded.
func Throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: strPtr("The level of configured provisioned throughput for the table was exceeded")}
}

func strPtr(s string) *string { return &s }

// enter counts the call and returns an injected fault, if any. The caller
// holds mu.
func (m *Store) enter(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	queue := m.faults[op]
	for len(queue) > 0 {
		f := queue[0]
		if f.remaining <= 0 {
			queue = queue[1:]
			continue
		}
		f.remaining--
		m.faults[op] = queue
		return f.err
	}
	m.faults[op] = queue
	return nil
}

// Put writes an item. Guards are claimed atomically with the write.
func (m *Store) Put(ctx context.Context, in store.PutInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPut); err != nil {
		return err
	}

	id, err := keyOf(in.Item)
	if err != nil {
		return err
	}

	pks := make([]string, len(in.Guards))
	for i, g := range in.Guards {
		pk := shard.UniqueConstraintPK(g.Kind, g.Field, g.Value)
		if owner, ok := m.guards[pk]; ok && owner != g.EntityRef {
			return store.ErrDuplicateValue
		}
		pks[i] = pk
	}
	for i, pk := range pks {
		m.guards[pk] = in.Guards[i].EntityRef
	}

	if m.tables[in.Table] == nil {
		m.tables[in.Table] = make(map[string]store.Item)
	}
	m.tables[in.Table][id] = copyItem(in.Item)
	return nil
}

// Get returns a copy of the item.
func (m *Store) Get(ctx context.Context, table string, key store.PK) (store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpGet); err != nil {
		return nil, err
	}

	id, err := keyOf(key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyItem(item), nil
}

// Query reads one page of an index partition.
func (m *Store) Query(ctx context.Context, in store.QueryInput) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpQuery); err != nil {
		return store.Page{}, err
	}

	idx, ok := m.indexes[in.Table][in.Index]
	if !ok {
		return store.Page{}, validation(fmt.Sprintf("The table does not have the specified index: %s", in.Index))
	}
	if idx.partition != in.KeyAttribute {
		return store.Page{}, validation("Query condition missed key schema element: " + idx.partition)
	}

	var matched []store.Item
	for _, item := range m.tables[in.Table] {
		if v, ok := item[idx.partition].(*types.AttributeValueMemberS); ok && v.Value == in.KeyValue {
			if idx.sort != "" {
				if _, ok := item[idx.sort]; !ok {
					continue // sparse index
				}
			}
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j], idx.sort) })

	keys := []string{"id", idx.partition}
	if idx.sort != "" {
		keys = append(keys, idx.sort)
	}
	return m.page(matched, in.StartKey, int(in.Limit), idx.sort, keys), nil
}

// Scan reads one page of the table in id order.
func (m *Store) Scan(ctx context.Context, in store.ScanInput) (store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpScan); err != nil {
		return store.Page{}, err
	}

	items := make([]store.Item, 0, len(m.tables[in.Table]))
	for _, item := range m.tables[in.Table] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j], "") })

	return m.page(items, in.StartKey, int(in.Limit), "", []string{"id"}), nil
}

// page cuts one page from ordered items, resuming strictly after start.
func (m *Store) page(ordered []store.Item, start store.Item, limit int, sortAttr string, keys []string) store.Page {
	from := 0
	if start != nil {
		from = sort.Search(len(ordered), func(i int) bool { return less(start, ordered[i], sortAttr) })
	}
	if m.pageSize > 0 && (limit <= 0 || m.pageSize < limit) {
		limit = m.pageSize
	}

	rest := ordered[from:]
	if limit <= 0 || len(rest) < limit {
		return store.Page{Items: copyItems(rest)}
	}

	out := rest[:limit]
	last := out[len(out)-1]
	lek := make(store.Item, len(keys))
	for _, k := range keys {
		if v, ok := last[k]; ok {
			lek[k] = copyValue(v)
		}
	}
	return store.Page{Items: copyItems(out), LastEvaluatedKey: lek}
}

// Update sets paths on an existing item. Like DynamoDB, every parent of an
// assigned path must already exist as a map.
func (m *Store) Update(ctx context.Context, in store.UpdateInput) (store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpUpdate); err != nil {
		return nil, err
	}

	id, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	current, ok := m.tables[in.Table][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(in.Set) == 0 {
		return nil, fmt.Errorf("knowlio: update without assignments")
	}

	next := copyItem(current)
	for _, a := range in.Set {
		if err := assign(next, a.Path, copyValue(a.Value)); err != nil {
			return nil, err
		}
	}
	for _, path := range in.Remove {
		unassign(next, path)
	}
	m.tables[in.Table][id] = next
	return copyItem(next), nil
}

func assign(item store.Item, path []string, v types.AttributeValue) error {
	if len(path) == 0 {
		return validation("The document path provided in the update expression is invalid for update")
	}
	cur := item
	for _, seg := range path[:len(path)-1] {
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return validation("The document path provided in the update expression is invalid for update")
		}
		cur = m.Value
	}
	cur[path[len(path)-1]] = v
	return nil
}

func unassign(item store.Item, path []string) {
	if len(path) == 0 {
		return
	}
	cur := item
	for _, seg := range path[:len(path)-1] {
		m, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		cur = m.Value
	}
	delete(cur, path[len(path)-1])
}

func validation(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg, Fault: smithy.FaultClient}
}

func keyOf(item map[string]types.AttributeValue) (string, error) {
	v, ok := item["id"].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return "", validation("One of the required keys was not given a value")
	}
	return v.Value, nil
}

// less orders items by sort attribute, then id.
func less(a, b store.Item, sortAttr string) bool {
	if sortAttr != "" {
		if c := compare(a[sortAttr], b[sortAttr]); c != 0 {
			return c < 0
		}
	}
	return compare(a["id"], b["id"]) < 0
}

func compare(a, b types.AttributeValue) int {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(av.Value, bv.Value)
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			ad, _ := decimal.NewFromString(av.Value)
			bd, _ := decimal.NewFromString(bv.Value)
			return ad.Cmp(bd)
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return bytes.Compare(av.Value, bv.Value)
		}
	}
	return 0
}

func copyItems(items []store.Item) []store.Item {
	out := make([]store.Item, len(items))
	for i, item := range items {
		out[i] = copyItem(item)
	}
	return out
}

func copyItem(item map[string]types.AttributeValue) store.Item {
	out := make(store.Item, len(item))
	for k, v := range item {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: tv.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), tv.Value...)}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberL:
		items := make([]types.AttributeValue, len(tv.Value))
		for i, item := range tv.Value {
			items[i] = copyValue(item)
		}
		return &types.AttributeValueMemberL{Value: items}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: copyItem(tv.Value)}
	default:
		return v
	}
}
