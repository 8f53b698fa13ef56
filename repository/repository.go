// Package repository is the entity repository: it validates writes against
// the kind's schema, plans reads onto the declared indexes, post-filters
// the residual predicates and paginates with signed continuation tokens.
// Every store call goes through the retry executor.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/vishallnvk/knowlio/cursor"
	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/internal/metrics"
	"github.com/vishallnvk/knowlio/retry"
	"github.com/vishallnvk/knowlio/schema"
	"github.com/vishallnvk/knowlio/store"
)

// DocumentStore is the partitioned document store the repository reads
// and writes. *store.Store implements it.
type DocumentStore interface {
	Put(ctx context.Context, in store.PutInput) error
	Get(ctx context.Context, table string, key store.PK) (store.Item, error)
	Query(ctx context.Context, in store.QueryInput) (store.Page, error)
	Scan(ctx context.Context, in store.ScanInput) (store.Page, error)
	Update(ctx context.Context, in store.UpdateInput) (store.Item, error)
}

var _ DocumentStore = (*store.Store)(nil)

// Page is one page of list or search results.
type Page struct {
	Items []*entity.Entity

	// NextToken resumes after the last item. Empty when HasMore is false.
	NextToken string
	HasMore   bool
}

// Repository serves one entity kind.
type Repository struct {
	store  DocumentStore
	schema *schema.Schema
	codec  *cursor.Codec

	exec         *retry.Executor
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	metrics      *metrics.Metrics
	defaultLimit int
	maxLimit     int
	pageBudget   int
	strictUnique bool
}

// New creates a repository for the kind described by s.
func New(st DocumentStore, s *schema.Schema, codec *cursor.Codec, opts ...Option) (*Repository, error) {
	if st == nil {
		return nil, errors.New("repository: nil document store")
	}
	if s == nil {
		return nil, errors.New("repository: nil schema")
	}
	if codec == nil {
		return nil, errors.New("repository: nil cursor codec")
	}

	r := &Repository{
		store:        st,
		schema:       s,
		codec:        codec,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       slog.Default(),
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		pageBudget:   DefaultPageBudget,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.exec == nil {
		r.exec = retry.New(retry.DefaultPolicy, store.Classify,
			retry.WithLogger(r.logger), retry.WithRecorder(r.metrics))
	}
	return r, nil
}

// Kind returns the entity kind the repository serves.
func (r *Repository) Kind() entity.Kind { return r.schema.Kind() }

// Schema returns the kind's schema.
func (r *Repository) Schema() *schema.Schema { return r.schema }

// Create validates fields and stores a new entity.
func (r *Repository) Create(ctx context.Context, fields document.Map) (e *entity.Entity, err error) {
	defer r.observe("create", time.Now(), &err)

	e, err = r.schema.ValidateCreate(fields)
	if err != nil {
		return nil, err
	}
	if err := r.checkUnique(ctx, e); err != nil {
		return nil, err
	}

	now := r.timestamp()
	e.ID = r.newID()
	e.CreatedAt = now
	e.UpdatedAt = now

	in := store.PutInput{Table: r.schema.Table(), Item: e.ToItem()}
	if r.strictUnique {
		in.Guards = r.guards(e)
	}

	_, err = r.exec.Do(ctx, r.op("put"), func(ctx context.Context) error {
		return r.store.Put(ctx, in)
	})
	if errors.Is(err, store.ErrDuplicateValue) {
		return nil, r.guardConflict(e)
	}
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "entity created", "kind", e.Kind, "id", e.ID)
	return e, nil
}

// checkUnique looks each unique field up on its index. The check and the
// put are not atomic; strict uniqueness adds the transactional guard.
func (r *Repository) checkUnique(ctx context.Context, e *entity.Entity) error {
	for _, f := range r.schema.UniqueFields() {
		v, ok := e.Attributes[f.Name]
		if !ok {
			continue
		}
		value := v.Text()

		page, _, err := retry.Run(ctx, r.exec, r.op("query"), func(ctx context.Context) (store.Page, error) {
			return r.store.Query(ctx, store.QueryInput{
				Table:        r.schema.Table(),
				Index:        f.Index,
				KeyAttribute: f.Name,
				KeyValue:     value,
				Limit:        1,
			})
		})
		if err != nil {
			return err
		}
		if len(page.Items) > 0 {
			return &errs.ConflictError{Field: f.Name, Value: value}
		}
	}
	return nil
}

func (r *Repository) guards(e *entity.Entity) []store.Guard {
	var guards []store.Guard
	for _, f := range r.schema.UniqueFields() {
		if v, ok := e.Attributes[f.Name]; ok {
			guards = append(guards, store.Guard{
				Kind:      string(e.Kind),
				Field:     f.Name,
				Value:     v.Text(),
				EntityRef: e.Ref(),
			})
		}
	}
	return guards
}

// guardConflict names the unique field behind a failed guard. The store
// does not say which guard failed when there are several.
func (r *Repository) guardConflict(e *entity.Entity) error {
	for _, f := range r.schema.UniqueFields() {
		if v, ok := e.Attributes[f.Name]; ok {
			return &errs.ConflictError{Field: f.Name, Value: v.Text()}
		}
	}
	return &errs.ConflictError{}
}

// Get returns the entity with the given id.
func (r *Repository) Get(ctx context.Context, id string) (e *entity.Entity, err error) {
	defer r.observe("get", time.Now(), &err)
	return r.get(ctx, id)
}

func (r *Repository) get(ctx context.Context, id string) (*entity.Entity, error) {
	if id == "" {
		return nil, errs.Invalid(entity.FieldID, "non-empty id", "id is required")
	}

	item, _, err := retry.Run(ctx, r.exec, r.op("get"), func(ctx context.Context) (store.Item, error) {
		return r.store.Get(ctx, r.schema.Table(), r.key(id))
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &errs.NotFoundError{Kind: string(r.schema.Kind()), ID: id}
	}
	if err != nil {
		return nil, err
	}
	return r.decode("get", item)
}

// UpdateAttribute sets one attribute, addressed by a top-level name or a
// dot path below metadata. Sibling values are left untouched.
func (r *Repository) UpdateAttribute(ctx context.Context, id, path string, value document.Value) (e *entity.Entity, err error) {
	defer r.observe("update", time.Now(), &err)

	u, err := r.schema.ValidateUpdate(path, value)
	if err != nil {
		return nil, err
	}
	current, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	in := store.UpdateInput{
		Table: r.schema.Table(),
		Key:   r.key(id),
		Set:   []store.Assignment{r.touch(current)},
	}

	switch u.Field() {
	case entity.FieldTags:
		items, _ := u.Value.AsList()
		if len(items) == 0 {
			in.Remove = [][]string{{entity.FieldTags}}
			break
		}
		tags := make([]string, len(items))
		for i, item := range items {
			tags[i], _ = item.AsString()
		}
		in.Set = append(in.Set, store.Assignment{
			Path:  []string{entity.FieldTags},
			Value: &types.AttributeValueMemberSS{Value: tags},
		})
	default:
		a, err := assignment(current, u)
		if err != nil {
			return nil, err
		}
		in.Set = append(in.Set, a)
	}

	return r.update(ctx, id, in)
}

// assignment converts a validated update into a store assignment at the
// shallowest path that does not exist yet, nesting the value below it.
func assignment(current *entity.Entity, u schema.Update) (store.Assignment, error) {
	root := document.Map{entity.FieldMetadata: document.Object(current.Metadata)}
	for k, v := range current.Attributes {
		root[k] = v
	}

	n := root.Existing(u.Path)
	switch {
	case n == len(u.Path):
		n--
	case n > 0:
		// Stored values are not typed below metadata, so a scalar may sit
		// where the path expects a map.
		if parent, _ := root.Lookup(u.Path[:n]); parent.Type() != document.TypeMap {
			return store.Assignment{}, errs.Invalid(u.Path.String(), "map at "+u.Path[:n].String(),
				u.Path[:n].String()+" is a "+parent.Type().String()+" value")
		}
	}

	return store.Assignment{
		Path:  []string(u.Path[:n+1]),
		Value: document.ToAttributeValue(document.Nest(u.Path[n+1:], u.Value)),
	}, nil
}

// Replace overwrites every caller-writable field. Identity, owner and
// creation time are kept; a status change must follow the transition
// graph and unique fields must keep their values.
func (r *Repository) Replace(ctx context.Context, id string, fields document.Map) (e *entity.Entity, err error) {
	defer r.observe("replace", time.Now(), &err)

	next, err := r.schema.ValidateReplace(fields)
	if err != nil {
		return nil, err
	}
	current, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case next.OwnerKey == "":
		next.OwnerKey = current.OwnerKey
	case next.OwnerKey != current.OwnerKey:
		return nil, errs.Invalid(entity.FieldOwnerKey, current.OwnerKey, "owner key is immutable")
	}

	switch {
	case next.Status == "":
		next.Status = current.Status
	case next.Status != current.Status && !r.schema.CanTransition(current.Status, next.Status):
		return nil, r.transitionError(current.Status, next.Status)
	}

	for _, f := range r.schema.UniqueFields() {
		was, had := current.Attributes[f.Name]
		now, has := next.Attributes[f.Name]
		if had && !has {
			next.Attributes[f.Name] = was
			continue
		}
		if has && (!had || !now.Equal(was)) {
			return nil, errs.Invalid(f.Name, "", "unique fields are immutable")
		}
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = later(r.timestamp(), current.UpdatedAt)

	in := store.PutInput{Table: r.schema.Table(), Item: next.ToItem()}
	_, err = r.exec.Do(ctx, r.op("put"), func(ctx context.Context) error {
		return r.store.Put(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// TransitionStatus moves the entity to status along the kind's graph.
func (r *Repository) TransitionStatus(ctx context.Context, id, status string) (e *entity.Entity, err error) {
	defer r.observe("transition", time.Now(), &err)

	to, err := r.schema.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	current, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.schema.CanTransition(current.Status, to) {
		return nil, r.transitionError(current.Status, to)
	}

	return r.update(ctx, id, store.UpdateInput{
		Table: r.schema.Table(),
		Key:   r.key(id),
		Set: []store.Assignment{
			r.touch(current),
			{Path: []string{entity.FieldStatus}, Value: &types.AttributeValueMemberS{Value: string(to)}},
		},
	})
}

func (r *Repository) transitionError(from, to entity.Status) error {
	allowed := r.schema.Transitions(from)
	names := make([]string, len(allowed))
	for i, st := range allowed {
		names[i] = string(st)
	}
	expected := "no further transitions"
	if len(names) > 0 {
		expected = fmt.Sprintf("one of %v", names)
	}
	return errs.Invalid(entity.FieldStatus, expected, fmt.Sprintf("transition %s -> %s is not allowed", from, to))
}

func (r *Repository) update(ctx context.Context, id string, in store.UpdateInput) (*entity.Entity, error) {
	item, _, err := retry.Run(ctx, r.exec, r.op("update"), func(ctx context.Context) (store.Item, error) {
		return r.store.Update(ctx, in)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &errs.NotFoundError{Kind: string(r.schema.Kind()), ID: id}
	}
	if err != nil {
		return nil, err
	}
	return r.decode("update", item)
}

// touch refreshes updated_at, never moving it backwards.
func (r *Repository) touch(current *entity.Entity) store.Assignment {
	at := later(r.timestamp(), current.UpdatedAt)
	return store.Assignment{
		Path:  []string{entity.FieldUpdatedAt},
		Value: &types.AttributeValueMemberS{Value: entity.FormatTime(at)},
	}
}

func (r *Repository) decode(op string, item store.Item) (*entity.Entity, error) {
	e, err := entity.FromItem(item)
	if err != nil {
		return nil, &errs.StoreError{Op: r.op(op), Cause: err}
	}
	return e, nil
}

func (r *Repository) key(id string) store.PK {
	return store.PK{entity.FieldID: &types.AttributeValueMemberS{Value: id}}
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC()
}

func (r *Repository) op(name string) string {
	return string(r.schema.Kind()) + "." + name
}

func (r *Repository) observe(op string, start time.Time, err *error) {
	result := "ok"
	if *err != nil {
		result = string(errs.KindOf(*err))
	}
	r.metrics.Observe(string(r.schema.Kind()), op, result, time.Since(start))
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
