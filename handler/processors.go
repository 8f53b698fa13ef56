package handler

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/repository"
)

// Entities is the repository surface the processors use.
// *repository.Repository implements it.
type Entities interface {
	Kind() entity.Kind
	Create(ctx context.Context, fields document.Map) (*entity.Entity, error)
	Get(ctx context.Context, id string) (*entity.Entity, error)
	UpdateAttribute(ctx context.Context, id, path string, value document.Value) (*entity.Entity, error)
	Replace(ctx context.Context, id string, fields document.Map) (*entity.Entity, error)
	ListByOwner(ctx context.Context, ownerKey, token string, limit int) (repository.Page, error)
	Search(ctx context.Context, filters document.Map, token string, limit int) (repository.Page, error)
	TransitionStatus(ctx context.Context, id, status string) (*entity.Entity, error)
}

var _ Entities = (*repository.Repository)(nil)

// Repositories holds one repository per kind.
type Repositories struct {
	Users     Entities
	Content   Entities
	Licenses  Entities
	UsageLogs Entities
}

func (r Repositories) validate() error {
	if r.Users == nil || r.Content == nil || r.Licenses == nil || r.UsageLogs == nil {
		return errors.New("handler: every repository is required")
	}
	return nil
}

// Pagination keys shared by every list action.
const (
	keyNextToken = "next_token"
	keyLimit     = "limit"
)

// listing is the response shape of list actions.
type listing struct {
	Items     []map[string]any `json:"items"`
	NextToken string           `json:"next_token,omitempty"`
	HasMore   bool             `json:"has_more"`
}

func render(p repository.Page) listing {
	items := make([]map[string]any, len(p.Items))
	for i, e := range p.Items {
		items[i] = e.Map()
	}
	return listing{Items: items, NextToken: p.NextToken, HasMore: p.HasMore}
}

func keys(required ...string) []*validation.KeyRules {
	rules := make([]*validation.KeyRules, 0, len(required))
	for _, k := range required {
		rules = append(rules, validation.Key(k, validation.Required.Error("is required")))
	}
	return rules
}

func text(p document.Map, key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	return v.Text()
}

func pageArgs(p document.Map) (string, int) {
	limit := 0
	if v, ok := p[keyLimit]; ok {
		if n, ok := v.AsNumber(); ok {
			limit = int(n.IntPart())
		}
	}
	return text(p, keyNextToken), limit
}

// fields copies the payload into entity fields, renaming aliases and
// dropping control keys.
func fields(p document.Map, rename map[string]string, drop ...string) document.Map {
	out := make(document.Map, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range append(drop, keyNextToken, keyLimit) {
		delete(out, k)
	}
	for from, to := range rename {
		if v, ok := out[from]; ok {
			delete(out, from)
			out[to] = v
		}
	}
	return out
}

func mapArg(p document.Map, key string) (document.Map, error) {
	v, ok := p[key]
	if !ok {
		return document.Map{}, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, errs.Invalid(key, "map", "got "+v.Type().String())
	}
	return m, nil
}

// applyUpdates writes each update as a single-attribute write, in key
// order. The writes are not atomic; a failure leaves earlier ones applied.
func applyUpdates(ctx context.Context, repo Entities, id string, updates document.Map) (*entity.Entity, error) {
	if len(updates) == 0 {
		return nil, errs.Invalid("updates", "non-empty map", "no updates given")
	}
	var e *entity.Entity
	for _, path := range updates.Keys() {
		var err error
		if e, err = repo.UpdateAttribute(ctx, id, path, updates[path]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// owned loads an entity and checks that the caller owns it through field
// (owner_key or an attribute). Administrators own everything.
func owned(ctx context.Context, repo Entities, req Request, id, field string) (*entity.Entity, error) {
	e, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if HasRole(entity.TypeTag(req.Caller.Role), entity.TagAdmin) {
		return e, nil
	}
	if v, ok := e.Field(field); ok && v.Text() == req.Caller.ID && req.Caller.ID != "" {
		return e, nil
	}
	return nil, &errs.ForbiddenError{Action: req.Action, Reason: "caller does not own " + e.Ref()}
}

// generic exposes the repository operations under their own names.
func generic(repo Entities) Processor {
	return Processor{
		"create": {
			Allow: admin,
			Keys:  keys("fields"),
			Run: func(ctx context.Context, req Request) (any, error) {
				f, err := mapArg(req.Payload, "fields")
				if err != nil {
					return nil, err
				}
				return entityResult(repo.Create(ctx, f))
			},
		},
		"get": {
			Allow: Authenticated(),
			Keys:  keys("id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				return entityResult(repo.Get(ctx, text(req.Payload, "id")))
			},
		},
		"update_attribute": {
			Allow: admin,
			Keys:  append(keys("id", "path"), validation.Key("value")),
			Run: func(ctx context.Context, req Request) (any, error) {
				p := req.Payload
				return entityResult(repo.UpdateAttribute(ctx, text(p, "id"), text(p, "path"), p["value"]))
			},
		},
		"replace": {
			Allow: admin,
			Keys:  keys("id", "fields"),
			Run: func(ctx context.Context, req Request) (any, error) {
				f, err := mapArg(req.Payload, "fields")
				if err != nil {
					return nil, err
				}
				return entityResult(repo.Replace(ctx, text(req.Payload, "id"), f))
			},
		},
		"transition_status": {
			Allow: admin,
			Keys:  keys("id", "status"),
			Run: func(ctx context.Context, req Request) (any, error) {
				p := req.Payload
				return entityResult(repo.TransitionStatus(ctx, text(p, "id"), text(p, "status")))
			},
		},
		"list_by_owner": {
			Allow: Authenticated(),
			Keys:  keys("owner_key"),
			Run: func(ctx context.Context, req Request) (any, error) {
				token, limit := pageArgs(req.Payload)
				return pageResult(repo.ListByOwner(ctx, text(req.Payload, "owner_key"), token, limit))
			},
		},
		"search": {
			Allow: Authenticated(),
			Keys:  []*validation.KeyRules{validation.Key("filters").Optional()},
			Run: func(ctx context.Context, req Request) (any, error) {
				f, err := mapArg(req.Payload, "filters")
				if err != nil {
					return nil, err
				}
				token, limit := pageArgs(req.Payload)
				return pageResult(repo.Search(ctx, f, token, limit))
			},
		},
	}
}

func entityResult(e *entity.Entity, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return e.Map(), nil
}

func pageResult(p repository.Page, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return render(p), nil
}

// merge adds named actions to a generic processor.
func merge(base Processor, named Processor) Processor {
	for name, act := range named {
		base[name] = act
	}
	return base
}
