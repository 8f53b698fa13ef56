package repository

import (
	"context"
	"time"

	"github.com/vishallnvk/knowlio/cursor"
	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/query"
	"github.com/vishallnvk/knowlio/retry"
	"github.com/vishallnvk/knowlio/store"
)

// ListByOwner pages through the entities of one owner in creation order.
func (r *Repository) ListByOwner(ctx context.Context, ownerKey, token string, limit int) (p Page, err error) {
	defer r.observe("list_by_owner", time.Now(), &err)

	if ownerKey == "" {
		return Page{}, errs.Invalid(entity.FieldOwnerKey, "string", "must not be empty")
	}
	return r.list(ctx, query.Filters{OwnerKey: ownerKey}, token, limit)
}

// Search pages through the entities matching every filter. See
// query.ParseFilters for the accepted filter keys.
func (r *Repository) Search(ctx context.Context, filters document.Map, token string, limit int) (p Page, err error) {
	defer r.observe("search", time.Now(), &err)

	f, err := query.ParseFilters(r.schema, filters)
	if err != nil {
		return Page{}, err
	}
	return r.list(ctx, f, token, limit)
}

type match struct {
	entity *entity.Entity
	item   store.Item
}

// list reads planned store pages until it holds limit+1 matches, the read
// is exhausted or the page budget runs out.
func (r *Repository) list(ctx context.Context, f query.Filters, token string, limit int) (Page, error) {
	limit = r.clamp(limit)
	plan := query.Build(r.schema, f)

	var start store.Item
	if token != "" {
		state, err := r.codec.Decode(token)
		if err != nil {
			return Page{}, err
		}
		if state.Index != plan.IndexName() {
			return Page{}, &errs.InvalidTokenError{Reason: "token was issued for a different query"}
		}
		start = state.Position
	}

	r.logger.DebugContext(ctx, "planned read",
		"kind", r.schema.Kind(),
		"operation", plan.Operation.String(),
		"index", plan.IndexName(),
		"residual", len(plan.Residual),
	)

	var (
		matched  []match
		rejected int
		pages    int
		resume   store.Item
	)
	for {
		page, err := r.fetch(ctx, plan, start, limit+1)
		if err != nil {
			return Page{}, err
		}
		pages++

		for _, item := range page.Items {
			e, err := r.decode("list", item)
			if err != nil {
				return Page{}, err
			}
			if !query.Match(e, plan.Residual) {
				rejected++
				continue
			}
			matched = append(matched, match{entity: e, item: item})
			if len(matched) > limit {
				break
			}
		}

		if len(matched) > limit || page.LastEvaluatedKey == nil {
			break
		}
		start = page.LastEvaluatedKey
		if pages >= r.pageBudget {
			resume = page.LastEvaluatedKey
			break
		}
	}
	r.metrics.Rejected(string(r.schema.Kind()), rejected)

	out := Page{}
	switch {
	case len(matched) > limit:
		matched = matched[:limit]
		resume = plan.Position(matched[limit-1].item)
	case resume != nil:
		r.logger.WarnContext(ctx, "read budget exhausted",
			"kind", r.schema.Kind(), "pages", pages, "matched", len(matched))
	}

	out.Items = make([]*entity.Entity, len(matched))
	for i, m := range matched {
		out.Items[i] = m.entity
	}
	if resume != nil {
		next, err := r.codec.Encode(cursor.State{Index: plan.IndexName(), Position: resume})
		if err != nil {
			return Page{}, &errs.StoreError{Op: r.op("list"), Cause: err}
		}
		out.NextToken = next
		out.HasMore = true
	}
	return out, nil
}

func (r *Repository) fetch(ctx context.Context, plan query.Plan, start store.Item, limit int) (store.Page, error) {
	if plan.Operation == query.OpQuery {
		in := store.QueryInput{
			Table:        r.schema.Table(),
			Index:        plan.Index.Name,
			KeyAttribute: plan.KeyCondition.Attribute,
			KeyValue:     plan.KeyCondition.Value,
			Limit:        int32(limit),
			StartKey:     start,
		}
		page, _, err := retry.Run(ctx, r.exec, r.op("query"), func(ctx context.Context) (store.Page, error) {
			return r.store.Query(ctx, in)
		})
		return page, err
	}

	in := store.ScanInput{
		Table:    r.schema.Table(),
		Limit:    int32(limit),
		StartKey: start,
	}
	page, _, err := retry.Run(ctx, r.exec, r.op("scan"), func(ctx context.Context) (store.Page, error) {
		return r.store.Scan(ctx, in)
	})
	return page, err
}

func (r *Repository) clamp(limit int) int {
	switch {
	case limit <= 0:
		return r.defaultLimit
	case limit > r.maxLimit:
		return r.maxLimit
	}
	return limit
}
