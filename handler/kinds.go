package handler

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
	"github.com/vishallnvk/knowlio/repository"
)

var (
	admin     = RequireRole(entity.TagAdmin)
	publisher = RequireRole(entity.TagPublisher)
	consumer  = RequireRole(entity.TagConsumer)
)

func (d *Dispatcher) userProcessor() Processor {
	users := d.repos.Users
	return merge(generic(users), Processor{
		"register_user": {
			// Self-registration may not grant administrator rights.
			Allow: Any(Requested("role", string(entity.TagPublisher), string(entity.TagConsumer)), admin),
			Keys: []*validation.KeyRules{
				validation.Key("email", validation.Required.Error("is required"), is.EmailFormat),
				validation.Key("role", validation.Required.Error("is required")),
			},
			Run: func(ctx context.Context, req Request) (any, error) {
				f := fields(req.Payload, map[string]string{"role": entity.FieldTypeTag})
				return entityResult(users.Create(ctx, f))
			},
		},
		"get_user_profile": {
			Allow: Any(Self("user_id"), admin),
			Keys:  keys("user_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				return entityResult(users.Get(ctx, text(req.Payload, "user_id")))
			},
		},
		"update_user_profile": {
			Allow: Any(admin, All(Self("user_id"), Untouched("updates", entity.FieldTypeTag, entity.FieldStatus, entity.FieldOwnerKey))),
			Keys:  keys("user_id", "updates"),
			Run: func(ctx context.Context, req Request) (any, error) {
				updates, err := mapArg(req.Payload, "updates")
				if err != nil {
					return nil, err
				}
				return entityResult(applyUpdates(ctx, users, text(req.Payload, "user_id"), updates))
			},
		},
		"list_users_by_role": {
			Allow: admin,
			Keys:  keys("role"),
			Run: func(ctx context.Context, req Request) (any, error) {
				token, limit := pageArgs(req.Payload)
				filters := document.Map{entity.FieldTypeTag: req.Payload["role"]}
				return pageResult(users.Search(ctx, filters, token, limit))
			},
		},
	})
}

func (d *Dispatcher) contentProcessor() Processor {
	content := d.repos.Content
	return merge(generic(content), Processor{
		"upload_content_metadata": {
			Allow: Any(admin, All(publisher, Self("publisher_id"))),
			Keys:  keys("publisher_id", "title", "type"),
			Run: func(ctx context.Context, req Request) (any, error) {
				f := fields(req.Payload, map[string]string{
					"publisher_id": entity.FieldOwnerKey,
					"type":         entity.FieldTypeTag,
				})
				return entityResult(content.Create(ctx, f))
			},
		},
		"upload_content_blob": {
			Allow: publisher,
			Keys:  keys("content_id", "file_key"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "content_id")
				current, err := owned(ctx, content, req, id, entity.FieldOwnerKey)
				if err != nil {
					return nil, err
				}
				e, err := content.UpdateAttribute(ctx, id, "file_key", req.Payload["file_key"])
				if err != nil {
					return nil, err
				}
				// Attaching the blob publishes a draft.
				if current.Status == entity.StatusDraft {
					e, err = content.TransitionStatus(ctx, id, string(entity.StatusActive))
				}
				return entityResult(e, err)
			},
		},
		"get_content_details": {
			Allow: Authenticated(),
			Keys:  keys("content_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				return entityResult(content.Get(ctx, text(req.Payload, "content_id")))
			},
		},
		"update_content_metadata": {
			Allow: publisher,
			Keys:  keys("content_id", "updates"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "content_id")
				if _, err := owned(ctx, content, req, id, entity.FieldOwnerKey); err != nil {
					return nil, err
				}
				updates, err := mapArg(req.Payload, "updates")
				if err != nil {
					return nil, err
				}
				return entityResult(applyUpdates(ctx, content, id, updates))
			},
		},
		"list_content_by_publisher": {
			Allow: Authenticated(),
			Keys:  keys("publisher_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				token, limit := pageArgs(req.Payload)
				return pageResult(content.ListByOwner(ctx, text(req.Payload, "publisher_id"), token, limit))
			},
		},
		"archive_content": {
			Allow: publisher,
			Keys:  keys("content_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "content_id")
				if _, err := owned(ctx, content, req, id, entity.FieldOwnerKey); err != nil {
					return nil, err
				}
				return entityResult(content.TransitionStatus(ctx, id, string(entity.StatusArchived)))
			},
		},
	})
}

func (d *Dispatcher) licenseProcessor() Processor {
	licenses, content := d.repos.Licenses, d.repos.Content
	return merge(generic(licenses), Processor{
		"create_license": {
			Allow: Any(admin, All(publisher, Self("publisher_id"))),
			Keys:  keys("content_id", "publisher_id", "consumer_id", "license_terms"),
			Run: func(ctx context.Context, req Request) (any, error) {
				c, err := content.Get(ctx, text(req.Payload, "content_id"))
				if err != nil {
					return nil, err
				}
				if c.OwnerKey != text(req.Payload, "publisher_id") {
					return nil, errs.Invalid("publisher_id", c.OwnerKey, "content belongs to another publisher")
				}
				f := fields(req.Payload, map[string]string{
					"consumer_id": entity.FieldOwnerKey,
					"type":        entity.FieldTypeTag,
				})
				return entityResult(licenses.Create(ctx, f))
			},
		},
		"get_license": {
			Allow: Authenticated(),
			Keys:  keys("license_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				return entityResult(licenses.Get(ctx, text(req.Payload, "license_id")))
			},
		},
		"list_licenses_by_consumer": {
			Allow: Any(Self("consumer_id"), admin),
			Keys:  keys("consumer_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				token, limit := pageArgs(req.Payload)
				return pageResult(licenses.ListByOwner(ctx, text(req.Payload, "consumer_id"), token, limit))
			},
		},
		"list_licenses_by_content": {
			Allow: publisher,
			Keys:  keys("content_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "content_id")
				if _, err := owned(ctx, d.repos.Content, req, id, entity.FieldOwnerKey); err != nil {
					return nil, err
				}
				token, limit := pageArgs(req.Payload)
				filters := document.Map{"content_id": document.String(id)}
				return pageResult(licenses.Search(ctx, filters, token, limit))
			},
		},
		"revoke_license": {
			Allow: publisher,
			Keys:  keys("license_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "license_id")
				if _, err := owned(ctx, licenses, req, id, "publisher_id"); err != nil {
					return nil, err
				}
				if _, err := licenses.TransitionStatus(ctx, id, string(entity.StatusRevoked)); err != nil {
					return nil, err
				}
				revokedAt := document.String(entity.FormatTime(d.now()))
				return entityResult(licenses.UpdateAttribute(ctx, id, "revoked_at", revokedAt))
			},
		},
	})
}

func (d *Dispatcher) analyticsProcessor() Processor {
	logs := d.repos.UsageLogs
	return merge(generic(logs), Processor{
		"log_content_access": {
			Allow: Any(admin, All(consumer, Self("consumer_id"))),
			Keys:  keys("consumer_id", "content_id", "publisher_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				f := fields(req.Payload, map[string]string{
					"consumer_id": entity.FieldOwnerKey,
					"access_type": entity.FieldTypeTag,
				})
				if _, ok := f[entity.FieldTypeTag]; !ok {
					f[entity.FieldTypeTag] = document.String(string(entity.TagView))
				}
				return entityResult(logs.Create(ctx, f))
			},
		},
		"get_log_by_id": {
			Allow: Authenticated(),
			Keys:  keys("log_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				return entityResult(logs.Get(ctx, text(req.Payload, "log_id")))
			},
		},
		"get_usage_report_by_content": {
			Allow: publisher,
			Keys:  keys("content_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "content_id")
				if _, err := owned(ctx, d.repos.Content, req, id, entity.FieldOwnerKey); err != nil {
					return nil, err
				}
				all, err := collect(ctx, func(token string) (repository.Page, error) {
					return logs.Search(ctx, document.Map{"content_id": document.String(id)}, token, reportPageSize)
				})
				if err != nil {
					return nil, err
				}
				return contentUsage(id, all), nil
			},
		},
		"get_usage_report_by_consumer": {
			Allow: Any(Self("consumer_id"), admin),
			Keys:  keys("consumer_id"),
			Run: func(ctx context.Context, req Request) (any, error) {
				id := text(req.Payload, "consumer_id")
				all, err := collect(ctx, func(token string) (repository.Page, error) {
					return logs.ListByOwner(ctx, id, token, reportPageSize)
				})
				if err != nil {
					return nil, err
				}
				return consumerUsage(id, all), nil
			},
		},
	})
}
