package handler

import (
	"errors"
	"testing"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		have, want entity.TypeTag
		ok         bool
	}{
		{entity.TagAdmin, entity.TagAdmin, true},
		{entity.TagAdmin, entity.TagPublisher, true},
		{entity.TagAdmin, entity.TagConsumer, true},
		{entity.TagPublisher, entity.TagPublisher, true},
		{entity.TagPublisher, entity.TagConsumer, false},
		{entity.TagPublisher, entity.TagAdmin, false},
		{entity.TagConsumer, entity.TagPublisher, false},
		{"", entity.TagConsumer, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.have)+"/"+string(tt.want), func(t *testing.T) {
			if got := HasRole(tt.have, tt.want); got != tt.ok {
				t.Errorf("expected %v, got %v", tt.ok, got)
			}
		})
	}
}

func TestCapabilities(t *testing.T) {
	own := document.Map{"publisher_id": document.String("pub-1")}
	publisherOnly := All(RequireRole(entity.TagPublisher), Self("publisher_id"))
	adminOrOwner := Any(RequireRole(entity.TagAdmin), publisherOnly)

	tests := []struct {
		name    string
		check   Capability
		caller  Caller
		payload document.Map
		allowed bool
	}{
		{"open", Open(), Caller{}, nil, true},
		{"authenticated", Authenticated(), Caller{ID: "u1"}, nil, true},
		{"anonymous", Authenticated(), Caller{}, nil, false},
		{"owner", adminOrOwner, Caller{ID: "pub-1", Role: "PUBLISHER"}, own, true},
		{"other publisher", adminOrOwner, Caller{ID: "pub-2", Role: "PUBLISHER"}, own, false},
		{"admin", adminOrOwner, Caller{ID: "root", Role: "ADMIN"}, own, true},
		{"consumer with matching id", publisherOnly, Caller{ID: "pub-1", Role: "CONSUMER"}, own, false},
		{"self without identity", Self("publisher_id"), Caller{}, document.Map{"publisher_id": document.String("")}, false},
		{"requested allowed", Requested("role", "CONSUMER"), Caller{}, document.Map{"role": document.String("CONSUMER")}, true},
		{"requested absent", Requested("role", "CONSUMER"), Caller{}, document.Map{}, true},
		{"requested refused", Requested("role", "CONSUMER"), Caller{}, document.Map{"role": document.String("ADMIN")}, false},
		{"any of none", Any(), Caller{ID: "u1"}, nil, false},
		{"all of none", All(), Caller{}, nil, true},
		{"untouched", Untouched("updates", "type_tag"), Caller{}, document.Map{
			"updates": document.Object(document.Map{"name": document.String("Ada")}),
		}, true},
		{"touched", Untouched("updates", "type_tag"), Caller{}, document.Map{
			"updates": document.Object(document.Map{"type_tag": document.String("ADMIN")}),
		}, false},
		{"touched below", Untouched("updates", "metadata"), Caller{}, document.Map{
			"updates": document.Object(document.Map{"metadata.plan": document.String("gold")}),
		}, false},
		{"untouched without map", Untouched("updates", "type_tag"), Caller{}, document.Map{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check("act", tt.caller, tt.payload)
			if tt.allowed {
				if err != nil {
					t.Errorf("expected allowed, got %v", err)
				}
				return
			}
			var forbidden *errs.ForbiddenError
			if !errors.As(err, &forbidden) {
				t.Fatalf("expected ForbiddenError, got %v", err)
			}
			if forbidden.Action != "act" {
				t.Errorf("expected action in error, got %q", forbidden.Action)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := map[errs.Kind]int{
		errs.KindValidation:     400,
		errs.KindInvalidToken:   400,
		errs.KindForbidden:      403,
		errs.KindNotFound:       404,
		errs.KindConflict:       409,
		errs.KindRetryExhausted: 503,
		errs.KindStore:          502,
		errs.KindCanceled:       504,
		errs.KindInternal:       500,
	}
	for kind, want := range tests {
		if got := statusOf(kind); got != want {
			t.Errorf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
