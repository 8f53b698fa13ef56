package handler

import (
	"fmt"
	"strings"

	"github.com/vishallnvk/knowlio/document"
	"github.com/vishallnvk/knowlio/entity"
	"github.com/vishallnvk/knowlio/errs"
)

// Capability decides whether a caller may run an action on a payload.
// It returns a ForbiddenError naming the action when it may not.
type Capability func(action string, c Caller, payload document.Map) error

// inherits lists the roles each role holds in addition to its own.
var inherits = map[entity.TypeTag][]entity.TypeTag{
	entity.TagAdmin: {entity.TagPublisher, entity.TagConsumer},
}

// HasRole reports whether a caller holding have may act as want.
func HasRole(have, want entity.TypeTag) bool {
	if have == want {
		return true
	}
	for _, r := range inherits[have] {
		if r == want {
			return true
		}
	}
	return false
}

// Open admits every caller.
func Open() Capability {
	return func(string, Caller, document.Map) error { return nil }
}

// Authenticated admits callers with an identity.
func Authenticated() Capability {
	return func(action string, c Caller, _ document.Map) error {
		if c.ID == "" {
			return &errs.ForbiddenError{Action: action, Reason: "caller is not authenticated"}
		}
		return nil
	}
}

// RequireRole admits callers holding any of roles, directly or inherited.
func RequireRole(roles ...entity.TypeTag) Capability {
	return func(action string, c Caller, _ document.Map) error {
		have := entity.TypeTag(c.Role)
		for _, want := range roles {
			if HasRole(have, want) {
				return nil
			}
		}
		return &errs.ForbiddenError{Action: action, Reason: fmt.Sprintf("role %q lacks %v", c.Role, roles)}
	}
}

// Self admits callers whose id equals the payload value at key.
func Self(key string) Capability {
	return func(action string, c Caller, payload document.Map) error {
		v, ok := payload[key]
		if c.ID != "" && ok && v.Text() == c.ID {
			return nil
		}
		return &errs.ForbiddenError{Action: action, Reason: key + " does not match the caller"}
	}
}

// All admits callers admitted by every capability.
func All(caps ...Capability) Capability {
	return func(action string, c Caller, payload document.Map) error {
		for _, check := range caps {
			if err := check(action, c, payload); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any admits callers admitted by at least one capability. The first
// refusal is reported when none admits.
func Any(caps ...Capability) Capability {
	return func(action string, c Caller, payload document.Map) error {
		var first error
		for _, check := range caps {
			err := check(action, c, payload)
			if err == nil {
				return nil
			}
			if first == nil {
				first = err
			}
		}
		if first == nil {
			first = &errs.ForbiddenError{Action: action, Reason: "no capability admits the caller"}
		}
		return first
	}
}

// Requested admits requests whose payload value at key is one of allowed.
// An absent key is admitted; the schema decides whether it is required.
func Requested(key string, allowed ...string) Capability {
	return func(action string, _ Caller, payload document.Map) error {
		v, ok := payload[key]
		if !ok {
			return nil
		}
		for _, a := range allowed {
			if v.Text() == a {
				return nil
			}
		}
		return &errs.ForbiddenError{Action: action, Reason: fmt.Sprintf("%s %q is not allowed", key, v.Text())}
	}
}

// Untouched admits requests whose map at key addresses none of fields,
// either directly or through a dot path below them.
func Untouched(key string, fields ...string) Capability {
	return func(action string, _ Caller, payload document.Map) error {
		m, ok := payload[key].AsMap()
		if !ok {
			return nil
		}
		for _, path := range m.Keys() {
			head, _, _ := strings.Cut(path, ".")
			for _, f := range fields {
				if head == f {
					return &errs.ForbiddenError{Action: action, Reason: fmt.Sprintf("%s may not change %s", key, f)}
				}
			}
		}
		return nil
	}
}
