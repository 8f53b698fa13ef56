package document

import (
	"fmt"
	"strings"
)

// Path addresses a node in a Map by its segments.
type Path []string

// ParsePath splits a dot-separated path. Every segment must be non-empty.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, ErrEmptyPath
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w in %q", ErrEmptyPath, s)
		}
	}
	return Path(segments), nil
}

// String joins the segments with dots.
func (p Path) String() string { return strings.Join(p, ".") }

// Head returns the first segment, or "" for an empty path.
func (p Path) Head() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Tail returns the path without its first segment.
func (p Path) Tail() Path {
	if len(p) == 0 {
		return nil
	}
	return p[1:]
}

// Lookup resolves the path against the map.
func (m Map) Lookup(p Path) (Value, bool) {
	if len(p) == 0 {
		return Value{}, false
	}
	cur := m
	for i, seg := range p {
		v, ok := cur[seg]
		if !ok {
			return Value{}, false
		}
		if i == len(p)-1 {
			return v, true
		}
		next, ok := v.AsMap()
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return Value{}, false
}

// Set stores v at the path, creating intermediate maps as needed. It fails
// with ErrNotMap when an existing intermediate node is not a map.
func (m Map) Set(p Path, v Value) error {
	if len(p) == 0 {
		return ErrEmptyPath
	}
	cur := m
	for i, seg := range p[:len(p)-1] {
		next, exists := cur[seg]
		if !exists {
			child := Map{}
			cur[seg] = Object(child)
			cur = child
			continue
		}
		child, ok := next.AsMap()
		if !ok {
			return fmt.Errorf("%w at %q", ErrNotMap, p[:i+1].String())
		}
		cur = child
	}
	cur[p[len(p)-1]] = v
	return nil
}

// Existing returns the length of the longest prefix of p whose nodes are
// present in m. A result equal to len(p) means the full path exists.
func (m Map) Existing(p Path) int {
	cur := m
	for i, seg := range p {
		v, ok := cur[seg]
		if !ok {
			return i
		}
		if i == len(p)-1 {
			return len(p)
		}
		next, ok := v.AsMap()
		if !ok {
			return i + 1
		}
		cur = next
	}
	return len(p)
}

// Nest wraps v in maps keyed by the segments of p, innermost last.
// Nest(Path{"a", "b"}, v) yields {"a": {"b": v}} as a Value for "a"'s parent.
func Nest(p Path, v Value) Value {
	for i := len(p) - 1; i >= 0; i-- {
		v = Object(Map{p[i]: v})
	}
	return v
}
