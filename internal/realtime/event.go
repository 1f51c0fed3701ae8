// Package realtime exposes the managed backend's table change stream as an
// injected capability: Subscribe(table, filter) returns a channel of change
// events. Implementations exist for Redis pub/sub, Postgres LISTEN/NOTIFY and
// an in-process fan-out used by tests.
package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventType is the row operation that produced a change event
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent describes one row change in a table
type ChangeEvent struct {
	Type            EventType              `json:"type"`
	Schema          string                 `json:"schema,omitempty"`
	Table           string                 `json:"table"`
	Record          map[string]interface{} `json:"record,omitempty"`
	OldRecord       map[string]interface{} `json:"old_record,omitempty"`
	CommitTimestamp time.Time              `json:"commit_timestamp"`
}

// Row returns the row a filter should be evaluated against: the new record,
// or the old one for deletes.
func (e *ChangeEvent) Row() map[string]interface{} {
	if e.Type == EventDelete && e.OldRecord != nil {
		return e.OldRecord
	}
	return e.Record
}

// Source streams change events for a table. The returned channel is closed
// when ctx is done or the underlying stream ends.
type Source interface {
	Subscribe(ctx context.Context, table string, filter Filter) (<-chan ChangeEvent, error)
}

// Publisher emits change events into a source
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Filter operators
const (
	OpEq  = "eq"
	OpNeq = "neq"
	OpIn  = "in"
)

// Filter narrows a subscription to rows whose column matches a value. The
// zero Filter matches every event.
type Filter struct {
	Column string
	Op     string
	Values []string
}

// ParseFilter parses "column=op.value". For "in" the value is a
// comma-separated list, optionally wrapped in parentheses:
// "status=in.(open,assigned)". An empty string yields the zero Filter.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, nil
	}

	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}

	op, value, ok := strings.Cut(rest, ".")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q: expected column=op.value", s)
	}

	switch op {
	case OpEq, OpNeq:
		return Filter{Column: column, Op: op, Values: []string{value}}, nil
	case OpIn:
		value = strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
		var values []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return Filter{}, fmt.Errorf("invalid filter %q: empty value list", s)
		}
		return Filter{Column: column, Op: op, Values: values}, nil
	default:
		return Filter{}, fmt.Errorf("invalid filter %q: unsupported operator %q", s, op)
	}
}

// IsZero reports whether the filter matches everything
func (f Filter) IsZero() bool {
	return f.Column == ""
}

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	if f.Op == OpIn {
		return fmt.Sprintf("%s=in.(%s)", f.Column, strings.Join(f.Values, ","))
	}
	return fmt.Sprintf("%s=%s.%s", f.Column, f.Op, f.Values[0])
}

// Match reports whether the event passes the filter. Column values are
// compared by their textual form, so 42 matches "42". A null column is
// treated as absent.
func (f Filter) Match(e *ChangeEvent) bool {
	if f.IsZero() {
		return true
	}

	raw, present := e.Row()[f.Column]
	present = present && raw != nil
	value := ""
	if present {
		value = fmt.Sprint(raw)
	}

	switch f.Op {
	case OpEq:
		return present && value == f.Values[0]
	case OpNeq:
		return !present || value != f.Values[0]
	case OpIn:
		if !present {
			return false
		}
		for _, v := range f.Values {
			if v == value {
				return true
			}
		}
	}
	return false
}
