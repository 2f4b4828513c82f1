package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBoundary matches every BoundaryError via errors.Is
var ErrBoundary = errors.New("invalid external payload")

// BoundaryError describes a payload from an external service that failed
// decoding or validation
type BoundaryError struct {
	Source string // Which service produced the payload (e.g. "extract-api", "oracle")
	Field  string // Offending field, empty for whole-document failures
	Reason string
	Err    error
}

func (e *BoundaryError) Error() string {
	msg := e.Source + ": " + e.Reason
	if e.Field != "" {
		msg = e.Source + ": " + e.Field + ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BoundaryError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrBoundary) true for any BoundaryError
func (e *BoundaryError) Is(target error) bool { return target == ErrBoundary }

// Fieldf builds a BoundaryError for a single field
func Fieldf(source, field, format string, args ...any) *BoundaryError {
	return &BoundaryError{Source: source, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Result is the typed outcome of decoding an external payload
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether decoding and validation succeeded
func (r Result[T]) OK() bool { return r.Err == nil }

// Unpack returns the value and error as a Go pair
func (r Result[T]) Unpack() (T, error) { return r.Value, r.Err }

// Decode unmarshals data into T and runs checks in order. The first failing
// check short-circuits. Check errors that are not already BoundaryErrors are
// wrapped so callers can always match ErrBoundary.
func Decode[T any](source string, data []byte, checks ...func(*T) error) Result[T] {
	var value T
	if len(bytes.TrimSpace(data)) == 0 {
		return Result[T]{Err: &BoundaryError{Source: source, Reason: "empty payload"}}
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return Result[T]{Err: &BoundaryError{Source: source, Reason: "malformed JSON", Err: err}}
	}
	for _, check := range checks {
		if err := check(&value); err != nil {
			var be *BoundaryError
			if !errors.As(err, &be) {
				err = &BoundaryError{Source: source, Reason: "validation failed", Err: err}
			}
			return Result[T]{Value: value, Err: err}
		}
	}
	return Result[T]{Value: value}
}

// ExtractObject returns the outermost JSON object embedded in free text,
// tolerating markdown fences and prose around model output
func ExtractObject(text string) ([]byte, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}

// Number is a lenient JSON number: it accepts numbers, numeric strings and
// null. Anything else leaves it unset rather than failing the whole document.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		n.Value, n.Set = f, true
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil
	}
	n.Value, n.Set = f, true
	return nil
}

// Ptr returns the value as *float64, nil when unset
func (n Number) Ptr() *float64 {
	if !n.Set {
		return nil
	}
	v := n.Value
	return &v
}

// Text is a lenient JSON string: strings pass through, arrays of strings are
// joined by newlines and other values are re-encoded as compact JSON.
type Text string

// UnmarshalJSON implements json.Unmarshaler
func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		*t = Text(strings.Join(list, "\n"))
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		*t = ""
		return nil
	}
	*t = Text(buf.String())
	return nil
}

// StringList is a lenient JSON list of strings: a bare string becomes a
// one-element list and blank entries are dropped.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*l = nil
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if s := strings.TrimSpace(single); s != "" {
			*l = StringList{s}
		}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil
	}
	out := make(StringList, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}
