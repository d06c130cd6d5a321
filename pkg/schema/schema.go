// Package schema validates decoded response bodies before the executor
// accepts them. A failed validation is reported as a *ValidationError so the
// executor can retry it like any other transient failure: several upstream
// endpoints answer with a placeholder body while a background job finishes.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks a decoded JSON value (as produced by encoding/json into
// an any) and returns the value to hand to the caller.
type Validator interface {
	Validate(data any) (any, error)
}

// Func adapts a function to the Validator interface.
type Func func(data any) (any, error)

// Validate implements Validator.
func (f Func) Validate(data any) (any, error) {
	return f(data)
}

// Issue is one problem found in a payload.
type Issue struct {
	Path    string
	Message string
}

// ValidationError reports a payload that does not match the expected shape.
type ValidationError struct {
	Message string
	Issues  []Issue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		path := issue.Path
		if path == "" {
			path = "(root)"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", path, issue.Message))
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// JSON validates against a JSON Schema.
type JSON struct {
	resolved *jsonschema.Resolved

	// children holds the resolved items and properties subschemas, used to
	// locate the failing values once the whole payload is rejected.
	children map[*jsonschema.Schema]*jsonschema.Resolved
}

// NewJSON resolves s so it can be used for validation.
func NewJSON(s *jsonschema.Schema) (*JSON, error) {
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	j := &JSON{resolved: resolved, children: make(map[*jsonschema.Schema]*jsonschema.Resolved)}
	j.resolveChildren(s)
	return j, nil
}

// resolveChildren resolves the subschemas of s that match array items or
// object properties. Subschemas that do not resolve on their own, such as
// ones holding a $ref, are left out and end the search for a location.
func (j *JSON) resolveChildren(s *jsonschema.Schema) {
	subs := append([]*jsonschema.Schema(nil), s.PrefixItems...)
	if s.Items != nil {
		subs = append(subs, s.Items)
	}
	for _, sub := range s.Properties {
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		if _, seen := j.children[sub]; seen || sub == nil {
			continue
		}
		if resolved, err := sub.Resolve(nil); err == nil {
			j.children[sub] = resolved
			j.resolveChildren(sub)
		}
	}
}

// MustJSON is like NewJSON but panics on an invalid schema. It is meant for
// package level schema definitions.
func MustJSON(s *jsonschema.Schema) *JSON {
	j, err := NewJSON(s)
	if err != nil {
		panic(err)
	}
	return j
}

// Validate implements Validator. Every array item and object property
// that fails its own subschema is reported with its path, e.g. "3.sha".
func (j *JSON) Validate(data any) (any, error) {
	err := j.resolved.Validate(data)
	if err == nil {
		return data, nil
	}
	return nil, &ValidationError{
		Message: "response does not match schema",
		Issues:  j.locate(j.resolved.Schema(), data, "", err),
	}
}

// locate descends into the items and properties of data that fail their
// subschemas. When none does, the failure belongs to data itself.
func (j *JSON) locate(s *jsonschema.Schema, data any, path string, err error) []Issue {
	var issues []Issue
	check := func(sub *jsonschema.Schema, value any, at string) {
		resolved, ok := j.children[sub]
		if !ok {
			return
		}
		if err := resolved.Validate(value); err != nil {
			issues = append(issues, j.locate(sub, value, at, err)...)
		}
	}

	switch v := data.(type) {
	case []any:
		for i, item := range v {
			sub := s.Items
			if i < len(s.PrefixItems) {
				sub = s.PrefixItems[i]
			}
			if sub != nil {
				check(sub, item, joinPath(path, strconv.Itoa(i)))
			}
		}
	case map[string]any:
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if value, ok := v[name]; ok {
				check(s.Properties[name], value, joinPath(path, name))
			}
		}
	}

	if len(issues) == 0 {
		issues = append(issues, Issue{Path: path, Message: innermost(err).Error()})
	}
	return issues
}

func joinPath(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "." + elem
}

// innermost strips the "validating <schema>" wrappers the validator adds
// on the way out.
func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// Array returns a schema for a JSON array whose items match item.
func Array(item *jsonschema.Schema) *jsonschema.Schema {
	if item == nil {
		item = &jsonschema.Schema{}
	}
	return &jsonschema.Schema{Type: "array", Items: item}
}

// Object returns a schema for a JSON object with the given required
// properties.
func Object(required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Required: required}
}

// Decode returns a validator that decodes the payload into T. Type
// mismatches are reported with the JSON path of the offending field.
func Decode[T any]() Validator {
	return Func(func(data any) (any, error) {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, &ValidationError{Message: "re-encode payload", Issues: []Issue{{Message: err.Error()}}}
		}

		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, decodeError(err)
		}
		return out, nil
	})
}

// Chain runs validators in order, feeding each the previous output.
func Chain(validators ...Validator) Validator {
	return Func(func(data any) (any, error) {
		var err error
		for _, v := range validators {
			if data, err = v.Validate(data); err != nil {
				return nil, err
			}
		}
		return data, nil
	})
}

func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{
			Message: "response does not match expected type",
			Issues: []Issue{{
				Path:    typeErr.Field,
				Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			}},
		}
	}
	return &ValidationError{
		Message: "response does not match expected type",
		Issues:  []Issue{{Message: err.Error()}},
	}
}
