// Package schema provides structural validation of loosely typed values
// decoded from JSON or returned by processing snippets.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Issue describes a single mismatch between a value and its expected shape.
type Issue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

func (i Issue) String() string {
	if len(i.Path) == 0 {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", strings.Join(i.Path, "."), i.Message)
}

// ValidationError is returned when a value does not match the expected shape.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator collects issues for checks that a JSON Schema cannot express.
type Validator struct {
	issues []Issue
}

// Add records an issue at the given path.
func (v *Validator) Add(message string, path ...string) {
	v.issues = append(v.issues, Issue{Path: append([]string(nil), path...), Message: message})
}

// Err returns a *ValidationError if any issue was recorded.
func (v *Validator) Err() error {
	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: v.issues}
}

// Schema is a compiled JSON Schema.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// Compile compiles a JSON Schema document. name identifies the schema in
// compiler errors.
func Compile(name, source string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompile is like Compile but panics on error. It is meant for schemas
// declared as package variables.
func MustCompile(name, source string) *Schema {
	s, err := Compile(name, source)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// Validate checks value against the schema. Any value that encodes to JSON
// is accepted. Mismatches are reported as a *ValidationError with one issue
// per failing location.
func (s *Schema) Validate(value interface{}) error {
	doc, err := decodable(value)
	if err != nil {
		v := &Validator{}
		v.Add(err.Error())
		return v.Err()
	}

	err = s.compiled.Validate(doc)
	if err == nil {
		return nil
	}

	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("validation against %s failed: %w", s.name, err)
	}
	v := &Validator{}
	collect(v, validationErr)
	return v.Err()
}

// decodable re-decodes value from its JSON encoding so that only the types
// the validator understands reach it. Numbers stay exact as json.Number.
func decodable(value interface{}) (interface{}, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("value is not JSON encodable: %w", err)
	}
	return doc, nil
}

// collect records the leaf causes of err, which carry the specific message.
func collect(v *Validator, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		v.Add(err.Message, pointerPath(err.InstanceLocation)...)
		return
	}
	for _, cause := range err.Causes {
		collect(v, cause)
	}
}

// pointerPath splits a JSON pointer such as /parameters/to into its tokens.
func pointerPath(pointer string) []string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return nil
	}
	tokens := strings.Split(pointer, "/")
	for i, token := range tokens {
		token = strings.ReplaceAll(token, "~1", "/")
		tokens[i] = strings.ReplaceAll(token, "~0", "~")
	}
	return tokens
}
