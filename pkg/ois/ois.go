// Package ois describes the parts of an oracle integration endpoint that the
// processing pipeline reads: processing specifications and reserved parameters.
package ois

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment selects the calling convention used to run a processing snippet.
type Environment string

const (
	// EnvironmentSync runs a snippet that assigns its result to `output`.
	EnvironmentSync Environment = "Sync"

	// EnvironmentAsync runs a snippet that signals completion with
	// resolve/reject (V1) or a snippet that evaluates to a single function (V2).
	EnvironmentAsync Environment = "Async"
)

// Normalize maps legacy environment names onto the current ones.
func (e Environment) Normalize() Environment {
	switch e {
	case "Node":
		return EnvironmentSync
	case "Node async":
		return EnvironmentAsync
	default:
		return e
	}
}

// ProcessingSpecification is a single V1 pre- or post-processing step.
type ProcessingSpecification struct {
	Environment Environment `json:"environment" yaml:"environment"`
	Value       string      `json:"value" yaml:"value"`
	TimeoutMs   int         `json:"timeoutMs" yaml:"timeoutMs"`
}

// Validate checks the specification is runnable.
func (s ProcessingSpecification) Validate() error {
	switch s.Environment.Normalize() {
	case EnvironmentSync, EnvironmentAsync:
	default:
		return fmt.Errorf("unsupported processing environment %q", s.Environment)
	}
	return validateSnippet(s.Value, s.TimeoutMs)
}

// ProcessingSpecificationV2 is the single-function processing contract.
type ProcessingSpecificationV2 struct {
	Environment Environment `json:"environment" yaml:"environment"`
	Value       string      `json:"value" yaml:"value"`
	TimeoutMs   int         `json:"timeoutMs" yaml:"timeoutMs"`
}

// Validate checks the specification is runnable.
func (s ProcessingSpecificationV2) Validate() error {
	if s.Environment.Normalize() != EnvironmentAsync {
		return fmt.Errorf("unsupported processing environment %q", s.Environment)
	}
	return validateSnippet(s.Value, s.TimeoutMs)
}

func validateSnippet(value string, timeoutMs int) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("processing snippet cannot be empty")
	}
	if timeoutMs <= 0 {
		return fmt.Errorf("processing timeout must be positive, got %d", timeoutMs)
	}
	return nil
}

// Endpoint holds the processing configuration of an oracle endpoint.
type Endpoint struct {
	Name                          string                     `json:"name,omitempty" yaml:"name,omitempty"`
	PreProcessingSpecifications   []ProcessingSpecification  `json:"preProcessingSpecifications,omitempty" yaml:"preProcessingSpecifications,omitempty"`
	PostProcessingSpecifications  []ProcessingSpecification  `json:"postProcessingSpecifications,omitempty" yaml:"postProcessingSpecifications,omitempty"`
	PreProcessingSpecificationV2  *ProcessingSpecificationV2 `json:"preProcessingSpecificationV2,omitempty" yaml:"preProcessingSpecificationV2,omitempty"`
	PostProcessingSpecificationV2 *ProcessingSpecificationV2 `json:"postProcessingSpecificationV2,omitempty" yaml:"postProcessingSpecificationV2,omitempty"`
}

// Validate checks every processing specification on the endpoint.
func (e *Endpoint) Validate() error {
	for i, spec := range e.PreProcessingSpecifications {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("preProcessingSpecifications[%d]: %w", i, err)
		}
	}
	for i, spec := range e.PostProcessingSpecifications {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("postProcessingSpecifications[%d]: %w", i, err)
		}
	}
	if e.PreProcessingSpecificationV2 != nil {
		if err := e.PreProcessingSpecificationV2.Validate(); err != nil {
			return fmt.Errorf("preProcessingSpecificationV2: %w", err)
		}
	}
	if e.PostProcessingSpecificationV2 != nil {
		if err := e.PostProcessingSpecificationV2.Validate(); err != nil {
			return fmt.Errorf("postProcessingSpecificationV2: %w", err)
		}
	}
	return nil
}

// LoadEndpoint reads an endpoint definition from a JSON or YAML file.
func LoadEndpoint(path string) (*Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoint file: %w", err)
	}

	var endpoint Endpoint
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &endpoint); err != nil {
			return nil, fmt.Errorf("failed to parse endpoint JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &endpoint); err != nil {
			return nil, fmt.Errorf("failed to parse endpoint YAML: %w", err)
		}
	}

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	return &endpoint, nil
}
