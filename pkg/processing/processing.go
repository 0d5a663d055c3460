// Package processing runs the pre- and post-processing snippets declared on
// an endpoint. Snippets are JavaScript executed in a fresh goja runtime per
// invocation, either as a list of legacy steps threading an output binding
// or as a single function receiving and returning an envelope.
package processing

import (
	"context"
	"fmt"
	"time"

	"github.com/api3dao/commons-go/pkg/attempt"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/ois"
)

// DefaultTotalTimeout bounds a whole pre- or post-processing run.
const DefaultTotalTimeout = 10 * time.Second

// Processor runs processing specifications. A Processor is stateless
// between calls and safe for concurrent use.
type Processor struct {
	executor   *Executor
	logger     *logger.Logger
	isReserved func(string) bool
	attempt    attempt.Options
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for processing and snippet console output.
func WithLogger(log *logger.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.logger = log
		}
	}
}

// WithReservedPredicate replaces the reserved parameter predicate.
func WithReservedPredicate(isReserved func(string) bool) Option {
	return func(p *Processor) {
		if isReserved != nil {
			p.isReserved = isReserved
		}
	}
}

// WithRetries sets how many times a failed run is retried.
func WithRetries(retries int) Option {
	return func(p *Processor) {
		if retries >= 0 {
			p.attempt.Retries = retries
		}
	}
}

// WithTotalTimeout sets the budget shared by all attempts of a run.
func WithTotalTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		p.attempt.TotalTimeout = timeout
	}
}

// NewProcessor creates a Processor with no retries and DefaultTotalTimeout.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		logger:     logger.Nop(),
		isReserved: ois.IsReservedParameter,
		attempt:    attempt.Options{TotalTimeout: DefaultTotalTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.executor = NewExecutor(p.logger.Child("snippet"))
	return p
}

// PreProcessV1 runs the legacy pre-processing steps of endpoint. Reserved
// parameters are hidden from the steps and restored on the result with
// their original values.
func (p *Processor) PreProcessV1(ctx context.Context, endpoint *ois.Endpoint, params Parameters) (Parameters, error) {
	if endpoint == nil || len(endpoint.PreProcessingSpecifications) == 0 {
		return params, nil
	}

	ctx = logger.WithFields(ctx, logger.Fields{"endpoint": endpoint.Name, "phase": "pre-processing"})
	output, err := p.runSteps(ctx, endpoint.PreProcessingSpecifications, RemoveReservedParameters(params, p.isReserved), params)
	if err != nil {
		return nil, err
	}

	parsed, err := parseParameters(output)
	if err != nil {
		return nil, err
	}
	return AddReservedParameters(params, parsed, p.isReserved), nil
}

// PostProcessV1 runs the legacy post-processing steps of endpoint over
// response. The result is returned as produced by the last step.
func (p *Processor) PostProcessV1(ctx context.Context, endpoint *ois.Endpoint, response interface{}, params Parameters) (interface{}, error) {
	if endpoint == nil || len(endpoint.PostProcessingSpecifications) == 0 {
		return response, nil
	}

	ctx = logger.WithFields(ctx, logger.Fields{"endpoint": endpoint.Name, "phase": "post-processing"})
	return p.runSteps(ctx, endpoint.PostProcessingSpecifications, response, params)
}

func (p *Processor) runSteps(ctx context.Context, specs []ois.ProcessingSpecification, initial interface{}, params Parameters) (interface{}, error) {
	result := attempt.Go(ctx, func(ctx context.Context) (interface{}, error) {
		current := initial
		for i, spec := range specs {
			if err := spec.Validate(); err != nil {
				return nil, fmt.Errorf("processing step %d: %w", i, err)
			}

			globals := Globals{
				"input":              current,
				"endpointParameters": RemoveReservedParameters(params, p.isReserved),
			}
			timeout := time.Duration(spec.TimeoutMs) * time.Millisecond

			p.logger.Debug(ctx, "Running processing step", logger.Fields{"step": i, "environment": string(spec.Environment)})
			var err error
			switch spec.Environment.Normalize() {
			case ois.EnvironmentSync:
				current, err = p.executor.EvaluateSync(ctx, spec.Value, globals, timeout)
			case ois.EnvironmentAsync:
				current, err = p.executor.EvaluateAsync(ctx, spec.Value, globals, timeout)
			default:
				err = fmt.Errorf("unsupported processing environment %q", spec.Environment)
			}
			if err != nil {
				return nil, err
			}
		}
		return current, nil
	}, p.attempt)

	if !result.Success() {
		p.logger.Debug(ctx, "Processing failed", logger.Fields{"error": result.Err.Error()})
		return nil, result.Err
	}
	return result.Data, nil
}

// PreProcess runs pre-processing with whichever specification version the
// endpoint declares. A V2 specification takes precedence.
func (p *Processor) PreProcess(ctx context.Context, endpoint *ois.Endpoint, params Parameters) (*PreProcessingResponse, error) {
	if endpoint != nil && endpoint.PreProcessingSpecificationV2 != nil {
		return p.PreProcessV2(ctx, endpoint, params)
	}

	parameters, err := p.PreProcessV1(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	return &PreProcessingResponse{Parameters: parameters}, nil
}

// PostProcess runs post-processing with whichever specification version the
// endpoint declares. A V2 specification takes precedence.
func (p *Processor) PostProcess(ctx context.Context, endpoint *ois.Endpoint, response interface{}, params Parameters) (*PostProcessingResponse, error) {
	if endpoint != nil && endpoint.PostProcessingSpecificationV2 != nil {
		return p.PostProcessV2(ctx, endpoint, response, params)
	}

	processed, err := p.PostProcessV1(ctx, endpoint, response, params)
	if err != nil {
		return nil, err
	}
	return &PostProcessingResponse{Response: processed}, nil
}
