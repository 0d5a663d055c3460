package processing

import (
	"context"
	"time"

	"github.com/api3dao/commons-go/pkg/attempt"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/ois"
)

// PreProcessV2 calls the pre-processing function of endpoint with
// {parameters} and expects {parameters} back. Reserved parameters are hidden
// from the function and restored with their original values.
func (p *Processor) PreProcessV2(ctx context.Context, endpoint *ois.Endpoint, params Parameters) (*PreProcessingResponse, error) {
	if endpoint == nil || endpoint.PreProcessingSpecificationV2 == nil {
		return &PreProcessingResponse{Parameters: params}, nil
	}
	spec := endpoint.PreProcessingSpecificationV2
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ctx = logger.WithFields(ctx, logger.Fields{"endpoint": endpoint.Name, "phase": "pre-processing"})
	payload := map[string]interface{}{
		"parameters": RemoveReservedParameters(params, p.isReserved),
	}
	output, err := p.runFunction(ctx, spec, payload)
	if err != nil {
		return nil, err
	}

	parsed, err := parsePreProcessingResponse(output)
	if err != nil {
		return nil, err
	}
	parsed.Parameters = AddReservedParameters(params, parsed.Parameters, p.isReserved)
	return parsed, nil
}

// PostProcessV2 calls the post-processing function of endpoint with
// {response, parameters} and expects {response, timestamp?} back.
func (p *Processor) PostProcessV2(ctx context.Context, endpoint *ois.Endpoint, response interface{}, params Parameters) (*PostProcessingResponse, error) {
	if endpoint == nil || endpoint.PostProcessingSpecificationV2 == nil {
		return &PostProcessingResponse{Response: response}, nil
	}
	spec := endpoint.PostProcessingSpecificationV2
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	ctx = logger.WithFields(ctx, logger.Fields{"endpoint": endpoint.Name, "phase": "post-processing"})
	payload := map[string]interface{}{
		"response":   response,
		"parameters": RemoveReservedParameters(params, p.isReserved),
	}
	output, err := p.runFunction(ctx, spec, payload)
	if err != nil {
		return nil, err
	}
	return parsePostProcessingResponse(output)
}

func (p *Processor) runFunction(ctx context.Context, spec *ois.ProcessingSpecificationV2, payload interface{}) (interface{}, error) {
	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	result := attempt.Go(ctx, func(ctx context.Context) (interface{}, error) {
		p.logger.Debug(ctx, "Running processing function")
		return p.executor.EvaluateAsyncV2(ctx, spec.Value, payload, timeout)
	}, p.attempt)

	if !result.Success() {
		p.logger.Debug(ctx, "Processing failed", logger.Fields{"error": result.Err.Error()})
		return nil, result.Err
	}
	return result.Data, nil
}
