package processing

import (
	"math"

	"github.com/api3dao/commons-go/pkg/schema"
)

// PreProcessingResponse is the envelope returned by pre-processing.
type PreProcessingResponse struct {
	Parameters Parameters `json:"parameters" yaml:"parameters"`
}

// PostProcessingResponse is the envelope returned by post-processing.
type PostProcessingResponse struct {
	Response  interface{} `json:"response" yaml:"response"`
	Timestamp *int64      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

var (
	parametersSchema = schema.MustCompile("parameters.json", `{"type": "object"}`)

	preProcessingResponseSchema = schema.MustCompile("pre-processing-response.json", `{
		"type": "object",
		"required": ["parameters"],
		"properties": {
			"parameters": {"type": "object"}
		}
	}`)

	// A null timestamp is the same as an absent one.
	postProcessingResponseSchema = schema.MustCompile("post-processing-response.json", `{
		"type": "object",
		"properties": {
			"response": true,
			"timestamp": {"type": ["integer", "null"], "minimum": 0}
		}
	}`)
)

func parseParameters(value interface{}) (Parameters, error) {
	if err := parametersSchema.Validate(value); err != nil {
		return nil, err
	}
	return record(value), nil
}

func parsePreProcessingResponse(value interface{}) (*PreProcessingResponse, error) {
	if err := preProcessingResponseSchema.Validate(value); err != nil {
		return nil, err
	}
	return &PreProcessingResponse{Parameters: record(record(value)["parameters"])}, nil
}

// parsePostProcessingResponse accepts any response value. Unknown keys are
// dropped.
func parsePostProcessingResponse(value interface{}) (*PostProcessingResponse, error) {
	if err := postProcessingResponseSchema.Validate(value); err != nil {
		return nil, err
	}

	envelope := record(value)
	result := &PostProcessingResponse{Response: envelope["response"]}
	if raw := envelope["timestamp"]; raw != nil {
		ts := toInt64(raw)
		result.Timestamp = &ts
	}
	return result, nil
}

// record returns an already validated object as Parameters.
func record(value interface{}) Parameters {
	switch m := value.(type) {
	case Parameters:
		return m
	case map[string]interface{}:
		return Parameters(m)
	default:
		return Parameters{}
	}
}

func toInt64(value interface{}) int64 {
	switch n := value.(type) {
	case float64:
		return int64(math.Trunc(n))
	case float32:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}
