// Package client provides a Go client library for the processing API.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/api3dao/commons-go/pkg/auth"
	"github.com/api3dao/commons-go/pkg/httpclient"
	"github.com/api3dao/commons-go/pkg/ois"
	"github.com/api3dao/commons-go/pkg/processing"
)

// Client is the processing API client.
type Client struct {
	baseURL string
	auth    *auth.ServiceAuth
	timeout time.Duration
	http    *httpclient.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a new processing API client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    auth.NewServiceAuth(cfg.Token),
		timeout: cfg.Timeout,
		http:    httpclient.New(nil),
	}
}

// Error is returned for failed API calls.
type Error struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// PreProcess runs pre-processing for endpoint on the server.
func (c *Client) PreProcess(ctx context.Context, endpoint *ois.Endpoint, params processing.Parameters) (*processing.PreProcessingResponse, error) {
	return do[processing.PreProcessingResponse](ctx, c, http.MethodPost, "/api/v1/preprocess", map[string]interface{}{
		"endpoint":   endpoint,
		"parameters": params,
	})
}

// PostProcess runs post-processing for endpoint on the server.
func (c *Client) PostProcess(ctx context.Context, endpoint *ois.Endpoint, response interface{}, params processing.Parameters) (*processing.PostProcessingResponse, error) {
	return do[processing.PostProcessingResponse](ctx, c, http.MethodPost, "/api/v1/postprocess", map[string]interface{}{
		"endpoint":   endpoint,
		"response":   response,
		"parameters": params,
	})
}

// PreProcessNamed runs pre-processing for an endpoint configured on the server.
func (c *Client) PreProcessNamed(ctx context.Context, name string, params processing.Parameters) (*processing.PreProcessingResponse, error) {
	return do[processing.PreProcessingResponse](ctx, c, http.MethodPost, "/api/v1/endpoints/"+name+"/preprocess", map[string]interface{}{
		"parameters": params,
	})
}

// PostProcessNamed runs post-processing for an endpoint configured on the server.
func (c *Client) PostProcessNamed(ctx context.Context, name string, response interface{}, params processing.Parameters) (*processing.PostProcessingResponse, error) {
	return do[processing.PostProcessingResponse](ctx, c, http.MethodPost, "/api/v1/endpoints/"+name+"/postprocess", map[string]interface{}{
		"response":   response,
		"parameters": params,
	})
}

// ListEndpoints returns the names of the endpoints configured on the server.
func (c *Client) ListEndpoints(ctx context.Context) ([]string, error) {
	resp, err := do[struct {
		Endpoints []string `json:"endpoints"`
	}](ctx, c, http.MethodGet, "/api/v1/endpoints/", nil)
	if err != nil {
		return nil, err
	}
	return resp.Endpoints, nil
}

// do makes an authenticated request and decodes the JSON response.
func do[T any](ctx context.Context, c *Client, method, path string, body interface{}) (*T, error) {
	headers := map[string]string{}
	if header := c.auth.AuthorizationHeader(); header != "" {
		headers["Authorization"] = header
	}

	result := httpclient.Execute[T](ctx, c.http, httpclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: headers,
		Timeout: c.timeout,
		Body:    body,
	})
	if !result.Success {
		return nil, parseError(result.StatusCode, result.ErrorData)
	}
	return &result.Data, nil
}

// parseError parses an error response.
func parseError(status int, errData *httpclient.ErrorResponse) error {
	apiErr := &Error{StatusCode: status, Message: errData.Message}
	if body, ok := errData.Response.(map[string]interface{}); ok {
		if msg, ok := body["error"].(string); ok && msg != "" {
			apiErr.Message = msg
		}
		if kind, ok := body["kind"].(string); ok {
			apiErr.Kind = kind
		}
	}
	return apiErr
}
