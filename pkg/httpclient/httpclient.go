// Package httpclient executes JSON HTTP requests and reports failures as a
// normalized error shape instead of returning Go errors.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// DefaultTimeout applies when a Request does not set one.
const DefaultTimeout = 10 * time.Second

// Error codes reported in ErrorResponse.Code.
const (
	CodeTimeout           = "ECONNABORTED"
	CodeConnectionRefused = "ECONNREFUSED"
	CodeBadRequest        = "ERR_BAD_REQUEST"
	CodeBadResponse       = "ERR_BAD_RESPONSE"
	CodeNetwork           = "ERR_NETWORK"
	CodeInvalidRequest    = "ERR_INVALID_REQUEST"
	CodeCanceled          = "ERR_CANCELED"
)

// Request describes a single HTTP call.
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string]interface{}
	Timeout     time.Duration
	Body        interface{}
}

// ErrorResponse is the normalized description of a failed request.
type ErrorResponse struct {
	Response interface{} `json:"response,omitempty"`
	Message  string      `json:"message"`
	Code     string      `json:"code,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Result is the outcome of ExecuteRequest. StatusCode is zero when no
// response was received.
type Result[T any] struct {
	Success    bool
	Data       T
	ErrorData  *ErrorResponse
	StatusCode int
}

// Client executes requests with an underlying *http.Client.
type Client struct {
	http *http.Client
}

// New creates a Client. A nil httpClient uses a fresh http.Client.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{http: httpClient}
}

var defaultClient = New(nil)

// ExecuteRequest runs req with the default client.
func ExecuteRequest[T any](ctx context.Context, req Request) Result[T] {
	return Execute[T](ctx, defaultClient, req)
}

// Execute runs req with c and decodes a successful JSON body into T.
// Responses outside the 2xx range are failures.
func Execute[T any](ctx context.Context, c *Client, req Request) Result[T] {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return failure[T](0, &ErrorResponse{Message: err.Error(), Code: CodeInvalidRequest})
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return failure[T](0, transportError(ctx, err, timeout))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure[T](resp.StatusCode, transportError(ctx, err, timeout))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := CodeBadResponse
		if resp.StatusCode < 500 {
			code = CodeBadRequest
		}
		return failure[T](resp.StatusCode, &ErrorResponse{
			Response: decodeLoose(body),
			Message:  fmt.Sprintf("Request failed with status code %d", resp.StatusCode),
			Code:     code,
		})
	}

	var data T
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			return failure[T](resp.StatusCode, &ErrorResponse{
				Response: string(body),
				Message:  fmt.Sprintf("failed to decode response: %v", err),
				Code:     CodeBadResponse,
			})
		}
	}
	return Result[T]{Success: true, Data: data, StatusCode: resp.StatusCode}
}

func buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(req.QueryParams) > 0 {
		query := target.Query()
		for key, value := range req.QueryParams {
			query.Set(key, fmt.Sprint(value))
		}
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func transportError(ctx context.Context, err error, timeout time.Duration) *ErrorResponse {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ErrorResponse{Message: fmt.Sprintf("timeout of %dms exceeded", timeout.Milliseconds()), Code: CodeTimeout}
	case errors.Is(err, context.Canceled):
		return &ErrorResponse{Message: "canceled", Code: CodeCanceled}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ErrorResponse{Message: err.Error(), Code: CodeConnectionRefused}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ErrorResponse{Message: fmt.Sprintf("timeout of %dms exceeded", timeout.Milliseconds()), Code: CodeTimeout}
	}
	return &ErrorResponse{Message: err.Error(), Code: CodeNetwork}
}

func decodeLoose(body []byte) interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

func failure[T any](status int, errData *ErrorResponse) Result[T] {
	return Result[T]{ErrorData: errData, StatusCode: status}
}
