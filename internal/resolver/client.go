package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/mcvault/pkg/schema"
)

// ResolveBatchPath is appended to the configured endpoint.
const ResolveBatchPath = "/vault/resolve-batch"

const (
	// DefaultTimeout bounds one resolve-batch round trip.
	DefaultTimeout = 5 * time.Second

	maxResponseBody = 1 << 20
)

// BatchClient sends one resolve-batch request and returns the value map.
// Any failure applies to every key of the batch.
type BatchClient interface {
	ResolveBatch(ctx context.Context, token string, req schema.ResolveBatchRequest) (map[string]string, error)
}

// HTTPClient is the BatchClient for the vault's HTTP endpoint.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NormalizeEndpoint trims whitespace and trailing slashes from a base URL.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.String()
	}
	return strings.TrimRight(endpoint, "/")
}

// NewHTTPClient creates a client for endpoint (the API base URL, including
// any /api prefix). Redirects are not followed so the bearer token never
// leaves the configured origin.
func NewHTTPClient(endpoint string, timeout time.Duration) (*HTTPClient, error) {
	base := NormalizeEndpoint(endpoint)
	if base == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "vault endpoint is not configured")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "vault endpoint %q is not an http(s) URL", base)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		url:     base + ResolveBatchPath,
		timeout: timeout,
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// URL returns the full resolve-batch URL.
func (c *HTTPClient) URL() string { return c.url }

// ResolveBatch posts req with bearer auth. Non-2xx statuses map to error
// codes; the body of an error response is only used to read its code.
func (c *HTTPClient) ResolveBatch(ctx context.Context, token string, req schema.ResolveBatchRequest) (map[string]string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "resolve-batch: failed to encode request").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "resolve-batch: failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "resolve-batch: request failed").WithCause(redactURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeTransport, "resolve-batch: failed to read response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}

	var out schema.ResolveBatchResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Values == nil {
		return nil, schema.NewErrorf(schema.ErrCodeTransport, "resolve-batch: invalid response (status %d)", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	return out.Values, nil
}

// statusError classifies a non-success response. The server's code field
// refines 403 into disabled or forbidden; no value in the body is trusted.
func statusError(status int, raw []byte) error {
	var body schema.ErrorResponse
	_ = json.Unmarshal(raw, &body)
	details := map[string]any{"status": status}

	switch {
	case status == http.StatusUnauthorized:
		return schema.NewError(schema.ErrCodeAuthorization, "vault rejected the credential").WithDetails(details)
	case status == http.StatusForbidden && body.Code == schema.ErrCodeDisabled:
		return schema.NewError(schema.ErrCodeDisabled, "vault credential is disabled").WithDetails(details)
	case status == http.StatusForbidden && body.Code == schema.ErrCodeForbidden:
		return schema.NewError(schema.ErrCodeForbidden, "vault policy denied the tool").WithDetails(details)
	case status == http.StatusForbidden:
		return schema.NewError(schema.ErrCodeAuthorization, "vault denied access").WithDetails(details)
	case status == http.StatusNotFound:
		return schema.NewError(schema.ErrCodeNotFound, "vault handle not found").WithDetails(details)
	case status == http.StatusConflict:
		return schema.NewError(schema.ErrCodeConfiguration, "vault setup required").WithDetails(details)
	case status == http.StatusTooManyRequests:
		return schema.NewError(schema.ErrCodeRateLimited, "vault rate limit exceeded").WithDetails(details)
	case status == http.StatusBadRequest:
		return schema.NewError(schema.ErrCodeValidation, "vault rejected the request").WithDetails(details)
	default:
		return schema.NewErrorf(schema.ErrCodeTransport, "resolve-batch failed (%d)", status).WithDetails(details)
	}
}

// redactURLError strips the URL from a *url.Error; the operator already
// knows the endpoint and query strings may carry credentials.
func redactURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err
	}
	return err
}
