package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/mcvault/pkg/schema"
)

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "https://mc.local/api", NormalizeEndpoint(" https://mc.local/api/ "))
	assert.Equal(t, "", NormalizeEndpoint("  "))
}

func TestNewHTTPClient_Validates(t *testing.T) {
	_, err := NewHTTPClient("", time.Second)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))

	_, err = NewHTTPClient("ftp://x", time.Second)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))

	c, err := NewHTTPClient("http://mc.local/api/", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://mc.local/api/vault/resolve-batch", c.URL())
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestHTTPClient_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/vault/resolve-batch", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var req schema.ResolveBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s1", req.SessionKey)
		assert.Equal(t, "http.fetch", req.ToolName)
		require.Len(t, req.Requests, 1)
		assert.Equal(t, schema.ResolveRequest{Key: "gh#secret", Handle: "gh", Field: "secret"}, req.Requests[0])

		_ = json.NewEncoder(w).Encode(schema.ResolveBatchResponse{OK: true, Values: map[string]string{"gh#secret": "v"}})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/api", time.Second)
	require.NoError(t, err)

	values, err := c.ResolveBatch(context.Background(), "tok-1", schema.ResolveBatchRequest{
		Requests:   []schema.ResolveRequest{{Key: "gh#secret", Handle: "gh", Field: "secret"}},
		SessionKey: "s1",
		ToolName:   "http.fetch",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"gh#secret": "v"}, values)
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   string
	}{
		{http.StatusUnauthorized, "", schema.ErrCodeAuthorization},
		{http.StatusForbidden, schema.ErrCodeDisabled, schema.ErrCodeDisabled},
		{http.StatusForbidden, schema.ErrCodeForbidden, schema.ErrCodeForbidden},
		{http.StatusForbidden, "", schema.ErrCodeAuthorization},
		{http.StatusNotFound, schema.ErrCodeNotFound, schema.ErrCodeNotFound},
		{http.StatusConflict, "", schema.ErrCodeConfiguration},
		{http.StatusTooManyRequests, "", schema.ErrCodeRateLimited},
		{http.StatusBadRequest, "", schema.ErrCodeValidation},
		{http.StatusInternalServerError, "", schema.ErrCodeTransport},
		{http.StatusBadGateway, "", schema.ErrCodeTransport},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status)+"/"+tt.code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				// Values in an error body must never be trusted.
				_, _ = w.Write([]byte(`{"ok":false,"error":"x","code":"` + tt.code + `","values":{"gh#secret":"leak"}}`))
			}))
			defer srv.Close()

			c, err := NewHTTPClient(srv.URL, time.Second)
			require.NoError(t, err)
			values, err := c.ResolveBatch(context.Background(), "tok", schema.ResolveBatchRequest{})
			assert.Nil(t, values)
			assert.Equal(t, tt.want, schema.CodeOf(err))
		})
	}
}

func TestHTTPClient_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = c.ResolveBatch(context.Background(), "tok", schema.ResolveBatchRequest{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewHTTPClient(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = c.ResolveBatch(context.Background(), "tok", schema.ResolveBatchRequest{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
	assert.True(t, schema.IsRetryable(err))
}

func TestHTTPClient_DoesNotFollowRedirects(t *testing.T) {
	var redirected bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		redirected = true
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = c.ResolveBatch(context.Background(), "tok", schema.ResolveBatchRequest{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeTransport))
	assert.False(t, redirected)
}
