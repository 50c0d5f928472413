package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanboutros/monday-grabber/pkg/errors"
)

func newTestClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	opts.Endpoint = url
	if opts.Token == "" {
		opts.Token = "test-token"
	}
	c, err := New(opts, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	c.baseDelay = time.Millisecond
	return c
}

func TestPostReturnsData(t *testing.T) {
	var gotAuth, gotVersion string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("API-Version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"boards":[{"id":"1"}]},"account_id":7}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{APIVersion: "2024-10"})
	data, err := c.Post(context.Background(), "query { boards { id } }", map[string]interface{}{"limit": 10})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "2024-10", gotVersion)
	assert.Equal(t, "query { boards { id } }", gotBody["query"])
	require.Contains(t, data, "boards")
}

func TestPostClassifiesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"not authenticated","extensions":{"code":"Unauthorized"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransportClient, errors.Code(err))
	assert.True(t, errors.IsTransport(err))
}

func TestPostClassifiesServerErrorAndRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 3})
	data, err := c.Post(context.Background(), "query {}", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, true, data["ok"])
}

func TestPostServerErrorExhaustsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 2})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransportServer, errors.Code(err))
	assert.Equal(t, 2, calls)
}

func TestPostRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"errors":[{"message":"rate limited","extensions":{"code":"RateLimitExceeded"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 2})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPostApplicationErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"bad board","extensions":{"code":"InvalidBoardIdException"}}],"extensions":{"request_id":"req-1"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 3})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.CodeTransportClient, errors.Code(err))
	assert.Contains(t, err.Error(), "InvalidBoardIdException")
	assert.Contains(t, err.Error(), "req-1")
}

func TestPostNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 1})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransportNetwork, errors.Code(err))
}

func TestPostInvalidJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Options{MaxAttempts: 1})
	_, err := c.Post(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTransportServer, errors.Code(err))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestResponseRetryableCodes(t *testing.T) {
	resp := &APIResponse{Errors: []APIError{
		{Message: "x", Extensions: ErrorExtensions{Code: "ComplexityException"}},
	}}
	assert.False(t, resp.Retryable())

	resp.Errors = append(resp.Errors, APIError{
		Message: "y", Extensions: ErrorExtensions{Code: "COMPLEXITY_BUDGET_EXHAUSTED"},
	})
	assert.True(t, resp.Retryable())
	assert.Equal(t, []string{"ComplexityException", "COMPLEXITY_BUDGET_EXHAUSTED"}, resp.ErrorCodes())
}
