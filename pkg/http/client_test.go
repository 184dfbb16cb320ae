package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "signalforge", r.Header.Get("User-Agent"))
		var in map[string]int
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]int{"got": in["n"]})
	}))
	defer srv.Close()

	var out map[string]int
	err := NewClient(WithTimeout(time.Second)).JSON(context.Background(), Request{
		Method:      http.MethodPost,
		URL:         srv.URL,
		Query:       url.Values{"symbol": {"AAPL"}},
		BearerToken: "k",
		Body:        map[string]int{"n": 7},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out["got"])
}

func TestClient_StatusError(t *testing.T) {
	code := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", code)
	}))
	defer srv.Close()
	c := NewClient()

	_, err := c.Do(context.Background(), Request{URL: srv.URL})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.True(t, Retryable(err))

	code = http.StatusNotFound
	_, err = c.Do(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.True(t, Retryable(errors.New("connection reset by peer")))
	assert.True(t, Retryable(&StatusError{StatusCode: http.StatusBadGateway}))

	_, err := NewClient().Do(context.Background(), Request{URL: "http://x", Body: func() {}})
	require.Error(t, err)
	assert.False(t, Retryable(err))
}
