package httpclient

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   RetryStrategy
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, want: SmartRetry},
		{name: "service unavailable", status: http.StatusServiceUnavailable, want: SmartRetry},
		{name: "internal error", status: http.StatusInternalServerError, want: ConservativeRetry},
		{name: "bad gateway", status: http.StatusBadGateway, want: ConservativeRetry},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, want: ConservativeRetry},
		{name: "not found", status: http.StatusNotFound, want: NoRetry},
		{name: "bad request", status: http.StatusBadRequest, want: NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryStrategy(tt.status))
		})
	}
}

func TestDoRetriesTransientServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond))

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(WithMaxRetries(3), WithBaseDelay(time.Millisecond))

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.Error(t, err)
	defer resp.Body.Close()

	assert.Equal(t, int32(1), calls.Load())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("tool not found")))
	assert.True(t, IsTransient(&RetryableError{StatusCode: 503, Message: "unavailable"}))
	assert.True(t, IsTransient(&net.OpError{Op: "read", Err: errors.New("connection reset by peer")}))
}

func TestParseStandardHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "7")
	headers.Set("x-ratelimit-remaining-requests", "42")

	info := ParseStandardHeaders(headers)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, 42, info.RequestsRemaining)
}
