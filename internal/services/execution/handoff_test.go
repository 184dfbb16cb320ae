package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalForge/internal/domain/models"
)

func order() models.ExecutionOrder {
	return models.ExecutionOrder{
		ClientOrderID: "coid-1",
		EngineKey:     "smc-v1",
		Symbol:        "AAPL",
		Timeframe:     "5m",
		Side:          models.SignalTypeBuy,
		Size:          30,
		EntryPrice:    130.46,
		Confidence:    90,
		SignalBarTS:   time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC),
	}
}

func TestHTTPHandoff_RetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "coid-1", r.Header.Get("Idempotency-Key"))
		var got models.ExecutionOrder
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, 30.0, got.Size)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(models.ExecutionReceipt{BrokerOrderID: "b-9"})
	}))
	defer srv.Close()

	h := NewHTTPHandoff(HTTPConfig{BaseURL: srv.URL, Token: "tok", MaxRetryTime: 5 * time.Second}, nil)
	r, err := h.Submit(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, "coid-1", r.ClientOrderID)
	assert.Equal(t, "b-9", r.BrokerOrderID)
	assert.False(t, r.AcceptedAt.IsZero())
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPHandoff_RejectedOrderNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "size exceeds buying power", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h := NewHTTPHandoff(HTTPConfig{BaseURL: srv.URL, MaxRetryTime: 5 * time.Second}, nil)
	_, err := h.Submit(context.Background(), order())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buying power")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHTTPHandoff_Unconfigured(t *testing.T) {
	_, err := NewHTTPHandoff(HTTPConfig{}, nil).Submit(context.Background(), order())
	require.Error(t, err)
}

func TestHTTPHandoff_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	h := NewHTTPHandoff(HTTPConfig{BaseURL: srv.URL, MaxRetryTime: time.Minute}, nil)
	_, err := h.Submit(ctx, order())
	require.Error(t, err)
}

func TestPaperHandoff_Idempotent(t *testing.T) {
	at := time.Date(2025, 3, 3, 15, 1, 0, 0, time.UTC)
	p := NewPaperHandoff(func() time.Time { return at })

	a, err := p.Submit(context.Background(), order())
	require.NoError(t, err)
	b, err := p.Submit(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "paper-coid-1", a.BrokerOrderID)
	assert.Equal(t, at, a.AcceptedAt)
	assert.Len(t, p.Orders(), 1)

	_, err = p.Submit(context.Background(), models.ExecutionOrder{})
	require.Error(t, err)
}
