package mathengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/folio/internal/contracts"
	"github.com/wonny/folio/pkg/config"
	"github.com/wonny/folio/pkg/httputil"
	"github.com/wonny/folio/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{Engine: config.EngineConfig{Timeout: 2 * time.Second}}
	return NewClient(httputil.New(cfg, logger.Nop()), server.URL+"/", logger.Nop())
}

func TestCalculateWeights(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calculate", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []interface{}{"AAPL", "MSFT"}, req["tickers"])
		assert.Nil(t, req["cap"])
		assert.Nil(t, req["top_n"])

		w.Write([]byte(`{"weights":[{"ticker":"AAPL","weight":0.6},{"ticker":"MSFT","weight":0.4}]}`))
	})

	got, err := client.CalculateWeights(context.Background(), []string{"AAPL", "MSFT"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, contracts.Weights{"AAPL": 0.6, "MSFT": 0.4}, got)
}

func TestCalculateWeights_SendsCapParameters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req calculateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Cap)
		require.NotNil(t, req.TopN)
		assert.Equal(t, 0.2, *req.Cap)
		assert.Equal(t, 3, *req.TopN)

		w.Write([]byte(`{"weights":[{"ticker":"AAPL","weight":"0.2"}]}`))
	})

	cap, topN := 0.2, 3
	got, err := client.CalculateWeights(context.Background(), []string{"AAPL"}, &cap, &topN)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got["AAPL"])
}

func TestCalculateWeights_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{}`},
		{"client error", http.StatusUnprocessableEntity, `{"detail":"bad ticker"}`},
		{"not json", http.StatusOK, `<html>`},
		{"missing weights", http.StatusOK, `{"result":[]}`},
		{"missing weight value", http.StatusOK, `{"weights":[{"ticker":"AAPL"}]}`},
		{"bad weight value", http.StatusOK, `{"weights":[{"ticker":"AAPL","weight":"n/a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			client.http.DisableRetry()

			got, err := client.CalculateWeights(context.Background(), []string{"AAPL"}, nil, nil)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrEngine)
		})
	}
}

func TestCalculateWeights_MissingBaseURL(t *testing.T) {
	cfg := &config.Config{}
	client := NewClient(httputil.New(cfg, logger.Nop()), "", logger.Nop())

	_, err := client.CalculateWeights(context.Background(), []string{"AAPL"}, nil, nil)
	assert.ErrorIs(t, err, ErrEngine)
}

func TestCalculateWeights_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.CalculateWeights(ctx, []string{"AAPL"}, nil, nil)
	assert.ErrorIs(t, err, ErrEngine)
}
