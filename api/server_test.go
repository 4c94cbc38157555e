package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aidin1998/pincex_arbfinder/api"
	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/engine"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook/events"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, qty string) orderbook.PriceLevel {
	return orderbook.PriceLevel{Price: d(price), Quantity: d(qty)}
}

// helper to set up router
func setupRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	detCfg := arbitrage.DefaultConfig()
	detCfg.MinProfitBps = 1
	det := arbitrage.NewDetector(detCfg, logger)
	eng := engine.New(engine.DefaultConfig(),
		registry.New(registry.DefaultConfig(), logger),
		events.NewProcessor(events.DefaultConfig(), logger),
		det, logger)

	require.NoError(t, eng.ApplySnapshot("A", orderbook.Snapshot{
		Symbol: "BTCUSDT",
		Bids:   []orderbook.PriceLevel{level("49990", "2"), level("49980", "1")},
		Asks:   []orderbook.PriceLevel{level("50010", "1.5"), level("50020", "3")},
	}))
	require.NoError(t, eng.ApplySnapshot("B", orderbook.Snapshot{
		Symbol: "BTCUSDT",
		Bids:   []orderbook.PriceLevel{level("50120", "1.2")},
		Asks:   []orderbook.PriceLevel{level("50140", "1")},
	}))

	srv := api.NewServer(api.Config{}, logger, eng, nil)
	return srv.Router(), eng
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestHealthCheck(t *testing.T) {
	router, eng := setupRouter(t)

	w, body := get(t, router, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	require.NoError(t, eng.ApplySnapshot("C", orderbook.Snapshot{
		Symbol: "BTCUSDT",
		Bids:   []orderbook.PriceLevel{level("101", "1")},
		Asks:   []orderbook.PriceLevel{level("100", "1")},
	}))
	_, body = get(t, router, "/api/v1/health")
	assert.Equal(t, "degraded", body["status"])
}

func TestGetBook(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := get(t, router, "/api/v1/books/A/BTCUSDT?depth=1")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "BTCUSDT", data["symbol"])
	assert.Len(t, data["bids"], 1)
	assert.Len(t, data["asks"], 1)

	w, body = get(t, router, "/api/v1/books/Z/BTCUSDT")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "/api/v1/books/Z/BTCUSDT", body["instance"])
	assert.EqualValues(t, http.StatusNotFound, body["status"])

	w, body = get(t, router, "/api/v1/books/A/BTCUSDT?depth=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "depth", errs[0].(map[string]any)["field"])
}

func TestGetChecksum(t *testing.T) {
	router, eng := setupRouter(t)
	want, seq, err := eng.Checksum("A", "BTCUSDT")
	require.NoError(t, err)

	w, body := get(t, router, "/api/v1/books/A/BTCUSDT/checksum")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, want, data["checksum"])
	assert.EqualValues(t, seq, data["sequence"])
}

func TestGetAggregate(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := get(t, router, "/api/v1/aggregate/BTCUSDT?depth=2")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 2, data["venues"])
	assert.Equal(t, "B", data["best_bid"].(map[string]any)["venue"])
	assert.Equal(t, "A", data["best_ask"].(map[string]any)["venue"])
	assert.Equal(t, "-110", data["spread"])
	assert.Equal(t, false, data["crossed"])
	// top 2 levels of each venue, merged best-first
	bids := data["bids"].([]any)
	require.Len(t, bids, 3)
	var prices []string
	for _, l := range bids {
		prices = append(prices, l.(map[string]any)["price"].(string))
	}
	assert.Equal(t, []string{"50120", "49990", "49980"}, prices)
	assert.Equal(t, "B", bids[0].(map[string]any)["venue"])

	w, _ = get(t, router, "/api/v1/aggregate/ETHUSDT")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetOpportunities(t *testing.T) {
	router, _ := setupRouter(t)

	w, body := get(t, router, "/api/v1/opportunities/BTCUSDT")
	require.Equal(t, http.StatusOK, w.Code)
	ops := body["data"].(map[string]any)["opportunities"].([]any)
	require.Len(t, ops, 1)
	op := ops[0].(map[string]any)
	assert.Equal(t, "A", op["buy_venue"])
	assert.Equal(t, "B", op["sell_venue"])

	_, body = get(t, router, "/api/v1/opportunities/ETHUSDT")
	assert.Empty(t, body["data"].(map[string]any)["opportunities"])
}
