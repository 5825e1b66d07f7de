package polymarket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/polyticks/internal/adapters/polymarket"
	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_DecodesEncodedTokenFields(t *testing.T) {
	// Gamma entrega clobTokenIds y outcomes como strings con JSON dentro
	fixture := `[{
		"id": "996577",
		"question": "Bitcoin Up or Down - January 1?",
		"clobTokenIds": "[\"111111\", \"222222\"]",
		"outcomes": "[\"Up\", \"Down\"]",
		"createdAt": "2025-01-01T00:00:00Z",
		"closed": false
	}]`
	srv := jsonServer(t, fixture)

	client := polymarket.NewClient(srv.URL, srv.URL)
	m, err := client.Resolve(context.Background(), "996577")
	require.NoError(t, err)

	assert.Equal(t, "996577", m.ID)
	assert.Equal(t, "111111", m.TokenUp)
	assert.Equal(t, "222222", m.TokenDown)
	assert.Equal(t, "Up", m.OutcomeUp)
	assert.Equal(t, "Down", m.OutcomeDown)
	assert.False(t, m.Closed)
}

func TestResolve_PlainArrayFields(t *testing.T) {
	fixture := `[{
		"id": "996578",
		"question": "ETH Up or Down?",
		"clobTokenIds": ["333", "444"],
		"outcomes": ["Yes", "No"],
		"closed": true,
		"closedTime": "2025-02-01T00:00:00Z"
	}]`
	srv := jsonServer(t, fixture)

	client := polymarket.NewClient(srv.URL, srv.URL)
	m, err := client.Resolve(context.Background(), "996578")
	require.NoError(t, err)

	assert.Equal(t, "333", m.TokenUp)
	assert.Equal(t, "No", m.OutcomeDown)
	assert.True(t, m.Closed)
	assert.Equal(t, "2025-02-01T00:00:00Z", m.ClosedTime)
}

func TestResolve_RejectsNonBinaryMarket(t *testing.T) {
	fixture := `[{
		"id": "996579",
		"question": "Who wins?",
		"clobTokenIds": "[\"1\", \"2\", \"3\"]",
		"outcomes": "[\"A\", \"B\", \"C\"]"
	}]`
	srv := jsonServer(t, fixture)

	client := polymarket.NewClient(srv.URL, srv.URL)
	_, err := client.Resolve(context.Background(), "996579")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not binary")
}

func TestResolve_MarketNotFound(t *testing.T) {
	srv := jsonServer(t, `[]`)

	client := polymarket.NewClient(srv.URL, srv.URL)
	_, err := client.Resolve(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFetchTrades_MapsAndFiltersSince(t *testing.T) {
	// Dos trades: el segundo es anterior a `since` y debe descartarse
	fixture := `[
		{"id": "t1", "asset": "asset-x", "side": "buy", "price": "0.55",
		 "size": "100", "timestamp": 1735725600, "feeRateBps": "200"},
		{"id": "t2", "asset": "asset-x", "side": "SELL", "price": "0.54",
		 "size": "50", "timestamp": 1735639200}
	]`
	srv := jsonServer(t, fixture)

	client := polymarket.NewClient(srv.URL, srv.URL)
	since := time.Unix(1735700000, 0).UTC()

	trades, err := client.FetchTrades(context.Background(), "asset-x", since)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	tr := trades[0]
	assert.Equal(t, "asset-x", tr.AssetID)
	assert.Equal(t, domain.SideBuy, tr.Side) // normalizado a mayúsculas
	assert.InDelta(t, 0.55, tr.Price, 0.0001)
	assert.InDelta(t, 100.0, tr.Size, 0.0001)
	assert.Equal(t, domain.SourceBackfill, tr.Source)
	assert.Equal(t, time.Unix(1735725600, 0).UTC(), tr.Timestamp)
	require.NotNil(t, tr.FeeRateBPS)
	assert.Equal(t, int64(200), *tr.FeeRateBPS)
}
