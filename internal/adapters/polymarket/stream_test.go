package polymarket

// Tests del demultiplexado del stream. Se ejercita handleMessage
// directamente con frames crudos — la capa de red queda fuera.

import (
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/alejandrodnm/polyticks/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessage_PongSwallowed(t *testing.T) {
	c := NewStreamClient("")
	calls := 0
	c.cbs = ports.StreamCallbacks{OnTrade: func(domain.TradeEvent) { calls++ }}

	c.handleMessage([]byte("PONG"))

	assert.Zero(t, calls)
	assert.Empty(t, c.RecentTrades(0))
}

func TestHandleMessage_TradeDemux(t *testing.T) {
	c := NewStreamClient("")
	var got domain.TradeEvent
	c.cbs = ports.StreamCallbacks{OnTrade: func(ev domain.TradeEvent) { got = ev }}

	frame := `{
		"event_type": "last_trade_price",
		"asset_id": "asset-x",
		"market": "0xcond",
		"price": "0.55",
		"size": "100",
		"side": "buy",
		"fee_rate_bps": "0",
		"timestamp": "1735725600000"
	}`
	c.handleMessage([]byte(frame))

	assert.Equal(t, "asset-x", got.AssetID)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.InDelta(t, 0.55, got.Price, 0.0001)
	assert.InDelta(t, 100.0, got.Size, 0.0001)
	assert.Equal(t, time.Unix(1735725600, 0).UTC(), got.Timestamp)

	// El last price del asset queda cacheado
	last, ok := c.LastPrice("asset-x")
	require.True(t, ok)
	assert.Equal(t, got, last)
}

func TestHandleMessage_BookReplacesSnapshot(t *testing.T) {
	c := NewStreamClient("")
	books := 0
	c.cbs = ports.StreamCallbacks{OnBook: func(domain.OrderBook) { books++ }}

	first := `{
		"event_type": "book", "asset_id": "asset-x",
		"bids": [{"price": "0.40", "size": "10"}],
		"asks": [{"price": "0.60", "size": "10"}]
	}`
	second := `{
		"event_type": "book", "asset_id": "asset-x",
		"bids": [{"price": "0.50", "size": "5"}, {"price": "0.45", "size": "20"}],
		"asks": [{"price": "0.56", "size": "5"}]
	}`
	c.handleMessage([]byte(first))
	c.handleMessage([]byte(second))

	assert.Equal(t, 2, books)

	ob, ok := c.OrderBook("asset-x")
	require.True(t, ok)
	assert.InDelta(t, 0.50, ob.BestBid(), 0.0001)
	assert.InDelta(t, 0.56, ob.BestAsk(), 0.0001)
	assert.InDelta(t, 0.53, ob.Midpoint(), 0.0001)
}

func TestHandleMessage_UnknownEventDropped(t *testing.T) {
	c := NewStreamClient("")
	calls := 0
	c.cbs = ports.StreamCallbacks{
		OnTrade:       func(domain.TradeEvent) { calls++ },
		OnBook:        func(domain.OrderBook) { calls++ },
		OnPriceChange: func(domain.PriceChange) { calls++ },
	}

	c.handleMessage([]byte(`{"event_type": "new_market", "id": "x"}`))
	c.handleMessage([]byte(`not even json`))

	assert.Zero(t, calls)
}

func TestHandleMessage_ArrayFrame(t *testing.T) {
	// El dump inicial tras suscribirse llega como array de eventos
	c := NewStreamClient("")
	var assets []string
	c.cbs = ports.StreamCallbacks{OnBook: func(ob domain.OrderBook) { assets = append(assets, ob.AssetID) }}

	frame := `[
		{"event_type": "book", "asset_id": "a1", "bids": [], "asks": []},
		{"event_type": "book", "asset_id": "a2", "bids": [], "asks": []}
	]`
	c.handleMessage([]byte(frame))

	assert.Equal(t, []string{"a1", "a2"}, assets)
}

func TestHandleMessage_PriceChangeForwardedVerbatim(t *testing.T) {
	c := NewStreamClient("")
	var got domain.PriceChange
	c.cbs = ports.StreamCallbacks{OnPriceChange: func(pc domain.PriceChange) { got = pc }}

	frame := `{
		"event_type": "price_change", "asset_id": "asset-x",
		"price": "0.52", "size": "30", "side": "SELL",
		"best_bid": "0.51", "best_ask": "0.53"
	}`
	c.handleMessage([]byte(frame))

	assert.Equal(t, "asset-x", got.AssetID)
	assert.Equal(t, "0.52", got.Price) // strings del wire, sin parsear
	assert.Equal(t, "0.51", got.BestBid)
}

func TestRecentTrades_RingBounded(t *testing.T) {
	c := NewStreamClient("")
	c.historySize = 3

	for i := 0; i < 5; i++ {
		frame := fmt.Sprintf(`{
			"event_type": "last_trade_price", "asset_id": "a%d",
			"price": "0.5", "size": "1", "side": "BUY", "timestamp": "%d"
		}`, i, 1735725600+i)
		c.handleMessage([]byte(frame))
	}

	recent := c.RecentTrades(0)
	require.Len(t, recent, 3)
	// El más nuevo primero, los dos más viejos expulsados
	assert.Equal(t, "a4", recent[0].AssetID)
	assert.Equal(t, "a3", recent[1].AssetID)
	assert.Equal(t, "a2", recent[2].AssetID)
}

func TestDisconnect_IdempotentWhenNeverConnected(t *testing.T) {
	c := NewStreamClient("")
	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
}
