package recorder_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/alejandrodnm/polyticks/internal/ports"
	"github.com/alejandrodnm/polyticks/internal/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver resuelve solo los mercados precargados.
type fakeResolver struct {
	markets map[string]domain.Market
}

func (f *fakeResolver) Resolve(_ context.Context, marketID string) (domain.Market, error) {
	m, ok := f.markets[marketID]
	if !ok {
		return domain.Market{}, fmt.Errorf("market %s not found", marketID)
	}
	return m, nil
}

// fakeStream captura los callbacks y deja simular caídas desde el test.
type fakeStream struct {
	mu           sync.Mutex
	connected    bool
	cbs          ports.StreamCallbacks
	assets       []string
	connects     int
	failConnects int
}

func (f *fakeStream) Connect(_ context.Context, assetIDs []string, cbs ports.StreamCallbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failConnects > 0 {
		f.failConnects--
		return fmt.Errorf("dial refused")
	}
	f.connected = true
	f.assets = assetIDs
	f.cbs = cbs
	return nil
}

func (f *fakeStream) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeStream) emitTrade(ev domain.TradeEvent) {
	f.mu.Lock()
	cb := f.cbs.OnTrade
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (f *fakeStream) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeStream) subscribedAssets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.assets))
	copy(out, f.assets)
	return out
}

// fakeStore dedup-ea por asset+timestamp, suficiente para estos tests.
type fakeStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	seen    map[string]bool
	trades  []domain.Trade
	latest  map[string]time.Time
	closes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		markets: make(map[string]domain.Market),
		seen:    make(map[string]bool),
		latest:  make(map[string]time.Time),
	}
}

func (f *fakeStore) UpsertMarket(_ context.Context, m domain.Market) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.ID] = m
	return nil
}

func (f *fakeStore) InsertTrade(_ context.Context, t domain.Trade) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s_%d_%.6f_%.6f", t.AssetID, t.Timestamp.UnixMilli(), t.Price, t.Size)
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.trades = append(f.trades, t)
	return true, nil
}

func (f *fakeStore) InsertBatch(ctx context.Context, trades []domain.Trade) (int, error) {
	inserted := 0
	for _, t := range trades {
		ok, err := f.InsertTrade(ctx, t)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (f *fakeStore) LatestTradeTimestamp(_ context.Context, assetID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.latest[assetID]
	return ts, ok, nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeStore) storedTrades() []domain.Trade {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Trade, len(f.trades))
	copy(out, f.trades)
	return out
}

func (f *fakeStore) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeProvider devuelve trades precargados y registra el since recibido.
type fakeProvider struct {
	mu     sync.Mutex
	trades map[string][]domain.Trade
	since  map[string]time.Time
}

func (f *fakeProvider) FetchTrades(_ context.Context, assetID string, since time.Time) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.since == nil {
		f.since = make(map[string]time.Time)
	}
	f.since[assetID] = since
	return f.trades[assetID], nil
}

func binaryMarket() domain.Market {
	return domain.Market{
		ID:          "0xmarket1",
		Question:    "Will it settle up?",
		OutcomeUp:   "Up",
		OutcomeDown: "Down",
		TokenUp:     "token-up",
		TokenDown:   "token-down",
	}
}

func testConfig() recorder.Config {
	return recorder.Config{
		PollInterval:  5 * time.Millisecond,
		ReconnectBase: time.Millisecond,
		ReconnectMax:  4 * time.Millisecond,
	}
}

func TestRun_NoMarketsResolved(t *testing.T) {
	rec := recorder.New(testConfig(), &fakeResolver{}, &fakeStream{}, nil, newFakeStore())

	err := rec.Run(context.Background(), []string{"0xmissing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no markets resolved")
}

func TestRun_RecordsAndEnrichesTrades(t *testing.T) {
	resolver := &fakeResolver{markets: map[string]domain.Market{"0xmarket1": binaryMarket()}}
	stream := &fakeStream{}
	store := newFakeStore()
	rec := recorder.New(testConfig(), resolver, stream, nil, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, []string{"0xmarket1", "0xbogus"}) }()

	require.Eventually(t, stream.Connected, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"token-up", "token-down"}, stream.subscribedAssets())

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := domain.TradeEvent{AssetID: "token-up", Side: domain.SideBuy, Price: 0.55, Size: 100, Timestamp: ts}
	stream.emitTrade(ev)
	stream.emitTrade(ev) // duplicado, debe colapsar
	stream.emitTrade(domain.TradeEvent{AssetID: "token-unknown", Side: domain.SideSell, Price: 0.4, Size: 10, Timestamp: ts})

	require.Eventually(t, func() bool { return len(store.storedTrades()) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	trades := store.storedTrades()
	require.Len(t, trades, 1)
	assert.Equal(t, "0xmarket1", trades[0].MarketID)
	assert.Equal(t, "Up", trades[0].Outcome)
	assert.Equal(t, domain.SourceStream, trades[0].Source)

	assert.Contains(t, store.markets, "0xmarket1")
	assert.Equal(t, 1, store.closeCount())
	assert.False(t, stream.Connected())
}

func TestStop_Idempotent(t *testing.T) {
	resolver := &fakeResolver{markets: map[string]domain.Market{"0xmarket1": binaryMarket()}}
	stream := &fakeStream{}
	store := newFakeStore()
	rec := recorder.New(testConfig(), resolver, stream, nil, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, []string{"0xmarket1"}) }()

	require.Eventually(t, stream.Connected, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rec.Stop()
	rec.Stop()
	assert.Equal(t, 1, store.closeCount())
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	resolver := &fakeResolver{markets: map[string]domain.Market{"0xmarket1": binaryMarket()}}
	stream := &fakeStream{}
	store := newFakeStore()
	rec := recorder.New(testConfig(), resolver, stream, nil, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, []string{"0xmarket1"}) }()

	require.Eventually(t, stream.Connected, time.Second, time.Millisecond)
	stream.drop()
	require.Eventually(t, func() bool { return stream.connectCount() >= 2 && stream.Connected() }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBackfill_EnrichesAndResumes(t *testing.T) {
	resolver := &fakeResolver{markets: map[string]domain.Market{"0xmarket1": binaryMarket()}}
	store := newFakeStore()

	existing := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := store.InsertTrade(context.Background(), domain.Trade{
		MarketID: "0xmarket1", AssetID: "token-up", Side: domain.SideBuy, Outcome: "Up",
		Price: 0.50, Size: 20, Timestamp: existing, Source: domain.SourceStream,
	})
	require.NoError(t, err)
	store.latest["token-up"] = existing

	provider := &fakeProvider{trades: map[string][]domain.Trade{
		"token-up": {
			{AssetID: "token-up", Side: domain.SideBuy, Price: 0.50, Size: 20, Timestamp: existing},
			{AssetID: "token-up", Side: domain.SideSell, Price: 0.52, Size: 40, Timestamp: existing.Add(time.Minute)},
		},
	}}

	rec := recorder.New(testConfig(), resolver, &fakeStream{}, provider, store)
	res, err := rec.Backfill(context.Background(), []string{"0xmarket1"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Markets)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Inserted, "overlapping trade must collapse")
	assert.Equal(t, existing, provider.since["token-up"])

	trades := store.storedTrades()
	require.Len(t, trades, 2)
	backfilled := trades[1]
	assert.Equal(t, "0xmarket1", backfilled.MarketID)
	assert.Equal(t, "Up", backfilled.Outcome)
	assert.Equal(t, domain.SourceBackfill, backfilled.Source)
}

func TestBackfill_RequiresProvider(t *testing.T) {
	rec := recorder.New(testConfig(), &fakeResolver{}, &fakeStream{}, nil, newFakeStore())

	_, err := rec.Backfill(context.Background(), []string{"0xmarket1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no trade provider")
}
