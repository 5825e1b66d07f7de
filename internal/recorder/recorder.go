package recorder

// recorder.go — orquestador de una sesión de grabación.
//
// Flujo: resolver cada market_id (los fallos individuales se saltan),
// persistir la metadata, armar el token map asset→(market, outcome),
// abrir el stream y enriquecer cada trade antes de insertarlo. El
// estado mutable de la sesión (contadores, flag de running) vive en un
// objeto session con creación y teardown definidos — nada de globals.
//
// El stream client no reconecta solo: el loop de liveness de este
// paquete detecta la caída y reintenta con backoff exponencial acotado.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/alejandrodnm/polyticks/internal/ports"
	"github.com/google/uuid"
)

// Config controla el comportamiento de la sesión.
type Config struct {
	PollInterval   time.Duration // ciclo de liveness
	StatusInterval time.Duration // cadencia del log de estado
	ReconnectBase  time.Duration // primer backoff tras una caída
	ReconnectMax   time.Duration // techo del backoff
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		StatusInterval: 30 * time.Second,
		ReconnectBase:  2 * time.Second,
		ReconnectMax:   60 * time.Second,
	}
}

// Recorder graba trades del stream a un TickStore, con todas las
// dependencias inyectadas. provider puede ser nil si no se usa Backfill.
type Recorder struct {
	cfg      Config
	resolver ports.Resolver
	stream   ports.TradeStream
	provider ports.TradeProvider
	store    ports.TickStore

	mu      sync.Mutex
	session *session
}

// tokenRef es la entrada del token map: a qué mercado y outcome
// pertenece un asset_id.
type tokenRef struct {
	marketID string
	outcome  string
}

// session es el estado mutable de una sesión de grabación. Se crea en
// start y se destruye en Stop; los callbacks del stream solo lo tocan
// vía métodos atómicos.
type session struct {
	id        string
	startedAt time.Time
	tokenMap  map[string]tokenRef
	markets   []domain.Market

	inserted atomic.Int64
	stopped  atomic.Bool
	stopOnce sync.Once
}

// New crea un Recorder con las dependencias dadas.
func New(cfg Config, resolver ports.Resolver, stream ports.TradeStream, provider ports.TradeProvider, store ports.TickStore) *Recorder {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 2 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = 60 * time.Second
	}
	return &Recorder{
		cfg:      cfg,
		resolver: resolver,
		stream:   stream,
		provider: provider,
		store:    store,
	}
}

// Run graba hasta que el contexto se cancele. Resuelve los mercados,
// abre el stream y se queda en el loop de liveness; al salir ejecuta el
// teardown idempotente y emite el resumen final.
func (r *Recorder) Run(ctx context.Context, marketIDs []string) error {
	s, err := r.start(ctx, marketIDs)
	if err != nil {
		return err
	}
	defer r.Stop()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	lastStatus := time.Now()
	backoff := r.cfg.ReconnectBase

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.stopped.Load() {
				return nil
			}

			if !r.stream.Connected() {
				backoff = r.reconnect(ctx, s, backoff)
				continue
			}
			backoff = r.cfg.ReconnectBase

			if r.cfg.StatusInterval > 0 && time.Since(lastStatus) >= r.cfg.StatusInterval {
				lastStatus = time.Now()
				n := s.inserted.Load()
				slog.Info("recording",
					"session", shortSession(s.id),
					"trades", n,
					"rate", fmt.Sprintf("%.2f/s", rate(n, time.Since(s.startedAt))),
				)
			}
		}
	}
}

// start resuelve los mercados, persiste la metadata y conecta el stream.
func (r *Recorder) start(ctx context.Context, marketIDs []string) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil, fmt.Errorf("recorder.Run: session already running")
	}

	markets, tokenMap := r.resolveAll(ctx, marketIDs)
	if len(markets) == 0 {
		// Un stream sin suscripciones no es un estado válido
		return nil, fmt.Errorf("recorder.Run: no markets resolved out of %d requested", len(marketIDs))
	}

	for _, m := range markets {
		if err := r.store.UpsertMarket(ctx, m); err != nil {
			return nil, fmt.Errorf("recorder.Run: persist market %s: %w", m.ID, err)
		}
	}

	s := &session{
		id:        uuid.New().String(),
		startedAt: time.Now().UTC(),
		tokenMap:  tokenMap,
		markets:   markets,
	}

	assetIDs := make([]string, 0, len(tokenMap))
	for _, m := range markets {
		assetIDs = append(assetIDs, m.AssetIDs()...)
	}

	if err := r.stream.Connect(ctx, assetIDs, r.callbacks(s)); err != nil {
		return nil, fmt.Errorf("recorder.Run: connect stream: %w", err)
	}

	r.session = s
	slog.Info("recording session started",
		"session", shortSession(s.id),
		"markets", len(markets),
		"assets", len(assetIDs),
	)
	return s, nil
}

// Stop es idempotente: deja de aceptar trades, desconecta el stream,
// cierra el store y emite el resumen. Seguro ante señales duplicadas.
func (r *Recorder) Stop() {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return
	}

	s.stopOnce.Do(func() {
		s.stopped.Store(true)

		if err := r.stream.Disconnect(); err != nil {
			slog.Warn("stream disconnect", "err", err)
		}
		if err := r.store.Close(); err != nil {
			slog.Warn("store close", "err", err)
		}

		elapsed := time.Since(s.startedAt)
		n := s.inserted.Load()
		slog.Info("recording session finished",
			"session", shortSession(s.id),
			"duration", elapsed.Round(time.Second),
			"trades", n,
			"rate", fmt.Sprintf("%.2f/s", rate(n, elapsed)),
		)

		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
	})
}

// Stats devuelve los contadores de la sesión activa.
func (r *Recorder) Stats() (trades int64, elapsed time.Duration, running bool) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return 0, 0, false
	}
	return s.inserted.Load(), time.Since(s.startedAt), !s.stopped.Load()
}

// resolveAll resuelve cada market_id, saltando los que fallen.
// Devuelve los mercados válidos y el token map combinado.
func (r *Recorder) resolveAll(ctx context.Context, marketIDs []string) ([]domain.Market, map[string]tokenRef) {
	var markets []domain.Market
	tokenMap := make(map[string]tokenRef)

	for _, id := range marketIDs {
		m, err := r.resolver.Resolve(ctx, id)
		if err != nil {
			slog.Warn("skipping market", "market", id, "err", err)
			continue
		}
		markets = append(markets, m)
		tokenMap[m.TokenUp] = tokenRef{marketID: m.ID, outcome: m.OutcomeUp}
		tokenMap[m.TokenDown] = tokenRef{marketID: m.ID, outcome: m.OutcomeDown}
	}
	return markets, tokenMap
}

// callbacks arma los callbacks del stream para una sesión.
func (r *Recorder) callbacks(s *session) ports.StreamCallbacks {
	return ports.StreamCallbacks{
		OnTrade: func(ev domain.TradeEvent) { r.onTrade(s, ev) },
		OnDisconnected: func() {
			if !s.stopped.Load() {
				slog.Warn("stream dropped, will reconnect", "session", shortSession(s.id))
			}
		},
	}
}

// onTrade enriquece un trade crudo con mercado y outcome y lo persiste.
// Un asset fuera del token map se descarta sin error; un insert fallido
// se loguea y la sesión continúa.
func (r *Recorder) onTrade(s *session, ev domain.TradeEvent) {
	if s.stopped.Load() {
		return
	}

	ref, ok := s.tokenMap[ev.AssetID]
	if !ok {
		// No debería pasar con la disciplina de suscripción actual
		return
	}

	trade := domain.Trade{
		MarketID:   ref.marketID,
		AssetID:    ev.AssetID,
		Side:       ev.Side,
		Outcome:    ref.outcome,
		Price:      ev.Price,
		Size:       ev.Size,
		FeeRateBPS: ev.FeeRateBPS,
		Timestamp:  ev.Timestamp,
		Source:     domain.SourceStream,
	}

	inserted, err := r.store.InsertTrade(context.Background(), trade)
	if err != nil {
		slog.Warn("trade insert failed", "asset", ev.AssetID, "err", err)
		return
	}
	if inserted {
		s.inserted.Add(1)
	}
}

// reconnect reintenta la conexión tras una caída y devuelve el próximo
// backoff. El dedup del store absorbe cualquier solape tras reconectar.
func (r *Recorder) reconnect(ctx context.Context, s *session, backoff time.Duration) time.Duration {
	slog.Info("reconnecting stream",
		"session", shortSession(s.id),
		"backoff", backoff,
	)

	select {
	case <-ctx.Done():
		return backoff
	case <-time.After(backoff):
	}

	assetIDs := make([]string, 0, len(s.tokenMap))
	for _, m := range s.markets {
		assetIDs = append(assetIDs, m.AssetIDs()...)
	}

	if err := r.stream.Connect(ctx, assetIDs, r.callbacks(s)); err != nil {
		slog.Warn("reconnect failed", "err", err)
		next := backoff * 2
		if next > r.cfg.ReconnectMax {
			next = r.cfg.ReconnectMax
		}
		return next
	}

	slog.Info("stream reconnected", "session", shortSession(s.id))
	return r.cfg.ReconnectBase
}

func rate(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

// shortSession acorta el uuid de sesión para logs.
func shortSession(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
