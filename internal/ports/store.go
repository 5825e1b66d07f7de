package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

// TickStore persiste mercados y trades deduplicados. El recorder solo
// necesita la superficie de escritura; las queries y el export viven en
// la implementación concreta y las consume la CLI directamente.
type TickStore interface {
	// UpsertMarket inserta o actualiza la metadata de un mercado.
	// first_seen se preserva de la fila existente, last_updated avanza.
	UpsertMarket(ctx context.Context, m domain.Market) error

	// InsertTrade inserta un trade si no existe. Devuelve true si
	// escribió una fila nueva, false si era un duplicado lógico.
	InsertTrade(ctx context.Context, t domain.Trade) (bool, error)

	// InsertBatch aplica InsertTrade por item y devuelve cuántas filas
	// nuevas escribió. El fallo de un item no revierte los anteriores.
	InsertBatch(ctx context.Context, trades []domain.Trade) (int, error)

	// LatestTradeTimestamp devuelve el timestamp del trade más reciente
	// de un asset, para retomar backfills sin repetir rangos.
	// ok es false si no hay trades para el asset.
	LatestTradeTimestamp(ctx context.Context, assetID string) (ts time.Time, ok bool, err error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}

// TradeProvider obtiene trades históricos ejecutados de un asset desde
// un collaborator externo (Data API). Los trades vuelven sin enriquecer:
// market_id y outcome los añade el recorder.
type TradeProvider interface {
	FetchTrades(ctx context.Context, assetID string, since time.Time) ([]domain.Trade, error)
}
