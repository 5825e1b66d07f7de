package domain

import "time"

// Lados válidos de un trade.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Procedencia de un trade persistido.
const (
	SourceStream   = "stream"   // recibido en vivo por websocket
	SourceBackfill = "backfill" // ingerido desde la Data API
)

// Trade es un trade ejecutado, ya enriquecido con mercado y outcome,
// listo para persistir. Las filas de trades son inmutables: la única
// mutación posible es la inserción, y un duplicado lógico es un no-op.
type Trade struct {
	MarketID   string
	AssetID    string
	Side       string // BUY | SELL
	Outcome    string // label del outcome del asset (ej. "Up")
	Price      float64
	Size       float64
	FeeRateBPS *int64 // opcional, nil si la API no lo entrega
	Timestamp  time.Time
	Source     string // stream | backfill
	RecordedAt time.Time
}

// Value devuelve el valor nocional del trade (price × size).
func (t Trade) Value() float64 {
	return t.Price * t.Size
}

// TradeEvent es un trade crudo del stream, antes del enriquecimiento.
// Lo emite el stream client con los campos numéricos ya parseados.
type TradeEvent struct {
	AssetID    string
	Market     string // condition_id que reporta el websocket
	Side       string
	Price      float64
	Size       float64
	FeeRateBPS *int64
	Timestamp  time.Time
}
