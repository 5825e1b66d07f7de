package ports

import (
	"context"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

// StreamCallbacks agrupa los callbacks tipados del stream. Cualquier
// campo nil se ignora. Los callbacks se invocan desde el receive loop
// del stream — no deben bloquear.
type StreamCallbacks struct {
	OnTrade          func(domain.TradeEvent)
	OnBook           func(domain.OrderBook)
	OnPriceChange    func(domain.PriceChange)
	OnTickSizeChange func(domain.TickSizeChange)

	// OnDisconnected se invoca exactamente una vez por cada transición
	// real de conectado a desconectado, sea por Disconnect() o por un
	// cierre inesperado. La reconexión es responsabilidad del caller.
	OnDisconnected func()
}

// TradeStream mantiene una suscripción de larga duración a un conjunto
// de asset ids y demultiplexa los eventos entrantes en callbacks.
type TradeStream interface {
	// Connect abre la conexión, envía una única suscripción con todos
	// los asset ids y arranca los loops de recepción y heartbeat.
	Connect(ctx context.Context, assetIDs []string, cbs StreamCallbacks) error

	// Disconnect es idempotente: cierra la conexión y para el heartbeat.
	Disconnect() error

	// Connected informa si la conexión sigue abierta.
	Connected() bool
}
