package polymarket

// stream.go — cliente websocket del market channel público.
//
// Estrategia: UNA conexión con UNA suscripción que lleva todos los
// asset ids. Un goroutine lee frames y demultiplexa por event_type;
// otro manda el heartbeat (el literal PING, cada 10s) mientras la
// conexión siga abierta. El estado compartido que tocan los callbacks
// — books por asset, ring de trades recientes, last prices — vive bajo
// un único mutex porque los lectores pueden estar en otro goroutine.
//
// Este cliente NO reconecta: un cierre inesperado dispara el callback
// OnDisconnected (una sola vez por transición) y la recuperación es
// responsabilidad del caller.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
	"github.com/alejandrodnm/polyticks/internal/ports"
	"github.com/gorilla/websocket"
)

const (
	defaultWSBase = "wss://ws-subscriptions-clob.polymarket.com"
	marketChannel = "market"

	handshakeTimeout  = 15 * time.Second
	writeWait         = 10 * time.Second
	heartbeatInterval = 10 * time.Second

	// Heartbeat literal: el servidor contesta PONG, que se traga en silencio.
	pingText = "PING"
	pongText = "PONG"

	defaultTradeHistory = 100
)

// StreamClient implementa ports.TradeStream sobre gorilla/websocket.
type StreamClient struct {
	wsBase      string
	historySize int

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	stopPing   chan struct{}
	cbs        ports.StreamCallbacks
	books      map[string]domain.OrderBook
	recent     []domain.TradeEvent // ring acotado, el más viejo primero
	lastPrices map[string]domain.TradeEvent
}

// NewStreamClient crea un StreamClient contra el endpoint dado.
// Con wsBase vacío usa el endpoint de producción.
func NewStreamClient(wsBase string) *StreamClient {
	if wsBase == "" {
		wsBase = defaultWSBase
	}
	return &StreamClient{
		wsBase:      wsBase,
		historySize: defaultTradeHistory,
		books:       make(map[string]domain.OrderBook),
		lastPrices:  make(map[string]domain.TradeEvent),
	}
}

// Connect abre la conexión, manda la única suscripción con todos los
// asset ids y arranca los loops de recepción y heartbeat.
func (c *StreamClient) Connect(ctx context.Context, assetIDs []string, cbs ports.StreamCallbacks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("polymarket.StreamClient: already connected")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.wsBase+"/ws/"+marketChannel, nil)
	if err != nil {
		return fmt.Errorf("polymarket.StreamClient: dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsSubscribe{AssetsIDs: assetIDs, Type: marketChannel}); err != nil {
		conn.Close()
		return fmt.Errorf("polymarket.StreamClient: subscribe: %w", err)
	}

	c.conn = conn
	c.cbs = cbs
	c.connected = true
	c.stopPing = make(chan struct{})

	go c.readLoop(conn)
	go c.heartbeatLoop(conn, c.stopPing)

	slog.Info("stream connected", "assets", len(assetIDs))
	return nil
}

// Disconnect es idempotente: para el heartbeat, cierra la conexión y
// dispara OnDisconnected si la conexión estaba abierta.
func (c *StreamClient) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	close(c.stopPing)

	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := c.conn.Close()

	cb := c.cbs.OnDisconnected
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
	return err
}

// Connected informa si la conexión sigue abierta.
func (c *StreamClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OrderBook devuelve el último snapshot del libro de un asset.
func (c *StreamClient) OrderBook(assetID string) (domain.OrderBook, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.books[assetID]
	return ob, ok
}

// LastPrice devuelve el último trade visto para un asset.
func (c *StreamClient) LastPrice(assetID string) (domain.TradeEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.lastPrices[assetID]
	return ev, ok
}

// RecentTrades devuelve hasta limit trades recientes, el más nuevo primero.
func (c *StreamClient) RecentTrades(limit int) []domain.TradeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]domain.TradeEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = c.recent[len(c.recent)-1-i]
	}
	return out
}

// --- loops internos ---

// readLoop bloquea en la conexión hasta que se cierre. Cualquier error
// de lectura (incluido el cierre esperado) termina el loop.
func (c *StreamClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.markDisconnected(err)
			return
		}
		c.handleMessage(raw)
	}
}

// heartbeatLoop manda el PING literal a intervalo fijo mientras la
// conexión esté abierta. Un error de escritura rompe la conexión y
// deja que readLoop reporte la desconexión.
func (c *StreamClient) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(pingText)); err != nil {
				slog.Warn("heartbeat failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}

// markDisconnected registra la transición a desconectado y dispara el
// callback exactamente una vez. Si Disconnect() ya corrió, es un no-op.
func (c *StreamClient) markDisconnected(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	close(c.stopPing)
	c.conn.Close()
	cb := c.cbs.OnDisconnected
	c.mu.Unlock()

	slog.Warn("stream disconnected", "err", err)
	if cb != nil {
		cb()
	}
}

// --- demultiplexado ---

// handleMessage procesa un frame entrante. Frames malformados o con
// event_type desconocido se loguean y se descartan — nunca tumban el
// receive loop.
func (c *StreamClient) handleMessage(raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == pongText {
		return
	}

	// El dump inicial tras suscribirse puede llegar como array de eventos.
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			slog.Debug("dropping malformed frame", "err", err)
			return
		}
		for _, item := range batch {
			c.handleEvent(item)
		}
		return
	}

	c.handleEvent(trimmed)
}

func (c *StreamClient) handleEvent(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("dropping malformed frame", "err", err)
		return
	}

	switch env.EventType {
	case "book":
		c.handleBook(raw)
	case "price_change":
		c.handlePriceChange(raw)
	case "last_trade_price":
		c.handleTrade(raw)
	case "tick_size_change":
		c.handleTickSizeChange(raw)
	default:
		// Tipos nuevos del servidor no son un error
		slog.Debug("dropping unknown event type", "event_type", env.EventType)
	}
}

// handleBook reemplaza el snapshot completo del libro del asset.
func (c *StreamClient) handleBook(raw []byte) {
	var msg wsBook
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("dropping malformed book event", "err", err)
		return
	}

	ob := domain.OrderBook{
		AssetID:   msg.AssetID,
		Bids:      mapBookLevels(msg.Bids),
		Asks:      mapBookLevels(msg.Asks),
		Timestamp: msg.Timestamp,
		Hash:      msg.Hash,
	}

	c.mu.Lock()
	c.books[msg.AssetID] = ob
	cb := c.cbs.OnBook
	c.mu.Unlock()

	if cb != nil {
		cb(ob)
	}
}

// handleTrade procesa un last_trade_price: lo mete al ring de trades
// recientes, actualiza el last price del asset y lo reenvía al callback.
func (c *StreamClient) handleTrade(raw []byte) {
	var msg wsLastTradePrice
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("dropping malformed trade event", "err", err)
		return
	}

	price, perr := strconv.ParseFloat(msg.Price, 64)
	size, serr := strconv.ParseFloat(msg.Size, 64)
	if perr != nil || serr != nil {
		slog.Debug("dropping trade with bad numerics",
			"asset", shortID(msg.AssetID), "price", msg.Price, "size", msg.Size)
		return
	}

	ev := domain.TradeEvent{
		AssetID:    msg.AssetID,
		Market:     msg.Market,
		Side:       strings.ToUpper(msg.Side),
		Price:      price,
		Size:       size,
		FeeRateBPS: parseFeeRate(msg.FeeRateBPS),
		Timestamp:  parseTradeTimestamp(msg.Timestamp),
	}

	c.mu.Lock()
	if len(c.recent) == c.historySize {
		copy(c.recent, c.recent[1:])
		c.recent[len(c.recent)-1] = ev
	} else {
		c.recent = append(c.recent, ev)
	}
	c.lastPrices[ev.AssetID] = ev
	cb := c.cbs.OnTrade
	c.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// handlePriceChange reenvía el evento tal cual, sin buffering.
func (c *StreamClient) handlePriceChange(raw []byte) {
	var msg wsPriceChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("dropping malformed price_change event", "err", err)
		return
	}

	c.mu.Lock()
	cb := c.cbs.OnPriceChange
	c.mu.Unlock()

	if cb != nil {
		cb(domain.PriceChange{
			AssetID: msg.AssetID,
			Price:   msg.Price,
			Size:    msg.Size,
			Side:    msg.Side,
			BestBid: msg.BestBid,
			BestAsk: msg.BestAsk,
		})
	}
}

// handleTickSizeChange reenvía el evento tal cual.
func (c *StreamClient) handleTickSizeChange(raw []byte) {
	var msg wsTickSizeChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("dropping malformed tick_size_change event", "err", err)
		return
	}

	c.mu.Lock()
	cb := c.cbs.OnTickSizeChange
	c.mu.Unlock()

	if cb != nil {
		cb(domain.TickSizeChange{
			AssetID:     msg.AssetID,
			Market:      msg.Market,
			OldTickSize: msg.OldTickSize,
			NewTickSize: msg.NewTickSize,
			Timestamp:   msg.Timestamp,
		})
	}
}
