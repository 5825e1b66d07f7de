package polymarket

import "encoding/json"

// DTOs raw de las APIs de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- Gamma API ---

// gammaMarket es un mercado de GET /markets de Gamma. Los campos
// clobTokenIds y outcomes llegan a veces como arrays y a veces como
// strings con un array JSON codificado dentro — se decodifican
// defensivamente en mapping.go.
type gammaMarket struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Outcomes     json.RawMessage `json:"outcomes"`
	CreatedAt    string          `json:"createdAt"`
	Closed       bool            `json:"closed"`
	ClosedTime   string          `json:"closedTime"`
}

// --- Data API ---

// dataTrade es un trade ejecutado de GET /trades de la Data API.
type dataTrade struct {
	ID          string      `json:"id"`
	ConditionID string      `json:"conditionId"`
	Asset       string      `json:"asset"`
	Side        string      `json:"side"`
	Price       json.Number `json:"price"`
	Size        json.Number `json:"size"`
	Timestamp   json.Number `json:"timestamp"`
	FeeRateBPS  json.Number `json:"feeRateBps"`
}

// --- Websocket (market channel) ---

// wsEnvelope trae solo el discriminador de tipo de un frame.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// wsSubscribe es el único mensaje que enviamos tras conectar.
type wsSubscribe struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// wsBook es un snapshot completo del libro de un asset.
type wsBook struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	Bids      []wsBookLevel  `json:"bids"`
	Asks      []wsBookLevel  `json:"asks"`
}

// wsBookLevel es un nivel de precio raw (strings para mayor precisión).
type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsPriceChange es un cambio incremental de nivel de precio.
type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// wsTickSizeChange notifica un cambio de tick size.
type wsTickSizeChange struct {
	AssetID     string `json:"asset_id"`
	Market      string `json:"market"`
	OldTickSize string `json:"old_tick_size"`
	NewTickSize string `json:"new_tick_size"`
	Timestamp   string `json:"timestamp"`
}

// wsLastTradePrice es un trade ejecutado (el stream de trades).
type wsLastTradePrice struct {
	AssetID    string `json:"asset_id"`
	Market     string `json:"market"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	Side       string `json:"side"`
	FeeRateBPS string `json:"fee_rate_bps"`
	Timestamp  string `json:"timestamp"`
}
