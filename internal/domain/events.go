package domain

// PriceChange es un cambio incremental de un nivel de precio,
// emitido cuando se colocan o cancelan órdenes. Se reenvía tal cual,
// sin buffering — los precios quedan como strings del wire.
type PriceChange struct {
	AssetID string
	Price   string
	Size    string
	Side    string
	BestBid string
	BestAsk string
}

// TickSizeChange notifica un cambio del tick size de un asset.
type TickSizeChange struct {
	AssetID     string
	Market      string
	OldTickSize string
	NewTickSize string
	Timestamp   string
}
