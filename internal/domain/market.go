package domain

import "time"

// Market representa un mercado de predicción binario en Polymarket.
// Solo se soportan mercados con exactamente dos outcomes — el resolver
// descarta cualquier otra cosa antes de llegar aquí.
type Market struct {
	ID          string // market_id externo (Gamma)
	Question    string
	OutcomeUp   string // label del primer outcome (ej. "Up", "Yes")
	OutcomeDown string // label del segundo outcome (ej. "Down", "No")
	TokenUp     string // asset_id del primer outcome
	TokenDown   string // asset_id del segundo outcome
	CreatedAt   string // ISO-8601 tal como lo entrega la API, puede estar vacío
	Closed      bool
	ClosedTime  string // ISO-8601, vacío si sigue abierto

	// Gestionados por el store: first_seen se fija una sola vez,
	// last_updated avanza en cada upsert.
	FirstSeen   time.Time
	LastUpdated time.Time
}

// AssetIDs devuelve los dos token ids del mercado en orden up/down.
func (m Market) AssetIDs() []string {
	return []string{m.TokenUp, m.TokenDown}
}

// OutcomeFor devuelve el label del outcome para un asset_id del mercado.
// Devuelve "" si el asset no pertenece al mercado.
func (m Market) OutcomeFor(assetID string) string {
	switch assetID {
	case m.TokenUp:
		return m.OutcomeUp
	case m.TokenDown:
		return m.OutcomeDown
	}
	return ""
}
