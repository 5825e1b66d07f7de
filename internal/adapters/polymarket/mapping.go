package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

// mapGammaMarket valida y convierte un gammaMarket a domain.Market.
// Solo se aceptan mercados estrictamente binarios: exactamente dos
// token ids y dos outcome labels.
func mapGammaMarket(gm gammaMarket) (domain.Market, error) {
	tokens, err := decodeStringList(gm.ClobTokenIDs)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s: clobTokenIds: %w", gm.ID, err)
	}
	outcomes, err := decodeStringList(gm.Outcomes)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market %s: outcomes: %w", gm.ID, err)
	}

	if len(tokens) != 2 || len(outcomes) != 2 {
		return domain.Market{}, fmt.Errorf("market %s: not binary (%d tokens, %d outcomes)",
			gm.ID, len(tokens), len(outcomes))
	}

	return domain.Market{
		ID:          gm.ID,
		Question:    gm.Question,
		OutcomeUp:   outcomes[0],
		OutcomeDown: outcomes[1],
		TokenUp:     tokens[0],
		TokenDown:   tokens[1],
		CreatedAt:   gm.CreatedAt,
		Closed:      gm.Closed,
		ClosedTime:  gm.ClosedTime,
	}, nil
}

// decodeStringList decodifica un campo que Gamma entrega a veces como
// array JSON y a veces como string con el array codificado dentro
// (`"[\"123\",\"456\"]"`).
func decodeStringList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("neither array nor string: %s", truncate(string(raw), 40))
	}
	if encoded == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return nil, fmt.Errorf("encoded string is not a JSON array: %s", truncate(encoded, 40))
	}
	return list, nil
}

// mapDataTrade convierte un dataTrade de la Data API a domain.Trade.
// market_id y outcome quedan vacíos — los añade el recorder.
func mapDataTrade(rt dataTrade) domain.Trade {
	price, _ := rt.Price.Float64()
	size, _ := rt.Size.Float64()

	var fee *int64
	if v, err := rt.FeeRateBPS.Int64(); err == nil {
		fee = &v
	}

	return domain.Trade{
		AssetID:    rt.Asset,
		Side:       strings.ToUpper(rt.Side),
		Price:      price,
		Size:       size,
		FeeRateBPS: fee,
		Timestamp:  parseTradeTimestamp(rt.Timestamp.String()),
		Source:     domain.SourceBackfill,
	}
}

// mapBookLevels convierte niveles raw a domain.BookEntry, descartando
// entradas vacías o corruptas.
func mapBookLevels(raw []wsBookLevel) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, lvl := range raw {
		price, _ := strconv.ParseFloat(lvl.Price, 64)
		size, _ := strconv.ParseFloat(lvl.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}
	return entries
}

// parseTradeTimestamp interpreta el timestamp de un trade. Las APIs de
// Polymarket mezclan epochs en segundos, epochs en milisegundos y varios
// formatos ISO; probamos en ese orden.
func parseTradeTimestamp(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.Unix(sec/1000, (sec%1000)*int64(time.Millisecond)).UTC()
		}
		return time.Unix(sec, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC()
	}
	for _, layout := range []string{
		time.RFC3339Nano, time.RFC3339,
		"2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseFeeRate interpreta el fee_rate_bps string del websocket.
// Devuelve nil si viene vacío o no numérico.
func parseFeeRate(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// algunos frames lo mandan como decimal
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nil
		}
		v = int64(f)
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
