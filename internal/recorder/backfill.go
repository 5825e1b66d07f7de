package recorder

// backfill.go — ingesta histórica desde la Data-API.
//
// Reusa la resolución de mercados del recorder pero en vez del stream
// pide páginas de trades históricos por token, reanudando desde el
// último timestamp persistido. El dedup del store colapsa el solape
// entre lo histórico y lo ya grabado en vivo.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

// BackfillResult resume una pasada de backfill.
type BackfillResult struct {
	Markets  int // mercados resueltos
	Fetched  int // trades devueltos por la API
	Inserted int // filas nuevas tras dedup
}

// Backfill descarga el historial de trades de los mercados dados y lo
// persiste. Requiere un TradeProvider inyectado en New.
func (r *Recorder) Backfill(ctx context.Context, marketIDs []string) (BackfillResult, error) {
	var res BackfillResult

	if r.provider == nil {
		return res, fmt.Errorf("recorder.Backfill: no trade provider configured")
	}

	markets, tokenMap := r.resolveAll(ctx, marketIDs)
	if len(markets) == 0 {
		return res, fmt.Errorf("recorder.Backfill: no markets resolved out of %d requested", len(marketIDs))
	}
	res.Markets = len(markets)

	for _, m := range markets {
		if err := r.store.UpsertMarket(ctx, m); err != nil {
			return res, fmt.Errorf("recorder.Backfill: persist market %s: %w", m.ID, err)
		}
	}

	for _, m := range markets {
		for _, assetID := range m.AssetIDs() {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			since, _, err := r.store.LatestTradeTimestamp(ctx, assetID)
			if err != nil {
				return res, fmt.Errorf("recorder.Backfill: latest timestamp for %s: %w", assetID, err)
			}

			trades, err := r.provider.FetchTrades(ctx, assetID, since)
			if err != nil {
				slog.Warn("backfill fetch failed", "market", m.ID, "asset", truncateAsset(assetID), "err", err)
				continue
			}
			res.Fetched += len(trades)

			ref := tokenMap[assetID]
			for i := range trades {
				trades[i].MarketID = ref.marketID
				trades[i].Outcome = ref.outcome
				trades[i].Source = domain.SourceBackfill
			}

			inserted, err := r.store.InsertBatch(ctx, trades)
			if err != nil {
				return res, fmt.Errorf("recorder.Backfill: insert batch for %s: %w", assetID, err)
			}
			res.Inserted += inserted

			slog.Info("backfilled asset",
				"market", m.ID,
				"asset", truncateAsset(assetID),
				"fetched", len(trades),
				"inserted", inserted,
			)
		}
	}
	return res, nil
}

func truncateAsset(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}
