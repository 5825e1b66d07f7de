package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

const (
	tradesPath     = "/trades"
	tradesPerPage  = 1000
	tradesMaxPages = 5
)

// FetchTrades obtiene los trades ejecutados de un asset desde la Data
// API pública, paginando hacia atrás. Implementa ports.TradeProvider.
// Si since no es zero, descarta todo lo anterior — el dedup del store
// se encarga del solape en el borde.
func (c *Client) FetchTrades(ctx context.Context, assetID string, since time.Time) ([]domain.Trade, error) {
	var all []domain.Trade

	for page := 0; page < tradesMaxPages; page++ {
		offset := page * tradesPerPage
		u := fmt.Sprintf("%s%s?asset=%s&limit=%d&offset=%d",
			c.dataBase, tradesPath, assetID, tradesPerPage, offset)

		var resp []dataTrade
		if err := c.get(ctx, c.dataLimiter, u, &resp); err != nil {
			return nil, fmt.Errorf("data-api.FetchTrades: %w", err)
		}

		if len(resp) == 0 {
			break
		}

		pastSince := false
		for _, rt := range resp {
			t := mapDataTrade(rt)
			if t.Timestamp.IsZero() {
				continue
			}
			if !since.IsZero() && t.Timestamp.Before(since) {
				pastSince = true
				continue
			}
			all = append(all, t)
		}

		slog.Debug("fetched trades page",
			"asset", shortID(assetID),
			"page", page,
			"count", len(resp),
			"total", len(all),
		)

		// La API devuelve los más recientes primero: al cruzar `since`
		// no hay nada más que buscar.
		if pastSince || len(resp) < tradesPerPage {
			break
		}
	}

	return all, nil
}

// shortID acorta un asset id para logs.
func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
