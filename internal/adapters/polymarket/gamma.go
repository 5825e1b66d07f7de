package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

const gammaMarketsPath = "/markets"

// Resolve busca un mercado por id en Gamma y valida que sea binario.
// Implementa ports.Resolver. Un mercado inexistente o con un número de
// outcomes distinto de dos devuelve error — el caller decide si lo
// salta o aborta.
func (c *Client) Resolve(ctx context.Context, marketID string) (domain.Market, error) {
	u := fmt.Sprintf("%s%s?id=%s", c.gammaBase, gammaMarketsPath, url.QueryEscape(marketID))

	// Gamma devuelve una lista con un solo item para ?id=
	var resp []gammaMarket
	if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("gamma.Resolve: %s: %w", marketID, err)
	}
	if len(resp) == 0 {
		return domain.Market{}, fmt.Errorf("gamma.Resolve: market %s not found", marketID)
	}

	m, err := mapGammaMarket(resp[0])
	if err != nil {
		return domain.Market{}, fmt.Errorf("gamma.Resolve: %w", err)
	}

	slog.Debug("market resolved",
		"market", m.ID,
		"question", truncate(m.Question, 60),
		"outcomes", fmt.Sprintf("%s/%s", m.OutcomeUp, m.OutcomeDown),
	)
	return m, nil
}
