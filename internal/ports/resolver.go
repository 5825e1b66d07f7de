package ports

import (
	"context"

	"github.com/alejandrodnm/polyticks/internal/domain"
)

// Resolver resuelve un market_id externo en su definición binaria:
// question, dos token ids y dos outcome labels. Un mercado inexistente
// o con un número de outcomes distinto de dos es un error.
type Resolver interface {
	Resolve(ctx context.Context, marketID string) (domain.Market, error)
}
