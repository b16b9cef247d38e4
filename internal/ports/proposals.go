package ports

import (
	"context"

	"bracketbot/internal/domain"
)

// ProposalSource is the boundary to the external signal layer. Each call
// returns the proposals produced since the previous call; an empty slice
// means no new candidates.
type ProposalSource interface {
	Proposals(ctx context.Context) ([]*domain.TradeProposal, error)
}
