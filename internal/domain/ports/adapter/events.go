package adapter

import (
	"context"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

// OutcomePublisher broadcasts resolved outcomes so other services can
// re-fetch authoritative order/subscription state.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o model.Outcome) error
	Close() error
}
