package repository

import (
	"context"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

// HandoffRepository keeps payment handoff state across the processor redirect.
// Consume is read-and-delete: a handoff can start at most one confirmation.
type HandoffRepository interface {
	Save(ctx context.Context, h *model.PaymentHandoff) error
	Consume(ctx context.Context, id string) (*model.PaymentHandoff, error)
}
