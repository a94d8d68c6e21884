package channel

import (
	"context"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentEventChannel = (*Noop)(nil)
	_ adapter.LinkStatus          = (*Noop)(nil)
)

// Noop is used when no push endpoint is configured; sessions then rely on polling.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) Connect(ctx context.Context, kind model.SubjectKind) error { return nil }
func (Noop) JoinRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	return nil
}
func (Noop) LeaveRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	return nil
}
func (Noop) On(kind model.SubjectKind, event adapter.EventName, h adapter.EventHandler) adapter.HandlerID {
	return 0
}
func (Noop) Off(kind model.SubjectKind, event adapter.EventName, id adapter.HandlerID) {}
func (Noop) Close() error                                                              { return nil }
func (Noop) Connected(kind model.SubjectKind) bool                                     { return false }
