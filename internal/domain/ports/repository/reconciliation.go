package repository

import (
	"context"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

// ReconciliationLogRepository is the audit trail of reconciliation sessions.
type ReconciliationLogRepository interface {
	Start(ctx context.Context, tx Tx, r *model.ReconciliationRecord) error
	Resolve(ctx context.Context, tx Tx, id string, o model.Outcome) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.ReconciliationRecord, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.ReconciliationRecord, error)
	MarkAbandoned(ctx context.Context, tx Tx, ids []string) (int, error)
}
