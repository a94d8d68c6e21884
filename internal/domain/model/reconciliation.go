package model

import "time"

type ReconciliationState string

const (
	ReconciliationPending   ReconciliationState = "pending"   // session running
	ReconciliationResolved  ReconciliationState = "resolved"  // outcome delivered
	ReconciliationAbandoned ReconciliationState = "abandoned" // owner went away before an outcome
)

// ReconciliationRecord is the audit trail of one reconciliation session.
type ReconciliationRecord struct {
	ID          string // ULID, sortable by start time
	PaymentID   string
	SubjectKind SubjectKind
	UserID      string
	Flow        string // "return" | "await" | "cli"
	State       ReconciliationState
	OutcomeKind *OutcomeKind
	Reason      *OutcomeReason
	Attempts    int
	StartedAt   time.Time
	ResolvedAt  *time.Time
}

// Resolve copies an outcome into the record.
func (r *ReconciliationRecord) Resolve(o Outcome) {
	kind, reason, at := o.Kind, o.Reason, o.ResolvedAt
	r.State = ReconciliationResolved
	r.OutcomeKind = &kind
	r.Reason = &reason
	r.Attempts = o.Attempts
	r.ResolvedAt = &at
}
