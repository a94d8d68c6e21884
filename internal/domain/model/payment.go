package model

import (
	"strings"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
)

// SubjectKind tells what a payment is for. It selects the channel namespace
// and the REST resource family on the backend.
type SubjectKind string

const (
	SubjectSubscription SubjectKind = "subscription"
	SubjectOrder        SubjectKind = "order"
)

// ParseSubjectKind accepts the values the payment processor echoes back in the
// return URL ("subscription", "order"); anything else is ErrUnknownSubject.
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch SubjectKind(strings.ToLower(strings.TrimSpace(s))) {
	case SubjectSubscription:
		return SubjectSubscription, nil
	case SubjectOrder:
		return SubjectOrder, nil
	}
	return "", domain.ErrUnknownSubject
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCanceled   PaymentStatus = "canceled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// IsTerminal reports whether no further change is expected after s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusRefunded:
		return true
	}
	return false
}

type SnapshotSource string

const (
	SourcePoll    SnapshotSource = "poll"
	SourcePush    SnapshotSource = "push"
	SourceTimeout SnapshotSource = "timeout"
)

// StatusSnapshot is one observation of a payment, pulled or pushed.
type StatusSnapshot struct {
	PaymentID  string
	Status     PaymentStatus
	Amount     int64
	SubjectID  string
	CreatedAt  time.Time
	ObservedAt time.Time
	Source     SnapshotSource
}

type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeFailure  OutcomeKind = "failure"
	OutcomeRefunded OutcomeKind = "refunded"
)

// OutcomeReason keeps the distinction the UI does not show: an explicit
// failure versus "we could not tell in time".
type OutcomeReason string

const (
	ReasonPaid     OutcomeReason = "paid"
	ReasonFailed   OutcomeReason = "failed"
	ReasonCanceled OutcomeReason = "canceled"
	ReasonRefunded OutcomeReason = "refunded"
	ReasonTimeout  OutcomeReason = "timeout"
)

// Outcome is the single terminal result of a reconciliation session.
type Outcome struct {
	Kind        OutcomeKind    `json:"kind"`
	Reason      OutcomeReason  `json:"reason"`
	Status      PaymentStatus  `json:"status,omitempty"`
	Source      SnapshotSource `json:"source"`
	SessionID   string         `json:"sessionId"`
	PaymentID   string         `json:"paymentId"`
	SubjectKind SubjectKind    `json:"subjectKind"`
	SubjectID   string         `json:"subjectId,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Amount      int64          `json:"amount,omitempty"`
	Attempts    int            `json:"attempts"`
	ResolvedAt  time.Time      `json:"resolvedAt"`
}

// Failed is true for every outcome the user should see as "not paid",
// timeouts included.
func (o Outcome) Failed() bool { return o.Kind == OutcomeFailure }

// ClassifyStatus maps a terminal status to its outcome kind and reason.
// ok is false for pending/processing and unknown statuses.
func ClassifyStatus(s PaymentStatus) (kind OutcomeKind, reason OutcomeReason, ok bool) {
	switch s {
	case PaymentStatusPaid:
		return OutcomeSuccess, ReasonPaid, true
	case PaymentStatusSuccess:
		return OutcomeSuccess, ReasonPaid, true
	case PaymentStatusFailed:
		return OutcomeFailure, ReasonFailed, true
	case PaymentStatusCanceled:
		return OutcomeFailure, ReasonCanceled, true
	case PaymentStatusRefunded:
		return OutcomeRefunded, ReasonRefunded, true
	}
	return "", "", false
}

// PaymentHandoff bridges a payment across the full-page redirect to the
// external processor. It is consumed exactly once by the return page.
type PaymentHandoff struct {
	ID               string      `json:"id"`
	PendingPaymentID string      `json:"pendingPaymentId"`
	ReturnURL        string      `json:"returnUrl"`
	PaymentType      SubjectKind `json:"paymentType"`
	UserID           string      `json:"userId,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// NewPaymentHandoff validates and stamps a handoff record.
func NewPaymentHandoff(id, paymentID, returnURL string, kind SubjectKind, userID string) (*PaymentHandoff, error) {
	if id == "" || strings.TrimSpace(paymentID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if kind != SubjectSubscription && kind != SubjectOrder {
		return nil, domain.ErrUnknownSubject
	}
	return &PaymentHandoff{
		ID:               id,
		PendingPaymentID: strings.TrimSpace(paymentID),
		ReturnURL:        returnURL,
		PaymentType:      kind,
		UserID:           userID,
		CreatedAt:        time.Now(),
	}, nil
}
