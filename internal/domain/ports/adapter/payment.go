package adapter

import (
	"context"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
)

// PaymentTypeInfo answers "what is this payment for" for a bare payment id.
type PaymentTypeInfo struct {
	Exists bool
	Kind   model.SubjectKind // empty when the backend does not know
}

// PaymentStatusAPI is the hex port for the backend payment-status endpoints.
type PaymentStatusAPI interface {
	// FetchStatus pulls the current status of a payment.
	FetchStatus(ctx context.Context, paymentID string) (model.StatusSnapshot, error)
	// FetchType resolves the subject kind of a payment.
	FetchType(ctx context.Context, paymentID string) (PaymentTypeInfo, error)
}

type EventName string

const (
	EventPaymentSuccess EventName = "payment_success"
	EventPaymentError   EventName = "payment_error"
	EventStatusUpdate   EventName = "payment_status_update"
	EventPong           EventName = "pong"
)

// PaymentEvent is a server push scoped to a payment room.
type PaymentEvent struct {
	Name           EventName
	Kind           model.SubjectKind
	PaymentID      string
	UserID         string
	SubscriptionID string
	OrderID        string
	Status         model.PaymentStatus // set on payment_status_update
	Amount         int64
	Message        string
	Timestamp      time.Time
}

type EventHandler func(ev PaymentEvent)

// HandlerID identifies a registration so it can be removed with Off.
type HandlerID uint64

// PaymentEventChannel is the push side: one logical namespace per subject
// kind, rooms keyed by payment id. Rooms are joined and left per session;
// the underlying connection is shared and outlives any single session.
type PaymentEventChannel interface {
	Connect(ctx context.Context, kind model.SubjectKind) error
	JoinRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error
	LeaveRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error
	On(kind model.SubjectKind, event EventName, h EventHandler) HandlerID
	Off(kind model.SubjectKind, event EventName, id HandlerID)
}

// LinkStatus is implemented by channels that can tell whether the shared
// connection for a namespace is currently up.
type LinkStatus interface {
	Connected(kind model.SubjectKind) bool
}
