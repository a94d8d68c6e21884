// File: internal/usecase/confirmation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
)

// Compile-time check
var _ PaymentConfirmationUseCase = (*confirmationUC)(nil)

const (
	FlowReturn = "return"
	FlowAwait  = "await"
	FlowCLI    = "cli"

	auditWriteTimeout = 5 * time.Second
)

type PaymentConfirmationUseCase interface {
	// SaveHandoff stores the payment that is about to leave for the processor.
	SaveHandoff(ctx context.Context, paymentID, returnURL string, kind model.SubjectKind, userID string) (*model.PaymentHandoff, error)
	// ConfirmReturn runs the payment-return flow and blocks until it resolves or ctx ends.
	ConfirmReturn(ctx context.Context, req ReturnRequest) (*ReturnResult, error)
	// Await runs the background flow for a payment and blocks until it resolves or ctx ends.
	Await(ctx context.Context, paymentID string, kind model.SubjectKind, to Recipient) (model.Outcome, error)
	// Status takes a single snapshot without starting a session.
	Status(ctx context.Context, paymentID string) (model.StatusSnapshot, error)
	// ResolveKind trusts a valid hint and asks the backend otherwise.
	ResolveKind(ctx context.Context, paymentID, hint string) (model.SubjectKind, error)
}

// ReturnRequest is what the processor redirect brings back.
type ReturnRequest struct {
	HandoffID string // from the handoff cookie; may be empty
	PaymentID string // ?paymentId=; falls back to the handoff
	Type      string // ?type=; falls back to the handoff, then to the backend
	Recipient Recipient
}

type ReturnResult struct {
	Outcome   model.Outcome
	ReturnURL string
}

// Flows carries the session bounds for each confirmation flow.
type Flows struct {
	Return SessionOptions
	Await  SessionOptions
}

type confirmationUC struct {
	handoffs   repository.HandoffRepository
	audit      repository.ReconciliationLogRepository
	status     adapter.PaymentStatusAPI
	channel    adapter.PaymentEventChannel
	dispatcher *OutcomeDispatcher
	flows      Flows
	log        *zerolog.Logger
}

// NewPaymentConfirmationUseCase wires the confirmation flows. audit, channel
// and dispatcher may be nil.
func NewPaymentConfirmationUseCase(
	handoffs repository.HandoffRepository,
	audit repository.ReconciliationLogRepository,
	status adapter.PaymentStatusAPI,
	channel adapter.PaymentEventChannel,
	dispatcher *OutcomeDispatcher,
	flows Flows,
	logger *zerolog.Logger,
) *confirmationUC {
	if flows.Return.Flow == "" {
		flows.Return.Flow = FlowReturn
	}
	if flows.Await.Flow == "" {
		flows.Await.Flow = FlowAwait
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &confirmationUC{
		handoffs:   handoffs,
		audit:      audit,
		status:     status,
		channel:    channel,
		dispatcher: dispatcher,
		flows:      flows,
		log:        logging.Component(logger, "ConfirmationUC"),
	}
}

func (u *confirmationUC) SaveHandoff(ctx context.Context, paymentID, returnURL string, kind model.SubjectKind, userID string) (*model.PaymentHandoff, error) {
	h, err := model.NewPaymentHandoff(uuid.NewString(), paymentID, returnURL, kind, userID)
	if err != nil {
		return nil, err
	}
	if err := u.handoffs.Save(ctx, h); err != nil {
		metrics.IncHandoff("save", "error")
		return nil, fmt.Errorf("save handoff: %w", err)
	}
	metrics.IncHandoff("save", "ok")
	logging.With(ctx, u.log).Debug().Str("handoff_id", h.ID).Str("payment_id", h.PendingPaymentID).Msg("handoff saved")
	return h, nil
}

func (u *confirmationUC) ConfirmReturn(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	defer logging.TraceDuration(u.log, "ConfirmationUC.ConfirmReturn")()
	log := logging.With(ctx, u.log)

	paymentID := strings.TrimSpace(req.PaymentID)
	hint := strings.TrimSpace(req.Type)
	var returnURL string

	// The handoff is consumed before the session starts so a reload cannot
	// start a second confirmation from the same record.
	if req.HandoffID != "" {
		h, err := u.handoffs.Consume(ctx, req.HandoffID)
		switch {
		case err == nil:
			metrics.IncHandoff("consume", "hit")
			if paymentID == "" {
				paymentID = h.PendingPaymentID
			} else if paymentID != h.PendingPaymentID {
				log.Warn().Str("query_payment_id", paymentID).Str("handoff_payment_id", h.PendingPaymentID).Msg("handoff payment mismatch; using redirect value")
			}
			if hint == "" {
				hint = string(h.PaymentType)
			}
			if req.Recipient.UserID == "" {
				req.Recipient.UserID = h.UserID
			}
			returnURL = h.ReturnURL
		case errors.Is(err, domain.ErrHandoffNotFound):
			metrics.IncHandoff("consume", "miss")
		default:
			metrics.IncHandoff("consume", "error")
			log.Warn().Err(err).Msg("consume handoff failed")
		}
	}
	if paymentID == "" {
		return nil, domain.ErrHandoffNotFound
	}

	kind, err := u.ResolveKind(ctx, paymentID, hint)
	if err != nil {
		return nil, err
	}
	out, err := u.run(ctx, u.flows.Return, paymentID, kind, req.Recipient)
	if err != nil {
		return nil, err
	}
	return &ReturnResult{Outcome: out, ReturnURL: returnURL}, nil
}

func (u *confirmationUC) Await(ctx context.Context, paymentID string, kind model.SubjectKind, to Recipient) (model.Outcome, error) {
	return u.run(ctx, u.flows.Await, paymentID, kind, to)
}

func (u *confirmationUC) Status(ctx context.Context, paymentID string) (model.StatusSnapshot, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return model.StatusSnapshot{}, domain.ErrInvalidArgument
	}
	snap, err := u.status.FetchStatus(ctx, paymentID)
	if err != nil {
		return model.StatusSnapshot{}, err
	}
	snap.Source = model.SourcePoll
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now()
	}
	return snap, nil
}

func (u *confirmationUC) ResolveKind(ctx context.Context, paymentID, hint string) (model.SubjectKind, error) {
	if kind, err := model.ParseSubjectKind(hint); err == nil {
		return kind, nil
	}
	info, err := u.status.FetchType(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if !info.Exists {
		return "", domain.ErrPaymentNotFound
	}
	if info.Kind == "" {
		return "", domain.ErrUnknownSubject
	}
	return info.Kind, nil
}

// run owns one session from audit row to side effects. The session is
// stopped when ctx ends before an outcome.
func (u *confirmationUC) run(ctx context.Context, opts SessionOptions, paymentID string, kind model.SubjectKind, to Recipient) (model.Outcome, error) {
	session := NewReconciliationSession(u.status, u.channel, opts, u.log)
	if err := session.Start(ctx, paymentID, kind, to.UserID); err != nil {
		return model.Outcome{}, err
	}
	defer session.Stop()

	recordID := u.startAudit(ctx, session.ID(), paymentID, kind, to.UserID, opts.Flow)

	select {
	case <-session.Done():
	case <-ctx.Done():
	}
	out, ok := session.Outcome()
	if !ok {
		session.Stop()
		u.abandonAudit(recordID)
		if err := ctx.Err(); err != nil {
			return model.Outcome{}, err
		}
		return model.Outcome{}, domain.ErrOperationFailed
	}
	if u.dispatcher != nil {
		u.dispatcher.Dispatch(recordID, out, to)
	}
	return out, nil
}

func (u *confirmationUC) startAudit(ctx context.Context, id, paymentID string, kind model.SubjectKind, userID, flow string) string {
	if u.audit == nil {
		return ""
	}
	rec := &model.ReconciliationRecord{
		ID:          id,
		PaymentID:   paymentID,
		SubjectKind: kind,
		UserID:      userID,
		Flow:        flow,
		State:       model.ReconciliationPending,
		StartedAt:   time.Now(),
	}
	if err := u.audit.Start(ctx, repository.NoTX, rec); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Msg("audit start failed")
		return ""
	}
	return id
}

func (u *confirmationUC) abandonAudit(recordID string) {
	if u.audit == nil || recordID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	n, err := u.audit.MarkAbandoned(ctx, repository.NoTX, []string{recordID})
	if err != nil {
		u.log.Warn().Err(err).Str("record_id", recordID).Msg("audit abandon failed")
		return
	}
	metrics.AddAbandoned("request", n)
}
