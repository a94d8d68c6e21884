//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

// confirmationTestDeps holds all the mock dependencies for the confirmation use case tests.
type confirmationTestDeps struct {
	handoffs  *MockHandoffRepo
	audit     *MockReconciliationLog
	api       *MockStatusAPI
	channel   *MockChannel
	bot       *MockTelegramBot
	publisher *MockPublisher
}

func newConfirmationDeps(api *MockStatusAPI) *confirmationTestDeps {
	return &confirmationTestDeps{
		handoffs:  NewMockHandoffRepo(),
		audit:     NewMockReconciliationLog(),
		api:       api,
		channel:   NewMockChannel(),
		bot:       &MockTelegramBot{},
		publisher: &MockPublisher{},
	}
}

func (d *confirmationTestDeps) build(t *testing.T) usecase.PaymentConfirmationUseCase {
	t.Helper()
	dispatcher := usecase.NewOutcomeDispatcher(&syncSubmitter{}, d.audit, d.publisher, d.bot, newTestBundle(t), newTestLogger())
	flows := usecase.Flows{
		Return: usecase.SessionOptions{PollInterval: 5 * time.Millisecond, MaxAttempts: 10, RequestTimeout: time.Second},
		Await:  usecase.SessionOptions{PollInterval: 5 * time.Millisecond, MaxAttempts: 0, RequestTimeout: time.Second},
	}
	return usecase.NewPaymentConfirmationUseCase(d.handoffs, d.audit, d.api, d.channel, dispatcher, flows, newTestLogger())
}

func TestConfirmationUseCase_SaveHandoff(t *testing.T) {
	ctx := context.Background()

	t.Run("should store a validated handoff", func(t *testing.T) {
		deps := newConfirmationDeps(&MockStatusAPI{})
		uc := deps.build(t)

		h, err := uc.SaveHandoff(ctx, " pay-1 ", "/orders/42", model.SubjectOrder, "user-1")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if h.ID == "" || h.PendingPaymentID != "pay-1" {
			t.Errorf("unexpected handoff %+v", h)
		}
		if _, err := deps.handoffs.Consume(ctx, h.ID); err != nil {
			t.Errorf("expected the handoff to be stored, got %v", err)
		}
	})

	t.Run("should reject an unknown kind", func(t *testing.T) {
		deps := newConfirmationDeps(&MockStatusAPI{})
		uc := deps.build(t)
		if _, err := uc.SaveHandoff(ctx, "pay-1", "/", model.SubjectKind("gift"), ""); !errors.Is(err, domain.ErrUnknownSubject) {
			t.Errorf("expected ErrUnknownSubject, got %v", err)
		}
	})

	t.Run("should wrap storage errors", func(t *testing.T) {
		deps := newConfirmationDeps(&MockStatusAPI{})
		deps.handoffs.SaveErr = errBoom
		uc := deps.build(t)
		if _, err := uc.SaveHandoff(ctx, "pay-1", "/", model.SubjectOrder, ""); !errors.Is(err, errBoom) {
			t.Errorf("expected wrapped storage error, got %v", err)
		}
	})
}

func TestConfirmationUseCase_ConfirmReturn(t *testing.T) {
	ctx := context.Background()

	t.Run("should consume the handoff and resolve from polling", func(t *testing.T) {
		deps := newConfirmationDeps(statusSequence(model.PaymentStatusPending, model.PaymentStatusPaid))
		uc := deps.build(t)
		h, err := uc.SaveHandoff(ctx, "pay-1", "/subscriptions", model.SubjectSubscription, "user-1")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		res, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{
			HandoffID: h.ID,
			Recipient: usecase.Recipient{TelegramID: 777, Lang: "en"},
		})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.Outcome.Kind != model.OutcomeSuccess || res.Outcome.SubjectKind != model.SubjectSubscription {
			t.Errorf("unexpected outcome %+v", res.Outcome)
		}
		if res.ReturnURL != "/subscriptions" {
			t.Errorf("expected return url from the handoff, got %q", res.ReturnURL)
		}
		if res.Outcome.UserID != "user-1" {
			t.Errorf("expected user from the handoff, got %q", res.Outcome.UserID)
		}

		if _, err := deps.handoffs.Consume(ctx, h.ID); !errors.Is(err, domain.ErrHandoffNotFound) {
			t.Error("expected the handoff to be consumed")
		}

		recs := deps.audit.All()
		if len(recs) != 1 || recs[0].State != model.ReconciliationResolved || recs[0].Flow != usecase.FlowReturn {
			t.Errorf("expected one resolved return record, got %+v", recs)
		}
		if len(deps.publisher.Published) != 1 {
			t.Errorf("expected one published outcome, got %d", len(deps.publisher.Published))
		}
		if len(deps.bot.Sent) != 1 || deps.bot.Sent[0].TelegramID != 777 || !strings.Contains(deps.bot.Sent[0].Text, "1500.00") {
			t.Errorf("unexpected DMs %+v", deps.bot.Sent)
		}
	})

	t.Run("should prefer the redirect payment id over the handoff", func(t *testing.T) {
		deps := newConfirmationDeps(statusSequence(model.PaymentStatusFailed))
		uc := deps.build(t)
		h, _ := uc.SaveHandoff(ctx, "pay-old", "/", model.SubjectOrder, "")

		res, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{HandoffID: h.ID, PaymentID: "pay-new"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.Outcome.PaymentID != "pay-new" || res.Outcome.Kind != model.OutcomeFailure {
			t.Errorf("unexpected outcome %+v", res.Outcome)
		}
	})

	t.Run("should ask the backend for the kind when no hint exists", func(t *testing.T) {
		api := statusSequence(model.PaymentStatusSuccess)
		var asked string
		api.FetchTypeFunc = func(ctx context.Context, id string) (adapter.PaymentTypeInfo, error) {
			asked = id
			return adapter.PaymentTypeInfo{Exists: true, Kind: model.SubjectOrder}, nil
		}
		deps := newConfirmationDeps(api)
		uc := deps.build(t)

		res, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{PaymentID: "pay-1"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if asked != "pay-1" || res.Outcome.SubjectKind != model.SubjectOrder {
			t.Errorf("expected the kind from the backend, got asked=%q outcome=%+v", asked, res.Outcome)
		}
	})

	t.Run("should report an unknown payment", func(t *testing.T) {
		api := &MockStatusAPI{FetchTypeFunc: func(ctx context.Context, id string) (adapter.PaymentTypeInfo, error) {
			return adapter.PaymentTypeInfo{Exists: false}, nil
		}}
		deps := newConfirmationDeps(api)
		uc := deps.build(t)

		if _, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{PaymentID: "pay-x"}); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Errorf("expected ErrPaymentNotFound, got %v", err)
		}
		if api.Calls() != 0 {
			t.Error("no session should start for an unknown payment")
		}
	})

	t.Run("should fail without a payment id or handoff", func(t *testing.T) {
		deps := newConfirmationDeps(&MockStatusAPI{})
		uc := deps.build(t)
		if _, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{HandoffID: "missing"}); !errors.Is(err, domain.ErrHandoffNotFound) {
			t.Errorf("expected ErrHandoffNotFound, got %v", err)
		}
	})

	t.Run("should resolve a timeout as failure after the return-flow cap", func(t *testing.T) {
		api := statusSequence(model.PaymentStatusPending)
		deps := newConfirmationDeps(api)
		uc := deps.build(t)

		res, err := uc.ConfirmReturn(ctx, usecase.ReturnRequest{PaymentID: "pay-1", Type: "order"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !res.Outcome.Failed() || res.Outcome.Reason != model.ReasonTimeout || res.Outcome.Attempts != 10 {
			t.Errorf("expected timeout after 10 attempts, got %+v", res.Outcome)
		}
	})
}

func TestConfirmationUseCase_Await(t *testing.T) {
	ctx := context.Background()

	t.Run("should resolve from a push event", func(t *testing.T) {
		deps := newConfirmationDeps(statusSequence(model.PaymentStatusPending))
		uc := deps.build(t)

		go func() {
			deadline := time.Now().Add(time.Second)
			for deps.channel.HandlerCount() == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			deps.channel.Emit(adapter.PaymentEvent{Name: adapter.EventPaymentError, Kind: model.SubjectSubscription, PaymentID: "pay-1"})
		}()

		out, err := uc.Await(ctx, "pay-1", model.SubjectSubscription, usecase.Recipient{UserID: "user-1"})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Kind != model.OutcomeFailure || out.Source != model.SourcePush {
			t.Errorf("expected push failure, got %+v", out)
		}
		if len(deps.bot.Sent) != 0 {
			t.Error("no DM expected without a telegram id")
		}
	})

	t.Run("should stop and abandon when the caller goes away", func(t *testing.T) {
		api := statusSequence(model.PaymentStatusPending)
		deps := newConfirmationDeps(api)
		uc := deps.build(t)

		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := uc.Await(cctx, "pay-1", model.SubjectOrder, usecase.Recipient{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}

		recs := deps.audit.All()
		if len(recs) != 1 || recs[0].State != model.ReconciliationAbandoned {
			t.Errorf("expected one abandoned record, got %+v", recs)
		}
		if deps.channel.HandlerCount() != 0 {
			t.Error("expected push handlers to be released")
		}

		time.Sleep(20 * time.Millisecond)
		before := api.Calls()
		time.Sleep(30 * time.Millisecond)
		if api.Calls() != before {
			t.Error("polling continued after the caller went away")
		}
	})

	t.Run("should keep going when the audit store fails", func(t *testing.T) {
		deps := newConfirmationDeps(statusSequence(model.PaymentStatusPaid))
		deps.audit.StartErr = errBoom
		uc := deps.build(t)

		out, err := uc.Await(ctx, "pay-1", model.SubjectOrder, usecase.Recipient{})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Kind != model.OutcomeSuccess {
			t.Errorf("expected success, got %+v", out)
		}
	})
}

func TestConfirmationUseCase_Status(t *testing.T) {
	ctx := context.Background()
	deps := newConfirmationDeps(statusSequence(model.PaymentStatusProcessing))
	uc := deps.build(t)

	if _, err := uc.Status(ctx, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	snap, err := uc.Status(ctx, "pay-1")
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if snap.Status != model.PaymentStatusProcessing || snap.Source != model.SourcePoll || snap.ObservedAt.IsZero() {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestConfirmationUseCase_ResolveKind(t *testing.T) {
	ctx := context.Background()
	api := &MockStatusAPI{FetchTypeFunc: func(ctx context.Context, id string) (adapter.PaymentTypeInfo, error) {
		return adapter.PaymentTypeInfo{Exists: true}, nil
	}}
	uc := newConfirmationDeps(api).build(t)

	if kind, err := uc.ResolveKind(ctx, "pay-1", "subscription"); err != nil || kind != model.SubjectSubscription {
		t.Errorf("expected the hint to be trusted, got %s, %v", kind, err)
	}
	if _, err := uc.ResolveKind(ctx, "pay-1", ""); !errors.Is(err, domain.ErrUnknownSubject) {
		t.Errorf("expected ErrUnknownSubject for an untyped payment, got %v", err)
	}
}
