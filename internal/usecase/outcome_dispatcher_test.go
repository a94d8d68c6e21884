//go:build !integration

package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

func TestOutcomeDispatcher(t *testing.T) {
	ctx := context.Background()
	refunded := model.Outcome{
		Kind:        model.OutcomeRefunded,
		Reason:      model.ReasonRefunded,
		Status:      model.PaymentStatusRefunded,
		PaymentID:   "pay-1",
		SubjectKind: model.SubjectOrder,
		ResolvedAt:  time.Now(),
	}

	t.Run("should run every side effect", func(t *testing.T) {
		audit := NewMockReconciliationLog()
		_ = audit.Start(ctx, repository.NoTX, &model.ReconciliationRecord{ID: "rec-1", PaymentID: "pay-1", State: model.ReconciliationPending, StartedAt: time.Now()})
		pub := &MockPublisher{}
		bot := &MockTelegramBot{}
		d := usecase.NewOutcomeDispatcher(&syncSubmitter{}, audit, pub, bot, newTestBundle(t), newTestLogger())

		d.Dispatch("rec-1", refunded, usecase.Recipient{TelegramID: 42, Lang: "ru"})

		rec, _ := audit.FindByID(ctx, repository.NoTX, "rec-1")
		if rec.State != model.ReconciliationResolved || *rec.OutcomeKind != model.OutcomeRefunded {
			t.Errorf("expected resolved record, got %+v", rec)
		}
		if len(pub.Published) != 1 || pub.Published[0].PaymentID != "pay-1" {
			t.Errorf("unexpected published outcomes %+v", pub.Published)
		}
		if len(bot.Sent) != 1 || !strings.Contains(bot.Sent[0].Text, "возвращены") {
			t.Errorf("expected a russian refund DM, got %+v", bot.Sent)
		}
	})

	t.Run("should isolate failing side effects", func(t *testing.T) {
		pub := &MockPublisher{Err: errBoom}
		bot := &MockTelegramBot{}
		sub := &syncSubmitter{}
		d := usecase.NewOutcomeDispatcher(sub, nil, pub, bot, newTestBundle(t), newTestLogger())

		d.Dispatch("", refunded, usecase.Recipient{TelegramID: 42})

		if len(bot.Sent) != 1 {
			t.Error("a failed publish must not block the DM")
		}
		if len(sub.errs) != 1 {
			t.Errorf("expected one task error, got %v", sub.errs)
		}
	})

	t.Run("should skip optional collaborators", func(t *testing.T) {
		sub := &syncSubmitter{}
		d := usecase.NewOutcomeDispatcher(sub, nil, nil, nil, nil, nil)
		d.Dispatch("rec-1", refunded, usecase.Recipient{TelegramID: 42})
		if len(sub.errs) != 0 {
			t.Errorf("expected nothing to run, got %v", sub.errs)
		}
	})

	t.Run("should drop work when the pool is closed", func(t *testing.T) {
		bot := &MockTelegramBot{}
		sub := &syncSubmitter{closed: true}
		d := usecase.NewOutcomeDispatcher(sub, nil, nil, bot, newTestBundle(t), newTestLogger())
		d.Dispatch("", refunded, usecase.Recipient{TelegramID: 42})
		if len(bot.Sent) != 0 {
			t.Error("expected no DM from a closed pool")
		}
	})
}
