package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/i18n"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/worker"
)

// TaskSubmitter is the slice of worker.Pool the dispatcher needs.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

// Recipient says who should hear about an outcome. A zero TelegramID skips the DM.
type Recipient struct {
	UserID     string
	TelegramID int64
	Lang       string
}

// OutcomeDispatcher fans a resolved outcome out to its side effects: the
// audit row, the bus event and the user DM. All of them run on the pool, so
// the resolving session never waits on I/O.
type OutcomeDispatcher struct {
	pool      TaskSubmitter
	audit     repository.ReconciliationLogRepository
	publisher adapter.OutcomePublisher
	bot       adapter.TelegramBotAdapter
	texts     *i18n.Bundle
	log       *zerolog.Logger
}

// NewOutcomeDispatcher wires the side effects. publisher, bot and audit may be nil.
func NewOutcomeDispatcher(pool TaskSubmitter, audit repository.ReconciliationLogRepository, publisher adapter.OutcomePublisher, bot adapter.TelegramBotAdapter, texts *i18n.Bundle, logger *zerolog.Logger) *OutcomeDispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "OutcomeDispatcher").Logger()
	return &OutcomeDispatcher{pool: pool, audit: audit, publisher: publisher, bot: bot, texts: texts, log: &l}
}

// Dispatch queues the side effects of o. recordID is the audit row opened
// when the session started; empty skips the audit update.
func (d *OutcomeDispatcher) Dispatch(recordID string, o model.Outcome, to Recipient) {
	if d.audit != nil && recordID != "" {
		d.submit("audit", func(ctx context.Context) error {
			return d.audit.Resolve(ctx, repository.NoTX, recordID, o)
		})
	}
	if d.publisher != nil {
		d.submit("event", func(ctx context.Context) error {
			err := d.publisher.PublishOutcome(ctx, o)
			if err != nil {
				metrics.IncOutcomeEvent("error")
			} else {
				metrics.IncOutcomeEvent("published")
			}
			return err
		})
	}
	if d.bot != nil && d.texts != nil {
		if to.TelegramID == 0 {
			metrics.IncPaymentDM(string(o.Kind), "no_user")
		} else {
			d.submit("dm", func(ctx context.Context) error {
				text := i18n.OutcomeMessage(d.texts.For(to.Lang), o)
				err := d.bot.SendMessage(ctx, to.TelegramID, text)
				if err != nil {
					metrics.IncPaymentDM(string(o.Kind), "error")
				} else {
					metrics.IncPaymentDM(string(o.Kind), "sent")
				}
				return err
			})
		}
	}
}

func (d *OutcomeDispatcher) submit(name string, task worker.Task) {
	wrapped := func(ctx context.Context) error {
		err := task(ctx)
		if err != nil {
			metrics.IncDispatch(name, "error")
			d.log.Warn().Err(err).Str("task", name).Msg("outcome side effect failed")
			return err
		}
		metrics.IncDispatch(name, "ok")
		return nil
	}
	if err := d.pool.Submit(wrapped); err != nil {
		metrics.IncDispatch(name, "dropped")
		level := zerolog.WarnLevel
		if errors.Is(err, worker.ErrPoolClosed) {
			level = zerolog.DebugLevel
		}
		d.log.WithLevel(level).Err(err).Str("task", name).Msg("outcome side effect dropped")
	}
}
