package sched

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
	red "github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/redis"
)

const sweeperLockKey = "lock:reconcile-sweeper"

// StaleSessionSweeper closes audit rows left pending by a process that died
// mid-session. Live sessions always finish well before staleAfter.
type StaleSessionSweeper struct {
	logs       repository.ReconciliationLogRepository
	txm        repository.TransactionManager // nil runs without a transaction
	locker     red.Locker                    // nil when a single replica runs
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	afterTick  func()
	log        *zerolog.Logger
	now        func() time.Time
}

func NewStaleSessionSweeper(logs repository.ReconciliationLogRepository, locker red.Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *StaleSessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "StaleSessionSweeper").Logger()
	return &StaleSessionSweeper{
		logs:       logs,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      200,
		log:        &l,
		now:        time.Now,
	}
}

// AfterTick registers a hook run after every tick, e.g. to publish pool gauges.
func (w *StaleSessionSweeper) AfterTick(fn func()) { w.afterTick = fn }

// UseTx makes each sweep select and close its batch in one transaction.
func (w *StaleSessionSweeper) UseTx(m repository.TransactionManager) { w.txm = m }

// Start blocks until ctx is cancelled.
func (w *StaleSessionSweeper) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := w.Sweep(runCtx); err != nil {
				w.log.Warn().Err(err).Msg("sweep failed")
			}
			cancel()
			if w.afterTick != nil {
				w.afterTick()
			}
		}
	}
}

// Sweep abandons one batch of stale rows and returns how many it closed.
func (w *StaleSessionSweeper) Sweep(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweeperLockKey, w.interval)
		if errors.Is(err, red.ErrLockHeld) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() { _ = w.locker.Unlock(context.Background(), sweeperLockKey, token) }()
	}

	cutoff := w.now().Add(-w.staleAfter)
	var n int
	sweep := func(ctx context.Context, tx repository.Tx) error {
		stale, err := w.logs.ListPendingOlderThan(ctx, tx, cutoff, w.batch)
		if err != nil || len(stale) == 0 {
			return err
		}
		ids := make([]string, 0, len(stale))
		for _, r := range stale {
			ids = append(ids, r.ID)
		}
		n, err = w.logs.MarkAbandoned(ctx, tx, ids)
		return err
	}

	var err error
	if w.txm != nil {
		err = w.txm.WithTx(ctx, pgx.TxOptions{}, sweep)
	} else {
		err = sweep(ctx, repository.NoTX)
	}
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddAbandoned("sweeper", n)
		w.log.Info().Int("abandoned", n).Time("cutoff", cutoff).Msg("stale reconciliation sessions closed")
	}
	return n, nil
}
