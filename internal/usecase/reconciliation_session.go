package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
)

const leaveRoomTimeout = 5 * time.Second

// SessionOptions bounds a reconciliation session.
type SessionOptions struct {
	PollInterval   time.Duration // time between status polls
	MaxAttempts    int           // polls before giving up; 0 = unbounded
	RequestTimeout time.Duration // per status request
	Flow           string        // label for logs and the audit trail
}

// SessionState is a point-in-time copy of a session's bookkeeping.
type SessionState struct {
	ID               string
	PaymentID        string
	SubjectKind      model.SubjectKind
	ChannelConnected bool
	AttemptsMade     int
	MaxAttempts      int
	Resolved         bool
	Outcome          model.Outcome
}

type handlerReg struct {
	event adapter.EventName
	id    adapter.HandlerID
}

// ReconciliationSession waits for one externally initiated payment to resolve.
// It polls the status API and listens on the push channel at the same time;
// the first terminal observation from either side wins and is delivered to
// the OnResolved listener exactly once.
type ReconciliationSession struct {
	id      string
	status  adapter.PaymentStatusAPI
	channel adapter.PaymentEventChannel // nil runs polling only
	opts    SessionOptions
	log     *zerolog.Logger
	now     func() time.Time

	mu         sync.Mutex
	started    bool
	stopped    bool
	resolved   bool
	delivered  bool
	joined     bool
	paymentID  string
	kind       model.SubjectKind
	userID     string
	launched   int
	completed  int
	startedAt  time.Time
	outcome    model.Outcome
	callback   func(model.Outcome)
	handlers   []handlerReg
	cancel     context.CancelFunc
	done       chan struct{}
	finishOnce sync.Once
}

func NewReconciliationSession(status adapter.PaymentStatusAPI, channel adapter.PaymentEventChannel, opts SessionOptions, logger *zerolog.Logger) *ReconciliationSession {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	id := ulid.Make().String()
	l := logger.With().Str("component", "ReconciliationSession").Str("session_id", id).Logger()
	return &ReconciliationSession{
		id:      id,
		status:  status,
		channel: channel,
		opts:    opts,
		log:     &l,
		now:     time.Now,
		done:    make(chan struct{}),
	}
}

func (s *ReconciliationSession) ID() string { return s.id }

// Done is closed once the session has ended. After a resolution it closes
// only when the OnResolved listener has returned.
func (s *ReconciliationSession) Done() <-chan struct{} { return s.done }

func (s *ReconciliationSession) finish() { s.finishOnce.Do(func() { close(s.done) }) }

// Outcome returns the resolved outcome; ok is false while unresolved or when
// the session was stopped before resolving.
func (s *ReconciliationSession) Outcome() (model.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.resolved
}

// State is a point-in-time view. ChannelConnected is true only while the
// session is in its payment room and the shared connection is still up.
func (s *ReconciliationSession) State() SessionState {
	s.mu.Lock()
	connected := s.joined
	kind := s.kind
	s.mu.Unlock()
	if connected {
		if ls, ok := s.channel.(adapter.LinkStatus); ok {
			connected = ls.Connected(kind)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{
		ID:               s.id,
		PaymentID:        s.paymentID,
		SubjectKind:      s.kind,
		ChannelConnected: connected && s.joined,
		AttemptsMade:     s.completed,
		MaxAttempts:      s.opts.MaxAttempts,
		Resolved:         s.resolved,
		Outcome:          s.outcome,
	}
}

// OnResolved registers the terminal listener. Only one listener is kept; it
// is called at most once. Registering after resolution delivers immediately
// if no listener has received the outcome yet.
func (s *ReconciliationSession) OnResolved(cb func(model.Outcome)) {
	s.mu.Lock()
	if s.delivered {
		s.mu.Unlock()
		return
	}
	s.callback = cb
	if !s.resolved || cb == nil {
		s.mu.Unlock()
		return
	}
	s.delivered = true
	out := s.outcome
	s.mu.Unlock()
	cb(out)
}

// Start opens the polling loop and the push subscription. A second call is a
// no-op. Cancelling ctx has the same effect as Stop.
func (s *ReconciliationSession) Start(ctx context.Context, paymentID string, kind model.SubjectKind, userID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.ErrInvalidArgument
	}
	if kind != model.SubjectSubscription && kind != model.SubjectOrder {
		return domain.ErrUnknownSubject
	}

	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.paymentID = paymentID
	s.kind = kind
	s.userID = userID
	s.startedAt = s.now()
	s.cancel = cancel
	metrics.SessionStarted()
	s.mu.Unlock()

	// Handlers are registered outside s.mu: the channel may be dispatching
	// to onEvent concurrently.
	if s.channel != nil {
		regs := make([]handlerReg, 0, 3)
		for _, ev := range []adapter.EventName{adapter.EventPaymentSuccess, adapter.EventPaymentError, adapter.EventStatusUpdate} {
			regs = append(regs, handlerReg{event: ev, id: s.channel.On(kind, ev, s.onEvent)})
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			for _, h := range regs {
				s.channel.Off(kind, h.event, h.id)
			}
		} else {
			s.handlers = regs
			s.mu.Unlock()
		}
	}

	s.log.Debug().
		Str("payment_id", paymentID).
		Str("kind", string(kind)).
		Str("flow", s.opts.Flow).
		Dur("interval", s.opts.PollInterval).
		Int("max_attempts", s.opts.MaxAttempts).
		Msg("reconciliation started")

	if s.channel != nil {
		go s.attachChannel(runCtx)
	}
	go s.pollLoop(runCtx)
	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop releases the poll loop, the push handlers and the room. It never
// disconnects the shared channel. Idempotent, and safe from inside the
// OnResolved callback.
func (s *ReconciliationSession) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	handlers := s.handlers
	s.handlers = nil
	joined := s.joined
	s.joined = false
	started := s.started
	resolved := s.resolved
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, h := range handlers {
		s.channel.Off(s.kind, h.event, h.id)
	}
	if joined {
		s.leaveRoom()
	}
	if started {
		metrics.SessionEnded()
	}
	// a resolving session closes done itself once its listener returns
	if !resolved {
		s.finish()
	}
}

func (s *ReconciliationSession) leaveRoom() {
	ctx, cancel := context.WithTimeout(context.Background(), leaveRoomTimeout)
	defer cancel()
	if err := s.channel.LeaveRoom(ctx, s.kind, s.userID, s.paymentID); err != nil {
		s.log.Debug().Err(err).Msg("leave payment room failed")
	}
}

// attachChannel connects and joins the payment room. Failures leave the
// session on polling alone.
func (s *ReconciliationSession) attachChannel(ctx context.Context) {
	if err := s.channel.Connect(ctx, s.kind); err != nil {
		s.log.Warn().Err(err).Msg("payment channel unavailable; polling only")
		return
	}
	if err := s.channel.JoinRoom(ctx, s.kind, s.userID, s.paymentID); err != nil {
		s.log.Warn().Err(err).Msg("join payment room failed; polling only")
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.leaveRoom()
		return
	}
	s.joined = true
	s.mu.Unlock()
}

func (s *ReconciliationSession) pollLoop(ctx context.Context) {
	if !s.launchPoll(ctx) {
		return
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.launchPoll(ctx) {
				return
			}
		}
	}
}

// launchPoll fires one status request without waiting for it. It reports
// whether the loop should keep ticking.
func (s *ReconciliationSession) launchPoll(ctx context.Context) bool {
	s.mu.Lock()
	if s.resolved || s.stopped {
		s.mu.Unlock()
		return false
	}
	if s.opts.MaxAttempts > 0 && s.launched >= s.opts.MaxAttempts {
		s.mu.Unlock()
		return false
	}
	s.launched++
	attempt := s.launched
	more := s.opts.MaxAttempts == 0 || s.launched < s.opts.MaxAttempts
	s.mu.Unlock()

	go s.poll(ctx, attempt)
	return more
}

func (s *ReconciliationSession) poll(ctx context.Context, attempt int) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	snap, err := s.status.FetchStatus(reqCtx, s.paymentID)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// stopped while in flight
			return
		}
		metrics.IncStatusPoll("error")
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("payment status poll failed")
		s.completeAttempt(nil)
		return
	}

	snap.Source = model.SourcePoll
	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = s.now()
	}
	if snap.Status.IsTerminal() {
		metrics.IncStatusPoll("terminal")
	} else {
		metrics.IncStatusPoll("pending")
	}
	s.log.Trace().Int("attempt", attempt).Str("status", string(snap.Status)).Msg("payment status polled")
	s.completeAttempt(&snap)
}

// completeAttempt counts one finished poll. A terminal snapshot resolves the
// session; hitting the attempt cap without one resolves it as a timeout.
func (s *ReconciliationSession) completeAttempt(snap *model.StatusSnapshot) {
	s.mu.Lock()
	if s.resolved || s.stopped {
		s.mu.Unlock()
		return
	}
	s.completed++

	if snap != nil {
		if kind, reason, ok := model.ClassifyStatus(snap.Status); ok {
			out := s.outcomeLocked(kind, reason, snap.Status, model.SourcePoll, snap.SubjectID, snap.Amount)
			s.resolveLocked(out)
			return
		}
	}
	if s.opts.MaxAttempts > 0 && s.completed >= s.opts.MaxAttempts {
		out := s.outcomeLocked(model.OutcomeFailure, model.ReasonTimeout, "", model.SourceTimeout, "", 0)
		s.resolveLocked(out)
		return
	}
	s.mu.Unlock()
}

func (s *ReconciliationSession) onEvent(ev adapter.PaymentEvent) {
	s.mu.Lock()
	mine := ev.PaymentID == s.paymentID
	s.mu.Unlock()
	if !mine {
		return
	}
	metrics.IncChannelEvent(string(ev.Kind), string(ev.Name))

	status := ev.Status
	switch ev.Name {
	case adapter.EventPaymentSuccess:
		if status == "" {
			status = model.PaymentStatusSuccess
		}
	case adapter.EventPaymentError:
		if status == "" {
			status = model.PaymentStatusFailed
		}
	}
	kind, reason, ok := model.ClassifyStatus(status)
	if !ok {
		return
	}
	subjectID := ev.SubscriptionID
	if subjectID == "" {
		subjectID = ev.OrderID
	}

	s.mu.Lock()
	if s.resolved || s.stopped {
		s.mu.Unlock()
		return
	}
	out := s.outcomeLocked(kind, reason, status, model.SourcePush, subjectID, ev.Amount)
	s.resolveLocked(out)
}

func (s *ReconciliationSession) outcomeLocked(kind model.OutcomeKind, reason model.OutcomeReason, status model.PaymentStatus, src model.SnapshotSource, subjectID string, amount int64) model.Outcome {
	return model.Outcome{
		Kind:        kind,
		Reason:      reason,
		Status:      status,
		Source:      src,
		SessionID:   s.id,
		PaymentID:   s.paymentID,
		SubjectKind: s.kind,
		SubjectID:   subjectID,
		UserID:      s.userID,
		Amount:      amount,
		Attempts:    s.completed,
		ResolvedAt:  s.now(),
	}
}

// resolveLocked is the single resolution gate. It must be called with s.mu
// held and returns with it released.
func (s *ReconciliationSession) resolveLocked(out model.Outcome) {
	s.resolved = true
	s.outcome = out
	cb := s.callback
	if cb != nil {
		s.delivered = true
	}
	took := out.ResolvedAt.Sub(s.startedAt)
	s.mu.Unlock()
	defer s.finish()

	s.Stop()
	s.report(out, took)
	if cb != nil {
		cb(out)
	}
}

func (s *ReconciliationSession) report(out model.Outcome, took time.Duration) {
	metrics.ObserveOutcome(string(out.SubjectKind), string(out.Kind), string(out.Reason), string(out.Source), out.Attempts, took)

	level := zerolog.InfoLevel
	if out.Reason == model.ReasonTimeout {
		level = zerolog.WarnLevel
	}
	if out.Kind == model.OutcomeSuccess {
		metrics.AddConfirmedAmount(string(out.SubjectKind), out.Amount)
	}
	s.log.WithLevel(level).Str("payment_id", out.PaymentID).
		Str("kind", string(out.SubjectKind)).
		Str("outcome", string(out.Kind)).
		Str("reason", string(out.Reason)).
		Str("source", string(out.Source)).
		Int("attempts", out.Attempts).
		Dur("took", took).
		Msg("reconciliation resolved")
}
