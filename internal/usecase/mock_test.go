//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/i18n"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/worker"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestBundle(t *testing.T) *i18n.Bundle {
	t.Helper()
	b, err := i18n.NewBundle(i18n.LocalesFS)
	if err != nil {
		t.Fatalf("failed to load locales: %v", err)
	}
	return b
}

// waitDone fails the test if the session does not end in time.
func waitDone(t *testing.T, s *usecase.ReconciliationSession, d time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(d):
		t.Fatalf("session did not end within %s", d)
	}
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentStatusAPI ----

type MockStatusAPI struct {
	mu    sync.Mutex
	calls int

	FetchStatusFunc func(ctx context.Context, paymentID string) (model.StatusSnapshot, error)
	FetchTypeFunc   func(ctx context.Context, paymentID string) (adapter.PaymentTypeInfo, error)
}

var _ adapter.PaymentStatusAPI = (*MockStatusAPI)(nil)

// statusSequence answers polls with the given statuses in order, repeating the last one.
func statusSequence(statuses ...model.PaymentStatus) *MockStatusAPI {
	m := &MockStatusAPI{}
	m.FetchStatusFunc = func(ctx context.Context, paymentID string) (model.StatusSnapshot, error) {
		n := m.Calls()
		st := statuses[len(statuses)-1]
		if n-1 < len(statuses) {
			st = statuses[n-1]
		}
		return model.StatusSnapshot{PaymentID: paymentID, Status: st, Amount: 150000}, nil
	}
	return m
}

func (m *MockStatusAPI) FetchStatus(ctx context.Context, paymentID string) (model.StatusSnapshot, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx, paymentID)
	}
	return model.StatusSnapshot{PaymentID: paymentID, Status: model.PaymentStatusPending}, nil
}

func (m *MockStatusAPI) FetchType(ctx context.Context, paymentID string) (adapter.PaymentTypeInfo, error) {
	if m.FetchTypeFunc != nil {
		return m.FetchTypeFunc(ctx, paymentID)
	}
	return adapter.PaymentTypeInfo{Exists: true, Kind: model.SubjectOrder}, nil
}

func (m *MockStatusAPI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ---- Mock PaymentEventChannel ----

type handlerKey struct {
	kind  model.SubjectKind
	event adapter.EventName
}

type MockChannel struct {
	mu       sync.Mutex
	next     adapter.HandlerID
	handlers map[handlerKey]map[adapter.HandlerID]adapter.EventHandler
	rooms    map[string]int

	ConnectErr error
	JoinErr    error
	dropped    bool
}

var (
	_ adapter.PaymentEventChannel = (*MockChannel)(nil)
	_ adapter.LinkStatus          = (*MockChannel)(nil)
)

func NewMockChannel() *MockChannel {
	return &MockChannel{
		handlers: map[handlerKey]map[adapter.HandlerID]adapter.EventHandler{},
		rooms:    map[string]int{},
	}
}

func (c *MockChannel) Connect(ctx context.Context, kind model.SubjectKind) error {
	return c.ConnectErr
}

func (c *MockChannel) JoinRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	if c.JoinErr != nil {
		return c.JoinErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[paymentID]++
	return nil
}

func (c *MockChannel) LeaveRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[paymentID]--
	return nil
}

func (c *MockChannel) On(kind model.SubjectKind, event adapter.EventName, h adapter.EventHandler) adapter.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	k := handlerKey{kind, event}
	if c.handlers[k] == nil {
		c.handlers[k] = map[adapter.HandlerID]adapter.EventHandler{}
	}
	c.handlers[k][c.next] = h
	return c.next
}

func (c *MockChannel) Off(kind model.SubjectKind, event adapter.EventName, id adapter.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[handlerKey{kind, event}], id)
}

// Emit delivers ev to every handler registered for its kind and name.
func (c *MockChannel) Emit(ev adapter.PaymentEvent) {
	c.mu.Lock()
	var hs []adapter.EventHandler
	for _, h := range c.handlers[handlerKey{ev.Kind, ev.Name}] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (c *MockChannel) Connected(kind model.SubjectKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConnectErr == nil && !c.dropped
}

// Drop simulates the shared connection going away.
func (c *MockChannel) Drop() {
	c.mu.Lock()
	c.dropped = true
	c.mu.Unlock()
}

// Handlers returns the handlers currently registered for kind and event, so a
// test can deliver an event that was already in flight when they were removed.
func (c *MockChannel) Handlers(kind model.SubjectKind, event adapter.EventName) []adapter.EventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hs []adapter.EventHandler
	for _, h := range c.handlers[handlerKey{kind, event}] {
		hs = append(hs, h)
	}
	return hs
}

func (c *MockChannel) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *MockChannel) RoomMembers(paymentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[paymentID]
}

// ---- Mock TelegramBotAdapter ----

type sentMessage struct {
	TelegramID int64
	Text       string
}

type MockTelegramBot struct {
	mu   sync.Mutex
	Sent []sentMessage

	SendMessageFunc func(ctx context.Context, telegramID int64, text string) error
}

var _ adapter.TelegramBotAdapter = (*MockTelegramBot)(nil)

func (m *MockTelegramBot) SendMessage(ctx context.Context, telegramID int64, text string) error {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, telegramID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentMessage{TelegramID: telegramID, Text: text})
	return nil
}

// ---- Mock OutcomePublisher ----

type MockPublisher struct {
	mu        sync.Mutex
	Published []model.Outcome
	Err       error
}

var _ adapter.OutcomePublisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishOutcome(ctx context.Context, o model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, o)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// =============================
// Repositories
// =============================

// ---- In-memory HandoffRepository ----

type MockHandoffRepo struct {
	mu    sync.Mutex
	items map[string]model.PaymentHandoff

	SaveErr error
}

var _ repository.HandoffRepository = (*MockHandoffRepo)(nil)

func NewMockHandoffRepo() *MockHandoffRepo {
	return &MockHandoffRepo{items: map[string]model.PaymentHandoff{}}
}

func (r *MockHandoffRepo) Save(ctx context.Context, h *model.PaymentHandoff) error {
	if r.SaveErr != nil {
		return r.SaveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[h.ID] = *h
	return nil
}

func (r *MockHandoffRepo) Consume(ctx context.Context, id string) (*model.PaymentHandoff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.items[id]
	if !ok {
		return nil, domain.ErrHandoffNotFound
	}
	delete(r.items, id)
	return &h, nil
}

// ---- In-memory ReconciliationLogRepository ----

type MockReconciliationLog struct {
	mu      sync.Mutex
	records map[string]model.ReconciliationRecord

	StartErr error
}

var _ repository.ReconciliationLogRepository = (*MockReconciliationLog)(nil)

func NewMockReconciliationLog() *MockReconciliationLog {
	return &MockReconciliationLog{records: map[string]model.ReconciliationRecord{}}
}

func (r *MockReconciliationLog) Start(ctx context.Context, tx repository.Tx, rec *model.ReconciliationRecord) error {
	if r.StartErr != nil {
		return r.StartErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.records[rec.ID] = *rec
	return nil
}

func (r *MockReconciliationLog) Resolve(ctx context.Context, tx repository.Tx, id string, o model.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.State != model.ReconciliationPending {
		return domain.ErrNotFound
	}
	rec.Resolve(o)
	r.records[id] = rec
	return nil
}

func (r *MockReconciliationLog) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (r *MockReconciliationLog) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.ReconciliationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ReconciliationRecord
	for _, rec := range r.records {
		if rec.State == model.ReconciliationPending && rec.StartedAt.Before(cutoff) && len(out) < limit {
			rec := rec
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (r *MockReconciliationLog) MarkAbandoned(ctx context.Context, tx repository.Tx, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		rec, ok := r.records[id]
		if ok && rec.State == model.ReconciliationPending {
			rec.State = model.ReconciliationAbandoned
			r.records[id] = rec
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every record.
func (r *MockReconciliationLog) All() []model.ReconciliationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ReconciliationRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// =============================
// Worker pool
// =============================

// syncSubmitter runs tasks inline so side effects are visible when Dispatch returns.
type syncSubmitter struct {
	mu     sync.Mutex
	errs   []error
	closed bool
}

var _ usecase.TaskSubmitter = (*syncSubmitter)(nil)

func (s *syncSubmitter) Submit(task worker.Task) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return worker.ErrPoolClosed
	}
	if err := task(context.Background()); err != nil {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
	}
	return nil
}

var errBoom = errors.New("boom")
