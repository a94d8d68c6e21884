package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
)

var _ adapter.PaymentEventChannel = (*Hub)(nil)

const (
	eventJoinRoom  = "join_payment_room"
	eventLeaveRoom = "leave_payment_room"
	eventPing      = "ping"

	writeWait = 10 * time.Second
)

type Options struct {
	URL          string // ws(s)://host[:port]
	Token        string
	Namespaces   map[model.SubjectKind]string
	PingInterval time.Duration
	DialTimeout  time.Duration
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomData struct {
	UserID    string `json:"userId,omitempty"`
	PaymentID string `json:"paymentId"`
}

type eventData struct {
	PaymentID      string `json:"paymentId"`
	UserID         string `json:"userId"`
	SubscriptionID string `json:"subscriptionId"`
	OrderID        string `json:"orderId"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
}

type handlerKey struct {
	kind  model.SubjectKind
	event adapter.EventName
}

type roomKey struct {
	kind      model.SubjectKind
	paymentID string
}

type room struct {
	userID string
	refs   int
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *conn) send(event string, data interface{}) error {
	f := frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		f.Data = raw
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Hub is the push side of payment reconciliation. It keeps one websocket per
// subject-kind namespace, shared by every session, and reference counts the
// payment rooms joined on it. Handlers run on the read goroutine without any
// Hub lock held.
type Hub struct {
	opts   Options
	dialer *websocket.Dialer
	log    *zerolog.Logger

	dialMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	conns    map[model.SubjectKind]*conn
	handlers map[handlerKey]map[adapter.HandlerID]adapter.EventHandler
	rooms    map[roomKey]*room
	nextID   adapter.HandlerID
}

func NewHub(opts Options, logger *zerolog.Logger) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.Namespaces == nil {
		opts.Namespaces = map[model.SubjectKind]string{
			model.SubjectSubscription: "/subscription-payments",
			model.SubjectOrder:        "/order-payments",
		}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "PaymentChannelHub").Logger()
	return &Hub{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.DialTimeout, Proxy: http.ProxyFromEnvironment},
		log:      &l,
		conns:    map[model.SubjectKind]*conn{},
		handlers: map[handlerKey]map[adapter.HandlerID]adapter.EventHandler{},
		rooms:    map[roomKey]*room{},
	}
}

// Connect dials the namespace for kind unless a live connection exists.
// Rooms still referenced from a dropped connection are joined again.
func (h *Hub) Connect(ctx context.Context, kind model.SubjectKind) error {
	h.dialMu.Lock()
	defer h.dialMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return domain.ErrChannelClosed
	}
	if _, ok := h.conns[kind]; ok {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	ns, ok := h.opts.Namespaces[kind]
	if !ok {
		return domain.ErrUnknownSubject
	}
	header := http.Header{}
	if h.opts.Token != "" {
		header.Set("Authorization", "Bearer "+h.opts.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, h.opts.DialTimeout)
	defer cancel()
	ws, _, err := h.dialer.DialContext(dialCtx, strings.TrimRight(h.opts.URL, "/")+ns, header)
	if err != nil {
		metrics.IncChannelConnect(string(kind), "error")
		return fmt.Errorf("dial %s: %w", ns, err)
	}
	c := &conn{ws: ws, done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.close()
		return domain.ErrChannelClosed
	}
	h.conns[kind] = c
	var rejoin []roomData
	for k, r := range h.rooms {
		if k.kind == kind {
			rejoin = append(rejoin, roomData{UserID: r.userID, PaymentID: k.paymentID})
		}
	}
	h.mu.Unlock()

	metrics.IncChannelConnect(string(kind), "ok")
	h.log.Info().Str("kind", string(kind)).Str("namespace", ns).Int("rejoin", len(rejoin)).Msg("payment channel connected")
	for _, r := range rejoin {
		if err := c.send(eventJoinRoom, r); err != nil {
			h.log.Warn().Err(err).Str("payment_id", r.PaymentID).Msg("rejoin payment room failed")
		}
	}

	go h.readLoop(kind, c)
	go h.pingLoop(c)
	return nil
}

// Connected reports whether the namespace for kind has a live connection.
// The read loop drops the entry as soon as the socket fails.
func (h *Hub) Connected(kind model.SubjectKind) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[kind]
	return ok
}

func (h *Hub) JoinRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	k := roomKey{kind: kind, paymentID: paymentID}
	h.mu.Lock()
	c, ok := h.conns[kind]
	if !ok || h.closed {
		h.mu.Unlock()
		return domain.ErrChannelClosed
	}
	r := h.rooms[k]
	if r == nil {
		r = &room{userID: userID}
		h.rooms[k] = r
	}
	r.refs++
	first := r.refs == 1
	h.mu.Unlock()

	if !first {
		return nil
	}
	if err := c.send(eventJoinRoom, roomData{UserID: userID, PaymentID: paymentID}); err != nil {
		h.release(k)
		return fmt.Errorf("join room %s: %w", paymentID, err)
	}
	return nil
}

func (h *Hub) LeaveRoom(ctx context.Context, kind model.SubjectKind, userID, paymentID string) error {
	k := roomKey{kind: kind, paymentID: paymentID}
	if !h.release(k) {
		return nil
	}
	h.mu.Lock()
	c, ok := h.conns[kind]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return c.send(eventLeaveRoom, roomData{UserID: userID, PaymentID: paymentID})
}

// release drops one reference and reports whether the room is now empty.
func (h *Hub) release(k roomKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[k]
	if r == nil {
		return false
	}
	r.refs--
	if r.refs > 0 {
		return false
	}
	delete(h.rooms, k)
	return true
}

func (h *Hub) On(kind model.SubjectKind, event adapter.EventName, fn adapter.EventHandler) adapter.HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	k := handlerKey{kind: kind, event: event}
	if h.handlers[k] == nil {
		h.handlers[k] = map[adapter.HandlerID]adapter.EventHandler{}
	}
	h.handlers[k][h.nextID] = fn
	return h.nextID
}

func (h *Hub) Off(kind model.SubjectKind, event adapter.EventName, id adapter.HandlerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := handlerKey{kind: kind, event: event}
	delete(h.handlers[k], id)
	if len(h.handlers[k]) == 0 {
		delete(h.handlers, k)
	}
}

// Close disconnects every namespace. Further Connect calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = map[model.SubjectKind]*conn{}
	h.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.close()
	}
	return nil
}

func (h *Hub) readLoop(kind model.SubjectKind, c *conn) {
	defer func() {
		c.close()
		h.mu.Lock()
		if h.conns[kind] == c {
			delete(h.conns, kind)
		}
		h.mu.Unlock()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				h.log.Warn().Err(err).Str("kind", string(kind)).Msg("payment channel dropped")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.log.Debug().Err(err).Msg("malformed channel frame")
			continue
		}
		h.dispatch(kind, f)
	}
}

func (h *Hub) dispatch(kind model.SubjectKind, f frame) {
	name := adapter.EventName(f.Event)
	if name == adapter.EventPong {
		return
	}
	var d eventData
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &d); err != nil {
			h.log.Debug().Err(err).Str("event", f.Event).Msg("malformed event payload")
			return
		}
	}
	ev := adapter.PaymentEvent{
		Name:           name,
		Kind:           kind,
		PaymentID:      d.PaymentID,
		UserID:         d.UserID,
		SubscriptionID: d.SubscriptionID,
		OrderID:        d.OrderID,
		Status:         model.PaymentStatus(strings.ToLower(d.Status)),
		Amount:         d.Amount,
		Message:        d.Message,
		Timestamp:      parseTimestamp(d.Timestamp),
	}

	h.mu.Lock()
	hs := make([]adapter.EventHandler, 0, len(h.handlers[handlerKey{kind, name}]))
	for _, fn := range h.handlers[handlerKey{kind, name}] {
		hs = append(hs, fn)
	}
	h.mu.Unlock()

	for _, fn := range hs {
		fn(ev)
	}
}

func (h *Hub) pingLoop(c *conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(eventPing, nil); err != nil {
				h.log.Debug().Err(err).Msg("ping failed")
				c.close()
				return
			}
		}
	}
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
