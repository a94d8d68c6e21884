package apiv1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/redis"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

const (
	routeAwait  = "await"
	awaitWindow = time.Minute
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// HandoffCookie describes the cookie that carries the handoff id across the redirect.
type HandoffCookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

type Options struct {
	Handoff HandoffCookie
	// PublicBaseURL is the only absolute origin accepted as a return URL.
	PublicBaseURL  string
	AwaitPerMinute int
	// RequestTimeout bounds every route except await.
	RequestTimeout time.Duration
}

type Server struct {
	payUC   usecase.PaymentConfirmationUseCase
	auth    *Authenticator
	limiter RateLimiter
	opts    Options
	now     func() time.Time
	log     *zerolog.Logger
}

// NewServer builds the JSON API. limiter may be nil to disable rate limiting.
func NewServer(payUC usecase.PaymentConfirmationUseCase, auth *Authenticator, limiter RateLimiter, opts Options, logger *zerolog.Logger) *Server {
	if opts.Handoff.Name == "" {
		opts.Handoff.Name = "payment_handoff"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{
		payUC:   payUC,
		auth:    auth,
		limiter: limiter,
		opts:    opts,
		now:     time.Now,
		log:     logging.Component(logger, "APIv1"),
	}
}

// RegisterAPIV1 mounts /api/v1 on r. Every route requires a user token.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Require)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Post("/payments/handoff", s.saveHandoff)
			r.Get("/payments/{paymentID}/status", s.paymentStatus)
			r.Post("/schedules/next", s.nextExecution)
		})

		// Await holds the request for a whole session; the flow bounds it.
		r.Get("/payments/{paymentID}/await", s.awaitPayment)
	})
}

// ===== Payloads =====

type handoffRequest struct {
	PaymentID string `json:"paymentId"`
	ReturnURL string `json:"returnUrl"`
	Type      string `json:"type"`
}

type handoffResponse struct {
	HandoffID string            `json:"handoffId"`
	PaymentID string            `json:"paymentId"`
	Type      model.SubjectKind `json:"type"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

type statusResponse struct {
	PaymentID  string               `json:"paymentId"`
	Status     model.PaymentStatus  `json:"status"`
	Amount     int64                `json:"amount"`
	SubjectID  string               `json:"subjectId,omitempty"`
	CreatedAt  *time.Time           `json:"createdAt,omitempty"`
	ObservedAt time.Time            `json:"observedAt"`
	Source     model.SnapshotSource `json:"source"`
	Terminal   bool                 `json:"terminal"`
}

type scheduleRequest struct {
	model.ScheduleRule
	// Now overrides the server clock, mostly for previews.
	Now *time.Time `json:"now,omitempty"`
}

type scheduleResponse struct {
	NextExecution time.Time            `json:"nextExecution"`
	Status        model.ScheduleStatus `json:"status"`
}

// ===== Handlers =====

func (s *Server) saveHandoff(w http.ResponseWriter, r *http.Request) {
	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	kind, err := model.ParseSubjectKind(req.Type)
	if err != nil {
		writeError(w, r, domain.ErrUnknownSubject)
		return
	}
	if !s.allowedReturnURL(req.ReturnURL) {
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	claims, _ := ClaimsFrom(r.Context())

	h, err := s.payUC.SaveHandoff(r.Context(), req.PaymentID, req.ReturnURL, kind, claims.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Handoff.Name,
		Value:    h.ID,
		Path:     "/",
		MaxAge:   int(s.opts.Handoff.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.Handoff.Secure,
		// Lax so the cookie survives the top-level redirect back from the processor.
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, handoffResponse{
		HandoffID: h.ID,
		PaymentID: h.PendingPaymentID,
		Type:      h.PaymentType,
		ExpiresAt: h.CreatedAt.Add(s.opts.Handoff.TTL),
	})
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentID")
	snap, err := s.payUC.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statusResponse{
		PaymentID:  snap.PaymentID,
		Status:     snap.Status,
		Amount:     snap.Amount,
		SubjectID:  snap.SubjectID,
		ObservedAt: snap.ObservedAt,
		Source:     snap.Source,
		Terminal:   snap.Status.IsTerminal(),
	}
	if !snap.CreatedAt.IsZero() {
		resp.CreatedAt = &snap.CreatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) awaitPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "paymentID")
	claims, _ := ClaimsFrom(ctx)
	log := logging.With(logging.WithPaymentID(ctx, id), s.log)

	if !s.allow(ctx, claims.Subject, routeAwait) {
		metrics.IncRateLimited(routeAwait)
		w.Header().Set("Retry-After", "60")
		writeError(w, r, domain.ErrRateLimited)
		return
	}

	kind, err := s.payUC.ResolveKind(ctx, id, r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to := usecase.Recipient{
		UserID:     claims.Subject,
		TelegramID: claims.TelegramID,
		Lang:       claims.Lang,
	}
	if to.Lang == "" {
		to.Lang = r.Header.Get("Accept-Language")
	}

	out, err := s.payUC.Await(ctx, id, kind, to)
	if err != nil {
		log.Debug().Err(err).Msg("await ended without outcome")
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) nextExecution(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrInvalidArgument)
		return
	}
	now := s.now()
	if req.Now != nil {
		now = *req.Now
	}
	next, err := model.NextExecution(req.ScheduleRule, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		NextExecution: next,
		Status:        req.ScheduleRule.Status(now),
	})
}

// allow fails open when the limiter itself errors.
func (s *Server) allow(ctx context.Context, userID, route string) bool {
	if s.limiter == nil || s.opts.AwaitPerMinute <= 0 {
		return true
	}
	ok, err := s.limiter.Allow(ctx, redis.UserRouteKey(userID, route), s.opts.AwaitPerMinute, awaitWindow)
	if err != nil {
		logging.With(ctx, s.log).Warn().Err(err).Str("route", route).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

// allowedReturnURL accepts site-relative paths and URLs on the public origin.
func (s *Server) allowedReturnURL(raw string) bool {
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if !u.IsAbs() && u.Host == "" {
		return strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//")
	}
	base, err := url.Parse(s.opts.PublicBaseURL)
	if err != nil || base.Host == "" {
		return false
	}
	return u.Scheme == base.Scheme && u.Host == base.Host
}

// ===== Responses =====

type errorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"traceId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: msg, TraceID: logging.TraceID(r.Context())})
}

// StatusCode maps domain errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrHandoffNotFound), errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownSubject):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStatusAPIFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads this
		return 499
	}
	return http.StatusInternalServerError
}
