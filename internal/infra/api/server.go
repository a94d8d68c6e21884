package api

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/api/apiv1"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/i18n"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

// returnPageTimeout caps the return page above the return flow's own bound.
const returnPageTimeout = time.Minute

// Server wires the payment-return page and the JSON API onto one router.
type Server struct {
	payUC      usecase.PaymentConfirmationUseCase
	v1         *apiv1.Server
	auth       *apiv1.Authenticator
	texts      *i18n.Bundle
	cookie     apiv1.HandoffCookie
	defaultURL string
	log        *zerolog.Logger
}

// NewServer constructs the HTTP layer. defaultURL is the back link when the
// handoff carried none.
func NewServer(
	payUC usecase.PaymentConfirmationUseCase,
	v1 *apiv1.Server,
	auth *apiv1.Authenticator,
	texts *i18n.Bundle,
	cookie apiv1.HandoffCookie,
	defaultURL string,
	logger *zerolog.Logger,
) *Server {
	if defaultURL == "" {
		defaultURL = "/"
	}
	return &Server{
		payUC:      payUC,
		v1:         v1,
		auth:       auth,
		texts:      texts,
		cookie:     cookie,
		defaultURL: defaultURL,
		log:        logging.Component(logger, "HTTP"),
	}
}

// Router returns the complete handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(s.auth.Optional, Timeout(returnPageTimeout)).Get("/payment-return", s.handleReturn)

	apiv1.RegisterAPIV1(r, s.v1)
	return r
}

// handleReturn is where the processor redirects the browser. It consumes the
// handoff, waits for the outcome and renders it.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	req := usecase.ReturnRequest{
		PaymentID: q.Get("paymentId"),
		Type:      q.Get("type"),
		Recipient: usecase.Recipient{Lang: r.Header.Get("Accept-Language")},
	}
	if c, err := r.Cookie(s.cookie.Name); err == nil {
		req.HandoffID = c.Value
	}
	if claims, ok := apiv1.ClaimsFrom(ctx); ok {
		req.Recipient.UserID = claims.Subject
		req.Recipient.TelegramID = claims.TelegramID
		if claims.Lang != "" {
			req.Recipient.Lang = claims.Lang
		}
	}
	t := s.texts.For(req.Recipient.Lang)

	// The handoff is single use whatever happens next.
	s.clearHandoffCookie(w)

	res, err := s.payUC.ConfirmReturn(ctx, req)
	if err != nil {
		logging.With(ctx, s.log).Warn().Err(err).Str("payment_id", req.PaymentID).Msg("payment return failed")
		msg := t.T("page.not_found")
		if !errors.Is(err, domain.ErrHandoffNotFound) && !errors.Is(err, domain.ErrPaymentNotFound) {
			kind, perr := model.ParseSubjectKind(req.Type)
			if perr != nil {
				kind = model.SubjectOrder
			}
			msg = i18n.OutcomeMessage(t, model.Outcome{Kind: model.OutcomeFailure, Reason: model.ReasonTimeout, SubjectKind: kind})
		}
		s.render(w, apiv1.StatusCode(err), page{
			Lang:  t.Lang(),
			Kind:  string(model.OutcomeFailure),
			Title: t.T("page.title.failure"),
			Msg:   msg,
			Back:  t.T("page.back"),
			URL:   s.defaultURL,
		})
		return
	}

	back := res.ReturnURL
	if back == "" {
		back = s.defaultURL
	}
	s.render(w, http.StatusOK, page{
		Lang:  t.Lang(),
		Kind:  string(res.Outcome.Kind),
		Title: i18n.OutcomeTitle(t, res.Outcome),
		Msg:   i18n.OutcomeMessage(t, res.Outcome),
		Back:  t.T("page.back"),
		URL:   back,
	})
}

func (s *Server) clearHandoffCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type page struct {
	Lang  string
	Kind  string
	Title string
	Msg   string
	Back  string
	URL   string
}

var pageTmpl = template.Must(template.New("return").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.success{color:#057a55} .failure{color:#b00020} .refunded{color:#8a6d00}
.btn{display:inline-block;margin-top:16px;padding:10px 16px;border-radius:8px;border:1px solid #888;text-decoration:none}
</style>
</head>
<body>
<div class="card" data-outcome="{{.Kind}}">
  <h2 class="{{.Kind}}">{{.Title}}</h2>
  <p>{{.Msg}}</p>
  <a class="btn" href="{{.URL}}">{{.Back}}</a>
</div>
</body>
</html>`))

func (s *Server) render(w http.ResponseWriter, code int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = pageTmpl.Execute(w, p)
}
