package httpserver

import (
	"net/http"

	"lv-riskengine/internal/auth"
	"lv-riskengine/internal/health"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Handler       *Handler
	Health        *health.Handler
	QuoteWS       http.Handler
	EventsWS      http.Handler
	AuthService   *auth.Service
	InternalToken string
	Origin        string
	RateLimiter   *RateLimiter
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS(d.Origin))
	r.Use(SecurityHeaders)

	if d.Health != nil {
		r.Get("/health", d.Health.Ready)
		r.Get("/health/live", d.Health.Live)
		r.Get("/health/ready", d.Health.Ready)
		r.Get("/health/full", d.Health.Full)
		r.Get("/metrics", d.Health.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if d.QuoteWS != nil {
			r.Get("/market/ws", d.QuoteWS.ServeHTTP)
		}
		if d.EventsWS != nil {
			r.Get("/events/ws", d.EventsWS.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			if d.RateLimiter != nil {
				r.Use(d.RateLimiter.Middleware)
			}
			r.Get("/symbols", d.Handler.Symbols)
			r.Get("/quotes", d.Handler.Quotes)
			r.Get("/quotes/{symbol}", d.Handler.Quote)

			r.Route("/accounts/{accountID}", func(r chi.Router) {
				r.Use(WithAuth(d.AuthService, d.InternalToken))
				r.Use(RequireAccount)
				r.Get("/risk", d.Handler.AccountRisk)
				r.Get("/positions", d.Handler.Positions)
			})
		})
		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Get("/pricing", d.Handler.GetPricing)
			r.Put("/pricing", d.Handler.PutPricing)
			r.Post("/accounts/{accountID}/positions/{positionID}/close", d.Handler.ClosePosition)
		})
	})
	return r
}
