package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/infra/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the chi router with all API endpoints registered.
func NewRouter(h *HandlerProvider, auth *Authenticator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/coins/packages", h.PackagesHandler)
	r.Post("/webhook/stripe", h.StripeWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/balance", h.GetBalanceHandler)
		r.Post("/coins/checkout", h.CheckoutHandler)
		r.Post("/chat", h.ChatHandler)
	})

	return r
}

// requestLogger attaches a logger carrying the request id to the context and
// logs each finished request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		log := slog.Default().With("request_id", middleware.GetReqID(r.Context()))
		ctx := logging.WithLogger(r.Context(), log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
