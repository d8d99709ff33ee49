package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tattoostencil/studio/internal/metrics"
)

type RouterConfig struct {
	UploadDir string
	Metrics   *metrics.Metrics
	Limiter   *RateLimiter
	Logger    *zap.Logger
}

func NewRouter(apiHandler *APIHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cfg.Metrics.InstrumentHandler)

	r.Get("/healthz", apiHandler.HealthHandler)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirListing(http.FileServer(http.Dir(cfg.UploadDir)))))

	// Stripe signs its calls; everything else under /api needs a token.
	r.Post("/api/stripe/webhook", apiHandler.StripeWebhookHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Get("/auth/user", apiHandler.GetUserHandler)

		r.Post("/upload", apiHandler.UploadHandler)
		r.Get("/images", apiHandler.ListImagesHandler)
		r.Delete("/images/{imageID}", apiHandler.DeleteImageHandler)
		r.Get("/images/{imageID}/generations", apiHandler.ImageGenerationsHandler)

		r.With(cfg.Limiter.Handler).Post("/chat", apiHandler.ChatHandler)
		r.Get("/chat", apiHandler.ChatHistoryHandler)
		r.Delete("/chat", apiHandler.ClearChatHandler)
		r.Post("/analyze-image", apiHandler.AnalyzeImageHandler)

		r.With(cfg.Limiter.Handler).Post("/generate", apiHandler.GenerateHandler)
		r.Get("/generations", apiHandler.ListGenerationsHandler)

		r.Post("/create-payment-intent", apiHandler.CreatePaymentIntentHandler)
	})

	return r
}

// noDirListing answers 404 for directory paths instead of an index page.
func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
