// Package httpapi exposes the form endpoint over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/formmail/internal/contact"
	"github.com/shineum/formmail/internal/form"
	"github.com/shineum/formmail/internal/locale"
	"github.com/shineum/formmail/internal/metrics"
)

// defaultMaxMemory is how much of a multipart body is kept in memory before
// net/http spools file parts to disk.
const defaultMaxMemory = 10 << 20

// Submitter handles one validated submission.
type Submitter interface {
	Submit(ctx context.Context, sub *form.Submission) contact.Outcome
}

// Options configures the router.
type Options struct {
	// MaxUploadSize caps the whole request body in bytes.
	MaxUploadSize int64

	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string

	// Locale selects the language of response messages.
	Locale string

	// Metrics and Gatherer are optional. /metrics is served only when
	// Gatherer is set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// New builds the HTTP handler for the service.
func New(svc Submitter, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &handler{
		service:       svc,
		texts:         locale.For(opts.Locale),
		maxUploadSize: opts.MaxUploadSize,
		metrics:       opts.Metrics,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.healthz)
	r.Post("/send_email", h.sendEmail)

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))
	}

	return r
}
