package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rzbill/cruise/pkg/log"
)

// Secrets are the shared secrets of each provider.
type Secrets struct {
	GitHub    string
	GitLab    string
	Bitbucket string
}

func (s Secrets) of(provider string) string {
	switch provider {
	case ProviderGitHub:
		return s.GitHub
	case ProviderGitLab:
		return s.GitLab
	case ProviderBitbucket:
		return s.Bitbucket
	}
	return ""
}

// Refresher reloads the config repositories whose URL matches one of urls.
// It returns how many were scheduled.
type Refresher interface {
	RefreshMatching(ctx context.Context, urls []string, branch string) (int, error)
}

// Handler serves POST /api/webhooks/{provider}/notify.
type Handler struct {
	secrets   Secrets
	refresher Refresher
	logger    log.Logger
}

// NewHandler returns a webhook handler.
func NewHandler(secrets Secrets, refresher Refresher, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Handler{secrets: secrets, refresher: refresher, logger: logger.WithComponent("webhook")}
}

// Routes returns a standalone webhook router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	h.Register(r)
	return r
}

// Register adds the webhook endpoint to r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/webhooks/{provider}/notify", h.notify)
}

type message struct {
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(message{Message: msg})
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	req, err := Parse(provider, r)
	if err != nil {
		respond(w, http.StatusNotFound, err.Error())
		return
	}

	if err := req.Validate(h.secrets.of(provider)); err != nil {
		h.reject(w, provider, err)
		return
	}
	if req.IsPing() {
		respond(w, http.StatusAccepted, "pong")
		return
	}

	payload, err := req.Payload()
	if err != nil {
		h.reject(w, provider, err)
		return
	}
	n, err := h.refresher.RefreshMatching(r.Context(), payload.URLs, payload.Branch)
	if err != nil {
		h.logger.Error("Failed to refresh config repositories", log.Str("provider", provider), log.Err(err))
		respond(w, http.StatusInternalServerError, "Failed to refresh config repositories.")
		return
	}
	h.logger.Info("Webhook scheduled config repository refresh",
		log.Str("provider", provider),
		log.Str("repository", payload.FullName),
		log.Str("branch", payload.Branch),
		log.Int("matched", n))
	respond(w, http.StatusAccepted, "OK!")
}

func (h *Handler) reject(w http.ResponseWriter, provider string, err error) {
	var bad *BadRequestError
	if errors.As(err, &bad) {
		h.logger.Warn("Rejected webhook", log.Str("provider", provider), log.Str("reason", bad.Message))
		respond(w, http.StatusBadRequest, bad.Message)
		return
	}
	respond(w, http.StatusInternalServerError, err.Error())
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		h.logger.Debug("HTTP Request",
			log.Str("method", r.Method),
			log.Str("path", r.URL.Path),
			log.Int("status", wrapper.status),
			log.Duration("duration", time.Since(start)),
			log.RequestID(middleware.GetReqID(r.Context())),
			log.Str("remote_addr", r.RemoteAddr))
	})
}
