package payment

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/pkg/errorhandler"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/paystack"
	"github.com/athwifi/voucher-api/internal/pkg/response"
	"github.com/athwifi/voucher-api/internal/pkg/validator"
)

// HandlerConfig carries what the HTTP layer needs beyond the service.
type HandlerConfig struct {
	FrontendURL   string
	WebhookSecret string
}

// Handler handles payment HTTP requests
type Handler struct {
	svc    *Service
	config HandlerConfig
}

func NewHandler(svc *Service, cfg HandlerConfig) *Handler {
	return &Handler{svc: svc, config: cfg}
}

// Initialize handles POST /payments/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.Error(w, http.StatusBadRequest, errorhandler.CodeInvalidRequest, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(w, http.StatusBadRequest, errorhandler.CodeInvalidRequest, "Validation failed", errs)
		return
	}

	out, err := h.svc.Initialize(r.Context(), req)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, out)
}

// Verify handles GET /payments/verify?reference=
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := referenceFrom(r)
	receipt, err := h.svc.Verify(r.Context(), reference)
	result := ResultOf(receipt, err)
	if result.Failure != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, result.Receipt)
}

// Callback handles GET /payments/callback, where the provider sends the
// browser after checkout. It never claims; the frontend calls Verify.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(h.config.FrontendURL, "/")
	reference := referenceFrom(r)
	if reference == "" {
		http.Redirect(w, r, base+"/payment/failed", http.StatusFound)
		return
	}
	http.Redirect(w, r, base+"/payment/success?reference="+url.QueryEscape(reference), http.StatusFound)
}

// Webhook handles POST /payments/webhook. Only signed charge.success
// events are acted on, and only through the same Verify path.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}
	if !paystack.VerifySignature(body, r.Header.Get(paystack.SignatureHeader), h.config.WebhookSecret) {
		logger.LogWarn(r.Context(), "Rejected webhook with bad signature", "ip", r.RemoteAddr)
		response.Unauthorized(w, "invalid signature")
		return
	}

	event, err := paystack.ParseEvent(body)
	if err != nil {
		response.BadRequest(w, "invalid event")
		return
	}
	if event.Event != paystack.EventChargeSuccess || event.Data.Reference == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// detached so a provider-side timeout does not abort a claim mid-way
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()

	receipt, err := h.svc.Verify(ctx, event.Data.Reference)
	result := ResultOf(receipt, err)
	if result.Failure != nil {
		log.Warn().Err(err).
			Str("reference", event.Data.Reference).
			Str("kind", result.Failure.Kind).
			Msg("Webhook verification did not yield a voucher")
		// transient failures are retried by the provider
		if result.Failure.Kind == errorhandler.CodeTryAgain {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	log.Info().
		Str("reference", receipt.Reference).
		Bool("replayed", receipt.Replayed).
		Msg("Webhook fulfilled payment")
	w.WriteHeader(http.StatusOK)
}

// ListPayments handles GET /admin/payments?status=&limit=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusPending, StatusFulfilled, StatusOutOfStock, StatusFailed:
	default:
		response.BadRequest(w, "unknown status")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.List(r.Context(), status, limit)
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to list payments")
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

func referenceFrom(r *http.Request) string {
	q := r.URL.Query()
	if ref := strings.TrimSpace(q.Get("reference")); ref != "" {
		return ref
	}
	return strings.TrimSpace(q.Get("trxref"))
}

// Routes returns the public payment routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/initialize", h.Initialize)
	r.Get("/verify", h.Verify)
	r.Get("/callback", h.Callback)
	r.Post("/webhook", h.Webhook)
	return r
}

// AdminRoutes returns the reconciliation routes; auth is mounted by the caller.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListPayments)
	return r
}
