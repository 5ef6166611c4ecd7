package provisioning

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/response"
)

// Operator is the slice of Service the admin endpoints use.
type Operator interface {
	List(ctx context.Context, status Status, limit int) ([]Job, error)
	Retry(ctx context.Context, id int64) error
	EnqueueDisconnect(ctx context.Context, username string) (int64, error)
	EnqueueRemove(ctx context.Context, username string) (int64, error)
}

// Handler exposes the outbox to operators.
type Handler struct {
	svc Operator
}

func NewHandler(svc Operator) *Handler {
	return &Handler{svc: svc}
}

// ListJobs handles GET /jobs?status=dead&limit=50
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusPending, StatusDone, StatusDead:
	default:
		response.BadRequest(w, "status must be pending, done or dead")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.svc.List(r.Context(), status, limit)
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to list provisioning jobs")
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]interface{}{
		"items": jobs,
		"total": len(jobs),
	})
}

// Retry handles POST /jobs/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "invalid job id")
		return
	}

	switch err := h.svc.Retry(r.Context(), id); {
	case errors.Is(err, ErrJobNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ErrJobNotDead):
		response.Conflict(w, err.Error())
	case err != nil:
		logger.LogError(r.Context(), err, "Failed to requeue provisioning job", "job_id", id)
		response.InternalError(w)
	default:
		response.OK(w, map[string]interface{}{"id": id, "status": StatusPending})
	}
}

// Disconnect handles POST /logins/{username}/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, h.svc.EnqueueDisconnect)
}

// Revoke handles POST /logins/{username}/revoke
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, h.svc.EnqueueRemove)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (int64, error)) {
	username := chi.URLParam(r, "username")
	if username == "" {
		response.BadRequest(w, "username is required")
		return
	}
	id, err := fn(r.Context(), username)
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to enqueue provisioning job", "username", username)
		response.InternalError(w)
		return
	}
	response.JSON(w, http.StatusAccepted, map[string]interface{}{"job_id": id, "username": username})
}

// Routes returns the operator routes; the caller mounts auth in front.
// elevated guards the actions that change router state for good.
func (h *Handler) Routes(elevated func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/jobs", h.ListJobs)
	r.Post("/logins/{username}/disconnect", h.Disconnect)
	r.Group(func(r chi.Router) {
		r.Use(elevated)
		r.Post("/jobs/{id}/retry", h.Retry)
		r.Post("/logins/{username}/revoke", h.Revoke)
	})
	return r
}
