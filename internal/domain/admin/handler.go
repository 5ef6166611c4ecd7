package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athwifi/voucher-api/internal/middleware"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/response"
	"github.com/athwifi/voucher-api/internal/pkg/validator"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Handler handles admin auth requests
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Login handles POST /admin/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		response.Unauthorized(w, "Invalid email or password")
	case errors.Is(err, ErrAdminInactive):
		response.Forbidden(w, "Account is inactive")
	case err != nil:
		logger.LogError(r.Context(), err, "Admin login failed")
		response.InternalError(w)
	default:
		response.OK(w, session)
	}
}

// Me handles GET /admin/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetByID(r.Context(), middleware.GetAdminID(r.Context()))
	if errors.Is(err, ErrAdminNotFound) {
		response.NotFound(w, "Admin not found")
		return
	}
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to load admin")
		response.InternalError(w)
		return
	}
	response.OK(w, a)
}

// Routes mounts login publicly and /me behind auth.
func (h *Handler) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.Login)
	r.With(auth).Get("/me", h.Me)
	return r
}
