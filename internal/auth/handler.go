package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/lexofis/lexofis/internal/platform/httpx"
)

// Handler wires the JSON endpoints through which the panel UI consumes the
// session manager.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	validator *validator.Validate
	observe   func(operation string, err error)
}

// NewHandler constructs a Handler. observe is an optional hook receiving the
// outcome of every operation, used for metrics; nil disables it.
func NewHandler(logger *slog.Logger, manager *Manager, observe func(operation string, err error)) *Handler {
	if observe == nil {
		observe = func(string, error) {}
	}
	return &Handler{
		logger:    logger,
		manager:   manager,
		validator: validator.New(),
		observe:   observe,
	}
}

// MountRoutes registers auth routes on the provided router. Credential
// endpoints are rate limited per client IP.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(10, time.Minute))
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/password/reset", h.handleResetPassword)
	})
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
	r.Post("/password/change", h.handleChangePassword)
	r.Patch("/profile", h.handleUpdateProfile)
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	RememberMe bool   `json:"remember_me"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=2"`
	Role     Role   `json:"role" validate:"omitempty,oneof=administrator staff professional"`
}

type resetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type userResponse struct {
	User *User `json:"user"`
}

type statusResponse struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.manager.SignIn(r.Context(), req.Email, req.Password, req.RememberMe)
	h.observe("sign_in", err)
	if err != nil {
		h.respondError(w, "sign in", err)
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{User: user})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.manager.SignUp(r.Context(), req.Email, req.Password, req.Name, req.Role)
	h.observe("sign_up", err)
	if err != nil {
		h.respondError(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, userResponse{User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	err := h.manager.SignOut(r.Context())
	h.observe("sign_out", err)
	if err != nil {
		// Local state is already gone; report the revoke failure.
		h.respondError(w, "sign out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := h.manager.RefreshSession(r.Context())
	h.observe("refresh", err)
	if err != nil {
		h.respondError(w, "refresh", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.manager.ResetPassword(r.Context(), req.Email)
	h.observe("reset_password", err)
	if err != nil {
		h.respondError(w, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.manager.ChangePassword(r.Context(), req.NewPassword)
	h.observe("change_password", err)
	if err != nil {
		h.respondError(w, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch ProfilePatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if patch.Empty() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "empty patch")
		return
	}
	user, err := h.manager.UpdateProfile(r.Context(), patch)
	h.observe("update_profile", err)
	if err != nil {
		h.respondError(w, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, userResponse{User: user})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := h.manager.CurrentUser()
	if user == nil {
		httpx.JSON(w, http.StatusOK, statusResponse{Authenticated: false})
		return
	}
	httpx.JSON(w, http.StatusOK, statusResponse{
		Authenticated: h.manager.IsAuthenticated(),
		User:          user,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Error())
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request")
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Invalid Credentials", "email or password is incorrect")
	case errors.Is(err, ErrNotAuthenticated):
		httpx.Problem(w, http.StatusUnauthorized, "Not Authenticated", "no active session")
	case errors.Is(err, ErrProfileMissing):
		httpx.Problem(w, http.StatusForbidden, "Profile Missing", "account has no profile record")
	case errors.Is(err, ErrProfileCreate):
		httpx.Problem(w, http.StatusConflict, "Profile Creation Failed", "account was registered but its profile could not be created")
	case errors.Is(err, ErrNetwork):
		httpx.Problem(w, http.StatusBadGateway, "Identity Backend Unavailable", "try again shortly")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
