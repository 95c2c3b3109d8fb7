package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/notification"
	sharedauth "github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/metrics"
	"github.com/psique-app/platform/internal/shared/middleware"
	"github.com/psique-app/platform/internal/user"
)

const forgotPasswordMessage = "If the email address is registered, you will receive a link to reset your password."

// MessageQueue schedules outgoing email.
type MessageQueue interface {
	Enqueue(msg notification.Message) error
}

// Handler provides the authentication endpoints
type Handler struct {
	users   user.Store
	mail    MessageQueue
	bus     events.EventBus
	limiter *middleware.IPRateLimiter
	cfg     SessionConfig
	log     *zap.Logger
	now     func() time.Time
}

// NewHandler creates a new auth handler. A nil limiter disables rate limiting.
func NewHandler(users user.Store, mail MessageQueue, bus events.EventBus, limiter *middleware.IPRateLimiter, cfg SessionConfig, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		users:   users,
		mail:    mail,
		bus:     bus,
		limiter: limiter,
		cfg:     cfg,
		log:     log.Named("auth"),
		now:     time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// Routes registers the auth routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/login", h.Login)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(sharedauth.Middleware(h.cfg.JWTSecret, h.users))
		r.Get("/", h.Renew)
		r.Get("/me", h.Me)
	})

	return r
}

// Login exchanges credentials for a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		httpx.WriteError(w, err)
		return
	}
	if u == nil || !u.Status || !sharedauth.CheckPassword(u.PasswordHash, req.Password) {
		metrics.RecordAuthAttempt(false)
		h.log.Info("login failed", zap.String("ip", middleware.ClientIP(r)))
		events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypeLoginFailed, "auth", map[string]any{
			"ip": middleware.ClientIP(r),
		}).WithCorrelation(chimw.GetReqID(r.Context())))
		httpx.WriteError(w, errors.BadRequest("incorrect credentials"))
		return
	}

	session, err := newSession(h.cfg, u)
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to issue token"))
		return
	}

	metrics.RecordAuthAttempt(true)
	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypeUserLoggedIn, "auth", map[string]any{
		"user_id": u.ID,
		"ip":      middleware.ClientIP(r),
	}).WithActor(u.ID, string(u.Role)).WithCorrelation(chimw.GetReqID(r.Context())))

	httpx.WriteJSON(w, http.StatusOK, session)
}

// Renew returns the current user with a fresh token
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), sharedauth.FromContext(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	session, err := newSession(h.cfg, u)
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to issue token"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

// Me returns the current user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), sharedauth.FromContext(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u)
}

// ForgotPassword emails a reset link to active staff accounts. The response
// is the same whether or not the address is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.users.GetByEmail(r.Context(), req.Email)
	switch {
	case err != nil && !errors.Is(err, errors.ErrNotFound):
		httpx.WriteError(w, err)
		return
	case err == nil && u.Status && (u.Role == sharedauth.RoleAdmin || u.Role == sharedauth.RolePsychologist):
		if err := h.sendResetLink(r, u); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

func (h *Handler) sendResetLink(r *http.Request, u *user.User) error {
	token, hash, err := newResetToken()
	if err != nil {
		return errors.Internal(err)
	}
	if err := h.users.SetResetToken(r.Context(), u.ID, hash, h.now().Add(h.cfg.ResetTTL)); err != nil {
		return err
	}

	link := strings.TrimRight(h.cfg.FrontendURL, "/") + "/reset-password/" + token
	if err := h.mail.Enqueue(notification.PasswordResetMessage(u.Email, u.FullName(), link)); err != nil {
		h.log.Error("failed to queue password reset email", zap.String("user_id", u.ID.String()), zap.Error(err))
	}

	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypePasswordResetRequest, "auth", map[string]any{
		"user_id": u.ID,
	}).WithCorrelation(chimw.GetReqID(r.Context())))
	return nil
}

// ResetPassword sets a new password using a reset token
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	passwordHash, err := sharedauth.HashPassword(req.Password)
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to hash password"))
		return
	}

	userID, err := h.users.ResetPassword(r.Context(), hashResetToken(strings.TrimSpace(req.Token)), passwordHash, h.now())
	if errors.Is(err, errors.ErrNotFound) {
		httpx.WriteError(w, errors.BadRequest("the reset link is invalid or has expired"))
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	events.Publish(r.Context(), h.bus, h.log, events.NewEvent(events.TypePasswordResetComplete, "auth", map[string]any{
		"user_id": userID,
	}).WithCorrelation(chimw.GetReqID(r.Context())))

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}
