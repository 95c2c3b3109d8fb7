package user

import (
	"context"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/httpx"
	"github.com/psique-app/platform/internal/shared/storage"
	"github.com/psique-app/platform/internal/shared/types"
)

// Handler provides HTTP handlers for accounts and the admin psychologist views
type Handler struct {
	store         Store
	files         storage.Store
	bus           events.EventBus
	log           *zap.Logger
	jwtSecret     string
	maxImageBytes int64
}

// NewHandler creates a new user handler
func NewHandler(store Store, files storage.Store, bus events.EventBus, jwtSecret string, maxImageBytes int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		store:         store,
		files:         files,
		bus:           bus,
		log:           log.Named("user"),
		jwtSecret:     jwtSecret,
		maxImageBytes: maxImageBytes,
	}
}

// Routes registers the /users routes. Creation accepts anonymous requests
// so the first administrator can be bootstrapped.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/admin", h.GetAdmin)
	r.With(auth.OptionalMiddleware(h.jwtSecret, h.store)).Post("/", h.CreateUser)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.jwtSecret, h.store))

		r.With(auth.RequireAdmin).Get("/", h.ListActivePsychologists)
		r.Put("/{id}", h.UpdateUser)
		r.With(auth.RequireAdmin).Delete("/{id}", h.DeleteUser)
		r.Put("/upload/{id}", h.UploadImages)
	})

	return r
}

// PsychologistRoutes registers the admin psychologist management routes.
func (h *Handler) PsychologistRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(h.jwtSecret, h.store))
	r.Use(auth.RequireAdmin)

	r.Get("/getPsicologo", h.ListPsychologists)
	r.Put("/updatePsicologi/{id}", h.UpdatePsychologist)
	r.Put("/{id}/changePasswordPsicologi", h.ChangePsychologistPassword)

	return r
}

// ListActivePsychologists lists active psychologists with their caseloads
func (h *Handler) ListActivePsychologists(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListPsychologists(r.Context(), true)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": len(users),
	})
}

// ListPsychologists lists every psychologist, newest first
func (h *Handler) ListPsychologists(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListPsychologists(r.Context(), false)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":  users,
		"total": len(users),
	})
}

// GetAdmin returns the active administrator
func (h *Handler) GetAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := h.store.ActiveAdmin(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, admin)
}

// CreateUser creates an account
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	var req CreateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.Role == auth.RoleStudent {
		httpx.WriteError(w, errors.BadRequest("students are managed as records, not accounts"))
		return
	}

	count, err := h.store.Count(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := authorizeCreate(identity, req.Role, count == 0); err != nil {
		httpx.WriteError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to hash password"))
		return
	}

	u := &User{
		ID:           types.NewID(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       true,
	}
	if err := h.store.Create(r.Context(), u); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, identity, events.TypeUserCreated, map[string]any{
		"user_id": u.ID,
		"role":    u.Role,
	})

	httpx.WriteJSON(w, http.StatusCreated, u)
}

// authorizeCreate applies the account creation rules. The very first account
// may be created anonymously and must be an administrator.
func authorizeCreate(identity *auth.Identity, role auth.Role, firstAccount bool) error {
	if firstAccount {
		if role != auth.RoleAdmin {
			return errors.BadRequest("the first account must be an administrator")
		}
		return nil
	}
	if identity == nil {
		return errors.Unauthorized("authentication required")
	}
	if role == auth.RoleAdmin {
		return errors.Forbidden("additional administrators cannot be created")
	}
	if role == auth.RolePsychologist && !identity.IsAdmin() {
		return errors.Forbidden("only administrators can create psychologists")
	}
	return nil
}

// UpdateUser updates an account. The role never changes.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req UpdateUserRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	switch {
	case u.Role == auth.RolePsychologist && !identity.IsAdmin():
		httpx.WriteError(w, errors.Forbidden("only administrators can update psychologists"))
		return
	case req.Role != nil && *req.Role != u.Role:
		httpx.WriteError(w, errors.BadRequest("a user's role cannot be changed"))
		return
	case !identity.IsAdmin() && identity.ID != u.ID:
		httpx.WriteError(w, errors.Forbidden("you can only update your own account"))
		return
	}

	if req.FirstName != nil {
		u.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		u.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Email != nil {
		u.Email = strings.ToLower(strings.TrimSpace(*req.Email))
	}
	if req.Password != nil {
		if u.PasswordHash, err = auth.HashPassword(*req.Password); err != nil {
			httpx.WriteError(w, errors.Wrap(err, "failed to hash password"))
			return
		}
	}

	if err := h.store.Update(r.Context(), u); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, identity, events.TypeUserUpdated, map[string]any{
		"user_id":          u.ID,
		"password_changed": req.Password != nil,
	})

	httpx.WriteJSON(w, http.StatusOK, u)
}

// DeleteUser deactivates an account
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if u.Role == auth.RoleAdmin && u.Status {
		admins, err := h.store.CountActiveAdmins(r.Context())
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		if admins <= 1 {
			httpx.WriteError(w, errors.BadRequest("the last active administrator cannot be deactivated"))
			return
		}
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	u.Status = false

	h.publish(r, identity, events.TypeUserDeleted, map[string]any{"user_id": u.ID})

	httpx.WriteJSON(w, http.StatusOK, u)
}

// UploadImages stores a new profile and/or cover image for an account
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if h.files == nil {
		httpx.WriteError(w, &errors.AppError{Code: "UNAVAILABLE", Message: "image storage is not configured", HTTPStatus: http.StatusServiceUnavailable})
		return
	}

	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !identity.IsAdmin() && identity.ID != id {
		httpx.WriteError(w, errors.Forbidden("you can only change your own images"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var tooBig *http.MaxBytesError
		if stderrors.As(err, &tooBig) {
			httpx.WriteError(w, errors.TooLarge(fmt.Sprintf("images must be at most %d bytes", h.maxImageBytes)))
			return
		}
		httpx.WriteError(w, errors.BadRequest("a multipart form is required"))
		return
	}

	profile := formFile(r.MultipartForm, "profileImage")
	cover := formFile(r.MultipartForm, "coverImage")
	if profile == nil && cover == nil {
		httpx.WriteError(w, errors.BadRequest("profileImage or coverImage is required"))
		return
	}
	for _, fh := range []*multipart.FileHeader{profile, cover} {
		if err := h.checkImage(fh); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	u, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var replaced []string
	if profile != nil {
		url, err := h.storeImage(r.Context(), u.ID, "profile", profile)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		replaced = append(replaced, u.Img)
		u.Img = url
	}
	if cover != nil {
		url, err := h.storeImage(r.Context(), u.ID, "cover", cover)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}
		replaced = append(replaced, u.CoverImage)
		u.CoverImage = url
	}

	if err := h.store.Update(r.Context(), u); err != nil {
		httpx.WriteError(w, err)
		return
	}

	for _, old := range replaced {
		if key := h.files.KeyFromURL(old); key != "" {
			if err := h.files.Delete(r.Context(), key); err != nil {
				h.log.Warn("failed to delete replaced image", zap.String("key", key), zap.Error(err))
			}
		}
	}

	h.publish(r, identity, events.TypeUserUpdated, map[string]any{
		"user_id":        u.ID,
		"images_changed": true,
	})

	httpx.WriteJSON(w, http.StatusOK, u)
}

func formFile(form *multipart.Form, field string) *multipart.FileHeader {
	if form == nil || len(form.File[field]) == 0 {
		return nil
	}
	return form.File[field][0]
}

func (h *Handler) checkImage(fh *multipart.FileHeader) error {
	if fh == nil {
		return nil
	}
	if _, ok := storage.ImageContentType(fh.Filename); !ok {
		return errors.BadRequest("only jpg, jpeg and png images are allowed")
	}
	if fh.Size > h.maxImageBytes {
		return errors.TooLarge(fmt.Sprintf("images must be at most %d bytes", h.maxImageBytes))
	}
	return nil
}

func (h *Handler) storeImage(ctx context.Context, userID types.ID, kind string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", errors.BadRequest("failed to read upload")
	}
	defer f.Close()

	key := path.Join("users", userID.String(), kind+"-"+types.NewID().String()+strings.ToLower(path.Ext(fh.Filename)))
	url, err := h.files.Put(ctx, key, f)
	if err != nil {
		return "", errors.Wrap(err, "failed to store image")
	}
	return url, nil
}

// UpdatePsychologist lets an admin edit a psychologist's profile
func (h *Handler) UpdatePsychologist(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req UpdatePsychologistRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := httpx.Validate(req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.loadPsychologist(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	if req.Email != u.Email {
		if other, err := h.store.GetByEmail(r.Context(), req.Email); err == nil && other.ID != u.ID {
			httpx.WriteError(w, errors.Conflict("email is already registered"))
			return
		} else if err != nil && !errors.Is(err, errors.ErrNotFound) {
			httpx.WriteError(w, err)
			return
		}
	}

	u.FirstName = strings.TrimSpace(req.FirstName)
	u.LastName = strings.TrimSpace(req.LastName)
	u.Email = req.Email
	if req.Password != "" {
		if u.PasswordHash, err = auth.HashPassword(req.Password); err != nil {
			httpx.WriteError(w, errors.Wrap(err, "failed to hash password"))
			return
		}
	}

	if err := h.store.Update(r.Context(), u); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, auth.FromContext(r.Context()), events.TypeUserUpdated, map[string]any{
		"user_id":          u.ID,
		"password_changed": req.Password != "",
	})

	httpx.WriteJSON(w, http.StatusOK, u)
}

// ChangePsychologistPassword replaces a psychologist's password after
// checking the current one
func (h *Handler) ChangePsychologistPassword(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	var req ChangePasswordRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}

	u, err := h.loadPsychologist(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.CurrentPassword) {
		httpx.WriteError(w, errors.BadRequest("current password is incorrect"))
		return
	}

	if u.PasswordHash, err = auth.HashPassword(req.NewPassword); err != nil {
		httpx.WriteError(w, errors.Wrap(err, "failed to hash password"))
		return
	}
	if err := h.store.Update(r.Context(), u); err != nil {
		httpx.WriteError(w, err)
		return
	}

	h.publish(r, auth.FromContext(r.Context()), events.TypeUserPasswordChanged, map[string]any{"user_id": u.ID})

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *Handler) loadPsychologist(ctx context.Context, id types.ID) (*User, error) {
	u, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RolePsychologist {
		return nil, errors.NotFound("psychologist", id.String())
	}
	return u, nil
}

func (h *Handler) publish(r *http.Request, identity *auth.Identity, eventType string, data map[string]any) {
	event := events.NewEvent(eventType, "user", data).WithCorrelation(chimw.GetReqID(r.Context()))
	if identity != nil {
		event = event.WithActor(identity.ID, string(identity.Role))
	}
	events.Publish(r.Context(), h.bus, h.log, event)
}
