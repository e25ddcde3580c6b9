package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/usermgmt-be/internal/access"
	"github.com/isdelr/usermgmt-be/internal/auth"
	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/httpx"
	"github.com/isdelr/usermgmt-be/internal/services"
	"github.com/rs/zerolog/hlog"
)

// multipart framing and headers on top of the image itself
const multipartOverhead = 1 << 20

// UserHandler handles HTTP requests for user management.
type UserHandler struct {
	service       services.UserServiceProvider
	maxImageBytes int64
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service services.UserServiceProvider, maxImageBytes int64) *UserHandler {
	return &UserHandler{service: service, maxImageBytes: maxImageBytes}
}

// Register handles new user registration.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload services.RegisterInput
	if !decodeBody(w, r, &payload) {
		return
	}

	res, err := h.service.Register(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

// Login handles user authentication and JWT generation.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload services.LoginInput
	if !decodeBody(w, r, &payload) {
		return
	}

	res, err := h.service.Login(r.Context(), payload)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) || errors.Is(err, common.ErrAccountInactive) {
			hlog.FromRequest(r).Warn().Err(err).Msg("Failed authentication attempt")
		}
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// ToggleStatus flips the active flag of the account in the path.
func (h *UserHandler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	user, err := h.service.ToggleActiveStatus(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	msg := "User deactivated"
	if user.Active {
		msg = "User activated"
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": msg, "user": user})
}

// Profile returns the authenticated user's account.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

// List returns a page of accounts.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	page, err := queryInt(r, "page")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	res, err := h.service.ListUsers(r.Context(), actor, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// Create handles account creation. The caller may be anonymous.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload services.CreateUserInput
	if !decodeBody(w, r, &payload) {
		return
	}

	var actor *access.Actor
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = &access.Actor{ID: claims.UserID, Role: claims.Role}
	}

	user, err := h.service.CreateUser(r.Context(), actor, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]interface{}{"message": "User created successfully", "user": user})
}

// Update applies a partial update to the account in the path.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	var payload services.UpdateUserInput
	if !decodeBody(w, r, &payload) {
		return
	}

	user, err := h.service.UpdateUser(r.Context(), actor, chi.URLParam(r, "id"), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": "User updated successfully", "user": user})
}

// UploadProfileImage accepts a multipart "file" field and stores it as the
// profile image of the account in the path.
func (h *UserHandler) UploadProfileImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Message(w, http.StatusBadRequest, "File too large")
			return
		}
		httpx.Message(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Message(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	user, err := h.service.UploadProfileImage(r.Context(), actor, chi.URLParam(r, "id"), services.ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]interface{}{"message": "Profile image uploaded successfully", "user": user})
}

// Delete handles the permanent deletion of a user account.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteUser(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.Message(w, http.StatusOK, "User deleted successfully")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.Message(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (access.Actor, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		hlog.FromRequest(r).Error().Msg("Could not retrieve user claims from context")
		httpx.Message(w, http.StatusUnauthorized, "Missing auth token")
		return access.Actor{}, false
	}
	return access.Actor{ID: claims.UserID, Role: claims.Role}, true
}

// queryInt reads an optional positive integer query parameter; 0 means
// absent.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}
