package handlers

import (
	"net/http"
	"strings"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const minPasswordLength = 6

// AuthHandler handles authentication-related endpoints
type AuthHandler struct {
	responder   Responder
	logger      zerolog.Logger
	authService *services.AuthService
	users       *database.UserRepo
}

func NewAuthHandler(authService *services.AuthService, db *database.Database) *AuthHandler {
	logger := log.With().Str("handlerName", "authHandler").Logger()
	return &AuthHandler{
		responder:   NewResponder(logger),
		logger:      logger,
		authService: authService,
		users:       db.Users(),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (c credentials) validate() error {
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		return errs.NewInvalidFieldError("email", "invalid email address")
	}
	if len(c.Password) < minPasswordLength {
		return errs.NewInvalidFieldError("password", "must be at least 6 characters")
	}
	return nil
}

type sessionResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Login checks email and password and issues a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, "login", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		h.responder.WriteError(w, err)
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "user", err))
		return
	}
	if !h.authService.CheckPassword(user.PasswordHash, req.Password) {
		h.responder.WriteError(w, errs.NewUnauthorizedError("invalid credentials"))
		return
	}

	h.writeSession(w, http.StatusOK, user)
}

// Register creates a USER account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, "register", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("name"))
		return
	}

	hash, err := h.authService.HashPassword(req.Password)
	if err != nil {
		h.responder.WriteError(w, err)
		return
	}
	user, err := h.users.Create(r.Context(), models.User{
		Email:        req.Email,
		Name:         name,
		PasswordHash: hash,
		Role:         models.RoleUser,
	})
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("create", "user", err))
		return
	}

	h.logger.Info().Str("email", user.Email).Msg("registered user")
	h.writeSession(w, http.StatusCreated, user)
}

// VerifyToken reports the identity behind the caller's token.
func (h *AuthHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.responder.WriteError(w, errs.NewUnauthorizedError("missing session"))
		return
	}

	h.responder.WriteJSON(w, http.StatusOK, map[string]string{
		"email":  claims.Email,
		"role":   string(claims.Role),
		"status": "valid",
	})
}

// GetProfile returns the signed-in user.
func (h *AuthHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.responder.WriteError(w, errs.NewUnauthorizedError("missing session"))
		return
	}

	user, err := h.users.FindByEmail(r.Context(), claims.Email)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "user", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, user)
}

// UpdateProfile changes the signed-in user's name and avatar.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		h.responder.WriteError(w, errs.NewUnauthorizedError("missing session"))
		return
	}

	var req struct {
		Name      *string `json:"name"`
		AvatarURL *string `json:"avatarUrl"`
	}
	if err := decodeBody(w, r, "profile", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		h.responder.WriteError(w, errs.NewInvalidFieldError("name", "must not be empty"))
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), claims.Email, req.Name, req.AvatarURL)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("update", "user", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.authService.CreateJWT(user)
	if err != nil {
		h.responder.WriteError(w, err)
		return
	}
	h.responder.WriteJSON(w, status, sessionResponse{User: user, Token: token})
}
