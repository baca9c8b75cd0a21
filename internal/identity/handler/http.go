// Package handler exposes the credential lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"edge-guard/backend/internal/edge"
	"edge-guard/backend/internal/fingerprint"
	"edge-guard/backend/internal/identity/domain"
	"edge-guard/backend/internal/identity/service"
)

const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnavailable    = "SERVICE_UNAVAILABLE"
	codeInternal       = "INTERNAL"

	refreshCookiePath = "/api/auth"
)

// AuthService is the service surface used by the handler.
type AuthService interface {
	Login(ctx context.Context, username, password string, dev fingerprint.Device) (*domain.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, dev fingerprint.Device) (*domain.AuthResult, error)
	Logout(ctx context.Context, cred *domain.AccessCredential, refreshToken string) error
	LogoutAll(ctx context.Context, userID int64) (int64, error)
}

// CookieConfig names and scopes the credential cookies.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	Secure      bool
}

// Handler serves /api/auth.
type Handler struct {
	svc      AuthService
	cookies  CookieConfig
	validate *validator.Validate
	now      func() time.Time
}

// New returns a Handler. Empty cookie names fall back to access_token and refresh_token.
func New(svc AuthService, cookies CookieConfig) *Handler {
	if cookies.AccessName == "" {
		cookies.AccessName = edge.DefaultAccessCookie
	}
	if cookies.RefreshName == "" {
		cookies.RefreshName = "refresh_token"
	}
	return &Handler{
		svc:      svc,
		cookies:  cookies,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// Routes returns the auth router, mounted by the gateway at /api/auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)
	r.Post("/logout-all", h.logoutAll)
	r.Get("/me", h.me)
	return r
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
	DeviceID string `json:"deviceId" validate:"omitempty,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"omitempty,max=512"`
	DeviceID     string `json:"deviceId" validate:"omitempty,max=128"`
}

type tokenResponse struct {
	UserID           int64     `json:"userId"`
	Username         string    `json:"username"`
	AccessToken      string    `json:"accessToken"`
	ExpiresIn        int64     `json:"expiresIn"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type meResponse struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type logoutAllResponse struct {
	TokenVersion int64 `json:"tokenVersion"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password, device(r, req.DeviceID))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeTokens(w, res)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = h.refreshCookie(r)
	}
	res, err := h.svc.Refresh(r.Context(), token, device(r, req.DeviceID))
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			h.clearCookies(w)
		}
		h.writeServiceError(w, err)
		return
	}
	h.writeTokens(w, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = h.refreshCookie(r)
	}
	var cred *domain.AccessCredential
	if id, ok := edge.IdentityFrom(r.Context()); ok {
		cred = &domain.AccessCredential{UserID: id.UserID, JTI: id.JTI, ExpiresAt: id.ExpiresAt}
	}
	if err := h.svc.Logout(r.Context(), cred, token); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := edge.IdentityFrom(r.Context())
	if !ok {
		edge.WriteUnauthorized(w)
		return
	}
	version, err := h.svc.LogoutAll(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.clearCookies(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{TokenVersion: version})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := edge.IdentityFrom(r.Context())
	if !ok {
		edge.WriteUnauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: id.UserID, Username: id.Username, ExpiresAt: id.ExpiresAt})
}

// decode reads and validates a JSON body. An empty body is accepted when optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !(optional && errors.Is(err, io.EOF)) {
		edge.WriteError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		edge.WriteError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request")
		return false
	}
	return true
}

func (h *Handler) writeTokens(w http.ResponseWriter, res *domain.AuthResult) {
	now := h.now()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookies.AccessName,
		Value:    res.AccessToken,
		Path:     "/",
		Expires:  res.AccessExpiresAt,
		MaxAge:   maxAge(res.AccessExpiresAt, now),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookies.RefreshName,
		Value:    res.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  res.RefreshExpiresAt,
		MaxAge:   maxAge(res.RefreshExpiresAt, now),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		UserID:           res.UserID,
		Username:         res.Username,
		AccessToken:      res.AccessToken,
		ExpiresIn:        int64(res.AccessExpiresAt.Sub(now) / time.Second),
		ExpiresAt:        res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{h.cookies.AccessName, "/"},
		{h.cookies.RefreshName, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.cookies.Secure,
		})
	}
}

func (h *Handler) refreshCookie(r *http.Request) string {
	c, err := r.Cookie(h.cookies.RefreshName)
	if err != nil {
		return ""
	}
	return c.Value
}

// writeServiceError never distinguishes which credential check failed.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		edge.WriteUnauthorized(w)
	case errors.Is(err, service.ErrUnavailable):
		edge.WriteError(w, http.StatusServiceUnavailable, codeUnavailable, "temporarily unavailable")
	default:
		log.Printf("identity: request failed: %v", err)
		edge.WriteError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func device(r *http.Request, bodyDeviceID string) fingerprint.Device {
	deviceID := bodyDeviceID
	if deviceID == "" {
		deviceID = r.Header.Get(edge.HeaderDeviceID)
	}
	return fingerprint.FromRequest(fingerprint.MetaFromRequest(r), deviceID)
}

func maxAge(expiresAt, now time.Time) int {
	s := int(expiresAt.Sub(now) / time.Second)
	if s < 1 {
		return -1
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
