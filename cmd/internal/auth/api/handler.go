// Package authapi exposes the session lifecycle over HTTP.
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bandroom/cmd/internal/auth/session"
)

// DefaultMaxBodyBytes bounds auth request bodies.
const DefaultMaxBodyBytes int64 = 1 << 16 // 64 KiB

// Config tunes the HTTP layer.
type Config struct {
	MaxBodyBytes int64
}

// Handler wires the auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Service
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, sessions *session.Service, cfg Config) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{log: log, cfg: cfg, sessions: sessions}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/users/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	res, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case errors.Is(err, session.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			// One message for every login failure mode.
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	access, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "invalid or expired refresh token")
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access})
}

// handleLogout acknowledges the client discarding its tokens. Tokens are
// stateless, so there is nothing to revoke server-side.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	user, err := h.sessions.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidAccessToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: user})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
