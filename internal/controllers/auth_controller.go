package controllers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/util"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/models"
	"golang.org/x/crypto/bcrypt"
)

const SESSION_COOKIE = "sessionId"

type AuthController struct {
	UserRepo engine.UserRepo
	Clock    core.Clock
}

func NewBaseController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo, Clock: core.NewRealClock()}
}

func (wc *AuthController) now() time.Time {
	if wc.Clock == nil {
		return time.Now()
	}
	return wc.Clock.Now()
}

// RequireAuth accepts a session cookie or an X-API-Key header and puts the
// username in the request context.
func (wc *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/login" {
			next(w, r)
			return
		}
		if c, err := r.Cookie(SESSION_COOKIE); err == nil && c.Value != "" {
			u, err := wc.UserRepo.FindBySessionID(c.Value, wc.now().UTC())
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			u, err := wc.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized"})
	}
}

func (wc *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.LoginRequest](r)
	if err != nil {
		util.WriteJSONResponse(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid JSON payload"})
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "username and password are required"})
		return
	}
	u, err := wc.UserRepo.FindByUsername(username)
	if err != nil {
		slog.Error("FindByUsername failed", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "server error"})
		return
	}
	if u == nil || (u.Enabled.Valid && !u.Enabled.Bool) {
		util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "invalid username or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "invalid username or password"})
		return
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		slog.Error("rand.Read failed", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "server error"})
		return
	}
	sessionID := hex.EncodeToString(buf)
	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expires := wc.now().Add(time.Duration(expiryHours) * time.Hour)
	if err := wc.UserRepo.UpdateSession(u.ID, sessionID, expires); err != nil {
		slog.Error("UpdateSession failed", "error", err)
		util.WriteJSONResponse(w, http.StatusInternalServerError, models.ErrorResponse{Error: "server error"})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SESSION_COOKIE,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
	slog.Info("User logged in", "username", u.Username)
	util.WriteJSONResponse(w, http.StatusOK, models.LoginResponse{Username: u.Username, Expires: expires})
}

func (wc *AuthController) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SESSION_COOKIE); err == nil && c.Value != "" {
		if err := wc.UserRepo.ClearSessionBySessionID(c.Value); err != nil {
			slog.Warn("Failed to clear session during logout", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SESSION_COOKIE,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// username returns who made the request, as set by RequireAuth.
func username(r *http.Request) string {
	if v, ok := r.Context().Value(core.CtxKeyUsername).(string); ok {
		return v
	}
	return ""
}
