package admin

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"plainspeak/internal/auth"
	"plainspeak/internal/config"
)

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.VerifyAdminRequest(r); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminKey    string `json:"admin_key"`
		ExpireHours int    `json:"expire_hours"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid json"})
		return
	}
	key := strings.TrimSpace(req.AdminKey)
	if key == "" || !hmac.Equal([]byte(key), []byte(auth.AdminKey())) {
		config.Logger.Warn("admin login rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "invalid admin key"})
		return
	}
	token, err := auth.CreateJWT(req.ExpireHours)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "detail": "authentication required"})
		return
	}
	payload, err := auth.VerifyJWT(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"expires_at": intFrom(payload["exp"]),
	})
}
