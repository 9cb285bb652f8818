package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"agenda/internal/auth"
	appLog "agenda/internal/log"
)

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware guards operator endpoints with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Agenda", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// bearerAuth verifies the JWT and stores its claims in the request context.
// Browsers cannot set headers on a websocket handshake, so a "token" query
// parameter is accepted too.
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if s.signer == nil {
			writeError(w, http.StatusUnauthorized, "token verification unavailable")
			return
		}
		claims, err := s.signer.Parse(strings.TrimSpace(raw))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "token expired"
			}
			appLog.Debug("bearer token rejected", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// requireCap rejects requests whose claims lack want.
func requireCap(want auth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := auth.FromContext(r.Context())
			if !claims.HasPermission(want) {
				writeError(w, http.StatusForbidden, "missing permission "+string(want))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// claimsOf returns the verified claims. Handlers under /api always have them.
func claimsOf(r *http.Request) *auth.Claims {
	c, ok := auth.FromContext(r.Context())
	if !ok {
		return &auth.Claims{}
	}
	return c
}

type tokenRequest struct {
	UserID       string            `json:"userId"`
	Name         string            `json:"name"`
	CompanyID    string            `json:"companyId"`
	Role         string            `json:"role"`
	Capabilities []auth.Capability `json:"capabilities"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleIssueToken lets an operator holding the basic auth credentials mint
// API tokens.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		writeError(w, http.StatusServiceUnavailable, "token signing unavailable")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || (req.CompanyID == "" && req.Role != auth.RoleSuperAdmin) {
		writeError(w, http.StatusBadRequest, "userId and companyId are required")
		return
	}
	token, err := s.signer.Issue(auth.Claims{
		UserID:       req.UserID,
		Name:         req.Name,
		CompanyID:    req.CompanyID,
		Role:         req.Role,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		appLog.Error("token issue failed", err, "user", req.UserID)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	appLog.Info("api token issued", "user", req.UserID, "company", req.CompanyID, "role", req.Role)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}
