package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"TuneSweep/core/auth"
	"TuneSweep/logger"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler handles login against the configured admin credential.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	if h.cfg.AdminPassword == "" {
		logger.Error("[Login] 未配置管理员密码，拒绝登录")
		http.Error(w, "Login disabled", http.StatusForbidden)
		return
	}

	// 验证密码。ADMIN_PASSWORD 存的是bcrypt哈希
	if req.Username != h.cfg.AdminUser || !auth.CheckPasswordHash(req.Password, h.cfg.AdminPassword) {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	// 生成JWT token
	token, err := auth.GenerateToken(req.Username, h.cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, map[string]string{
		"token": token,
		"owner": req.Username,
	})
}

// AuthMiddleware attaches the owner identity from a bearer token when one is
// present. Analyses may run anonymously, so a missing token is not an error;
// an invalid one is.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		claims, err := auth.ParseToken(tokenString, h.cfg.JWTSecret)
		if err != nil {
			logger.Warn("[Auth] token验证失败", logger.ErrorField(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ownerContextKey, claims.Owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequireAuth rejects requests without a valid owner, used for mutating
// endpoints.
func (h *APIHandler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if OwnerFromContext(r.Context()) == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
