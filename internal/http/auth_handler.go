package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/accorsirodrigo/fastbot/internal/service"
)

// AuthHandler expone el callback de Discord y los endpoints de sesión.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{logger: logger, auth: auth}
}

// DiscordCallback maneja GET /auth/discord/callback y siempre redirige al frontend.
func (h *AuthHandler) DiscordCallback(c *gin.Context) {
	result, err := h.auth.HandleCallback(c.Request.Context(), service.CallbackInput{
		Code:          c.Query("code"),
		State:         c.Query("state"),
		ProviderError: c.Query("error"),
	})
	if err != nil {
		reason := service.Reason(err)
		h.logger.Warn("discord callback failed", zap.String("reason", reason), zap.Error(err))
		c.Redirect(http.StatusFound, h.auth.ErrorURL(reason))
		return
	}
	c.Redirect(http.StatusFound, h.auth.SuccessURL(result))
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	user, err := h.auth.CurrentUser(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("load current user failed", zap.Error(err), zap.String("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout maneja POST /auth/logout. El token sigue siendo válido hasta su exp;
// el cliente es quien lo descarta.
func (h *AuthHandler) Logout(c *gin.Context) {
	if claims, ok := GetAuthClaims(c); ok {
		h.logger.Info("logout", zap.String("user_id", claims.UserID))
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
