package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig reúne lo que el router necesita además de los handlers.
type RouterConfig struct {
	FrontendURL string
	Development bool
	Verifier    TokenVerifier
	RateLimiter *RateLimiter
	Metrics     http.Handler
	// TrustedProxies son las IPs o CIDRs cuyo X-Forwarded-For se acepta.
	// Vacío: ClientIP es siempre la dirección del socket.
	TrustedProxies []string
}

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(logger *zap.Logger, cfg RouterConfig, authH *AuthHandler, h *Handlers) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(
		requestIDMiddleware(),
		zapLoggerMiddleware(logger),
		recoveryMiddleware(logger, cfg.Development),
		corsMiddleware(cfg.FrontendURL),
	)

	r.GET("/health", h.Health)
	r.GET("/debug/users", h.DebugUsers)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	auth := r.Group("/auth")
	if cfg.RateLimiter != nil {
		auth.Use(cfg.RateLimiter.Middleware())
	}
	auth.GET("/discord/callback", authH.DiscordCallback)

	session := auth.Group("", SessionAuthMiddleware(cfg.Verifier))
	session.GET("/me", authH.Me)
	session.POST("/logout", authH.Logout)

	return r
}
