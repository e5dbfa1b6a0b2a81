package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DefaultJWTSecret = "change-this-in-production"
)

// Config centraliza la configuración del servidor de autenticación.
type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"3001"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`

	DiscordClientID     string        `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string        `env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURI  string        `env:"DISCORD_REDIRECT_URI"`
	DiscordAuthorizeURL string        `env:"DISCORD_AUTHORIZE_URL" envDefault:"https://discord.com/api/oauth2/authorize"`
	DiscordTokenURL     string        `env:"DISCORD_TOKEN_URL" envDefault:"https://discord.com/api/oauth2/token"`
	DiscordUserURL      string        `env:"DISCORD_USER_URL" envDefault:"https://discord.com/api/users/@me"`
	DiscordTimeout      time.Duration `env:"DISCORD_TIMEOUT" envDefault:"10s"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-this-in-production"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"168h"`

	FrontendURL string        `env:"FRONTEND_URL" envDefault:"http://localhost:8000"`
	StateTTL    time.Duration `env:"STATE_TTL" envDefault:"10m"`

	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
	// Sin proxies de confianza X-Forwarded-For se ignora.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// IsProduction indica si el servicio corre con APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// DiscordConfigured reporta si las credenciales OAuth del proveedor están completas.
func (c *Config) DiscordConfigured() bool {
	return c.DiscordClientID != "" && c.DiscordClientSecret != "" && c.DiscordRedirectURI != ""
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClientConfig configura el cliente de sesión usado por la CLI.
type ClientConfig struct {
	BackendURL   string   `env:"BACKEND_URL" envDefault:"http://localhost:3001"`
	ClientID     string   `env:"DISCORD_CLIENT_ID"`
	RedirectURI  string   `env:"DISCORD_REDIRECT_URI" envDefault:"http://localhost:3001/auth/discord/callback"`
	AuthorizeURL string   `env:"DISCORD_AUTHORIZE_URL" envDefault:"https://discord.com/api/oauth2/authorize"`
	Scopes       []string `env:"DISCORD_SCOPES" envDefault:"identify,email" envSeparator:","`
	SessionDB    string   `env:"SESSION_DB" envDefault:"discord-login.db"`
}

// LoadClientConfig carga la configuración del cliente desde variables de entorno.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
