package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

const (
	DefaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	DefaultTokenURL     = "https://discord.com/api/oauth2/token"
	DefaultUserURL      = "https://discord.com/api/users/@me"
)

// DefaultScopes son los permisos pedidos al proveedor.
var DefaultScopes = []string{"identify", "email"}

var (
	ErrExchange = errors.New("discord token exchange failed")
	ErrIdentity = errors.New("discord identity fetch failed")
)

// Config agrupa credenciales y endpoints del proveedor. Los endpoints se pueden
// sobrescribir para apuntar a un servidor de pruebas.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	UserURL      string
	Scopes       []string
	Timeout      time.Duration
}

// Client habla con los endpoints OAuth2 y de usuario de Discord.
type Client struct {
	oauth   *oauth2.Config
	userURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient construye el cliente con valores por defecto para endpoints vacíos.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = DefaultUserURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userURL: cfg.UserURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// AuthCodeURL arma la URL de autorización con el state dado.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange cambia el código de autorización por un access token.
// Las credenciales viajan en el cuerpo form-encoded junto con grant_type, code y redirect_uri.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			c.logger.Warn("discord token endpoint rejected code",
				zap.Int("status", retrieveErr.Response.StatusCode),
				zap.String("error_code", retrieveErr.ErrorCode),
				zap.ByteString("body", retrieveErr.Body),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	return token, nil
}

// FetchIdentity obtiene el usuario autenticado con el bearer token.
func (c *Client) FetchIdentity(ctx context.Context, token *oauth2.Token) (domain.Identity, error) {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty access token", ErrIdentity)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL, nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: create request: %v", ErrIdentity, err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: do request: %v", ErrIdentity, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: read response: %v", ErrIdentity, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("discord user endpoint error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return domain.Identity{}, fmt.Errorf("%w: status=%d", ErrIdentity, resp.StatusCode)
	}

	var identity domain.Identity
	if err := json.Unmarshal(body, &identity); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: unmarshal response: %v", ErrIdentity, err)
	}
	if strings.TrimSpace(identity.ID) == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing id", ErrIdentity)
	}
	return identity, nil
}
