// Package client implementa el lado navegador del login con Discord:
// nonce de state, recepción del token, requests autenticados y logout.
package client

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

const (
	defaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	defaultReturnURL    = "/"
	cdnBaseURL          = "https://cdn.discordapp.com"

	// ReasonProcessingFailed es el motivo de la página de error cuando falla ReceiveToken.
	ReasonProcessingFailed = "processing_failed"
)

var (
	ErrNotConfigured   = errors.New("discord oauth not configured")
	ErrStateMismatch   = errors.New("state mismatch")
	ErrMissingToken    = errors.New("token not found in callback url")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrSessionExpired  = errors.New("session expired, log in again")
)

// LoginError envuelve cualquier fallo de ReceiveToken con el motivo a mostrar.
type LoginError struct {
	Reason string
	Err    error
}

func (e *LoginError) Error() string { return e.Err.Error() }
func (e *LoginError) Unwrap() error { return e.Err }

type Options struct {
	BackendURL   string
	ClientID     string
	RedirectURI  string
	AuthorizeURL string
	Scopes       []string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Receipt es el resultado de un login completado.
type Receipt struct {
	User      domain.PublicUser
	ReturnURL string
}

// Client guarda el token y el usuario en durable y el nonce de state y la
// URL de retorno en session.
type Client struct {
	backendURL string
	oauth      *oauth2.Config
	durable    Storage
	session    Storage
	http       *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func New(opts Options, durable, session Storage) *Client {
	if opts.AuthorizeURL == "" {
		opts.AuthorizeURL = defaultAuthorizeURL
	}
	if len(opts.Scopes) == 0 {
		opts.Scopes = []string{"identify", "email"}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		backendURL: strings.TrimRight(opts.BackendURL, "/"),
		oauth: &oauth2.Config{
			ClientID:    strings.TrimSpace(opts.ClientID),
			RedirectURL: opts.RedirectURI,
			Scopes:      opts.Scopes,
			Endpoint:    oauth2.Endpoint{AuthURL: opts.AuthorizeURL},
		},
		durable: durable,
		session: session,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// InitiateLogin genera el nonce, lo guarda y devuelve la URL de autorización.
// Una URL de retorno ya guardada no se pisa.
func (c *Client) InitiateLogin(returnURL string) (string, error) {
	if c.oauth.ClientID == "" {
		return "", ErrNotConfigured
	}
	state, err := newNonce()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := c.session.Set(KeyOAuthState, state); err != nil {
		return "", err
	}

	existing, ok, err := c.session.Get(KeyReturnURL)
	if err != nil {
		return "", err
	}
	if !ok || existing == "" {
		if returnURL == "" {
			returnURL = defaultReturnURL
		}
		if err := c.session.Set(KeyReturnURL, returnURL); err != nil {
			return "", err
		}
	}

	c.logger.Debug("login initiated", zap.String("redirect_uri", c.oauth.RedirectURL))
	return c.oauth.AuthCodeURL(state), nil
}

func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ReceiveToken procesa la URL de éxito a la que redirige el backend.
// Si falla antes de guardar el token nuevo, la sesión existente queda intacta.
func (c *Client) ReceiveToken(ctx context.Context, callbackURL string) (Receipt, error) {
	receipt, stored, err := c.receiveToken(ctx, callbackURL)
	if err != nil {
		c.logger.Warn("login processing failed", zap.Error(err))
		if stored {
			c.discardSession()
		}
		return Receipt{}, &LoginError{Reason: ReasonProcessingFailed, Err: err}
	}
	return receipt, nil
}

// receiveToken devuelve stored=true si llegó a escribir el token en durable.
func (c *Client) receiveToken(ctx context.Context, callbackURL string) (Receipt, bool, error) {
	u, err := url.Parse(strings.TrimSpace(callbackURL))
	if err != nil {
		return Receipt{}, false, fmt.Errorf("parse callback url: %w", err)
	}
	q := u.Query()

	expected, ok, err := c.session.Get(KeyOAuthState)
	if err != nil {
		return Receipt{}, false, err
	}
	_ = c.session.Delete(KeyOAuthState)
	got := q.Get("state")
	if !ok || expected == "" || got == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return Receipt{}, false, ErrStateMismatch
	}

	token := q.Get("token")
	if token == "" {
		return Receipt{}, false, ErrMissingToken
	}
	if err := c.durable.Set(KeyAuthToken, token); err != nil {
		return Receipt{}, true, err
	}

	user, err := c.FetchUser(ctx)
	if err != nil {
		return Receipt{}, true, err
	}
	blob, err := json.Marshal(user)
	if err != nil {
		return Receipt{}, true, err
	}
	if err := c.durable.Set(KeyUser, string(blob)); err != nil {
		return Receipt{}, true, err
	}

	returnURL, _, _ := c.session.Get(KeyReturnURL)
	_ = c.session.Delete(KeyReturnURL)
	if returnURL == "" {
		returnURL = defaultReturnURL
	}
	c.logger.Info("login completed", zap.String("user_id", user.ID))
	return Receipt{User: user, ReturnURL: returnURL}, true, nil
}

func (c *Client) discardSession() {
	for _, key := range []string{KeyAuthToken, KeyUser} {
		if err := c.durable.Delete(key); err != nil {
			c.logger.Warn("discard session key failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// FetchUser llama a GET /auth/me con el token guardado.
func (c *Client) FetchUser(ctx context.Context) (domain.PublicUser, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return domain.PublicUser{}, err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return domain.PublicUser{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PublicUser{}, err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return domain.PublicUser{}, fmt.Errorf("fetch user: %s", apiErr.Error)
		}
		return domain.PublicUser{}, fmt.Errorf("fetch user: status %d", resp.StatusCode)
	}
	var payload struct {
		User domain.PublicUser `json:"user"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.PublicUser{}, fmt.Errorf("decode user: %w", err)
	}
	return payload.User, nil
}

// NewRequest arma un request contra el backend.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.backendURL+path, body)
}

// Do envía req con el token de sesión. Un 401 borra todo el almacenamiento
// y devuelve ErrSessionExpired; no reintenta.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	token, ok, err := c.durable.Get(KeyAuthToken)
	if err != nil {
		return nil, err
	}
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}

	req = req.Clone(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.clearAll()
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// IsAuthenticated mira solo el exp del token sin verificar la firma.
// Es orientativo: el backend decide.
func (c *Client) IsAuthenticated() bool {
	token, ok, err := c.durable.Get(KeyAuthToken)
	if err != nil || !ok || token == "" {
		return false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return c.now().Before(claims.ExpiresAt.Time)
}

// CurrentUser devuelve el usuario guardado; false si no hay o está corrupto.
func (c *Client) CurrentUser() (domain.PublicUser, bool) {
	blob, ok, err := c.durable.Get(KeyUser)
	if err != nil || !ok {
		return domain.PublicUser{}, false
	}
	var user domain.PublicUser
	if err := json.Unmarshal([]byte(blob), &user); err != nil {
		c.logger.Warn("stored user is corrupt", zap.Error(err))
		return domain.PublicUser{}, false
	}
	return user, true
}

// Logout avisa al backend si hay token y borra todo lo guardado.
func (c *Client) Logout(ctx context.Context) error {
	if _, ok, _ := c.durable.Get(KeyAuthToken); ok {
		req, err := c.NewRequest(ctx, http.MethodPost, "/auth/logout", nil)
		if err == nil {
			resp, err := c.Do(ctx, req)
			if err != nil {
				c.logger.Debug("logout request failed", zap.Error(err))
			} else {
				resp.Body.Close()
			}
		}
	}
	return c.clearAll()
}

func (c *Client) clearAll() error {
	err := c.durable.Clear()
	if sessErr := c.session.Clear(); err == nil {
		err = sessErr
	}
	return err
}

// AvatarURL devuelve el avatar del CDN o uno por defecto si el usuario no tiene.
func AvatarURL(user domain.PublicUser) string {
	if user.Avatar != "" {
		return fmt.Sprintf("%s/avatars/%s/%s.png?size=128", cdnBaseURL, user.ID, user.Avatar)
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", cdnBaseURL, defaultAvatarIndex(user))
}

// Discriminador legado: módulo 5. Usuarios sin discriminador: (id >> 22) módulo 6.
func defaultAvatarIndex(user domain.PublicUser) uint64 {
	if d, err := strconv.ParseUint(user.Discriminator, 10, 64); err == nil && d != 0 {
		return d % 5
	}
	if id, err := strconv.ParseUint(user.ID, 10, 64); err == nil {
		return (id >> 22) % 6
	}
	return 0
}
