// Package discordtest levanta un proveedor falso de Discord para tests.
package discordtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

const (
	TokenPath = "/api/oauth2/token"
	UserPath  = "/api/users/@me"

	AccessToken = "provider-access-token"
)

// Provider registra cada llamada recibida y responde con la identidad configurada.
type Provider struct {
	Server *httptest.Server

	mu        sync.Mutex
	identity  domain.Identity
	tokenCode int
	userCode  int
	lastForm  map[string]string
	lastAuth  string

	tokenCalls atomic.Int32
	userCalls  atomic.Int32
}

// NewProvider arranca el servidor; el llamador debe invocar Close.
func NewProvider(identity domain.Identity) *Provider {
	p := &Provider{
		identity:  identity,
		tokenCode: http.StatusOK,
		userCode:  http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, p.handleToken)
	mux.HandleFunc(UserPath, p.handleUser)
	p.Server = httptest.NewServer(mux)
	return p
}

func (p *Provider) Close() {
	p.Server.Close()
}

func (p *Provider) TokenURL() string { return p.Server.URL + TokenPath }
func (p *Provider) UserURL() string  { return p.Server.URL + UserPath }

// FailToken hace que el endpoint de token responda con status.
func (p *Provider) FailToken(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenCode = status
}

// FailUser hace que el endpoint de usuario responda con status.
func (p *Provider) FailUser(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userCode = status
}

func (p *Provider) SetIdentity(identity domain.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = identity
}

func (p *Provider) TokenCalls() int { return int(p.tokenCalls.Load()) }
func (p *Provider) UserCalls() int  { return int(p.userCalls.Load()) }
func (p *Provider) Calls() int      { return p.TokenCalls() + p.UserCalls() }

// LastForm devuelve el último formulario recibido en el endpoint de token.
func (p *Provider) LastForm() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.lastForm))
	for k, v := range p.lastForm {
		out[k] = v
	}
	return out
}

// LastAuthorization devuelve el header Authorization del último GET de usuario.
func (p *Provider) LastAuthorization() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuth
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()

	p.mu.Lock()
	p.lastForm = make(map[string]string)
	for k := range r.PostForm {
		p.lastForm[k] = r.PostForm.Get(k)
	}
	status := p.tokenCode
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid \"code\" in request."}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  AccessToken,
		"token_type":    "Bearer",
		"expires_in":    604800,
		"refresh_token": "provider-refresh-token",
		"scope":         "identify email",
	})
}

func (p *Provider) handleUser(w http.ResponseWriter, r *http.Request) {
	p.userCalls.Add(1)

	p.mu.Lock()
	p.lastAuth = r.Header.Get("Authorization")
	status := p.userCode
	identity := p.identity
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer "+AccessToken {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"401: Unauthorized","code":0}`))
		return
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"provider error"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(identity)
}
