package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/accorsirodrigo/fastbot/internal/domain"
	"github.com/accorsirodrigo/fastbot/internal/metrics"
	"github.com/accorsirodrigo/fastbot/internal/repository"
)

// Motivos que viajan en la URL de error del frontend.
const (
	ReasonNoCode       = "no_code"
	ReasonInvalidState = "invalid_state"
	ReasonOAuthFailed  = "oauth_failed"
)

// Pasos del flujo, usados en logs y métricas.
const (
	StepClaimingState    = "claiming_state"
	StepExchangingToken  = "exchanging_token"
	StepFetchingIdentity = "fetching_identity"
	StepUpsertingUser    = "upserting_user"
	StepMintingToken     = "minting_token"
)

var (
	ErrMissingCode      = errors.New("authorization code missing")
	ErrInvalidState     = errors.New("state missing, malformed or already used")
	ErrProviderExchange = errors.New("oauth exchange failed")
	ErrUserNotFound     = errors.New("user not found")
)

// IdentityProvider es la parte del cliente de Discord que usa el flujo.
type IdentityProvider interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (domain.Identity, error)
}

type CallbackInput struct {
	Code          string
	State         string
	ProviderError string
}

type CallbackResult struct {
	Token string
	User  domain.User
	State string
}

// AuthService orquesta el callback de OAuth2: canje del código, identidad,
// alta o actualización del usuario y emisión del token de sesión.
type AuthService struct {
	logger      *zap.Logger
	provider    IdentityProvider
	users       repository.UserRepository
	tokens      *SessionTokenService
	states      StateGuard
	metrics     metrics.Recorder
	frontendURL string
	now         func() time.Time
}

func NewAuthService(
	logger *zap.Logger,
	provider IdentityProvider,
	users repository.UserRepository,
	tokens *SessionTokenService,
	states StateGuard,
	recorder metrics.Recorder,
	frontendURL string,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &AuthService{
		logger:      logger,
		provider:    provider,
		users:       users,
		tokens:      tokens,
		states:      states,
		metrics:     recorder,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleCallback procesa una visita al callback. Sin code o con un state
// inválido no se hace ninguna llamada al proveedor.
func (s *AuthService) HandleCallback(ctx context.Context, input CallbackInput) (CallbackResult, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		if input.ProviderError != "" {
			s.logger.Warn("provider returned error on callback", zap.String("provider_error", input.ProviderError))
		}
		s.metrics.RecordLogin(ReasonNoCode)
		return CallbackResult{}, ErrMissingCode
	}

	state := strings.TrimSpace(input.State)
	if !ValidState(state) {
		s.logger.Warn("callback state malformed")
		s.metrics.RecordLogin(ReasonInvalidState)
		return CallbackResult{}, ErrInvalidState
	}
	if s.states != nil {
		fresh, err := s.states.Claim(ctx, state)
		if err != nil {
			return CallbackResult{}, s.fail(StepClaimingState, err)
		}
		if !fresh {
			s.logger.Warn("callback state replayed")
			s.metrics.RecordLogin(ReasonInvalidState)
			return CallbackResult{}, ErrInvalidState
		}
	}

	s.logger.Debug("login step", zap.String("step", StepExchangingToken))
	start := time.Now()
	providerToken, err := s.provider.Exchange(ctx, code)
	s.metrics.RecordExchangeLatency(time.Since(start))
	if err != nil {
		return CallbackResult{}, s.fail(StepExchangingToken, err)
	}

	s.logger.Debug("login step", zap.String("step", StepFetchingIdentity))
	identity, err := s.provider.FetchIdentity(ctx, providerToken)
	if err != nil {
		return CallbackResult{}, s.fail(StepFetchingIdentity, err)
	}

	s.logger.Debug("login step", zap.String("step", StepUpsertingUser), zap.String("user_id", identity.ID))
	user, err := s.users.Upsert(ctx, domain.NewUserFromIdentity(identity, s.now()))
	if err != nil {
		return CallbackResult{}, s.fail(StepUpsertingUser, err)
	}

	s.logger.Debug("login step", zap.String("step", StepMintingToken), zap.String("user_id", user.ID))
	token, err := s.tokens.Issue(user)
	if err != nil {
		return CallbackResult{}, s.fail(StepMintingToken, err)
	}

	s.metrics.RecordLogin("success")
	s.logger.Info("login completed", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return CallbackResult{Token: token, User: user, State: state}, nil
}

func (s *AuthService) fail(step string, err error) error {
	s.logger.Error("login step failed", zap.String("step", step), zap.Error(err))
	s.metrics.RecordStepFailure(step)
	s.metrics.RecordLogin(ReasonOAuthFailed)
	return fmt.Errorf("%w: %s: %w", ErrProviderExchange, step, err)
}

// Reason traduce un error de HandleCallback al motivo de la URL de error.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCode):
		return ReasonNoCode
	case errors.Is(err, ErrInvalidState):
		return ReasonInvalidState
	default:
		return ReasonOAuthFailed
	}
}

func (s *AuthService) SuccessURL(result CallbackResult) string {
	q := url.Values{}
	q.Set("token", result.Token)
	if result.State != "" {
		q.Set("state", result.State)
	}
	return s.frontendURL + "/pages/auth/success?" + q.Encode()
}

func (s *AuthService) ErrorURL(reason string) string {
	q := url.Values{}
	q.Set("reason", reason)
	return s.frontendURL + "/pages/auth/error?" + q.Encode()
}

// CurrentUser devuelve la vista pública del usuario del token.
func (s *AuthService) CurrentUser(ctx context.Context, claims Claims) (domain.PublicUser, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PublicUser{}, ErrUserNotFound
		}
		return domain.PublicUser{}, err
	}
	return user.Public(), nil
}

func (s *AuthService) DebugUsers(ctx context.Context) ([]domain.DebugUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DebugUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Debug())
	}
	return out, nil
}
