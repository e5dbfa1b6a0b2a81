package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateLength     = 43
)

// StateGuard marca cada state como consumido durante su TTL.
// Claim devuelve true solo la primera vez que ve un state.
type StateGuard interface {
	Claim(ctx context.Context, state string) (bool, error)
}

// ValidState comprueba el formato del nonce: 32 bytes en base64url sin padding.
func ValidState(state string) bool {
	if len(state) != stateLength {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(state)
	return err == nil && len(raw) == 32
}

func stateKey(state string) string {
	sum := blake2b.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

type MemoryStateGuard struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryStateGuard usa ttlcache; Stop detiene la limpieza de entradas vencidas.
func NewMemoryStateGuard(ttl time.Duration) *MemoryStateGuard {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &MemoryStateGuard{cache: cache}
}

func (g *MemoryStateGuard) Claim(_ context.Context, state string) (bool, error) {
	if strings.TrimSpace(state) == "" {
		return false, nil
	}
	_, found := g.cache.GetOrSet(stateKey(state), struct{}{})
	return !found, nil
}

func (g *MemoryStateGuard) Stop() {
	g.cache.Stop()
}

type redisStateClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type redisStateGuard struct {
	client redisStateClient
	prefix string
	ttl    time.Duration
}

func NewRedisStateGuard(client *redis.Client, ttl time.Duration) StateGuard {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &redisStateGuard{
		client: client,
		prefix: "auth:state:",
		ttl:    ttl,
	}
}

func (g *redisStateGuard) Claim(ctx context.Context, state string) (bool, error) {
	if strings.TrimSpace(state) == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return g.client.SetNX(ctx, g.prefix+stateKey(state), 1, g.ttl).Result()
}
