package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

// HSETNX conserva created_at del primer login; el resto de campos se sobrescribe.
const redisUpsertUserScript = `
redis.call("HSETNX", KEYS[1], "created_at", ARGV[2])
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "updated_at", ARGV[3],
  "username", ARGV[4],
  "discriminator", ARGV[5],
  "email", ARGV[6],
  "avatar", ARGV[7],
  "verified", ARGV[8])
redis.call("SADD", KEYS[2], ARGV[1])
return redis.call("HGET", KEYS[1], "created_at")
`

type redisUserClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisUserRepository guarda cada usuario en un hash y mantiene un set índice.
type RedisUserRepository struct {
	client redisUserClient
	prefix string
}

func NewRedisUserRepository(client *redis.Client) *RedisUserRepository {
	if client == nil {
		return nil
	}
	return &RedisUserRepository{
		client: client,
		prefix: "auth:user:",
	}
}

func (r *RedisUserRepository) userKey(id string) string {
	return r.prefix + id
}

func (r *RedisUserRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisUserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	id := strings.TrimSpace(user.ID)
	if id == "" {
		return domain.User{}, ErrInvalidUser
	}
	createdRaw, err := r.client.Eval(ctx, redisUpsertUserScript,
		[]string{r.userKey(id), r.indexKey()},
		id,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
		user.Username,
		user.Discriminator,
		user.Email,
		user.Avatar,
		strconv.FormatBool(user.Verified),
	).Text()
	if err != nil {
		return domain.User{}, fmt.Errorf("redis upsert user: %w", err)
	}
	createdAt, err := parseTime(createdRaw)
	if err != nil {
		return domain.User{}, fmt.Errorf("redis upsert user: %w", err)
	}
	user.ID = id
	user.DiscordID = id
	user.CreatedAt = createdAt
	return user, nil
}

func (r *RedisUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	fields, err := r.client.HGetAll(ctx, r.userKey(id)).Result()
	if err != nil {
		return domain.User{}, fmt.Errorf("redis get user: %w", err)
	}
	if len(fields) == 0 {
		return domain.User{}, ErrNotFound
	}
	return userFromHash(fields)
}

func (r *RedisUserRepository) List(ctx context.Context) ([]domain.User, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list users: %w", err)
	}
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	sortByCreatedAt(out)
	return out, nil
}

func userFromHash(fields map[string]string) (domain.User, error) {
	createdAt, err := parseTime(fields["created_at"])
	if err != nil {
		return domain.User{}, err
	}
	updatedAt, err := parseTime(fields["updated_at"])
	if err != nil {
		return domain.User{}, err
	}
	verified, _ := strconv.ParseBool(fields["verified"])
	return domain.User{
		ID:            fields["id"],
		DiscordID:     fields["id"],
		Username:      fields["username"],
		Discriminator: fields["discriminator"],
		Email:         fields["email"],
		Avatar:        fields["avatar"],
		Verified:      verified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
