package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

func newUser(id, username string, at time.Time) domain.User {
	return domain.NewUserFromIdentity(domain.Identity{
		ID:            id,
		Username:      username,
		Discriminator: "0001",
		Email:         username + "@example.com",
		Avatar:        "hash-" + id,
	}, at)
}

func TestMemoryUserRepository_UpsertPreservesCreatedAt(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	created, err := repo.Upsert(ctx, newUser("42", "alice", first))
	require.NoError(t, err)
	assert.Equal(t, first, created.CreatedAt)

	updated, err := repo.Upsert(ctx, newUser("42", "alice2", second))
	require.NoError(t, err)
	assert.Equal(t, first, updated.CreatedAt)
	assert.Equal(t, second, updated.UpdatedAt)
	assert.Equal(t, "alice2", updated.Username)

	stored, err := repo.GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestMemoryUserRepository_NotFoundAndInvalid(t *testing.T) {
	repo := NewMemoryUserRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Upsert(context.Background(), domain.User{ID: "  "})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestMemoryUserRepository_ListOrderedByCreatedAt(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _ = repo.Upsert(ctx, newUser("2", "bob", base.Add(2*time.Minute)))
	_, _ = repo.Upsert(ctx, newUser("1", "alice", base.Add(time.Minute)))
	_, _ = repo.Upsert(ctx, newUser("3", "carol", base.Add(3*time.Minute)))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{users[0].ID, users[1].ID, users[2].ID})
}

func TestMemoryUserRepository_ConcurrentUpsertsKeepFirstCreatedAt(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(ctx, newUser("42", "alice", first))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = repo.Upsert(ctx, newUser("42", fmt.Sprintf("alice-%d", i), first.Add(time.Duration(i+1)*time.Second)))
		}(i)
	}
	wg.Wait()

	stored, err := repo.GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first, stored.CreatedAt)
}

// fakeRedis emula HSETNX/HSET/SADD del script de upsert sobre mapas en memoria.
type fakeRedis struct {
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if f.evalErr != nil {
		cmd.SetErr(f.evalErr)
		return cmd
	}
	if script != redisUpsertUserScript || len(keys) != 2 || len(args) != 8 {
		cmd.SetErr(errors.New("unexpected eval"))
		return cmd
	}
	str := func(i int) string { return args[i].(string) }
	h, ok := f.hashes[keys[0]]
	if !ok {
		h = make(map[string]string)
		f.hashes[keys[0]] = h
	}
	if _, ok := h["created_at"]; !ok {
		h["created_at"] = str(1)
	}
	h["id"] = str(0)
	h["updated_at"] = str(2)
	h["username"] = str(3)
	h["discriminator"] = str(4)
	h["email"] = str(5)
	h["avatar"] = str(6)
	h["verified"] = str(7)
	if _, ok := f.sets[keys[1]]; !ok {
		f.sets[keys[1]] = make(map[string]struct{})
	}
	f.sets[keys[1]][str(0)] = struct{}{}
	cmd.SetVal(h["created_at"])
	return cmd
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx)
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeRedis) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	var out []string
	for m := range f.sets[key] {
		out = append(out, m)
	}
	cmd.SetVal(out)
	return cmd
}

func TestRedisUserRepository_UpsertAndGet(t *testing.T) {
	fake := newFakeRedis()
	repo := &RedisUserRepository{client: fake, prefix: "auth:user:"}
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	created, err := repo.Upsert(ctx, newUser("42", "alice", first))
	require.NoError(t, err)
	assert.True(t, created.CreatedAt.Equal(first))
	assert.Contains(t, fake.hashes, "auth:user:42")

	updated, err := repo.Upsert(ctx, newUser("42", "alice2", first.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, updated.CreatedAt.Equal(first))

	stored, err := repo.GetByID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "alice2", stored.Username)
	assert.Equal(t, "42", stored.DiscordID)
	assert.True(t, stored.CreatedAt.Equal(first))
	assert.True(t, stored.UpdatedAt.Equal(first.Add(time.Hour)))
}

func TestRedisUserRepository_ListAndNotFound(t *testing.T) {
	fake := newFakeRedis()
	repo := &RedisUserRepository{client: fake, prefix: "auth:user:"}
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _ = repo.Upsert(ctx, newUser("b", "bob", base.Add(time.Minute)))
	_, _ = repo.Upsert(ctx, newUser("a", "alice", base))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].ID)
	assert.Equal(t, "b", users[1].ID)
}

func TestRedisUserRepository_EvalError(t *testing.T) {
	fake := newFakeRedis()
	fake.evalErr = errors.New("redis down")
	repo := &RedisUserRepository{client: fake, prefix: "auth:user:"}

	_, err := repo.Upsert(context.Background(), newUser("42", "alice", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported dest %T", d)
		}
	}
	return nil
}

type fakePool struct {
	row     pgx.Row
	lastSQL string
	args    []any
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.lastSQL = sql
	p.args = args
	return p.row
}

func (p *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPgUserRepository_UpsertReturnsStoredCreatedAt(t *testing.T) {
	original := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pool := &fakePool{row: fakeRow{values: []any{original, now}}}
	repo := NewPgUserRepository(pool)

	user, err := repo.Upsert(context.Background(), newUser("42", "alice", now))
	require.NoError(t, err)
	assert.Equal(t, original, user.CreatedAt)
	assert.Equal(t, now, user.UpdatedAt)
	assert.Contains(t, pool.lastSQL, "ON CONFLICT (id) DO UPDATE")
	assert.Equal(t, "42", pool.args[0])
}

func TestPgUserRepository_GetByIDMapsNoRows(t *testing.T) {
	repo := NewPgUserRepository(&fakePool{row: fakeRow{err: pgx.ErrNoRows}})

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
