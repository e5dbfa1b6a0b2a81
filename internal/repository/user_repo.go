package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/accorsirodrigo/fastbot/internal/domain"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrInvalidUser = errors.New("user id required")
)

// UserRepository define el contrato de persistencia para usuarios.
// Upsert es atómico por id: crea el registro o sobrescribe sus campos conservando CreatedAt.
type UserRepository interface {
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
}

// MemoryUserRepository guarda usuarios en memoria; se pierden al reiniciar el proceso.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]domain.User)}
}

func (r *MemoryUserRepository) Upsert(_ context.Context, user domain.User) (domain.User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, ErrInvalidUser
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sortByCreatedAt(out)
	return out, nil
}

func sortByCreatedAt(users []domain.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
}

// pgQuerier cubre lo que el repositorio usa de *pgxpool.Pool.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool pgQuerier
}

func NewPgUserRepository(pool pgQuerier) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Upsert(ctx context.Context, user domain.User) (domain.User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.User{}, ErrInvalidUser
	}
	const query = `
		INSERT INTO users (id, username, discriminator, email, avatar, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			discriminator = EXCLUDED.discriminator,
			email = EXCLUDED.email,
			avatar = EXCLUDED.avatar,
			verified = EXCLUDED.verified,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		user.ID,
		user.Username,
		user.Discriminator,
		user.Email,
		user.Avatar,
		user.Verified,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	user.DiscordID = user.ID
	return user, nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT id, username, discriminator, email, avatar, verified, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (r *PgUserRepository) List(ctx context.Context) ([]domain.User, error) {
	const query = `
		SELECT id, username, discriminator, email, avatar, verified, created_at, updated_at
		FROM users
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Discriminator,
		&u.Email,
		&u.Avatar,
		&u.Verified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.DiscordID = u.ID
	return u, nil
}
