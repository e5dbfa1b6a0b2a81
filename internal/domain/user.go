package domain

import "time"

// Identity es la identidad devuelta por el proveedor (GET /users/@me).
type Identity struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Email         string `json:"email"`
	Avatar        string `json:"avatar"`
	Verified      bool   `json:"verified"`
}

// User es la proyección local de una Identity, indexada por el id del proveedor.
type User struct {
	ID            string    `json:"id"`
	DiscordID     string    `json:"discordId"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Email         string    `json:"email"`
	Avatar        string    `json:"avatar"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewUserFromIdentity proyecta la identidad del proveedor; CreatedAt y UpdatedAt quedan en now.
func NewUserFromIdentity(identity Identity, now time.Time) User {
	return User{
		ID:            identity.ID,
		DiscordID:     identity.ID,
		Username:      identity.Username,
		Discriminator: identity.Discriminator,
		Email:         identity.Email,
		Avatar:        identity.Avatar,
		Verified:      identity.Verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PublicUser es lo único que se expone en GET /auth/me.
type PublicUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Email         string `json:"email"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		Avatar:        u.Avatar,
		Email:         u.Email,
	}
}

// DebugUser es la vista reducida de GET /debug/users.
type DebugUser struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) Debug() DebugUser {
	return DebugUser{
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}
