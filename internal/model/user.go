// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered campus account.
//
// Email is the identity key: it is stored lower-cased and the users table
// carries a UNIQUE constraint on it. PasswordHash and VerificationToken are
// tagged json:"-" so no handler can leak them by accident, even when it
// serialises the whole struct.
type User struct {
	ID                string    `json:"id"                db:"id"`
	Email             string    `json:"email"             db:"email"`
	PasswordHash      string    `json:"-"                 db:"password_hash"`
	Name              string    `json:"name"              db:"name"`
	Department        string    `json:"department"        db:"department"`
	Bio               string    `json:"bio"               db:"bio"`
	AvatarURL         string    `json:"avatarUrl"         db:"avatar_url"`
	Verified          bool      `json:"verified"          db:"verified"`
	VerificationToken string    `json:"-"                 db:"verification_token"`
	CreatedAt         time.Time `json:"createdAt"         db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt"         db:"updated_at"`
}

// PublicProfile is the subset of a User visible to anyone.
// Email and credentials are never part of it.
type PublicProfile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Bio        string    `json:"bio"`
	AvatarURL  string    `json:"avatarUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Public projects the user onto its public profile.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:         u.ID,
		Name:       u.Name,
		Department: u.Department,
		Bio:        u.Bio,
		AvatarURL:  u.AvatarURL,
		CreatedAt:  u.CreatedAt,
	}
}

// ProfilePatch is a partial profile update. A nil field is left untouched;
// a pointer to "" clears the field.
type ProfilePatch struct {
	Name       *string `json:"name"`
	Department *string `json:"department"`
	Bio        *string `json:"bio"`
	AvatarURL  *string `json:"avatarUrl"`
}
