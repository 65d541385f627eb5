package entity

import "time"

// User is the subset of the backend's user record the messaging core reads
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	FullName       string    `json:"full_name,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	IsPrivate      bool      `json:"is_private"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary returns the public projection embedded in events and listings
func (u User) Summary() Summary {
	return Summary{
		ID:             u.ID,
		Username:       u.Username,
		FullName:       u.FullName,
		ProfilePicture: u.ProfilePicture,
	}
}

// Summary is a user's public card
type Summary struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	FullName       string `json:"full_name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	Online         bool   `json:"online"`
}

// Identity is the verified caller passed into every core operation.
// It is produced by the auth boundary and never re-derived inside the core.
type Identity struct {
	UserID         string
	Username       string
	ProfilePicture string
}

// IdentityOf builds the identity of an authenticated user
func IdentityOf(u User) Identity {
	return Identity{
		UserID:         u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// Valid reports whether the identity carries a user id
func (i Identity) Valid() bool {
	return i.UserID != ""
}
