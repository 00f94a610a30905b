package auth

import "time"

// User is the credential record. PasswordHash and RefreshToken never
// serialize; success responses carry the sanitized projection only.
type User struct {
	ID                    string     `json:"id"`
	FullName              string     `json:"fullName"`
	Email                 string     `json:"email"`
	Username              string     `json:"username"`
	PasswordHash          string     `json:"-"`
	RefreshToken          string     `json:"-"`
	RefreshTokenExpiresAt *time.Time `json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
