package model

import "time"

// DelegatedCredential is an account's stored OAuth grant for the mail provider.
// An active credential always carries a refresh token.
type DelegatedCredential struct {
	OwnerID      string    `json:"owner_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiredAt reports whether the access token is unusable at now, treating a
// token that expires within leeway as already expired.
func (c *DelegatedCredential) ExpiredAt(now time.Time, leeway time.Duration) bool {
	return !now.Add(leeway).Before(c.ExpiresAt)
}
