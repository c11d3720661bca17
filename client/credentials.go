// Package client provides host-side credential management for authflow:
// credential storage, automatic token refresh, and HTTP client helpers for
// calling the backend with a live access token.
package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MaxJnyk/authflow"
)

// Credential holds the authentication state for a single backend.
type Credential struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Username     string    `json:"username,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsExpired reports whether the access token has expired.
func (c *Credential) IsExpired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// IsExpiringSoon reports whether the token expires within the duration.
func (c *Credential) IsExpiringSoon(within time.Duration) bool {
	return !c.ExpiresAt.IsZero() && time.Now().Add(within).After(c.ExpiresAt)
}

// HasRefreshToken reports whether a refresh token is available.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// CredentialFromOutcome builds a Credential from a successful auth flow
// result. Expiry comes from the expiresIn hint when present, otherwise from
// the access token's exp claim.
func CredentialFromOutcome(tokens *authflow.Tokens, user *authflow.AuthUser) *Credential {
	cred := &Credential{CreatedAt: time.Now()}
	if tokens != nil {
		cred.AccessToken = tokens.AccessToken
		cred.RefreshToken = tokens.RefreshToken
		if tokens.ExpiresIn > 0 {
			cred.ExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		} else {
			cred.ExpiresAt = tokenExpiry(tokens.AccessToken)
		}
	}
	if user != nil {
		cred.UserID = user.ID
		cred.Username = user.Username
	}
	return cred
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature. Verification is the backend's job; the client
// only needs the expiry to schedule refreshes. Returns the zero time for
// opaque tokens.
func tokenExpiry(accessToken string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// TokenStorage persists credentials keyed by backend URL. Implementations
// live in the stores package (filesystem, in-memory, gorm).
type TokenStorage interface {
	// GetCredential retrieves the credential for a backend URL.
	// Returns nil, nil when none is stored.
	GetCredential(serverURL string) (*Credential, error)

	// SetCredential stores the credential for a backend URL.
	SetCredential(serverURL string, cred *Credential) error

	// RemoveCredential removes the credential for a backend URL.
	RemoveCredential(serverURL string) error

	// ListServers returns all backend URLs with stored credentials.
	ListServers() ([]string, error)

	// Save persists pending changes, for stores that batch writes.
	Save() error
}
