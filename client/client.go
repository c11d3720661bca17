package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/MaxJnyk/authflow"
)

// RefreshThreshold is how long before expiry a token is proactively
// refreshed.
const RefreshThreshold = 5 * time.Minute

// DefaultRefreshPath is the backend's token refresh endpoint.
const DefaultRefreshPath = "/auth/refresh"

// AuthClient is an HTTP client with automatic token management: it loads
// the stored credential for its backend, attaches the access token to
// outgoing requests, and refreshes it before expiry or on a 401.
// It also implements oauth2.TokenSource so the stored credential plugs
// into any oauth2-aware stack.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	storage       TokenStorage
	httpClient    *http.Client
	baseTransport http.RoundTripper
	refreshPath   string
}

var _ oauth2.TokenSource = (*AuthClient)(nil)

// refreshRequest is the body sent to the refresh endpoint.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse is the refresh endpoint's wire shape.
type refreshResponse struct {
	Tokens *authflow.Tokens   `json:"tokens"`
	User   *authflow.AuthUser `json:"user,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Option configures an AuthClient.
type Option func(*AuthClient)

// WithRefreshPath sets a custom refresh endpoint path.
func WithRefreshPath(path string) Option {
	return func(c *AuthClient) { c.refreshPath = path }
}

// WithHTTPClient copies timeout, redirect and cookie settings from client
// and wraps its transport with auth handling.
func WithHTTPClient(client *http.Client) Option {
	return func(c *AuthClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *AuthClient) { c.baseTransport = transport }
}

// NewAuthClient creates an authenticated HTTP client for a backend.
func NewAuthClient(serverURL string, storage TokenStorage, opts ...Option) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}

	c := &AuthClient{
		serverURL:     serverURL,
		storage:       storage,
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
		refreshPath:   DefaultRefreshPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &refreshTransport{client: c, base: c.baseTransport}
	return c
}

// HTTPClient returns the underlying HTTP client with auth handling.
func (c *AuthClient) HTTPClient() *http.Client { return c.httpClient }

// ServerURL returns the backend URL this client is configured for.
func (c *AuthClient) ServerURL() string { return c.serverURL }

// SaveOutcome stores the credential produced by a completed auth flow.
func (c *AuthClient) SaveOutcome(tokens *authflow.Tokens, user *authflow.AuthUser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred := CredentialFromOutcome(tokens, user)
	if err := c.storage.SetCredential(c.serverURL, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return c.storage.Save()
}

// GetToken returns the current access token, refreshing if needed. An
// empty token with a nil error means no credential is stored.
func (c *AuthClient) GetToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.storage.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}

	if cred.IsExpiringSoon(RefreshThreshold) && cred.HasRefreshToken() {
		if err := c.refreshLocked(cred); err != nil {
			// A token that is not actually expired yet is still usable.
			if !cred.IsExpired() {
				return cred.AccessToken, nil
			}
			return "", fmt.Errorf("token expired and refresh failed: %w", err)
		}
		cred, _ = c.storage.GetCredential(c.serverURL)
	}

	if cred == nil || cred.IsExpired() {
		return "", nil
	}
	return cred.AccessToken, nil
}

// Token implements oauth2.TokenSource over the stored credential.
func (c *AuthClient) Token() (*oauth2.Token, error) {
	token, err := c.GetToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("no credential stored for %s", c.serverURL)
	}
	cred, err := c.storage.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
	}
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.ExpiresAt,
	}, nil
}

// GetCredential returns the stored credential for this backend.
func (c *AuthClient) GetCredential() (*Credential, error) {
	return c.storage.GetCredential(c.serverURL)
}

// Logout removes the credential for this backend.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.storage.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.storage.Save()
}

// IsLoggedIn reports whether a non-expired credential is stored.
func (c *AuthClient) IsLoggedIn() bool {
	cred, err := c.storage.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return false
	}
	return !cred.IsExpired()
}

// refreshLocked exchanges the refresh token for fresh tokens. Caller must
// hold c.mu.
func (c *AuthClient) refreshLocked(cred *Credential) error {
	body, err := json.Marshal(refreshRequest{RefreshToken: cred.RefreshToken})
	if err != nil {
		return fmt.Errorf("encoding refresh request: %w", err)
	}

	// The base transport avoids recursing through the auth transport.
	httpClient := &http.Client{Transport: c.baseTransport}
	resp, err := httpClient.Post(c.serverURL+c.refreshPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading refresh response: %w", err)
	}
	var refreshed refreshResponse
	if err := json.Unmarshal(data, &refreshed); err != nil {
		return fmt.Errorf("invalid refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if refreshed.Error != "" {
			return fmt.Errorf("refresh rejected: %s", refreshed.Error)
		}
		return fmt.Errorf("refresh rejected: HTTP %d", resp.StatusCode)
	}
	if refreshed.Tokens == nil || refreshed.Tokens.AccessToken == "" {
		return fmt.Errorf("refresh response missing tokens")
	}

	newCred := CredentialFromOutcome(refreshed.Tokens, refreshed.User)
	if newCred.UserID == "" {
		newCred.UserID = cred.UserID
		newCred.Username = cred.Username
	}
	if newCred.RefreshToken == "" {
		newCred.RefreshToken = cred.RefreshToken
	}

	if err := c.storage.SetCredential(c.serverURL, newCred); err != nil {
		return fmt.Errorf("storing refreshed credential: %w", err)
	}
	return c.storage.Save()
}
