package telegram

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MaxJnyk/authflow"
)

// Default endpoint paths on the auth backend.
const (
	DefaultInitPath    = "/auth/telegram/init"
	DefaultConfirmPath = "/auth/telegram/confirm"
	DefaultAuthPath    = "/auth/telegram"
)

// DefaultMaxAuthAge is the staleness window for widget payloads: an
// auth_date older than this is treated as a replay and rejected.
const DefaultMaxAuthAge = 24 * time.Hour

// Config configures an AuthService.
type Config struct {
	// BaseURL is the auth backend origin, e.g. "https://api.example.com".
	BaseURL string

	// Endpoint paths; defaults above apply when empty.
	InitPath    string
	ConfirmPath string
	AuthPath    string

	// HTTPClient overrides the default retrying client.
	HTTPClient *http.Client

	// Logger receives analytics events. Nil means no events.
	Logger authflow.Logger

	// MaxAuthAge overrides DefaultMaxAuthAge. Backends that enforce a
	// tighter window (e.g. one hour) should set it here so client and
	// server agree on one constant.
	MaxAuthAge time.Duration
}

func (c *Config) initPath() string {
	if c.InitPath != "" {
		return c.InitPath
	}
	return DefaultInitPath
}

func (c *Config) confirmPath() string {
	if c.ConfirmPath != "" {
		return c.ConfirmPath
	}
	return DefaultConfirmPath
}

func (c *Config) authPath() string {
	if c.AuthPath != "" {
		return c.AuthPath
	}
	return DefaultAuthPath
}

func (c *Config) maxAuthAge() time.Duration {
	if c.MaxAuthAge > 0 {
		return c.MaxAuthAge
	}
	return DefaultMaxAuthAge
}

func (c *Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	return rc.StandardClient()
}

func (c *Config) logger() authflow.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return authflow.NopLogger{}
}

// InitOptions are the parameters for starting a Telegram sign-in.
type InitOptions struct {
	// BotName is the Telegram bot the app authenticates through. Required.
	BotName string `json:"botName"`

	// RedirectURL is where Telegram sends the user after confirming.
	RedirectURL string `json:"redirectUrl,omitempty"`

	// Origin is the app origin Telegram validates the widget against.
	Origin string `json:"origin,omitempty"`

	// RequestAccess lists the scopes requested from the user ("write").
	RequestAccess []string `json:"requestAccess,omitempty"`

	// IsBinding distinguishes "link Telegram to an existing account" from
	// a fresh sign-in.
	IsBinding bool `json:"isBinding,omitempty"`
}

// SignInResult is what InitSignIn hands back to the UI. URL is always
// present; the out-of-band confirmation aids are only set when the backend
// init call succeeded.
type SignInResult struct {
	URL       string `json:"url"`
	ID        string `json:"id,omitempty"`
	Code      string `json:"code,omitempty"`
	QR        string `json:"qr,omitempty"`
	LinkToBot string `json:"linkToBot,omitempty"`
}

// ConfirmOptions parameterize one confirm call against the backend.
type ConfirmOptions struct {
	ID            string `json:"id"`
	IsBinding     bool   `json:"isBinding,omitempty"`
	TwoFactorType string `json:"twoFactorType,omitempty"`
}
