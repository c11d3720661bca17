package telegram

import (
	"net/url"
	"strings"

	"github.com/MaxJnyk/authflow"
)

// OAuthBase is the Telegram OAuth endpoint the redirect URL points at.
const OAuthBase = "https://oauth.telegram.org/auth"

// BuildAuthURL constructs the OAuth redirect URL entirely client-side.
// This never touches the network, so the UI can always offer a redirect
// link even when the backend init call fails.
func BuildAuthURL(opts InitOptions) (string, error) {
	if opts.BotName == "" {
		return "", authflow.NewAuthError("invalid_options", "bot name is required", "botName")
	}

	q := url.Values{}
	q.Set("bot_id", opts.BotName)
	if opts.RedirectURL != "" {
		q.Set("redirect_url", opts.RedirectURL)
	}
	if opts.Origin != "" {
		q.Set("origin", opts.Origin)
	}
	if len(opts.RequestAccess) > 0 {
		q.Set("request_access", strings.Join(opts.RequestAccess, ","))
	}
	if opts.IsBinding {
		q.Set("bind", "1")
	}
	q.Set("embed", "1")

	return OAuthBase + "?" + q.Encode(), nil
}
