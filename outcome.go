package authflow

// Tokens is the access/refresh token pair issued by the backend on
// successful authentication.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresIn is the access token lifetime in seconds, when the backend
	// reports one.
	ExpiresIn int64 `json:"expiresIn,omitempty"`
}

// AuthUser is the authenticated user's profile as returned by the backend.
type AuthUser struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
}

// TwoFactorMethod describes one second-factor option offered by the
// backend when a sign-in requires additional confirmation.
type TwoFactorMethod struct {
	ID string `json:"id"`
	// Type is one of the twofactor package's method types ("email", "sms",
	// "totp", "telegram").
	Type string `json:"type"`
	// Destination is the masked delivery target (e.g. "j***@example.com"),
	// empty for methods without a delivery channel.
	Destination string `json:"destination,omitempty"`
}

// Outcome is the terminal result of an authentication attempt. Service
// methods prefer returning a failure Outcome over returning an error, so
// one bad response never crashes a polling loop.
type Outcome struct {
	IsSuccess bool      `json:"isSuccess"`
	Tokens    *Tokens   `json:"tokens,omitempty"`
	User      *AuthUser `json:"user,omitempty"`
	Err       error     `json:"-"`

	// RequiresTwoFactor is set when the backend confirmed the sign-in
	// attempt but demands a second factor before issuing tokens. Methods
	// is non-empty whenever RequiresTwoFactor is true.
	RequiresTwoFactor bool              `json:"requiresTwoFactor,omitempty"`
	TwoFactorMethods  []TwoFactorMethod `json:"twoFactorMethods,omitempty"`
}

// Pending reports whether the outcome means "not confirmed yet": no
// success, no error, no two-factor hand-off. Pollers keep going on a
// pending outcome.
func (o *Outcome) Pending() bool {
	return !o.IsSuccess && o.Err == nil && !o.RequiresTwoFactor
}

// Failure wraps err into a failed Outcome.
func Failure(err error) *Outcome {
	return &Outcome{IsSuccess: false, Err: err}
}
