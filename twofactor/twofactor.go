// Package twofactor implements second-factor confirmation as a set of
// interchangeable method senders behind one dispatching service. Code-based
// methods (email, sms, totp) talk to the backend's two-factor endpoints;
// the telegram method replaces the code round-trip with a second widget
// authentication.
package twofactor

import (
	"context"
	"fmt"

	"github.com/MaxJnyk/authflow"
)

// MethodType identifies a second-factor delivery mechanism.
type MethodType string

const (
	MethodEmail    MethodType = "email"
	MethodSMS      MethodType = "sms"
	MethodTOTP     MethodType = "totp"
	MethodTelegram MethodType = "telegram"
)

// VerifyResult is what a verification attempt settles with. Rejected codes
// resolve with IsSuccess false rather than an error; errors are reserved
// for transport and configuration failures.
type VerifyResult struct {
	IsSuccess bool               `json:"isSuccess"`
	Tokens    *authflow.Tokens   `json:"tokens,omitempty"`
	User      *authflow.AuthUser `json:"user,omitempty"`
}

// Sender performs second-factor operations for the method types it
// supports. Implementations must report ErrUnsupportedMethod for any other
// type so the Service can keep dispatch errors uniform.
type Sender interface {
	// Supports reports whether this sender handles the method type.
	Supports(mt MethodType) bool

	// SendCode initiates the challenge: delivering a code for code-based
	// methods, rendering the confirmation widget for telegram.
	SendCode(ctx context.Context, method authflow.TwoFactorMethod) error

	// VerifyCode settles the challenge. Code-based methods verify the
	// user-entered code; telegram ignores it and waits for the widget.
	VerifyCode(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error)

	// SetupMethod starts first-time enrollment of the method.
	SetupMethod(ctx context.Context, method authflow.TwoFactorMethod) error

	// ConfirmMethodSetup completes enrollment with the challenge response.
	ConfirmMethodSetup(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error)
}

// Service dispatches two-factor operations to the first registered sender
// supporting the method's type.
type Service struct {
	senders []Sender
	logger  authflow.Logger
}

// NewService creates a dispatching service over the given senders. A nil
// logger disables events.
func NewService(logger authflow.Logger, senders ...Sender) *Service {
	if logger == nil {
		logger = authflow.NopLogger{}
	}
	return &Service{senders: senders, logger: logger}
}

// Register appends a sender to the dispatch list.
func (s *Service) Register(sender Sender) {
	s.senders = append(s.senders, sender)
}

func (s *Service) sender(mt MethodType) (Sender, error) {
	for _, snd := range s.senders {
		if snd.Supports(mt) {
			return snd, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, mt)
}

// SendCode initiates the challenge for the method.
func (s *Service) SendCode(ctx context.Context, method authflow.TwoFactorMethod) error {
	snd, err := s.sender(MethodType(method.Type))
	if err != nil {
		return err
	}
	if err := snd.SendCode(ctx, method); err != nil {
		return err
	}
	s.event("two_factor_code_sent", method)
	return nil
}

// VerifyCode settles the challenge for the method.
func (s *Service) VerifyCode(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error) {
	snd, err := s.sender(MethodType(method.Type))
	if err != nil {
		return nil, err
	}
	res, err := snd.VerifyCode(ctx, method, code)
	if err != nil {
		return nil, err
	}
	if res.IsSuccess {
		s.event("two_factor_verified", method)
	}
	return res, nil
}

// SetupMethod starts first-time enrollment of the method.
func (s *Service) SetupMethod(ctx context.Context, method authflow.TwoFactorMethod) error {
	snd, err := s.sender(MethodType(method.Type))
	if err != nil {
		return err
	}
	return snd.SetupMethod(ctx, method)
}

// ConfirmMethodSetup completes enrollment of the method.
func (s *Service) ConfirmMethodSetup(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error) {
	snd, err := s.sender(MethodType(method.Type))
	if err != nil {
		return nil, err
	}
	res, err := snd.ConfirmMethodSetup(ctx, method, code)
	if err != nil {
		return nil, err
	}
	if res.IsSuccess {
		s.event("two_factor_setup_confirmed", method)
	}
	return res, nil
}

func (s *Service) event(name string, method authflow.TwoFactorMethod) {
	s.logger.Log(authflow.StampEvent(authflow.Event{
		Name:     name,
		Category: "two_factor",
		Params:   map[string]any{"methodId": method.ID, "methodType": method.Type},
	}))
}
