package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MaxJnyk/authflow"
)

// AuthService performs the protocol-level Telegram auth operations against
// the backend. It is stateless per call and safe for concurrent use; the
// polling loop lives in Orchestrator, not here.
type AuthService struct {
	cfg           Config
	httpClient    *http.Client
	logger        authflow.Logger
	correlationID string
}

// NewAuthService creates an AuthService for the backend in cfg.
func NewAuthService(cfg Config) *AuthService {
	return &AuthService{
		cfg:           cfg,
		httpClient:    cfg.httpClient(),
		logger:        cfg.logger(),
		correlationID: uuid.NewString(),
	}
}

// CorrelationID returns the id this service tags its events with.
func (s *AuthService) CorrelationID() string { return s.correlationID }

// InitSignIn starts a Telegram sign-in attempt. The OAuth redirect URL is
// always constructed client-side, so a reachable result is returned even
// when the backend init call fails and the UI can still offer a QR-less
// redirect link. Only errors before URL construction are fatal.
func (s *AuthService) InitSignIn(ctx context.Context, opts InitOptions) (*SignInResult, error) {
	authURL, err := BuildAuthURL(opts)
	if err != nil {
		return nil, err
	}
	res := &SignInResult{URL: authURL}

	var init struct {
		ID        string `json:"id"`
		Code      string `json:"code"`
		QR        string `json:"qr"`
		LinkToBot string `json:"linkToBot"`
	}
	if err := s.postJSON(ctx, s.cfg.initPath(), opts, &init); err != nil {
		slog.Warn("telegram init call failed, returning redirect URL only",
			"correlationId", s.correlationID, "err", err)
		s.event("telegram_init_degraded", map[string]any{"error": err.Error()})
		return res, nil
	}

	res.ID = init.ID
	res.Code = init.Code
	res.QR = init.QR
	res.LinkToBot = init.LinkToBot
	s.event("telegram_init", map[string]any{"hasSession": res.ID != ""})
	return res, nil
}

// ValidateTelegramData checks a raw widget payload for the required fields
// and staleness. Failures are logged as suspicious activity and reported
// as false; this never returns an error.
func (s *AuthService) ValidateTelegramData(raw map[string]any) bool {
	user, err := NormalizeWidgetData(raw)
	if err != nil {
		s.suspicious("malformed telegram payload", map[string]any{"error": err.Error()})
		return false
	}
	if user.ID == 0 || user.FirstName == "" || user.AuthDate == 0 || user.Hash == "" {
		s.suspicious("telegram payload missing required fields", map[string]any{"id": user.ID})
		return false
	}
	age := time.Since(time.Unix(user.AuthDate, 0))
	if age > s.cfg.maxAuthAge() {
		s.suspicious("stale telegram auth_date", map[string]any{"ageSeconds": int64(age.Seconds())})
		return false
	}
	return true
}

// HandleAuthResult validates and normalizes a raw widget payload and sends
// it to the backend auth endpoint. API errors come back as a failed
// Outcome, never as a panic or a throw past the service boundary.
func (s *AuthService) HandleAuthResult(ctx context.Context, raw map[string]any) *authflow.Outcome {
	if !s.ValidateTelegramData(raw) {
		return authflow.Failure(authflow.NewAuthError(
			authflow.ErrCodeInvalidAuthData, "telegram payload failed validation", ""))
	}
	user, err := NormalizeWidgetData(raw)
	if err != nil {
		return authflow.Failure(authflow.NewAuthError(
			authflow.ErrCodeInvalidAuthData, err.Error(), ""))
	}

	var resp confirmResponse
	if err := s.postJSON(ctx, s.cfg.authPath(), user, &resp); err != nil {
		if isCancelled(err) {
			return authflow.Failure(authflow.ErrAborted)
		}
		return authflow.Failure(authflow.WrapAuthError(
			authflow.ErrCodeAPIError, "telegram auth request failed", err))
	}
	return resp.outcome()
}

// ConfirmAuth asks the backend whether the session has been confirmed.
// An empty session id fails fast without any network call. Cancellation
// surfaces as ErrAborted, distinguished from ordinary network failures so
// pollers do not burn retry budget on their own abort.
func (s *AuthService) ConfirmAuth(ctx context.Context, opts ConfirmOptions) *authflow.Outcome {
	if opts.ID == "" {
		return authflow.Failure(authflow.ErrMissingSessionID)
	}

	var resp confirmResponse
	if err := s.postJSON(ctx, s.cfg.confirmPath(), opts, &resp); err != nil {
		if isCancelled(err) {
			return authflow.Failure(authflow.ErrAborted)
		}
		return authflow.Failure(authflow.WrapAuthError(
			authflow.ErrCodeAPIError, "confirm request failed", err))
	}
	out := resp.outcome()
	if out.IsSuccess {
		s.event("telegram_confirmed", map[string]any{"session": opts.ID})
	}
	return out
}

// confirmResponse is the wire shape shared by the confirm and widget-auth
// endpoints.
type confirmResponse struct {
	IsSuccess         bool                       `json:"isSuccess"`
	Tokens            *authflow.Tokens           `json:"tokens"`
	User              *authflow.AuthUser         `json:"user"`
	RequiresTwoFactor bool                       `json:"requiresTwoFactor"`
	TwoFactorMethods  []authflow.TwoFactorMethod `json:"twoFactorMethods"`
}

func (r *confirmResponse) outcome() *authflow.Outcome {
	if r.RequiresTwoFactor && len(r.TwoFactorMethods) > 0 {
		return &authflow.Outcome{
			RequiresTwoFactor: true,
			TwoFactorMethods:  r.TwoFactorMethods,
		}
	}
	if r.IsSuccess {
		return &authflow.Outcome{IsSuccess: true, Tokens: r.Tokens, User: r.User}
	}
	// Not confirmed yet: no success, no error. Pollers keep going.
	return &authflow.Outcome{}
}

func (s *AuthService) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *AuthService) event(name string, params map[string]any) {
	s.logger.Log(authflow.StampEvent(authflow.Event{
		Name:          name,
		Category:      "telegram_auth",
		Params:        params,
		CorrelationID: s.correlationID,
	}))
}

func (s *AuthService) suspicious(msg string, params map[string]any) {
	slog.Warn("suspicious telegram auth activity",
		"correlationId", s.correlationID, "reason", msg)
	s.event("suspicious_activity", params)
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
