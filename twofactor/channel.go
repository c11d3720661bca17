package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MaxJnyk/authflow"
)

// DefaultTwoFactorPath is the backend prefix the channel sender posts to.
const DefaultTwoFactorPath = "/auth/2fa"

// ChannelConfig configures a ChannelSender.
type ChannelConfig struct {
	// BaseURL is the auth backend origin.
	BaseURL string

	// Path overrides DefaultTwoFactorPath.
	Path string

	// HTTPClient overrides the default retrying client.
	HTTPClient *http.Client

	// Methods lists the code-based method types this sender handles.
	// Empty means email, sms and totp.
	Methods []MethodType
}

func (c *ChannelConfig) path() string {
	if c.Path != "" {
		return c.Path
	}
	return DefaultTwoFactorPath
}

func (c *ChannelConfig) httpClient() *http.Client {
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

func (c *ChannelConfig) methods() []MethodType {
	if len(c.Methods) > 0 {
		return c.Methods
	}
	return []MethodType{MethodEmail, MethodSMS, MethodTOTP}
}

// ChannelSender handles code-based second factors by posting to the
// backend's send and verify endpoints. One sender covers every code-based
// channel; the backend routes delivery by method id.
type ChannelSender struct {
	cfg        ChannelConfig
	httpClient *http.Client
	supported  map[MethodType]bool
}

// NewChannelSender creates a sender for the configured code-based methods.
func NewChannelSender(cfg ChannelConfig) *ChannelSender {
	supported := make(map[MethodType]bool)
	for _, mt := range cfg.methods() {
		supported[mt] = true
	}
	return &ChannelSender{cfg: cfg, httpClient: cfg.httpClient(), supported: supported}
}

func (s *ChannelSender) Supports(mt MethodType) bool { return s.supported[mt] }

func (s *ChannelSender) SendCode(ctx context.Context, method authflow.TwoFactorMethod) error {
	if !s.Supports(MethodType(method.Type)) {
		return fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	return s.post(ctx, "/send", map[string]string{"methodId": method.ID}, nil)
}

func (s *ChannelSender) VerifyCode(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error) {
	if !s.Supports(MethodType(method.Type)) {
		return nil, fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	var res VerifyResult
	if err := s.post(ctx, "/verify", map[string]string{"methodId": method.ID, "code": code}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *ChannelSender) SetupMethod(ctx context.Context, method authflow.TwoFactorMethod) error {
	if !s.Supports(MethodType(method.Type)) {
		return fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	return s.post(ctx, "/setup", map[string]string{
		"methodType":  method.Type,
		"destination": method.Destination,
	}, nil)
}

func (s *ChannelSender) ConfirmMethodSetup(ctx context.Context, method authflow.TwoFactorMethod, code string) (*VerifyResult, error) {
	if !s.Supports(MethodType(method.Type)) {
		return nil, fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	var res VerifyResult
	if err := s.post(ctx, "/setup/confirm", map[string]string{"methodId": method.ID, "code": code}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *ChannelSender) post(ctx context.Context, suffix string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	url := s.cfg.BaseURL + s.cfg.path() + suffix
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
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
		return authflow.WrapAuthError(authflow.ErrCodeAPIError,
			fmt.Sprintf("two-factor backend returned %d", resp.StatusCode),
			fmt.Errorf("%s", bytes.TrimSpace(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
