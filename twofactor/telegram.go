package twofactor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/MaxJnyk/authflow"
	"github.com/MaxJnyk/authflow/telegram"
)

// DefaultTelegramContainerID names the hidden container the confirmation
// widget renders into.
const DefaultTelegramContainerID = "twofactor-telegram"

// TelegramConfig configures a TelegramSender.
type TelegramConfig struct {
	// BaseURL is the auth backend origin.
	BaseURL string

	// Path overrides DefaultTwoFactorPath.
	Path string

	// HTTPClient overrides the default retrying client.
	HTTPClient *http.Client

	// ContainerID overrides DefaultTelegramContainerID.
	ContainerID string
}

func (c *TelegramConfig) path() string {
	if c.Path != "" {
		return c.Path
	}
	return DefaultTwoFactorPath
}

func (c *TelegramConfig) containerID() string {
	if c.ContainerID != "" {
		return c.ContainerID
	}
	return DefaultTelegramContainerID
}

func (c *TelegramConfig) httpClient() *http.Client {
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

// TelegramSender confirms a second factor through the Telegram widget
// instead of a delivered code: SendCode renders the widget into a hidden
// container and VerifyCode waits for the user to authenticate through it,
// forwarding the payload to the backend.
type TelegramSender struct {
	cfg        TelegramConfig
	widget     *telegram.WidgetAdapter
	httpClient *http.Client

	mu       sync.Mutex
	rendered bool
}

// NewTelegramSender creates a sender backed by the given widget adapter.
func NewTelegramSender(cfg TelegramConfig, widget *telegram.WidgetAdapter) *TelegramSender {
	return &TelegramSender{cfg: cfg, widget: widget, httpClient: cfg.httpClient()}
}

func (s *TelegramSender) Supports(mt MethodType) bool { return mt == MethodTelegram }

// SendCode renders the confirmation widget. The hidden container is
// registered and rendered once; later calls reuse it.
func (s *TelegramSender) SendCode(ctx context.Context, method authflow.TwoFactorMethod) error {
	if !s.Supports(MethodType(method.Type)) {
		return fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	if err := s.widget.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rendered {
		return nil
	}
	s.widget.RegisterContainer(s.cfg.containerID())
	if _, err := s.widget.CreateWidget(s.cfg.containerID(), telegram.WidgetOptions{Size: telegram.SizeSmall}); err != nil {
		return err
	}
	s.rendered = true
	return nil
}

// VerifyCode waits for one widget authentication and forwards the payload
// to the backend. The code argument is ignored; Telegram has no code to
// enter. Widget failures resolve as an unsuccessful result rather than an
// error so callers can let the user retry.
func (s *TelegramSender) VerifyCode(ctx context.Context, method authflow.TwoFactorMethod, _ string) (*VerifyResult, error) {
	if !s.Supports(MethodType(method.Type)) {
		return nil, fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	res := s.widget.Authenticate(ctx)
	if !res.IsSuccess {
		return &VerifyResult{}, nil
	}
	var out VerifyResult
	if err := s.post(ctx, "/verify/telegram", map[string]any{
		"methodId":     method.ID,
		"telegramData": res.UserData,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetupMethod renders the widget for first-time linking, the same
// choreography as SendCode.
func (s *TelegramSender) SetupMethod(ctx context.Context, method authflow.TwoFactorMethod) error {
	return s.SendCode(ctx, method)
}

// ConfirmMethodSetup completes linking with one widget authentication.
func (s *TelegramSender) ConfirmMethodSetup(ctx context.Context, method authflow.TwoFactorMethod, _ string) (*VerifyResult, error) {
	if !s.Supports(MethodType(method.Type)) {
		return nil, fmt.Errorf("%w: %q", authflow.ErrUnsupportedMethod, method.Type)
	}
	res := s.widget.Authenticate(ctx)
	if !res.IsSuccess {
		return &VerifyResult{}, nil
	}
	var out VerifyResult
	if err := s.post(ctx, "/setup/telegram", map[string]any{
		"methodId":     method.ID,
		"telegramData": res.UserData,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *TelegramSender) post(ctx context.Context, suffix string, body, out any) error {
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
