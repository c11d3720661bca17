package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/MaxJnyk/authflow"
)

// DefaultAuthenticateTimeout bounds how long Authenticate waits for the
// external widget to produce a completion event.
const DefaultAuthenticateTimeout = 5 * time.Minute

// WidgetSize selects the rendered login button size.
type WidgetSize string

const (
	SizeLarge  WidgetSize = "large"
	SizeMedium WidgetSize = "medium"
	SizeSmall  WidgetSize = "small"
)

// WidgetConfig configures a WidgetAdapter.
type WidgetConfig struct {
	// BotName is the Telegram bot the login button authenticates through.
	BotName string

	// RedirectURL overrides the callback URL embedded into the widget.
	// Empty means the adapter's own loopback /callback endpoint.
	RedirectURL string

	// RequestAccess lists scopes the widget asks the user for ("write").
	RequestAccess []string

	// ListenAddr is where the loopback receiver binds. Defaults to an
	// ephemeral port on 127.0.0.1.
	ListenAddr string

	// Timeout overrides DefaultAuthenticateTimeout.
	Timeout time.Duration

	// MaxAuthAge overrides DefaultMaxAuthAge for payload validation.
	MaxAuthAge time.Duration

	Logger authflow.Logger
}

// WidgetOptions configure one rendered widget instance.
type WidgetOptions struct {
	Size WidgetSize
}

// AuthResult is what Authenticate settles with. Validation failures and
// timeouts resolve the result instead of erroring the call, so callers
// handle every settle path the same way.
type AuthResult struct {
	IsSuccess bool
	UserData  *WidgetUser
	Err       error
}

// WidgetAdapter bridges to the externally hosted Telegram login widget.
// It owns a loopback HTTP receiver that serves rendered login buttons and
// accepts the widget's completion callback; host applications can also
// push payloads directly through Deliver (the cross-window message path).
type WidgetAdapter struct {
	cfg WidgetConfig

	mu          sync.Mutex
	initialized bool
	receiver    *CallbackReceiver
	waiter      chan map[string]any
	containers  map[string]string
	msgSubs     map[int]func(map[string]any)
	nextSub     int
}

// NewWidgetAdapter creates an adapter. Call Initialize before rendering
// widgets.
func NewWidgetAdapter(cfg WidgetConfig) *WidgetAdapter {
	return &WidgetAdapter{
		cfg:        cfg,
		containers: make(map[string]string),
		msgSubs:    make(map[int]func(map[string]any)),
	}
}

// Initialize idempotently brings up the loopback receiver. Calling it
// again after success is a no-op; a listener failure reports ErrScriptLoad.
func (w *WidgetAdapter) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := startReceiver(w, w.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", authflow.ErrScriptLoad, err)
	}
	w.receiver = rec
	w.initialized = true
	return nil
}

// URL returns the loopback receiver's base URL, empty before Initialize.
func (w *WidgetAdapter) URL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.receiver == nil {
		return ""
	}
	return w.receiver.URL()
}

// RegisterContainer declares a widget mount point. CreateWidget only
// renders into registered containers.
func (w *WidgetAdapter) RegisterContainer(containerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.containers[containerID]; !ok {
		w.containers[containerID] = ""
	}
}

// CreateWidget clears the named container and renders a configured login
// button into it, returning the embeddable markup. ErrElementNotFound is
// reported when the container was never registered.
func (w *WidgetAdapter) CreateWidget(containerID string, opts WidgetOptions) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.containers[containerID]; !ok {
		return "", fmt.Errorf("%w: %q", authflow.ErrElementNotFound, containerID)
	}
	markup := w.widgetMarkup(opts)
	w.containers[containerID] = markup
	return markup, nil
}

func (w *WidgetAdapter) widgetMarkup(opts WidgetOptions) string {
	size := opts.Size
	if size == "" {
		size = SizeLarge
	}
	authURL := w.cfg.RedirectURL
	if authURL == "" && w.receiver != nil {
		authURL = w.receiver.URL() + "/callback"
	}
	var b strings.Builder
	b.WriteString(`<script async src="https://telegram.org/js/telegram-widget.js?22"`)
	fmt.Fprintf(&b, ` data-telegram-login=%q`, html.EscapeString(w.cfg.BotName))
	fmt.Fprintf(&b, ` data-size=%q`, size)
	fmt.Fprintf(&b, ` data-auth-url=%q`, html.EscapeString(authURL))
	if len(w.cfg.RequestAccess) > 0 {
		fmt.Fprintf(&b, ` data-request-access=%q`, strings.Join(w.cfg.RequestAccess, ","))
	}
	b.WriteString(`></script>`)
	return b.String()
}

// Authenticate waits for exactly one widget completion event and resolves
// with the validated user data. At most one waiter may be armed at a time;
// the waiter is disarmed on every settle path: success, validation
// failure, timeout, or cancellation.
func (w *WidgetAdapter) Authenticate(ctx context.Context) *AuthResult {
	w.mu.Lock()
	if w.waiter != nil {
		w.mu.Unlock()
		return &AuthResult{Err: authflow.ErrListenerActive}
	}
	ch := make(chan map[string]any, 1)
	w.waiter = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		if w.waiter == ch {
			w.waiter = nil
		}
		w.mu.Unlock()
	}()

	timeout := w.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAuthenticateTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw := <-ch:
		user, err := w.validate(raw)
		if err != nil {
			return &AuthResult{Err: err}
		}
		return &AuthResult{IsSuccess: true, UserData: user}
	case <-timer.C:
		return &AuthResult{Err: authflow.ErrWidgetTimeout}
	case <-ctx.Done():
		return &AuthResult{Err: authflow.ErrAborted}
	}
}

func (w *WidgetAdapter) validate(raw map[string]any) (*WidgetUser, error) {
	user, err := NormalizeWidgetData(raw)
	if err != nil {
		return nil, authflow.NewAuthError(authflow.ErrCodeInvalidAuthData, err.Error(), "")
	}
	if user.ID == 0 || user.FirstName == "" || user.AuthDate == 0 || user.Hash == "" {
		return nil, authflow.NewAuthError(authflow.ErrCodeInvalidAuthData,
			"payload missing required fields", "")
	}
	maxAge := w.cfg.MaxAuthAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAuthAge
	}
	if time.Since(time.Unix(user.AuthDate, 0)) > maxAge {
		return nil, authflow.NewAuthError(authflow.ErrCodeStaleAuthData,
			"auth_date outside the staleness window", "")
	}
	return user, nil
}

// Deliver pushes a raw widget payload to the armed Authenticate waiter.
// With no waiter armed the payload is dropped.
func (w *WidgetAdapter) Deliver(raw map[string]any) {
	w.mu.Lock()
	ch := w.waiter
	w.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- raw:
	default:
	}
}

// PostMessage fans a cross-window message out to OnMessage subscribers.
func (w *WidgetAdapter) PostMessage(data map[string]any) {
	w.mu.Lock()
	subs := make([]func(map[string]any), 0, len(w.msgSubs))
	for _, fn := range w.msgSubs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()
	for _, fn := range subs {
		fn(data)
	}
}

// OnMessage subscribes fn to cross-window messages. The returned function
// removes the subscription.
func (w *WidgetAdapter) OnMessage(fn func(map[string]any)) (cancel func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.msgSubs[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.msgSubs, id)
		w.mu.Unlock()
	}
}

// container returns the rendered markup for a registered container.
func (w *WidgetAdapter) container(containerID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	markup, ok := w.containers[containerID]
	return markup, ok
}

// Close shuts the loopback receiver down. The adapter can be initialized
// again afterwards.
func (w *WidgetAdapter) Close() error {
	w.mu.Lock()
	rec := w.receiver
	w.receiver = nil
	w.initialized = false
	w.mu.Unlock()
	if rec != nil {
		return rec.Close()
	}
	return nil
}
