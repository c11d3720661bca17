package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MaxJnyk/authflow"
)

func newTestAdapter(t *testing.T, cfg WidgetConfig) *WidgetAdapter {
	t.Helper()
	w := NewWidgetAdapter(cfg)
	if err := w.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestInitializeIdempotent(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot"})
	url := w.URL()
	if url == "" {
		t.Fatal("receiver URL must be set after Initialize")
	}
	if err := w.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.URL() != url {
		t.Error("second Initialize must not restart the receiver")
	}
}

func TestInitializeListenFailure(t *testing.T) {
	w := NewWidgetAdapter(WidgetConfig{BotName: "examplebot", ListenAddr: "256.0.0.1:1"})
	err := w.Initialize(context.Background())
	if !errors.Is(err, authflow.ErrScriptLoad) {
		t.Errorf("want ErrScriptLoad, got %v", err)
	}
}

func TestCreateWidget(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot", RequestAccess: []string{"write"}})

	if _, err := w.CreateWidget("unregistered", WidgetOptions{}); !errors.Is(err, authflow.ErrElementNotFound) {
		t.Errorf("want ErrElementNotFound, got %v", err)
	}

	w.RegisterContainer("login-box")
	markup, err := w.CreateWidget("login-box", WidgetOptions{Size: SizeMedium})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"telegram-widget.js", `data-telegram-login="examplebot"`, `data-size="medium"`, `data-request-access="write"`} {
		if !strings.Contains(markup, want) {
			t.Errorf("markup missing %q: %s", want, markup)
		}
	}
}

func TestAuthenticateSettlesOnDeliver(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot"})

	done := make(chan *AuthResult, 1)
	go func() { done <- w.Authenticate(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	w.Deliver(validWidgetPayload())

	res := <-done
	if !res.IsSuccess || res.UserData == nil || res.UserData.ID != 42 {
		t.Errorf("want success for user 42, got %+v", res)
	}
}

func TestAuthenticateRejectsStalePayload(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot", MaxAuthAge: time.Hour})

	done := make(chan *AuthResult, 1)
	go func() { done <- w.Authenticate(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	payload := validWidgetPayload()
	payload["auth_date"] = float64(time.Now().Add(-2 * time.Hour).Unix())
	w.Deliver(payload)

	res := <-done
	var authErr *authflow.AuthError
	if !errors.As(res.Err, &authErr) || authErr.Code != authflow.ErrCodeStaleAuthData {
		t.Errorf("want stale_auth_data, got %v", res.Err)
	}
}

func TestAuthenticateTimeout(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot", Timeout: 20 * time.Millisecond})

	res := w.Authenticate(context.Background())
	if !errors.Is(res.Err, authflow.ErrWidgetTimeout) {
		t.Errorf("want ErrWidgetTimeout, got %v", res.Err)
	}

	// The waiter is disarmed on timeout, so a new call can be armed.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := w.Authenticate(ctx); !errors.Is(res.Err, authflow.ErrAborted) {
		t.Errorf("want ErrAborted after re-arm, got %v", res.Err)
	}
}

func TestAuthenticateSingleWaiter(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan *AuthResult, 1)
	go func() { done <- w.Authenticate(ctx) }()
	time.Sleep(10 * time.Millisecond)

	if res := w.Authenticate(context.Background()); !errors.Is(res.Err, authflow.ErrListenerActive) {
		t.Errorf("want ErrListenerActive, got %v", res.Err)
	}

	cancel()
	if res := <-done; !errors.Is(res.Err, authflow.ErrAborted) {
		t.Errorf("want ErrAborted for the armed waiter, got %v", res.Err)
	}
}

func TestCallbackReceiverServesWidget(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot"})
	w.RegisterContainer("login-box")
	if _, err := w.CreateWidget("login-box", WidgetOptions{}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(w.URL() + "/widget/login-box")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "telegram-widget.js") {
		t.Errorf("widget page not served: %d %s", resp.StatusCode, body)
	}

	if resp, err := http.Get(w.URL() + "/widget/unknown"); err != nil {
		t.Fatal(err)
	} else if resp.Body.Close(); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown container must 404, got %d", resp.StatusCode)
	}
}

func TestCallbackReceiverForwardsPayload(t *testing.T) {
	w := newTestAdapter(t, WidgetConfig{BotName: "examplebot"})

	var got map[string]any
	seen := make(chan struct{}, 1)
	cancel := w.OnMessage(func(data map[string]any) {
		got = data
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	defer cancel()

	done := make(chan *AuthResult, 1)
	go func() { done <- w.Authenticate(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(map[string]any{"telegram_auth": validWidgetPayload()})
	resp, err := http.Post(w.URL()+"/callback", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback rejected: %d", resp.StatusCode)
	}

	if res := <-done; !res.IsSuccess {
		t.Errorf("callback payload must settle the waiter: %+v", res)
	}
	<-seen
	if _, ok := got["telegram_auth"]; !ok {
		t.Errorf("subscribers must see the enveloped payload, got %v", got)
	}
}

func TestQRCodePNG(t *testing.T) {
	uri, err := QRCodePNG("https://t.me/examplebot?start=1234")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("unexpected data URI: %.40s", uri)
	}
	if _, err := QRCodePNG(""); err == nil {
		t.Error("empty link must error")
	}
}
