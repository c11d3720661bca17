package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MaxJnyk/authflow"
	"github.com/MaxJnyk/authflow/telegram"
)

func emailMethod() authflow.TwoFactorMethod {
	return authflow.TwoFactorMethod{ID: "m1", Type: "email", Destination: "a***@example.com"}
}

func TestServiceDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isSuccess":true}`))
	}))
	defer srv.Close()

	svc := NewService(nil, NewChannelSender(ChannelConfig{BaseURL: srv.URL, HTTPClient: srv.Client()}))

	t.Run("routes to supporting sender", func(t *testing.T) {
		res, err := svc.VerifyCode(context.Background(), emailMethod(), "123456")
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsSuccess {
			t.Errorf("want success, got %+v", res)
		}
	})

	t.Run("unsupported method type", func(t *testing.T) {
		method := authflow.TwoFactorMethod{ID: "m2", Type: "carrier-pigeon"}
		if err := svc.SendCode(context.Background(), method); !errors.Is(err, authflow.ErrUnsupportedMethod) {
			t.Errorf("want ErrUnsupportedMethod, got %v", err)
		}
	})
}

func TestChannelSenderEndpoints(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"isSuccess":true,"tokens":{"accessToken":"at"}}`))
	}))
	defer srv.Close()

	s := NewChannelSender(ChannelConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})

	if err := s.SendCode(context.Background(), emailMethod()); err != nil {
		t.Fatal(err)
	}
	if gotPath != DefaultTwoFactorPath+"/send" || gotBody["methodId"] != "m1" {
		t.Errorf("send: path %q body %v", gotPath, gotBody)
	}

	res, err := s.VerifyCode(context.Background(), emailMethod(), "123456")
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != DefaultTwoFactorPath+"/verify" || gotBody["code"] != "123456" {
		t.Errorf("verify: path %q body %v", gotPath, gotBody)
	}
	if !res.IsSuccess || res.Tokens == nil || res.Tokens.AccessToken != "at" {
		t.Errorf("verify result: %+v", res)
	}
}

func TestChannelSenderRejectsTelegram(t *testing.T) {
	s := NewChannelSender(ChannelConfig{BaseURL: "http://unused"})
	method := authflow.TwoFactorMethod{ID: "m1", Type: string(MethodTelegram)}
	if _, err := s.VerifyCode(context.Background(), method, "x"); !errors.Is(err, authflow.ErrUnsupportedMethod) {
		t.Errorf("want ErrUnsupportedMethod, got %v", err)
	}
}

func TestChannelSenderBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewChannelSender(ChannelConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := s.VerifyCode(context.Background(), emailMethod(), "123456")
	var authErr *authflow.AuthError
	if !errors.As(err, &authErr) || authErr.Code != authflow.ErrCodeAPIError {
		t.Errorf("want api_error, got %v", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"isSuccess":true,"user":{"id":"u1"}}`))
	}))
	defer srv.Close()

	widget := telegram.NewWidgetAdapter(telegram.WidgetConfig{BotName: "examplebot"})
	defer widget.Close()
	s := NewTelegramSender(TelegramConfig{BaseURL: srv.URL, HTTPClient: srv.Client()}, widget)

	method := authflow.TwoFactorMethod{ID: "m1", Type: string(MethodTelegram)}

	t.Run("send renders the widget once", func(t *testing.T) {
		if err := s.SendCode(context.Background(), method); err != nil {
			t.Fatal(err)
		}
		if err := s.SendCode(context.Background(), method); err != nil {
			t.Fatal(err)
		}
		if _, err := widget.CreateWidget(DefaultTelegramContainerID, telegram.WidgetOptions{}); err != nil {
			t.Errorf("container must be registered: %v", err)
		}
	})

	t.Run("rejects non-telegram methods", func(t *testing.T) {
		if err := s.SendCode(context.Background(), emailMethod()); !errors.Is(err, authflow.ErrUnsupportedMethod) {
			t.Errorf("want ErrUnsupportedMethod, got %v", err)
		}
	})

	t.Run("verify forwards widget payload", func(t *testing.T) {
		done := make(chan struct{})
		var res *VerifyResult
		var verifyErr error
		go func() {
			defer close(done)
			res, verifyErr = s.VerifyCode(context.Background(), method, "")
		}()
		time.Sleep(10 * time.Millisecond)
		widget.Deliver(map[string]any{
			"id":         float64(42),
			"first_name": "Alice",
			"auth_date":  float64(time.Now().Unix()),
			"hash":       "deadbeef",
		})
		<-done

		if verifyErr != nil {
			t.Fatal(verifyErr)
		}
		if !res.IsSuccess || res.User == nil || res.User.ID != "u1" {
			t.Errorf("verify result: %+v", res)
		}
		if gotPath != DefaultTwoFactorPath+"/verify/telegram" {
			t.Errorf("unexpected path %q", gotPath)
		}
		if gotBody["methodId"] != "m1" || gotBody["telegramData"] == nil {
			t.Errorf("payload not forwarded: %v", gotBody)
		}
	})

	t.Run("widget failure is not an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := s.VerifyCode(ctx, method, "")
		if err != nil {
			t.Fatal(err)
		}
		if res.IsSuccess {
			t.Error("aborted widget auth must not verify")
		}
	})
}
