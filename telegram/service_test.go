package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MaxJnyk/authflow"
)

func validWidgetPayload() map[string]any {
	return map[string]any{
		"id":         float64(42),
		"first_name": "Alice",
		"auth_date":  float64(time.Now().Unix()),
		"hash":       "deadbeef",
	}
}

func newTestService(t *testing.T, handler http.HandlerFunc) *AuthService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAuthService(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestBuildAuthURL(t *testing.T) {
	t.Run("requires bot name", func(t *testing.T) {
		if _, err := BuildAuthURL(InitOptions{}); err == nil {
			t.Fatal("expected error for empty bot name")
		}
	})

	t.Run("encodes parameters", func(t *testing.T) {
		u, err := BuildAuthURL(InitOptions{
			BotName:       "examplebot",
			RedirectURL:   "https://app.example.com/cb",
			Origin:        "https://app.example.com",
			RequestAccess: []string{"write"},
			IsBinding:     true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(u, OAuthBase+"?") {
			t.Errorf("unexpected base: %s", u)
		}
		for _, want := range []string{"bot_id=examplebot", "bind=1", "embed=1", "request_access=write"} {
			if !strings.Contains(u, want) {
				t.Errorf("url missing %q: %s", want, u)
			}
		}
	})
}

func TestInitSignInMergesBackendFields(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultInitPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var opts InitOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			t.Fatal(err)
		}
		if opts.BotName != "examplebot" {
			t.Errorf("bot name not forwarded: %q", opts.BotName)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"id": "sess-1", "code": "1234", "qr": "data:image/png;base64,xx", "linkToBot": "https://t.me/examplebot",
		})
	})

	res, err := svc.InitSignIn(context.Background(), InitOptions{BotName: "examplebot"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.URL, "bot_id=examplebot") {
		t.Errorf("redirect URL not built: %s", res.URL)
	}
	if res.ID != "sess-1" || res.Code != "1234" || res.LinkToBot != "https://t.me/examplebot" {
		t.Errorf("backend fields not merged: %+v", res)
	}
}

func TestInitSignInDegradedBackend(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	res, err := svc.InitSignIn(context.Background(), InitOptions{BotName: "examplebot"})
	if err != nil {
		t.Fatalf("backend failure must not be fatal, got %v", err)
	}
	if res.URL == "" {
		t.Error("redirect URL must survive a backend failure")
	}
	if res.ID != "" || res.Code != "" {
		t.Errorf("degraded result must not carry session fields: %+v", res)
	}
}

func TestValidateTelegramData(t *testing.T) {
	svc := NewAuthService(Config{BaseURL: "http://unused"})

	tests := []struct {
		name  string
		mutil func(map[string]any)
		want  bool
	}{
		{"valid", func(map[string]any) {}, true},
		{"missing hash", func(m map[string]any) { delete(m, "hash") }, false},
		{"missing id", func(m map[string]any) { delete(m, "id") }, false},
		{"missing first name", func(m map[string]any) { delete(m, "first_name") }, false},
		{"stale auth date", func(m map[string]any) {
			m["auth_date"] = float64(time.Now().Add(-48 * time.Hour).Unix())
		}, false},
		{"camel case accepted", func(m map[string]any) {
			m["authDate"] = m["auth_date"]
			delete(m, "auth_date")
			m["firstName"] = m["first_name"]
			delete(m, "first_name")
		}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload := validWidgetPayload()
			tc.mutil(payload)
			if got := svc.ValidateTelegramData(payload); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConfirmAuthEmptySessionID(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for empty session id")
	})

	out := svc.ConfirmAuth(context.Background(), ConfirmOptions{})
	if !errors.Is(out.Err, authflow.ErrMissingSessionID) {
		t.Errorf("want ErrMissingSessionID, got %v", out.Err)
	}
}

func TestConfirmAuthOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		check    func(t *testing.T, out *authflow.Outcome)
	}{
		{
			name:     "pending",
			response: `{}`,
			check: func(t *testing.T, out *authflow.Outcome) {
				if !out.Pending() {
					t.Errorf("want pending outcome, got %+v", out)
				}
			},
		},
		{
			name:     "success",
			response: `{"isSuccess":true,"tokens":{"accessToken":"at","refreshToken":"rt"},"user":{"id":"u1"}}`,
			check: func(t *testing.T, out *authflow.Outcome) {
				if !out.IsSuccess || out.Tokens == nil || out.Tokens.AccessToken != "at" {
					t.Errorf("want success with tokens, got %+v", out)
				}
			},
		},
		{
			name:     "two factor required",
			response: `{"requiresTwoFactor":true,"twoFactorMethods":[{"id":"m1","type":"email"}]}`,
			check: func(t *testing.T, out *authflow.Outcome) {
				if out.IsSuccess || out.Err != nil {
					t.Errorf("two-factor outcome must not be success or failure: %+v", out)
				}
				if !out.RequiresTwoFactor || len(out.TwoFactorMethods) != 1 {
					t.Errorf("methods not surfaced: %+v", out)
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != DefaultConfirmPath {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tc.response))
			})
			tc.check(t, svc.ConfirmAuth(context.Background(), ConfirmOptions{ID: "sess-1"}))
		})
	}
}

func TestConfirmAuthCancelled(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := svc.ConfirmAuth(ctx, ConfirmOptions{ID: "sess-1"})
	if !errors.Is(out.Err, authflow.ErrAborted) {
		t.Errorf("cancellation must surface as ErrAborted, got %v", out.Err)
	}
}

func TestHandleAuthResult(t *testing.T) {
	t.Run("rejects invalid payload without network", func(t *testing.T) {
		svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no network call expected for invalid payload")
		})
		out := svc.HandleAuthResult(context.Background(), map[string]any{"id": "nope"})
		var authErr *authflow.AuthError
		if !errors.As(out.Err, &authErr) || authErr.Code != authflow.ErrCodeInvalidAuthData {
			t.Errorf("want invalid_auth_data, got %v", out.Err)
		}
	})

	t.Run("posts normalized payload", func(t *testing.T) {
		svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != DefaultAuthPath {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			var user WidgetUser
			if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
				t.Fatal(err)
			}
			if user.ID != 42 || user.FirstName != "Alice" {
				t.Errorf("payload not normalized: %+v", user)
			}
			w.Write([]byte(`{"isSuccess":true,"tokens":{"accessToken":"at"},"user":{"id":"u1"}}`))
		})
		out := svc.HandleAuthResult(context.Background(), validWidgetPayload())
		if !out.IsSuccess || out.User == nil || out.User.ID != "u1" {
			t.Errorf("want success, got %+v", out)
		}
	})

	t.Run("api error becomes failed outcome", func(t *testing.T) {
		svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		})
		out := svc.HandleAuthResult(context.Background(), validWidgetPayload())
		var authErr *authflow.AuthError
		if !errors.As(out.Err, &authErr) || authErr.Code != authflow.ErrCodeAPIError {
			t.Errorf("want api_error, got %v", out.Err)
		}
	})
}

func TestNormalizeWidgetData(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		want    *WidgetUser
		wantErr bool
	}{
		{
			name: "numeric encodings",
			raw: map[string]any{
				"id": "42", "auth_date": json.Number("1700000000"),
				"first_name": "Alice", "hash": "h",
			},
			want: &WidgetUser{ID: 42, AuthDate: 1700000000, FirstName: "Alice", Hash: "h"},
		},
		{
			name:    "missing id",
			raw:     map[string]any{"auth_date": float64(1)},
			wantErr: true,
		},
		{
			name:    "nil payload",
			raw:     nil,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeWidgetData(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if *got != *tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
