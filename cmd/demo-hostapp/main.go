// Command demo-hostapp is a runnable demonstration host: it serves a fake
// auth backend next to a small web app that drives the Telegram sign-in
// flow through the SDK. The fake backend confirms every session after a
// few polls, so the whole flow can be exercised without Telegram.
//
// Usage:
//
//	go run ./cmd/demo-hostapp
//	open http://localhost:8080/login
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/MaxJnyk/authflow"
	"github.com/MaxJnyk/authflow/client"
	"github.com/MaxJnyk/authflow/deviceid"
	"github.com/MaxJnyk/authflow/stores"
	"github.com/MaxJnyk/authflow/telegram"
)

// fakeBackend simulates the auth backend: init creates a session and
// confirm succeeds once the session has been polled three times.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]int)}
}

func (b *fakeBackend) routes(r *mux.Router) {
	r.HandleFunc(telegram.DefaultInitPath, b.handleInit).Methods(http.MethodPost)
	r.HandleFunc(telegram.DefaultConfirmPath, b.handleConfirm).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", b.handleRefresh).Methods(http.MethodPost)
}

func (b *fakeBackend) handleInit(w http.ResponseWriter, r *http.Request) {
	id := fmt.Sprintf("sess-%d", time.Now().UnixNano())
	b.mu.Lock()
	b.sessions[id] = 0
	b.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{
		"id":        id,
		"code":      "4921",
		"linkToBot": "https://t.me/demobot?start=" + id,
	})
}

func (b *fakeBackend) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var opts telegram.ConfirmOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	polls, ok := b.sessions[opts.ID]
	if ok {
		b.sessions[opts.ID] = polls + 1
	}
	b.mu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if polls < 2 {
		w.Write([]byte(`{}`))
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"isSuccess": true,
		"tokens":    map[string]any{"accessToken": "demo-at", "refreshToken": "demo-rt", "expiresIn": 3600},
		"user":      map[string]any{"id": "demo-user", "username": "demo", "firstName": "Demo"},
	})
}

func (b *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"tokens": map[string]any{"accessToken": "demo-at-2", "expiresIn": 3600},
	})
}

// hostApp is the web surface a real application would own.
type hostApp struct {
	sessions *scs.SessionManager
	svc      *telegram.AuthService
	store    *authflow.Store
	botName  string

	mu    sync.Mutex
	flows map[string]*telegram.Orchestrator
}

func (a *hostApp) orchestrator(token string) *telegram.Orchestrator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o, ok := a.flows[token]; ok {
		return o
	}
	o := telegram.NewOrchestrator(a.svc, a.store, telegram.OrchestratorConfig{
		Immediately:  true,
		MaxRetries:   20,
		PollInterval: time.Second,
		Logger:       authflow.NewConsoleLogger(nil),
	})
	a.flows[token] = o
	return o
}

func (a *hostApp) handleLogin(w http.ResponseWriter, r *http.Request) {
	o := a.orchestrator(a.sessions.Token(r.Context()))
	res, err := o.InitSignIn(r.Context(), telegram.InitOptions{
		BotName: a.botName,
		Origin:  "http://" + r.Host,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	a.sessions.Put(r.Context(), "authSession", res.ID)

	qr := res.QR
	if qr == "" && res.LinkToBot != "" {
		if rendered, err := telegram.QRCodePNG(res.LinkToBot); err == nil {
			qr = rendered
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html><html><body>
<h1>Sign in with Telegram</h1>
<p><a href=%q>Open Telegram</a> or scan:</p>
<img src=%q alt="qr" width="200">
<p>Confirmation code: <b>%s</b></p>
<p>Poll <a href="/status">/status</a> for the result.</p>
</body></html>`, res.URL, qr, res.Code)
}

func (a *hostApp) handleStatus(w http.ResponseWriter, r *http.Request) {
	o := a.orchestrator(a.sessions.Token(r.Context()))
	snap := o.Snapshot()
	state := a.store.State()

	resp := map[string]any{
		"flowState":     snap.State.String(),
		"isPolling":     snap.IsPolling,
		"isSuccess":     snap.IsSuccess,
		"authenticated": state.Authenticated,
	}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	if state.User != nil {
		resp["user"] = state.User
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *hostApp) handleAbort(w http.ResponseWriter, r *http.Request) {
	a.orchestrator(a.sessions.Token(r.Context())).AbortAuth()
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment as-is")
	}
	addr := os.Getenv("DEMO_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	botName := os.Getenv("TELEGRAM_BOT_NAME")
	if botName == "" {
		botName = "demobot"
	}

	r := mux.NewRouter()
	backend := newFakeBackend()
	backend.routes(r)

	baseURL := "http://localhost" + addr
	svc := telegram.NewAuthService(telegram.Config{
		BaseURL: baseURL,
		Logger:  authflow.NewConsoleLogger(nil),
	})

	store := authflow.NewStore()
	storage, err := stores.NewFSTokenStorage("", "authflow-demo")
	if err != nil {
		slog.Error("opening credential storage", "error", err)
		os.Exit(1)
	}
	authClient := client.NewAuthClient(baseURL, storage)
	unsubscribe := store.Subscribe(func(s authflow.State) {
		if !s.Authenticated {
			return
		}
		if err := authClient.SaveOutcome(s.Tokens, s.User); err != nil {
			slog.Error("persisting credential", "error", err)
			return
		}
		slog.Info("credential persisted", "path", storage.Path(), "deviceId", deviceid.Get())
	})
	defer unsubscribe()

	sessions := scs.New()
	sessions.Lifetime = 30 * time.Minute

	app := &hostApp{
		sessions: sessions,
		svc:      svc,
		store:    store,
		botName:  botName,
		flows:    make(map[string]*telegram.Orchestrator),
	}
	r.HandleFunc("/login", app.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/status", app.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/abort", app.handleAbort).Methods(http.MethodPost)

	srv := &http.Server{
		Addr:              addr,
		Handler:           sessions.LoadAndSave(r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("demo host app listening", "addr", addr, "login", baseURL+"/login")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
