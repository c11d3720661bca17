// Package authflow provides a client-side authentication SDK for Go
// applications talking to an authflow-compatible backend.
//
// The SDK covers sign-in over a backend API, token storage with automatic
// refresh, two-factor authentication (email, SMS, TOTP, and Telegram), and
// a Telegram login flow with polling-based confirmation. Cryptographic
// verification of Telegram payloads is performed by the backend; the
// client only does structural and staleness validation.
//
// # Architecture
//
// The root package holds the shared vocabulary: authentication outcomes,
// token/user types, the error taxonomy, the analytics event sink, and the
// shared authentication store that UI layers subscribe to.
//
// Subpackages:
//
//   - telegram: the Telegram sign-in flow: widget adapter, protocol
//     service, and the polling orchestrator (the flow's state machine).
//   - twofactor: two-factor method polymorphism; one Sender per method
//     type, with the Telegram variant routed through the widget adapter.
//   - client: an HTTP client with automatic token refresh plus the
//     TokenStorage capability it persists credentials through.
//   - stores: TokenStorage implementations (file, memory, GORM).
//   - deviceid: a stable device/visitor identifier.
//
// # Basic Usage
//
// Wire a store, a service, and an orchestrator:
//
//	store := authflow.NewStore()
//	svc := telegram.NewAuthService(telegram.Config{
//	    BaseURL: "https://api.yourapp.com",
//	    Logger:  authflow.NewConsoleLogger(nil),
//	})
//	orch := telegram.NewOrchestrator(svc, store, telegram.OrchestratorConfig{})
//	defer orch.Close()
//
//	res, err := orch.InitSignIn(ctx, telegram.InitOptions{BotName: "demo_bot"})
//	// open res.URL (or show res.QR / res.LinkToBot), then:
//	orch.Start()
//
// The orchestrator polls the backend until the sign-in is confirmed, a
// second factor is required, the retry budget runs out, or AbortAuth is
// called. Terminal results are published to the store.
//
// # Testing
//
// All components accept injected HTTP clients and endpoints, so flows can
// be tested against httptest servers without a real backend.
package authflow
