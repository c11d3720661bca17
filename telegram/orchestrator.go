package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MaxJnyk/authflow"
)

// FlowState is the orchestrator's position in the sign-in flow.
type FlowState int

const (
	StateIdle FlowState = iota
	StateInitializing
	StateAwaitingConfirm
	StatePolling
	StateTwoFactorPending
	StateSucceeded
	StateFailed
	StateAborted
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateAwaitingConfirm:
		return "AwaitingConfirm"
	case StatePolling:
		return "Polling"
	case StateTwoFactorPending:
		return "TwoFactorPending"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

func (s FlowState) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

// RetryForever makes the polling loop run until aborted.
const RetryForever = -1

// Polling defaults.
const (
	DefaultMaxRetries   = 10
	DefaultPollInterval = 3 * time.Second
)

// OrchestratorConfig configures the polling behavior of an Orchestrator.
type OrchestratorConfig struct {
	// Immediately starts polling as soon as InitSignIn yields a session id.
	Immediately bool

	// IsBinding marks the flow as account linking rather than sign-in.
	IsBinding bool

	// MaxRetries bounds the number of confirm calls a polling run issues.
	// Zero means DefaultMaxRetries; RetryForever polls until aborted.
	// The bound is exact: a run with MaxRetries = N issues at most N calls.
	MaxRetries int

	// PollInterval is the fixed delay between confirm calls. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives flow events. Nil means no events.
	Logger authflow.Logger
}

func (c *OrchestratorConfig) maxRetries() int {
	if c.MaxRetries == RetryForever {
		return RetryForever
	}
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c *OrchestratorConfig) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c *OrchestratorConfig) logger() authflow.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return authflow.NopLogger{}
}

// TwoFactorHandoff is handed to the UI when a pending sign-in turns out to
// require a second factor. ConfirmMethod performs one confirm call scoped
// to the chosen method; a successful call finalizes authentication and
// consumes the hand-off.
type TwoFactorHandoff struct {
	Methods []authflow.TwoFactorMethod

	mu       sync.Mutex
	consumed bool
	inflight bool
	confirm  func(ctx context.Context, methodType string) (string, error)
}

// ConfirmMethod completes the sign-in with the chosen method type and
// returns the authenticated user id. The hand-off is consumed by the
// first successful call; a failed call may be retried by the user. At
// most one confirm call is in flight at a time: the hand-off is reserved
// before the request is issued, so concurrent callers cannot both
// dispatch.
func (h *TwoFactorHandoff) ConfirmMethod(ctx context.Context, methodType string) (string, error) {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		return "", fmt.Errorf("two-factor hand-off already consumed")
	}
	if h.inflight {
		h.mu.Unlock()
		return "", fmt.Errorf("two-factor confirmation already in progress")
	}
	h.inflight = true
	h.mu.Unlock()

	userID, err := h.confirm(ctx, methodType)

	h.mu.Lock()
	h.inflight = false
	if err == nil {
		h.consumed = true
	}
	h.mu.Unlock()

	if err != nil {
		return "", err
	}
	return userID, nil
}

// Snapshot is the read-only view of the orchestrator the UI renders from.
type Snapshot struct {
	State          FlowState
	AuthURL        string
	SessionID      string
	Code           string
	QR             string
	LinkToBot      string
	IsLoading      bool
	IsConfirmation bool
	IsPolling      bool
	IsSuccess      bool
	Err            error
	TwoFactor      *TwoFactorHandoff
}

// Orchestrator owns one Telegram sign-in flow end to end: initialization,
// the bounded polling loop against the confirm endpoint, cancellation, the
// two-factor hand-off, and publication of terminal results to the shared
// store. One orchestrator serves one UI mount; create a new one per flow
// surface and Close it on teardown.
//
// The orchestrator holds exactly one live cancellation handle at a time.
// Every new polling run or manual confirm replaces the handle, cancelling
// whatever was in flight, so a stale response can never be applied after a
// newer request was issued or after an abort.
type Orchestrator struct {
	svc    *AuthService
	store  *authflow.Store
	cfg    OrchestratorConfig
	logger authflow.Logger

	mu             sync.Mutex
	state          FlowState
	result         *SignInResult
	retriesLeft    int
	active         bool
	isConfirmation bool
	err            error
	twoFactor      *TwoFactorHandoff
	succeeded      bool
	closed         bool

	cancel     context.CancelFunc
	generation int
	pollDone   chan struct{}

	msgCancel func()
}

// OrchestratorOption customizes orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithWidget attaches a widget adapter; the orchestrator subscribes one
// message listener for its lifetime and forwards telegram_auth payloads
// into HandleAuthResult.
func WithWidget(w *WidgetAdapter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.msgCancel = w.OnMessage(o.handleMessage)
	}
}

// NewOrchestrator creates an orchestrator writing terminal results into
// store. Close must be called on teardown.
func NewOrchestrator(svc *AuthService, store *authflow.Store, cfg OrchestratorConfig, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		svc:    svc,
		store:  store,
		cfg:    cfg,
		logger: cfg.logger(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitSignIn initializes a sign-in session and stores the redirect URL and
// out-of-band confirmation aids. Initialization errors are fatal: the flow
// transitions to Failed and the error is returned, since opening the
// redirect depends on the result.
func (o *Orchestrator) InitSignIn(ctx context.Context, opts InitOptions) (*SignInResult, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator is closed")
	}
	o.state = StateInitializing
	o.err = nil
	o.mu.Unlock()

	opts.IsBinding = opts.IsBinding || o.cfg.IsBinding
	res, err := o.svc.InitSignIn(ctx, opts)

	o.mu.Lock()
	if err != nil {
		o.state = StateFailed
		o.err = err
		o.mu.Unlock()
		o.store.SetError(err)
		return nil, err
	}
	o.result = res
	o.state = StateAwaitingConfirm
	start := o.cfg.Immediately && res.ID != ""
	o.mu.Unlock()

	o.event("sign_in_initialized", map[string]any{"hasSession": res.ID != ""})
	if start {
		o.Start()
	}
	return res, nil
}

// Start arms the polling loop. It is a no-op while a loop is already
// active or before a session id exists, so two concurrent timers can never
// run for the same orchestrator.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startLocked()
}

func (o *Orchestrator) startLocked() {
	if o.active || o.closed || o.result == nil || o.result.ID == "" {
		return
	}
	o.active = true
	o.state = StatePolling
	o.err = nil
	o.retriesLeft = o.cfg.maxRetries()
	ctx := o.replaceHandleLocked(context.Background())
	o.generation++
	gen := o.generation
	done := make(chan struct{})
	o.pollDone = done
	go o.pollLoop(ctx, gen, done)
}

// replaceHandleLocked cancels the current cancellation handle and installs
// a fresh one derived from parent. Callers must hold o.mu.
func (o *Orchestrator) replaceHandleLocked(parent context.Context) context.Context {
	if o.cancel != nil {
		o.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel
	return ctx
}

func (o *Orchestrator) pollLoop(ctx context.Context, gen int, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.finishAborted(gen)
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if gen != o.generation || o.closed {
			o.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			o.mu.Unlock()
			o.finishAborted(gen)
			return
		}
		if o.cfg.maxRetries() != RetryForever && o.retriesLeft <= 0 {
			o.mu.Unlock()
			o.finishFailed(gen, authflow.ErrRetriesExhausted)
			return
		}
		confirmOpts := ConfirmOptions{ID: o.result.ID, IsBinding: o.cfg.IsBinding}
		o.mu.Unlock()

		out := o.svc.ConfirmAuth(ctx, confirmOpts)
		if o.applyPollOutcome(ctx, gen, out) {
			return
		}
	}
}

// applyPollOutcome folds one confirm response into the state machine and
// reports whether the loop is done.
func (o *Orchestrator) applyPollOutcome(ctx context.Context, gen int, out *authflow.Outcome) bool {
	o.mu.Lock()
	if gen != o.generation || o.closed {
		// A newer request or an abort superseded this response; drop it.
		o.mu.Unlock()
		return true
	}
	if ctx.Err() != nil || errors.Is(out.Err, authflow.ErrAborted) {
		o.mu.Unlock()
		o.finishAborted(gen)
		return true
	}
	if out.RequiresTwoFactor && len(out.TwoFactorMethods) > 0 {
		o.active = false
		o.state = StateTwoFactorPending
		o.twoFactor = o.newHandoffLocked(out.TwoFactorMethods)
		o.mu.Unlock()
		o.event("two_factor_required", map[string]any{"methods": len(out.TwoFactorMethods)})
		return true
	}
	if out.IsSuccess {
		o.mu.Unlock()
		o.finalize(out)
		return true
	}
	// Pending or a failed tick: both consume one unit of retry budget.
	if o.cfg.maxRetries() != RetryForever {
		o.retriesLeft--
		if o.retriesLeft <= 0 {
			o.mu.Unlock()
			o.finishFailed(gen, authflow.ErrRetriesExhausted)
			return true
		}
	}
	o.mu.Unlock()
	return false
}

func (o *Orchestrator) finishAborted(gen int) {
	o.mu.Lock()
	if gen != o.generation || o.closed {
		o.mu.Unlock()
		return
	}
	o.active = false
	o.isConfirmation = false
	if !o.state.terminal() {
		o.state = StateAborted
	}
	o.mu.Unlock()
	o.event("polling_aborted", nil)
}

func (o *Orchestrator) finishFailed(gen int, err error) {
	o.mu.Lock()
	if gen != o.generation || o.closed || o.state.terminal() {
		o.mu.Unlock()
		return
	}
	o.active = false
	o.isConfirmation = false
	o.state = StateFailed
	o.err = err
	o.mu.Unlock()
	o.store.SetError(err)
	o.event("auth_failed", map[string]any{"error": err.Error()})
}

// invalidatePollLocked supersedes any active polling run: in-flight
// responses are dropped and the live cancellation handle is cancelled.
// Callers must hold o.mu.
func (o *Orchestrator) invalidatePollLocked() {
	o.generation++
	o.active = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// finalize publishes a successful outcome and closes the session: any
// active polling run is invalidated, so no confirm call follows the
// terminal emission. The store write happens at most once per session
// even if multiple paths race to report success.
func (o *Orchestrator) finalize(out *authflow.Outcome) {
	o.mu.Lock()
	write := !o.succeeded
	o.succeeded = true
	o.invalidatePollLocked()
	o.isConfirmation = false
	o.state = StateSucceeded
	o.err = nil
	o.mu.Unlock()

	if write {
		o.store.SetAuthenticated(out.Tokens, out.User)
		o.event("auth_succeeded", nil)
	}
}

// newHandoffLocked builds the two-factor hand-off closure over the current
// session id. Callers must hold o.mu.
func (o *Orchestrator) newHandoffLocked(methods []authflow.TwoFactorMethod) *TwoFactorHandoff {
	sessionID := o.result.ID
	isBinding := o.cfg.IsBinding
	h := &TwoFactorHandoff{Methods: methods}
	h.confirm = func(ctx context.Context, methodType string) (string, error) {
		out := o.svc.ConfirmAuth(ctx, ConfirmOptions{
			ID:            sessionID,
			IsBinding:     isBinding,
			TwoFactorType: methodType,
		})
		if out.Err != nil {
			return "", out.Err
		}
		if !out.IsSuccess {
			return "", fmt.Errorf("two-factor confirmation rejected")
		}
		o.finalize(out)
		if out.User != nil {
			return out.User.ID, nil
		}
		return "", nil
	}
	return h
}

// ConfirmAuth performs one manual confirm call with the semantics of a
// single polling tick. It always installs a fresh cancellation handle,
// invalidating any in-flight poll request.
func (o *Orchestrator) ConfirmAuth(ctx context.Context, twoFactorType string) *authflow.Outcome {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return authflow.Failure(fmt.Errorf("orchestrator is closed"))
	}
	if o.result == nil || o.result.ID == "" {
		o.mu.Unlock()
		return authflow.Failure(authflow.ErrMissingSessionID)
	}
	o.isConfirmation = true
	o.active = false
	o.generation++
	gen := o.generation
	cctx := o.replaceHandleLocked(ctx)
	confirmOpts := ConfirmOptions{
		ID:            o.result.ID,
		IsBinding:     o.cfg.IsBinding,
		TwoFactorType: twoFactorType,
	}
	o.mu.Unlock()

	out := o.svc.ConfirmAuth(cctx, confirmOpts)

	o.mu.Lock()
	if gen != o.generation || o.closed {
		o.mu.Unlock()
		return out
	}
	o.isConfirmation = false
	switch {
	case errors.Is(out.Err, authflow.ErrAborted):
		o.mu.Unlock()
		o.finishAborted(gen)
	case out.RequiresTwoFactor && len(out.TwoFactorMethods) > 0:
		o.state = StateTwoFactorPending
		o.twoFactor = o.newHandoffLocked(out.TwoFactorMethods)
		o.mu.Unlock()
		o.event("two_factor_required", map[string]any{"methods": len(out.TwoFactorMethods)})
	case out.IsSuccess:
		o.mu.Unlock()
		o.finalize(out)
	default:
		o.mu.Unlock()
	}
	return out
}

// HandleAuthResult accepts a raw widget payload delivered outside the
// polling loop (popup redirect, cross-window message) and runs it through
// the service. Two-factor requirements and successes are folded into the
// state machine exactly like poll responses.
func (o *Orchestrator) HandleAuthResult(ctx context.Context, raw map[string]any) *authflow.Outcome {
	out := o.svc.HandleAuthResult(ctx, raw)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return out
	}
	switch {
	case out.RequiresTwoFactor && len(out.TwoFactorMethods) > 0 && o.result != nil:
		o.invalidatePollLocked()
		o.state = StateTwoFactorPending
		o.twoFactor = o.newHandoffLocked(out.TwoFactorMethods)
		o.mu.Unlock()
		o.event("two_factor_required", map[string]any{"methods": len(out.TwoFactorMethods)})
	case out.IsSuccess:
		o.mu.Unlock()
		o.finalize(out)
	default:
		o.mu.Unlock()
	}
	return out
}

// handleMessage is the single cross-window message listener. Only payloads
// shaped {telegram_auth: ...} are forwarded.
func (o *Orchestrator) handleMessage(data map[string]any) {
	raw, ok := data["telegram_auth"].(map[string]any)
	if !ok {
		return
	}
	o.HandleAuthResult(context.Background(), raw)
}

// AbortAuth cancels the current cancellation handle, installs a fresh one
// so a subsequent Start or ConfirmAuth is not pre-cancelled, and clears
// the polling and confirmation flags. It is idempotent and is never
// reported as an error.
func (o *Orchestrator) AbortAuth() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.cancel != nil {
		o.cancel()
	}
	_ = o.replaceHandleLocked(context.Background())
	o.generation++
	o.active = false
	o.isConfirmation = false
	if !o.state.terminal() && o.state != StateIdle {
		o.state = StateAborted
	}
	o.mu.Unlock()
	o.event("auth_aborted", nil)
}

// Close tears the orchestrator down: cancels any in-flight work, removes
// the message listener, and waits for the polling goroutine to exit. No
// timers survive Close.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.generation++
	o.active = false
	msgCancel := o.msgCancel
	o.msgCancel = nil
	done := o.pollDone
	o.mu.Unlock()

	if msgCancel != nil {
		msgCancel()
	}
	if done != nil {
		<-done
	}
}

// Snapshot returns the read-only state the UI renders from.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{
		State:          o.state,
		IsLoading:      o.state == StateInitializing,
		IsConfirmation: o.isConfirmation,
		IsPolling:      o.active,
		IsSuccess:      o.state == StateSucceeded,
		Err:            o.err,
		TwoFactor:      o.twoFactor,
	}
	if o.result != nil {
		s.AuthURL = o.result.URL
		s.SessionID = o.result.ID
		s.Code = o.result.Code
		s.QR = o.result.QR
		s.LinkToBot = o.result.LinkToBot
	}
	return s
}

func (o *Orchestrator) event(name string, params map[string]any) {
	o.logger.Log(authflow.StampEvent(authflow.Event{
		Name:          name,
		Category:      "telegram_auth",
		Params:        params,
		CorrelationID: o.svc.CorrelationID(),
	}))
}
