// ABOUTME: Session orchestrator: the single point through which callers drive the SDK
// ABOUTME: Tracks auth state, coalesces logins, retries once on unauthenticated failures

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/w3hc/genji-passkey/internal/recovery"
	"github.com/w3hc/genji-passkey/internal/sdk"
	"github.com/w3hc/genji-passkey/internal/store"
)

// Orchestrator mediates between callers and the passkey SDK. Its state
// is a pure projection of the SDK's auth-state callback; the only direct
// mutation is clearing to logged-out on logout.
type Orchestrator struct {
	client   sdk.Client
	probe    SessionProbe
	states   StateStore
	notifier Notifier
	recovery *recovery.Manager
	logger   *slog.Logger

	registerTimeout time.Duration
	probeTimeout    time.Duration
	listener        Listener

	// loginFlight coalesces concurrent session establishment so rapid
	// callers share one ceremony instead of stacking prompts.
	loginFlight singleflight.Group

	mu  sync.RWMutex
	cur State
	// suppressLateAuth ignores authenticated transitions that land after
	// a registration was reported as timed out.
	suppressLateAuth bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegisterTimeout overrides the 45s registration deadline.
func WithRegisterTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.registerTimeout = d }
}

// WithProbeTimeout overrides the persistent-store probe deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.probeTimeout = d }
}

// WithListener registers a state-change observer.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) { o.listener = l }
}

// New creates an orchestrator over the given SDK client and stores, and
// registers itself as the client's auth-state handler.
func New(client sdk.Client, probe SessionProbe, states StateStore, notifier Notifier, opts ...Option) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	o := &Orchestrator{
		client:          client,
		probe:           probe,
		states:          states,
		notifier:        notifier,
		logger:          slog.Default().With("component", "session"),
		registerTimeout: DefaultRegisterTimeout,
		probeTimeout:    DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	client.OnAuthStateChanged(o.handleAuthState)
	return o
}

// State returns a copy of the current session state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cur
}

// User returns the authenticated user, or nil.
func (o *Orchestrator) User() *sdk.User {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cur.User
}

// handleAuthState is the SDK's auth-state callback. Exposed state is a
// projection of its most recent invocation.
func (o *Orchestrator) handleAuthState(authenticated bool, user *sdk.User) {
	o.mu.Lock()
	if authenticated && o.suppressLateAuth {
		o.mu.Unlock()
		o.logger.Debug("ignoring auth-state update after abandoned registration")
		return
	}
	if user == nil {
		// Authenticated implies a user; without one the state is logged out.
		authenticated = false
	}
	o.cur.Authenticated = authenticated
	if authenticated {
		o.cur.User = user
	} else {
		o.cur.User = nil
	}
	st := o.cur
	o.mu.Unlock()

	o.persistMirror(st)
	if o.listener != nil {
		o.listener(st)
	}
}

// Restore performs mount-time session recovery. Priority: an active
// in-memory SDK session is adopted without consulting the persistent
// store; otherwise the store is probed under a bounded timeout and a hit
// triggers a silent login. Failures leave the state logged out without
// any user-visible error.
func (o *Orchestrator) Restore(ctx context.Context) State {
	// An explicit recovery request outranks the abandoned-registration
	// guard: suppression only drops asynchronous late callbacks.
	o.clearSuppression()
	o.setLoading(true)
	defer o.setLoading(false)

	if active, err := o.client.HasActiveSession(ctx); err == nil && active {
		if user, uerr := o.client.CurrentUser(ctx); uerr == nil && user != nil {
			o.handleAuthState(true, user)
			return o.State()
		}
	}

	pctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	n, err := o.probe.CountSessions(pctx)
	cancel()
	if err != nil {
		o.logger.Debug("persistent session probe failed", "error", err)
		o.handleAuthState(false, nil)
		return o.State()
	}
	if n == 0 {
		o.handleAuthState(false, nil)
		return o.State()
	}

	// A persistent session exists; expect the SDK to restore it without
	// prompting. A failed silent restore is a logged-out state, not an
	// error the user needs to see.
	if err := o.client.Login(ctx, sdk.LoginOptions{RequireReauth: false}); err != nil {
		o.logger.Debug("silent session restore failed", "error", err)
		o.handleAuthState(false, nil)
	}
	return o.State()
}

// Login runs an interactive login ceremony. User cancellation and
// "no credential on this device" are expected outcomes and stay silent.
func (o *Orchestrator) Login(ctx context.Context) error {
	o.clearSuppression()
	if err := o.client.Login(ctx, sdk.LoginOptions{}); err != nil {
		switch sdk.Classify(err) {
		case sdk.KindCancelled, sdk.KindUnavailable:
			o.logger.Debug("login not completed", "kind", sdk.Classify(err).String())
		default:
			o.notifier.Error("Login failed", displayMessage(err))
		}
		return err
	}
	o.notifier.Success("Signed in", "Welcome back")
	return nil
}

// Register creates a new account under username. The call is abandoned
// after the register timeout even if the underlying ceremony is still
// pending; a completion that lands after the timeout is ignored.
func (o *Orchestrator) Register(ctx context.Context, username string) error {
	if err := ValidateUsername(username); err != nil {
		o.notifyFailure("register", err)
		return err
	}
	o.clearSuppression()

	rctx, cancel := context.WithTimeout(ctx, o.registerTimeout)
	defer cancel()

	err := o.client.Register(rctx, sdk.RegisterOptions{Username: username})
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) && !sdk.IsKind(err, sdk.KindCancelled) {
			o.markSuppression()
			err = sdk.Errorf(sdk.KindTimeout, "register",
				"registration timed out after %s", o.registerTimeout)
		}
		o.notifyFailure("register", err)
		return err
	}

	o.notifier.Success("Account created", "Your passkey is registered on this device")
	return nil
}

// Logout clears the session. Idempotent and best-effort: neither the SDK
// logout nor clearing the persistent store may surface a failure.
func (o *Orchestrator) Logout(ctx context.Context) {
	if err := o.client.Logout(ctx); err != nil {
		o.logger.Warn("sdk logout failed", "error", err)
	}
	if err := o.probe.ClearSessions(ctx); err != nil {
		o.logger.Warn("clearing persistent sessions failed", "error", err)
	}
	if err := o.states.DeleteState(ctx, store.StateKeyAuthMirror); err != nil {
		o.logger.Warn("clearing auth mirror failed", "error", err)
	}
	o.handleAuthState(false, nil)
}

// ensureAuthenticated establishes a session if none is active. Concurrent
// callers share a single login ceremony through the flight group.
func (o *Orchestrator) ensureAuthenticated(ctx context.Context) error {
	if active, err := o.client.HasActiveSession(ctx); err == nil && active {
		return nil
	}
	_, err, _ := o.loginFlight.Do("session", func() (any, error) {
		if active, err := o.client.HasActiveSession(ctx); err == nil && active {
			return nil, nil
		}
		return nil, o.client.Login(ctx, sdk.LoginOptions{})
	})
	return err
}

// call runs one operation under the uniform authenticated-call pattern:
// precondition, ensure session, invoke, retry exactly once after a forced
// login when the failure is unauthenticated, extend the session on
// success.
func call[T any](o *Orchestrator, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if o.User() == nil {
		err := sdk.Errorf(sdk.KindUnauthenticated, op, "not authenticated")
		o.notifyFailure(op, err)
		return zero, err
	}

	if err := o.ensureAuthenticated(ctx); err != nil {
		o.notifyFailure(op, err)
		return zero, err
	}

	result, err := fn(ctx)
	if err == nil {
		o.extendSessionAsync()
		return result, nil
	}

	if sdk.IsKind(err, sdk.KindUnauthenticated) {
		if lerr := o.forceLogin(ctx); lerr != nil {
			o.notifyFailure(op, lerr)
			return zero, lerr
		}
		if result, err = fn(ctx); err == nil {
			o.extendSessionAsync()
			return result, nil
		}
	}

	o.notifyFailure(op, err)
	return zero, err
}

// forceLogin always runs a login, shared with any concurrent caller.
func (o *Orchestrator) forceLogin(ctx context.Context) error {
	_, err, _ := o.loginFlight.Do("session", func() (any, error) {
		return nil, o.client.Login(ctx, sdk.LoginOptions{RequireReauth: true})
	})
	return err
}

// extendSessionAsync slides the session window after a successful
// operation. Fire-and-forget: the result does not wait for it.
func (o *Orchestrator) extendSessionAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.client.ExtendSession(ctx); err != nil {
			o.logger.Debug("extending session failed", "error", err)
		}
	}()
}

// notifyFailure applies the notification policy: cancellations are
// silent, everything else surfaces with a human-readable message.
func (o *Orchestrator) notifyFailure(op string, err error) {
	switch sdk.Classify(err) {
	case sdk.KindCancelled:
		o.logger.Debug("operation cancelled by user", "op", op)
	case sdk.KindUnsupported:
		o.notifier.Error("Not supported", displayMessage(err))
	case sdk.KindUnauthenticated:
		o.notifier.Error("Login required", "Please sign in and try again")
	case sdk.KindInvalidInput:
		o.notifier.Error("Invalid input", displayMessage(err))
	case sdk.KindTimeout:
		o.notifier.Error("Timed out", displayMessage(err))
	default:
		o.notifier.Error("Something went wrong", displayMessage(err))
	}
}

// displayMessage strips the op/kind prefix from SDK errors so users see
// the underlying message.
func displayMessage(err error) string {
	var se *sdk.Error
	if errors.As(err, &se) && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}

func (o *Orchestrator) setLoading(loading bool) {
	o.mu.Lock()
	o.cur.Loading = loading
	st := o.cur
	o.mu.Unlock()
	if o.listener != nil {
		o.listener(st)
	}
}

func (o *Orchestrator) clearSuppression() {
	o.mu.Lock()
	o.suppressLateAuth = false
	o.mu.Unlock()
}

func (o *Orchestrator) markSuppression() {
	o.mu.Lock()
	o.suppressLateAuth = true
	o.mu.Unlock()
}
