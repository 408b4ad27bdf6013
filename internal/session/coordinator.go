// Package session owns the authenticated session: the access/refresh
// credential pair, its persisted copy, and single-flight renewal of the
// access credential when the server rejects it.
//
// The Coordinator is the only writer of the session and of the credential
// store. Everything else reads immutable Snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jobvault/jobvault/internal/api"
)

// ErrSessionExpired is the terminal signal that renewal failed. Both
// credentials have been cleared and the user must authenticate again.
var ErrSessionExpired = errors.New("session: expired")

var errNoRefreshCredential = errors.New("no refresh credential stored")

// Refresher exchanges a refresh credential for a new credential pair.
// *api.Client satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CredentialStore persists the credential pair. Load returns (nil, nil)
// when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
	Clear(ctx context.Context) error
}

// Status is the externally visible session state.
type Status int

const (
	Unauthenticated Status = iota
	Authenticated
)

func (s Status) String() string {
	if s == Authenticated {
		return "authenticated"
	}

	return "unauthenticated"
}

// Snapshot is a read-only view of the session. It never carries credential
// values.
type Snapshot struct {
	Status               Status
	TokenType            string
	Expiry               time.Time // advisory, zero if unknown
	HasRefreshCredential bool
}

// RenewalState describes the single-flight lock: Idle when Renewing is
// false, otherwise Renewing with Waiters callers blocked on the outcome.
type RenewalState struct {
	Renewing bool
	Waiters  int
}

// renewal is one in-flight renewal. token and err are written once, before
// done is closed, and read only after.
type renewal struct {
	done    chan struct{}
	token   string
	err     error
	waiters int
	started time.Time
}

// Coordinator implements api.Authenticator on top of a CredentialStore.
type Coordinator struct {
	store     CredentialStore
	refresher Refresher
	logger    *slog.Logger
	onExpired func(error)

	mu      sync.Mutex
	loaded  bool
	tok     *oauth2.Token // nil when unauthenticated
	gen     uint64        // bumped whenever the session is replaced or cleared
	renewal *renewal      // nil when idle
	expired *expiredSession
}

// expiredSession remembers the credential a failed renewal cleared, so
// requests that were rejected with it report the same expiry.
type expiredSession struct {
	access string
	err    error
}

var _ api.Authenticator = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator. The store is read lazily on first use.
func NewCoordinator(store CredentialStore, refresher Refresher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{store: store, refresher: refresher, logger: logger}
}

// OnExpired registers fn to be called once per renewal failure, after the
// session has been cleared and before any waiter sees ErrSessionExpired. fn
// runs on the renewal goroutine; waiters stay blocked until it returns.
func (c *Coordinator) OnExpired(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onExpired = fn
}

// ensureLoaded reads the store once. The mutex is not held during the read.
func (c *Coordinator) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()

	if loaded {
		return nil
	}

	tok, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("session: loading credentials: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Establish or Logout may have won the race; their state is newer.
	if !c.loaded {
		c.tok = tok
		c.loaded = true

		c.logger.Debug("session loaded from store", slog.Bool("authenticated", usable(tok)))
	}

	return nil
}

func usable(tok *oauth2.Token) bool {
	return tok != nil && tok.AccessToken != ""
}

// Authorize returns the current access credential, or api.ErrNotAuthenticated.
func (c *Coordinator) Authorize(ctx context.Context) (string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !usable(c.tok) {
		return "", api.ErrNotAuthenticated
	}

	return c.tok.AccessToken, nil
}

// Reauthorize is called after the server rejected the credential rejected.
// At most one renewal runs at a time: the first caller starts it and every
// caller, including the first, waits for its shared outcome. A caller whose
// ctx ends stops waiting without affecting the renewal.
func (c *Coordinator) Reauthorize(ctx context.Context, rejected string) (string, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()

	r := c.renewal
	if r == nil {
		if !usable(c.tok) {
			var err error = api.ErrNotAuthenticated

			// Late member of a burst whose renewal already failed.
			if c.expired != nil && c.expired.access == rejected {
				err = c.expired.err
			}

			c.mu.Unlock()

			return "", err
		}

		// A renewal finished after this request was sent.
		if c.tok.AccessToken != rejected {
			tok := c.tok.AccessToken
			c.mu.Unlock()

			c.logger.Debug("credential already renewed, replaying with current credential")

			return tok, nil
		}

		r = &renewal{done: make(chan struct{}), started: time.Now()}
		c.renewal = r

		go c.renew(context.WithoutCancel(ctx), r, c.tok.RefreshToken, rejected, c.gen)
	}

	r.waiters++
	c.mu.Unlock()

	select {
	case <-r.done:
		c.leave(r)
		return r.token, r.err
	case <-ctx.Done():
		c.leave(r)
		return "", fmt.Errorf("session: waiting for renewal: %w", ctx.Err())
	}
}

func (c *Coordinator) leave(r *renewal) {
	c.mu.Lock()
	r.waiters--
	c.mu.Unlock()
}

// renew performs the renewal and publishes its outcome to every waiter.
func (c *Coordinator) renew(ctx context.Context, r *renewal, refresh, rejected string, gen uint64) {
	c.logger.Info("renewing access credential")

	tok, err := c.obtain(ctx, refresh, rejected)
	if err != nil {
		c.fail(ctx, r, gen, err)
		return
	}

	// The server may omit a rotated refresh credential; keep the old one.
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}

	c.mu.Lock()

	if c.gen != gen {
		c.supersede(r)
		c.mu.Unlock()

		return
	}

	c.tok = tok
	c.gen++

	if err := c.store.Save(ctx, tok); err != nil {
		// The in-memory session is still valid for this process.
		c.logger.Warn("could not persist renewed credentials", slog.String("error", err.Error()))
	}

	r.token = tok.AccessToken
	c.renewal = nil
	close(r.done)
	waiters := r.waiters
	c.mu.Unlock()

	c.logger.Info("access credential renewed",
		slog.Int("waiters", waiters),
		slog.Duration("elapsed", time.Since(r.started)),
	)
}

// obtain returns a new credential pair. A pair written to the store by
// another process since the rejected credential was issued is adopted
// without calling the server.
func (c *Coordinator) obtain(ctx context.Context, refresh, rejected string) (*oauth2.Token, error) {
	stored, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("could not re-read credential store before renewal", slog.String("error", err.Error()))
	} else if usable(stored) && stored.AccessToken != rejected {
		c.logger.Info("adopting credentials renewed by another process")
		return stored, nil
	}

	if refresh == "" {
		return nil, errNoRefreshCredential
	}

	tok, err := c.refresher.Refresh(ctx, refresh)
	if err != nil {
		return nil, err
	}

	return tok, nil
}

// fail clears the session and the store and hands the terminal error to
// every waiter.
func (c *Coordinator) fail(ctx context.Context, r *renewal, gen uint64, cause error) {
	expired := fmt.Errorf("%w: %w", ErrSessionExpired, cause)

	c.mu.Lock()

	if c.gen != gen {
		c.supersede(r)
		c.mu.Unlock()

		return
	}

	if c.tok != nil {
		c.expired = &expiredSession{access: c.tok.AccessToken, err: expired}
	}

	c.tok = nil
	c.gen++

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("could not clear credential store after failed renewal", slog.String("error", err.Error()))
	}

	r.err = expired
	c.renewal = nil
	waiters := r.waiters
	onExpired := c.onExpired
	c.mu.Unlock()

	c.logger.Error("renewal failed, session expired",
		slog.String("error", cause.Error()),
		slog.Int("waiters", waiters),
	)

	// Waiters are released only after the host has seen the expiry.
	if onExpired != nil {
		onExpired(expired)
	}

	close(r.done)
}

// supersede resolves r after Establish or Logout replaced the session while
// the renewal was in flight. Waiters get the replacement credential, if any.
// The caller holds c.mu.
func (c *Coordinator) supersede(r *renewal) {
	if usable(c.tok) {
		r.token = c.tok.AccessToken
	} else {
		r.err = api.ErrNotAuthenticated
	}

	c.renewal = nil
	close(r.done)

	c.logger.Info("renewal outcome discarded, session replaced while renewing")
}

// Establish installs a freshly issued credential pair (login or code
// verification) and persists it.
func (c *Coordinator) Establish(ctx context.Context, tok *oauth2.Token) error {
	if !usable(tok) {
		return fmt.Errorf("session: refusing to establish session without access credential")
	}

	cp := *tok

	if err := c.store.Save(ctx, &cp); err != nil {
		return fmt.Errorf("session: persisting credentials: %w", err)
	}

	c.mu.Lock()
	c.tok = &cp
	c.loaded = true
	c.gen++
	c.expired = nil
	c.mu.Unlock()

	c.logger.Info("session established", slog.Bool("has_refresh", cp.RefreshToken != ""))

	return nil
}

// Logout clears the session and both stored credentials.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.tok = nil
	c.loaded = true
	c.gen++
	c.expired = nil
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("session: clearing credentials: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}

// Snapshot returns a read-only view of the session.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !usable(c.tok) {
		return Snapshot{Status: Unauthenticated}, nil
	}

	return Snapshot{
		Status:               Authenticated,
		TokenType:            c.tok.TokenType,
		Expiry:               c.tok.Expiry,
		HasRefreshCredential: c.tok.RefreshToken != "",
	}, nil
}

// Renewal reports the single-flight lock state.
func (c *Coordinator) Renewal() RenewalState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renewal == nil {
		return RenewalState{}
	}

	return RenewalState{Renewing: true, Waiters: c.renewal.waiters}
}
