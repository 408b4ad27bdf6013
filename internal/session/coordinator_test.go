package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/jobvault/jobvault/internal/api"
	"github.com/jobvault/jobvault/internal/credstore"
)

// fakeServer is a minimal job platform API: /resume/list accepts only the
// currently valid access credential; /auth/refresh blocks until released and
// then either rotates the pair or rejects the refresh credential.
type fakeServer struct {
	t *testing.T

	mu          sync.Mutex
	valid       string
	nextAccess  string
	nextRefresh string
	rejectRenew bool
	keepValid   bool

	release      chan struct{}
	refreshCalls atomic.Int32
	listCalls    atomic.Int32
	refreshSeen  []string
}

func newFakeServer(t *testing.T, valid string) (*fakeServer, *httptest.Server) {
	t.Helper()

	fs := &fakeServer{t: t, valid: valid, release: make(chan struct{})}
	close(fs.release) // unblocked unless a test installs a gate

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", fs.handleRefresh)
	mux.HandleFunc("/resume/list", fs.handleList)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return fs, srv
}

func (fs *fakeServer) gate() chan struct{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.release = make(chan struct{})

	return fs.release
}

func (fs *fakeServer) seen() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return append([]string(nil), fs.refreshSeen...)
}

func (fs *fakeServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fs.refreshCalls.Add(1)

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}

	assert.NoError(fs.t, json.NewDecoder(r.Body).Decode(&body))

	fs.mu.Lock()
	release := fs.release
	fs.refreshSeen = append(fs.refreshSeen, body.RefreshToken)
	fs.mu.Unlock()

	<-release

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.rejectRenew {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid refresh token"}`))

		return
	}

	if !fs.keepValid {
		fs.valid = fs.nextAccess
	}

	resp := map[string]string{"access_token": fs.nextAccess, "token_type": "bearer"}
	if fs.nextRefresh != "" {
		resp["refresh_token"] = fs.nextRefresh
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func (fs *fakeServer) handleList(w http.ResponseWriter, r *http.Request) {
	fs.listCalls.Add(1)

	fs.mu.Lock()
	valid := fs.valid
	fs.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+valid {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))

		return
	}

	_, _ = w.Write([]byte(`{"resumes":[],"total":0}`))
}

// harness wires store, coordinator and API client the way the CLI does.
type harness struct {
	store  *credstore.MemoryStore
	coord  *Coordinator
	client *api.Client
}

func newHarness(t *testing.T, url string, initial *oauth2.Token) *harness {
	t.Helper()

	store := credstore.NewMemoryStore(initial)
	base := api.NewClient(url, http.DefaultClient, nil, nil, "test")
	coord := NewCoordinator(store, base, nil)

	return &harness{store: store, coord: coord, client: base.WithAuthenticator(coord)}
}

func (h *harness) list(ctx context.Context) error {
	_, err := h.client.ListResumes(ctx)
	return err
}

func TestBurst_SingleRenewalAllReplay(t *testing.T) {
	const n = 16

	fs, srv := newFakeServer(t, "current")
	fs.nextAccess = "fresh"
	fs.nextRefresh = "refresh-2"

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1"})
	release := fs.gate()

	g, ctx := errgroup.WithContext(context.Background())
	for range n {
		g.Go(func() error { return h.list(ctx) })
	}

	// Hold the renewal until every request has joined it.
	require.Eventually(t, func() bool {
		return h.coord.Renewal().Waiters == n
	}, 5*time.Second, 5*time.Millisecond)

	assert.True(t, h.coord.Renewal().Renewing)
	close(release)

	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), fs.refreshCalls.Load(), "exactly one renewal for the burst")
	assert.Equal(t, int32(2*n), fs.listCalls.Load(), "every request sent once and replayed once")
	assert.Equal(t, []string{"refresh-1"}, fs.seen())
	assert.Equal(t, RenewalState{}, h.coord.Renewal(), "lock released")

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestBurst_RenewalFailureFailsAllTogether(t *testing.T) {
	const n = 8

	fs, srv := newFakeServer(t, "current")
	fs.rejectRenew = true

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1"})

	var expiredCalls atomic.Int32
	h.coord.OnExpired(func(err error) {
		expiredCalls.Add(1)
		assert.ErrorIs(t, err, ErrSessionExpired)
	})

	release := fs.gate()

	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()
			errs[i] = h.list(context.Background())
		}()
	}

	require.Eventually(t, func() bool {
		return h.coord.Renewal().Waiters == n
	}, 5*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSessionExpired)
		assert.ErrorIs(t, err, api.ErrUnauthorized, "cause is kept")
	}

	assert.Equal(t, int32(1), fs.refreshCalls.Load())
	assert.Equal(t, int32(n), fs.listCalls.Load(), "no replay after failed renewal")
	assert.Equal(t, int32(1), expiredCalls.Load())

	// Both credentials gone, status Unauthenticated.
	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)

	snap, err := h.coord.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, snap.Status)

	// The next call is rejected before reaching the network.
	err = h.list(context.Background())
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
	assert.Equal(t, int32(n), fs.listCalls.Load())
}

func TestRenewal_MissingRefreshCredentialExpires(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale"})

	err := h.list(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), fs.refreshCalls.Load())
}

func TestRenewal_ReplayRejectedIsNotLooped(t *testing.T) {
	fs, srv := newFakeServer(t, "never-matches")
	fs.nextAccess = "fresh"
	fs.keepValid = true // the renewed credential is rejected too

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})
	h.coord.OnExpired(func(error) { t.Error("session must not expire on a rejected replay") })

	err := h.list(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fs.refreshCalls.Load())
	assert.Equal(t, int32(2), fs.listCalls.Load())
}

func TestRenewal_NewRenewalAfterResolution(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.nextAccess = "fresh-1"

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})

	require.NoError(t, h.list(context.Background()))
	assert.Equal(t, int32(1), fs.refreshCalls.Load())

	// The server revokes fresh-1; a later 401 must start a new renewal.
	fs.mu.Lock()
	fs.valid = "revoked"
	fs.nextAccess = "fresh-2"
	fs.mu.Unlock()

	require.NoError(t, h.list(context.Background()))
	assert.Equal(t, int32(2), fs.refreshCalls.Load())
	assert.Equal(t, []string{"r", "r"}, fs.seen(), "refresh credential kept when not rotated")
}

func TestRenewal_WaiterCancellationDoesNotAbortRenewal(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.nextAccess = "fresh"

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})
	release := fs.gate()

	leaderErr := make(chan error, 1)
	go func() { leaderErr <- h.list(context.Background()) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)

	go func() { waiterErr <- h.list(ctx) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 2 }, 5*time.Second, time.Millisecond)
	cancel()

	err := <-waiterErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, h.coord.Renewal().Waiters)

	close(release)
	require.NoError(t, <-leaderErr)
	assert.Equal(t, int32(1), fs.refreshCalls.Load())
}

func TestRenewal_LeaderCancellationStillResolvesWaiters(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.nextAccess = "fresh"

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})
	release := fs.gate()

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)

	go func() { leaderErr <- h.list(ctx) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 1 }, 5*time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() { waiterErr <- h.list(context.Background()) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	require.NoError(t, <-waiterErr)

	snap, err := h.coord.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authenticated, snap.Status)
}

func TestRenewal_AlreadyRenewedShortCircuits(t *testing.T) {
	fs, srv := newFakeServer(t, "fresh")
	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "fresh", RefreshToken: "r"})

	tok, err := h.coord.Reauthorize(context.Background(), "older")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int32(0), fs.refreshCalls.Load())
}

func TestRenewal_AdoptsCredentialsFromStore(t *testing.T) {
	fs, srv := newFakeServer(t, "from-other-process")
	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})

	_, err := h.coord.Authorize(context.Background())
	require.NoError(t, err)

	// Another process renewed and wrote the store.
	require.NoError(t, h.store.Save(context.Background(),
		&oauth2.Token{AccessToken: "from-other-process", RefreshToken: "r2"}))

	require.NoError(t, h.list(context.Background()))
	assert.Equal(t, int32(0), fs.refreshCalls.Load())

	tok, err := h.coord.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-other-process", tok)
}

func TestRenewal_LogoutWhileRenewingDiscardsOutcome(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.nextAccess = "fresh"
	fs.nextRefresh = "r2"

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})
	release := fs.gate()

	errCh := make(chan error, 1)
	go func() { errCh <- h.list(context.Background()) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, h.coord.Logout(context.Background()))

	close(release)
	require.ErrorIs(t, <-errCh, api.ErrNotAuthenticated)

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored, "a renewal that lost the race must not resurrect the session")
	assert.False(t, h.coord.Renewal().Renewing)
}

func TestRenewal_EstablishWhileRenewingWins(t *testing.T) {
	fs, srv := newFakeServer(t, "login-new")
	fs.nextAccess = "fresh"
	fs.keepValid = true

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})
	release := fs.gate()

	errCh := make(chan error, 1)
	go func() { errCh <- h.list(context.Background()) }()

	require.Eventually(t, func() bool { return h.coord.Renewal().Waiters == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, h.coord.Establish(context.Background(),
		&oauth2.Token{AccessToken: "login-new", RefreshToken: "login-r"}))

	close(release)
	require.NoError(t, <-errCh)

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "login-new", stored.AccessToken)
	assert.Equal(t, "login-r", stored.RefreshToken)
}

func TestRenewal_ExpiryHookRunsBeforeWaitersReturn(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.rejectRenew = true

	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})

	var hookDone atomic.Bool

	h.coord.OnExpired(func(err error) {
		assert.ErrorIs(t, err, ErrSessionExpired)
		time.Sleep(20 * time.Millisecond)
		hookDone.Store(true)
	})

	_, err := h.coord.Reauthorize(context.Background(), "stale")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, hookDone.Load(), "expiry hook finished before the caller was released")
}

func TestRenewal_LateBurstMemberSeesSameExpiry(t *testing.T) {
	fs, srv := newFakeServer(t, "current")
	fs.rejectRenew = true

	ctx := context.Background()
	h := newHarness(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "r"})

	_, err := h.coord.Reauthorize(ctx, "stale")
	require.ErrorIs(t, err, ErrSessionExpired)

	// Rejected with the same credential after the renewal resolved.
	_, err = h.coord.Reauthorize(ctx, "stale")
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fs.refreshCalls.Load())

	_, err = h.coord.Reauthorize(ctx, "unrelated")
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	// A new session forgets the old expiry.
	require.NoError(t, h.coord.Establish(ctx, &oauth2.Token{AccessToken: "a2", RefreshToken: "r2"}))
	require.NoError(t, h.coord.Logout(ctx))

	_, err = h.coord.Reauthorize(ctx, "stale")
	require.ErrorIs(t, err, api.ErrNotAuthenticated)
	assert.NotErrorIs(t, err, ErrSessionExpired)
}

func TestEstablishAndLogout(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemoryStore(nil)
	coord := NewCoordinator(store, nil, nil)

	_, err := coord.Authorize(ctx)
	require.ErrorIs(t, err, api.ErrNotAuthenticated)

	snap, err := coord.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unauthenticated, snap.Status)

	exp := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, coord.Establish(ctx, &oauth2.Token{
		AccessToken: "a", RefreshToken: "r", TokenType: "bearer", Expiry: exp,
	}))

	tok, err := coord.Authorize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	snap, err = coord.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Status: Authenticated, TokenType: "bearer", Expiry: exp, HasRefreshCredential: true}, snap)

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", stored.RefreshToken)

	require.NoError(t, coord.Logout(ctx))

	_, err = coord.Authorize(ctx)
	require.ErrorIs(t, err, api.ErrNotAuthenticated)

	stored, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestEstablish_RejectsEmptyCredential(t *testing.T) {
	coord := NewCoordinator(credstore.NewMemoryStore(nil), nil, nil)

	require.Error(t, coord.Establish(context.Background(), &oauth2.Token{RefreshToken: "r"}))
	require.Error(t, coord.Establish(context.Background(), nil))
}

func TestLazyLoadFromStore(t *testing.T) {
	store := credstore.NewMemoryStore(&oauth2.Token{AccessToken: "persisted", RefreshToken: "r"})
	coord := NewCoordinator(store, nil, nil)

	tok, err := coord.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok)
}

type failingStore struct{ credstore.MemoryStore }

func (*failingStore) Load(context.Context) (*oauth2.Token, error) {
	return nil, errors.New("disk on fire")
}

func TestLoadFailureSurfaces(t *testing.T) {
	coord := NewCoordinator(&failingStore{}, nil, nil)

	_, err := coord.Authorize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.NotErrorIs(t, err, api.ErrNotAuthenticated)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "authenticated", Authenticated.String())
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
}
