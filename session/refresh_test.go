package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/autherr"
	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/internal/stubbackend"
	"github.com/jrsteele09/storefront-session/session"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type blockingRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	tokens  credential.Tokens
	err     error
}

func newBlockingRefresher(tokens credential.Tokens, err error) *blockingRefresher {
	return &blockingRefresher{release: make(chan struct{}), tokens: tokens, err: err}
}

func (r *blockingRefresher) Refresh(context.Context, string) (credential.Tokens, error) {
	r.calls.Add(1)
	<-r.release
	return r.tokens, r.err
}

var seededIdentity = credential.Identity{Email: testEmail}

func TestManager_RefreshCoalesces(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	seed(t, store, credential.Tokens{Token: "T1", RefreshToken: "R1"}, seededIdentity)

	refresher := newBlockingRefresher(credential.Tokens{Token: "T2", RefreshToken: "R2"}, nil)
	m := session.NewManager(newFakeBackend(), store, session.WithRefresher(refresher))

	const callers = 10
	var entered atomic.Int32
	results := make([]credential.Tokens, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entered.Add(1)
			results[i], errs[i] = m.RefreshTokens(ctx)
		}(i)
	}

	require.Eventually(t, func() bool { return entered.Load() == callers && refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	require.EqualValues(t, 1, refresher.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "T2", results[i].Token)
	}
	tokens, ok := m.CurrentTokens(ctx)
	require.True(t, ok)
	require.Equal(t, "R2", tokens.RefreshToken)

	// The in-flight guard is released once the refresh settles.
	refresher.tokens = credential.Tokens{Token: "T3"}
	next, err := m.RefreshTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, "T3", next.Token)
	require.Equal(t, "R2", next.RefreshToken, "refresh token kept when not rotated")
	require.EqualValues(t, 2, refresher.calls.Load())
}

func TestManager_RefreshStub(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tokens := credential.Tokens{Token: "T1", ExpiresAt: time.Now().Add(time.Minute).UnixMilli()}
	seed(t, store, tokens, seededIdentity)

	reg := prometheus.NewRegistry()
	metrics := session.NewMetrics(reg)
	m := session.NewManager(newFakeBackend(), store, session.WithMetrics(metrics))
	got, err := m.RefreshTokens(ctx)
	require.NoError(t, err)
	require.Equal(t, tokens, got)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.RefreshTotal.WithLabelValues(session.ResultStub)))

	_, err = session.NewManager(newFakeBackend(), storage.NewMemoryBackend()).RefreshTokens(ctx)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestManager_RefreshFailureCollapsesSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	seed(t, store, credential.Tokens{Token: "T1", RefreshToken: "R1"}, seededIdentity)

	refresher := newBlockingRefresher(credential.Tokens{}, autherr.New("Invalid credentials", autherr.CodeInvalidCredentials, 401))
	close(refresher.release)
	m := session.NewManager(newFakeBackend(), store, session.WithRefresher(refresher))
	var changes atomic.Int32
	m.Subscribe(func(ev broadcast.Event) {
		if ev.Name == broadcast.AuthChange {
			changes.Add(1)
		}
	})

	_, err := m.RefreshTokens(ctx)
	require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
	require.False(t, m.IsAuthenticated(ctx))
	require.EqualValues(t, 1, changes.Load())

	_, err = m.RefreshTokens(ctx)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestManager_RefreshOutlivesCallerContext(t *testing.T) {
	store := storage.NewMemoryBackend()
	seed(t, store, credential.Tokens{Token: "T1", RefreshToken: "R1"}, seededIdentity)
	refresher := newBlockingRefresher(credential.Tokens{Token: "T2"}, nil)
	m := session.NewManager(newFakeBackend(), store, session.WithRefresher(refresher))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.RefreshTokens(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(refresher.release)
	require.Eventually(t, func() bool {
		tokens, ok := m.CurrentTokens(context.Background())
		return ok && tokens.Token == "T2"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_RefreshDiscardedAfterLogout(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	seed(t, store, credential.Tokens{Token: "T1", RefreshToken: "R1"}, seededIdentity)
	refresher := newBlockingRefresher(credential.Tokens{Token: "T2"}, nil)
	m := session.NewManager(newFakeBackend(), store, session.WithRefresher(refresher))

	done := make(chan error, 1)
	go func() {
		_, err := m.RefreshTokens(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Logout(ctx))
	close(refresher.release)

	require.True(t, errors.Is(<-done, session.ErrNoSession))
	require.False(t, m.IsAuthenticated(ctx))
	_, ok, _ := store.Get(ctx, session.KeyTokens)
	require.False(t, ok, "refreshed tokens must not resurrect a cleared session")
}

func TestManager_RefreshLosesToWriteBeforeSwap(t *testing.T) {
	ctx := context.Background()
	keys := []string{session.KeyTokens, session.KeyUser, session.KeyTimestamp}

	tests := []struct {
		name      string
		write     func(b storage.Backend) error
		wantErr   error
		wantToken string
	}{
		{
			name:    "logout",
			write:   func(b storage.Backend) error { return b.Delete(ctx, keys...) },
			wantErr: session.ErrNoSession,
		},
		{
			name: "new login",
			write: func(b storage.Backend) error {
				rec := credential.NewSessionRecord(credential.Tokens{Token: "T9"}, seededIdentity)
				return storage.NewManager(b).SetAll(ctx, map[string]any{
					session.KeyTokens: rec.Tokens, session.KeyUser: rec.Identity, session.KeyTimestamp: rec.Timestamp,
				})
			},
			wantToken: "T9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shared := storage.NewSharedMemory()
			own, other := shared.Open(), shared.Open()
			seed(t, own, credential.Tokens{Token: "T1", RefreshToken: "R1"}, seededIdentity)

			var writeErr error
			store := &racingBackend{Backend: own, before: func() { writeErr = tt.write(other) }}
			refresher := newBlockingRefresher(credential.Tokens{Token: "T2", RefreshToken: "R2"}, nil)
			close(refresher.release)
			m := session.NewManager(newFakeBackend(), store, session.WithRefresher(refresher))
			rec := &eventRecorder{}
			m.Subscribe(rec.record)

			got, err := m.RefreshTokens(ctx)
			require.NoError(t, writeErr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				_, ok, getErr := own.Get(ctx, session.KeyTokens)
				require.NoError(t, getErr)
				require.False(t, ok, "refreshed tokens must not resurrect a cleared session")
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.wantToken, got.Token)
				current, ok := m.CurrentTokens(ctx)
				require.True(t, ok)
				require.Equal(t, tt.wantToken, current.Token)
			}
			require.Zero(t, rec.count(broadcast.AuthChange), "a discarded refresh broadcasts nothing")
		})
	}
}

func TestManager_RefreshAgainstBackend(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	m := session.NewManager(f.client, f.store, session.WithRefresher(f.client))

	first, err := m.Login(ctx, api.LoginCredentials{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	next, err := m.RefreshTokens(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.Tokens.RefreshToken, next.RefreshToken)
	require.Equal(t, 1, f.backend.Hits(stubbackend.RouteRefreshToken))

	user, ok := m.CurrentUser(ctx)
	require.True(t, ok, "identity survives a refresh")
	require.Equal(t, testEmail, user.Email)
}
