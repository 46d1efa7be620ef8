package session_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/storefront-session/api"
	"github.com/jrsteele09/storefront-session/broadcast"
	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/internal/stubbackend"
	"github.com/jrsteele09/storefront-session/session"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "secret123"
)

type testFixture struct {
	backend *stubbackend.Server
	client  *api.Client
	shared  *storage.SharedMemory
	store   *storage.MemoryBackend
	manager *session.Manager
	events  *eventRecorder
}

type eventRecorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *eventRecorder) record(ev broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func setupTestFixture(t *testing.T, opts ...session.Option) *testFixture {
	t.Helper()
	backend := stubbackend.New(stubbackend.Options{})
	_, err := backend.Accounts().Create(credential.Identity{
		FirstName: "Ada", LastName: "Lovelace", Email: testEmail, Role: credential.RoleUser,
	}, testPassword)
	require.NoError(t, err)
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client := api.New(srv.URL, nil)
	shared := storage.NewSharedMemory()
	store := shared.Open()
	m := session.NewManager(client, store, opts...)
	rec := &eventRecorder{}
	m.Subscribe(rec.record)

	return &testFixture{backend: backend, client: client, shared: shared, store: store, manager: m, events: rec}
}

// seed writes a session record directly, as another context would.
func seed(t *testing.T, b storage.Backend, tokens credential.Tokens, identity credential.Identity) {
	t.Helper()
	rec := credential.NewSessionRecord(tokens, identity)
	require.NoError(t, storage.NewManager(b).SetAll(context.Background(), map[string]any{
		session.KeyTokens:    rec.Tokens,
		session.KeyUser:      rec.Identity,
		session.KeyTimestamp: rec.Timestamp,
	}))
}

// fakeBackend answers every call from its fields and counts calls.
type fakeBackend struct {
	mu          sync.Mutex
	calls       map[string]int
	loginResult api.LoginResult
	loginErr    error
	signupErr   error
	logoutErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(map[string]int)}
}

func (f *fakeBackend) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeBackend) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) Login(context.Context, api.LoginCredentials) (api.LoginResult, error) {
	f.count("login")
	return f.loginResult, f.loginErr
}

func (f *fakeBackend) AdminLogin(context.Context, api.LoginCredentials) (api.LoginResult, error) {
	f.count("adminLogin")
	return f.loginResult, f.loginErr
}

func (f *fakeBackend) Signup(context.Context, api.SignupData) (*api.Envelope, error) {
	f.count("signup")
	return &api.Envelope{Successfully: true}, f.signupErr
}

func (f *fakeBackend) AdminSignup(context.Context, api.AdminSignupData) (*api.Envelope, error) {
	f.count("adminSignup")
	return &api.Envelope{Successfully: true}, f.signupErr
}

func (f *fakeBackend) SendVerificationEmail(context.Context, api.EmailVerificationData) (*api.Envelope, error) {
	f.count("sendVerificationEmail")
	return &api.Envelope{Successfully: true}, nil
}

func (f *fakeBackend) VerifyEmail(context.Context, api.EmailVerificationData) (*api.Envelope, error) {
	f.count("verifyEmail")
	return &api.Envelope{Successfully: true}, nil
}

func (f *fakeBackend) GoogleSignup(context.Context, string) (api.LoginResult, error) {
	f.count("googleSignup")
	return f.loginResult, f.signupErr
}

func (f *fakeBackend) GoogleLogin(context.Context, string) (api.LoginResult, error) {
	f.count("googleLogin")
	return f.loginResult, f.loginErr
}

func (f *fakeBackend) Logout(context.Context, string) error {
	f.count("logout")
	return f.logoutErr
}

// failingBackend accepts reads and deletes but rejects every write.
type failingBackend struct {
	storage.Backend
}

func (failingBackend) SetMulti(context.Context, map[string][]byte) error {
	return errors.New("quota exceeded")
}

// flakyBackend fails every read while down is set, as a store does during a
// brief outage.
type flakyBackend struct {
	storage.Backend
	down atomic.Bool
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b.down.Load() {
		return nil, false, errors.New("i/o timeout")
	}
	return b.Backend.Get(ctx, key)
}

func (b *flakyBackend) GetMulti(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if b.down.Load() {
		return nil, errors.New("i/o timeout")
	}
	return b.Backend.GetMulti(ctx, keys...)
}

// racingBackend runs before once, just ahead of the first compare-and-swap,
// standing in for another context writing between a read and a write.
type racingBackend struct {
	storage.Backend
	before func()
	once   sync.Once
}

func (b *racingBackend) CompareAndSwap(ctx context.Context, key string, old, value []byte) (bool, error) {
	b.once.Do(b.before)
	return b.Backend.CompareAndSwap(ctx, key, old, value)
}

// countingBackend counts backend reads.
type countingBackend struct {
	storage.Backend
	gets      atomic.Int32
	multiGets atomic.Int32
}

func (b *countingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.gets.Add(1)
	return b.Backend.Get(ctx, key)
}

func (b *countingBackend) GetMulti(ctx context.Context, keys ...string) (map[string][]byte, error) {
	b.multiGets.Add(1)
	return b.Backend.GetMulti(ctx, keys...)
}
