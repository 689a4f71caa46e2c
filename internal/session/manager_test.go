package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

const loginBody = `{"session_token":"abc","expires_at":"2099-01-01T00:00:00Z","user":{"email":"a@b.com","client_id":"c1"}}`

type fakeLogout struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeLogout) Post(_ context.Context, path string, _ any, _ ...httpclient.RequestOption) (*httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, f.err
	}
	return &httpclient.Response{StatusCode: http.StatusOK}, nil
}

type navRecorder struct {
	mu      sync.Mutex
	reasons []string
	paths   []string
	ch      chan string
}

func newNavRecorder() *navRecorder {
	return &navRecorder{ch: make(chan string, 8)}
}

func (n *navRecorder) NavigateToLogin(path, reason string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.reasons = append(n.reasons, reason)
	n.mu.Unlock()
	n.ch <- reason
}

type fixture struct {
	mgr     *Manager
	memory  *MemoryStorage
	file    *FileStorage
	cookies *CookieMirror
	clock   *clockwork.FakeClock
	nav     *navRecorder
	logout  *fakeLogout
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, _ := url.Parse("http://advx.test/api/v1")

	f := &fixture{
		memory:  NewMemoryStorage(),
		file:    NewFileStorage(filepath.Join(t.TempDir(), "session.yaml")),
		cookies: NewCookieMirror(jar, u),
		clock:   clockwork.NewFakeClockAt(epoch),
		nav:     newNavRecorder(),
		logout:  &fakeLogout{},
	}
	base := []Option{
		WithStorage(f.file, f.memory),
		WithCookieMirror(f.cookies),
		WithClock(f.clock),
		WithNavigator(f.nav),
	}
	f.mgr = NewManager(f.logout, append(base, opts...)...)
	return f
}

func sessionBody(token, expiry string) []byte {
	return []byte(`{"session_token":"` + token + `","expires_at":"` + expiry + `","user":{"email":"a@b.com","client_id":"c1","name":"Ann"}}`)
}

func TestRecordSessionSignsIn(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateUnknown, f.mgr.State())

	require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))

	assert.Equal(t, StateSignedIn, f.mgr.State())
	assert.True(t, f.mgr.SignedIn())
	user, ok := f.mgr.User()
	require.True(t, ok)
	assert.Equal(t, Profile{Email: "a@b.com", ClientID: "c1"}, user)
	assert.Equal(t, "abc", f.mgr.Token())
	assert.Equal(t, time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC), f.mgr.Expiry().UTC())

	want := map[string]string{
		KeySessionToken: "abc",
		KeyExpiresAt:    "2099-01-01T00:00:00Z",
		KeyEmail:        "a@b.com",
		KeyClientID:     "c1",
		KeyUsername:     "",
	}
	for _, st := range []Storage{f.file, f.memory} {
		for _, key := range AllKeys {
			v, ok := st.Get(key)
			assert.True(t, ok, "key %s", key)
			assert.Equal(t, want[key], v, "key %s", key)
		}
	}

	token, ok := f.cookies.Value(KeySessionToken)
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
	expiry, ok := f.cookies.Value(KeyExpiresAt)
	assert.True(t, ok)
	assert.Equal(t, "2099-01-01T00:00:00Z", expiry)
}

func TestRecordSessionRejectsIncompleteResponses(t *testing.T) {
	bodies := []string{
		`{"expires_at":"2099-01-01T00:00:00Z","user":{"email":"a@b.com"}}`,
		`{"session_token":"abc","user":{"email":"a@b.com"}}`,
		`{"access_token":"abc","token_type":"bearer"}`,
	}

	t.Run("while signed out", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.Restore()
		for _, b := range bodies {
			err := f.mgr.RecordSession([]byte(b))
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Equal(t, StateSignedOut, f.mgr.State())
			_, ok := f.file.Get(KeySessionToken)
			assert.False(t, ok)
		}
	})

	t.Run("while signed in", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))
		for _, b := range bodies {
			assert.Error(t, f.mgr.RecordSession([]byte(b)))
			assert.Equal(t, StateSignedIn, f.mgr.State())
			assert.Equal(t, "abc", f.mgr.Token())
			v, _ := f.file.Get(KeySessionToken)
			assert.Equal(t, "abc", v)
		}
	})

	t.Run("expiry already passed", func(t *testing.T) {
		f := newFixture(t)
		err := f.mgr.RecordSession(sessionBody("abc", "2020-01-01T00:00:00Z"))
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, StateUnknown, f.mgr.State())
	})
}

func TestRecordSessionRefreshesToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RecordSession(sessionBody("first", "2099-01-01T00:00:00Z")))

	var events []Event
	f.mgr.Subscribe(func(e Event) { events = append(events, e) })

	require.NoError(t, f.mgr.RecordSession(sessionBody("second", "2099-06-01T00:00:00Z")))
	assert.Equal(t, "second", f.mgr.Token())
	v, _ := f.memory.Get(KeySessionToken)
	assert.Equal(t, "second", v)

	require.Len(t, events, 1)
	assert.Equal(t, StateSignedIn, events[0].From)
	assert.Equal(t, StateSignedIn, events[0].To)
	assert.Equal(t, ReasonRecorded, events[0].Reason)
	assert.Equal(t, "second", events[0].Session.Token)
}

type flakyStorage struct {
	*MemoryStorage
	fail atomic.Bool
}

func (s *flakyStorage) Set(values map[string]string) error {
	if s.fail.Load() {
		return errors.New("storage unavailable")
	}
	return s.MemoryStorage.Set(values)
}

func TestRecordSessionKeepsPreviousOnWriteFailure(t *testing.T) {
	t.Run("valid previous session restored", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage()}
		f := newFixture(t)
		f.mgr = NewManager(f.logout, WithStorage(f.file, flaky), WithCookieMirror(f.cookies), WithClock(f.clock), WithNavigator(f.nav))
		require.NoError(t, f.mgr.RecordSession(sessionBody("first", "2099-01-01T00:00:00Z")))

		var events []Event
		f.mgr.Subscribe(func(e Event) { events = append(events, e) })

		flaky.fail.Store(true)
		require.Error(t, f.mgr.RecordSession(sessionBody("second", "2099-06-01T00:00:00Z")))

		assert.Equal(t, StateSignedIn, f.mgr.State())
		assert.Equal(t, "first", f.mgr.Token())
		assert.True(t, f.mgr.TokenValid())
		for _, st := range []Storage{f.file, flaky} {
			v, ok := st.Get(KeySessionToken)
			assert.True(t, ok)
			assert.Equal(t, "first", v)
		}
		token, _ := f.cookies.Value(KeySessionToken)
		assert.Equal(t, "first", token)
		assert.Empty(t, events)
	})

	t.Run("nothing to restore", func(t *testing.T) {
		flaky := &flakyStorage{MemoryStorage: NewMemoryStorage()}
		flaky.fail.Store(true)
		f := newFixture(t)
		f.mgr = NewManager(f.logout, WithStorage(f.file, flaky), WithCookieMirror(f.cookies), WithClock(f.clock), WithNavigator(f.nav))

		require.Error(t, f.mgr.RecordSession([]byte(loginBody)))
		assert.Equal(t, StateUnknown, f.mgr.State())
		_, ok := f.file.Get(KeySessionToken)
		assert.False(t, ok)
	})
}

func TestRestore(t *testing.T) {
	t.Run("valid stored session", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.file.Set(sessionBodyValues("abc", "2099-01-01T00:00:00Z")))

		assert.Equal(t, StateSignedIn, f.mgr.Restore())
		assert.Equal(t, "abc", f.mgr.Token())
		v, ok := f.memory.Get(KeySessionToken)
		assert.True(t, ok, "restored session is copied to every scope")
		assert.Equal(t, "abc", v)
		c, ok := f.cookies.Value(KeySessionToken)
		assert.True(t, ok, "cookie mirror is re-populated")
		assert.Equal(t, "abc", c)
		user, _ := f.mgr.User()
		assert.Equal(t, "Ann", user.Name)
	})

	t.Run("expired stored session is cleared", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.file.Set(sessionBodyValues("abc", "2030-01-01T11:00:00Z")))

		assert.Equal(t, StateSignedOut, f.mgr.Restore())
		_, ok := f.file.Get(KeySessionToken)
		assert.False(t, ok)
		assert.Empty(t, f.nav.reasons, "restore never navigates")
	})

	t.Run("nothing stored", func(t *testing.T) {
		f := newFixture(t)
		var events []Event
		f.mgr.Subscribe(func(e Event) { events = append(events, e) })

		assert.Equal(t, StateSignedOut, f.mgr.Restore())
		require.Len(t, events, 1)
		assert.Equal(t, StateUnknown, events[0].From)
		assert.Equal(t, StateSignedOut, events[0].To)
		assert.Nil(t, events[0].Session)
	})
}

func sessionBodyValues(token, expiry string) map[string]string {
	return map[string]string{
		KeySessionToken: token,
		KeyExpiresAt:    expiry,
		KeyEmail:        "a@b.com",
		KeyClientID:     "c1",
		KeyUsername:     "Ann",
	}
}

func TestLogout(t *testing.T) {
	t.Run("backend success", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))

		f.mgr.Logout(context.Background())

		assert.Equal(t, []string{DefaultLogoutPath}, f.logout.paths)
		assert.Equal(t, StateSignedOut, f.mgr.State())
		assert.Equal(t, []string{ReasonLogout}, f.nav.reasons)
		assert.Equal(t, []string{DefaultLoginPath}, f.nav.paths)
	})

	t.Run("backend failure is swallowed", func(t *testing.T) {
		f := newFixture(t, WithLogoutPath("/auth/sign-out"), WithLoginPath("/signin"))
		require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))
		f.logout.err = errors.New("connection refused")

		f.mgr.Logout(context.Background())

		assert.Equal(t, []string{"/auth/sign-out"}, f.logout.paths)
		assert.Equal(t, StateSignedOut, f.mgr.State())
		for _, st := range []Storage{f.file, f.memory} {
			for _, key := range AllKeys {
				_, ok := st.Get(key)
				assert.False(t, ok, "key %s", key)
			}
		}
		_, ok := f.cookies.Value(KeySessionToken)
		assert.False(t, ok)
		assert.Equal(t, []string{"/signin"}, f.nav.paths)
	})

	t.Run("through the dispatcher", func(t *testing.T) {
		var gotCookie string
		r := chi.NewRouter()
		r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(KeySessionToken); err == nil {
				gotCookie = c.Value
			}
			w.WriteHeader(http.StatusInternalServerError)
		})
		client := httpclient.NewTestClient(r)
		mgr := NewManager(client,
			WithCookieMirror(NewCookieMirror(client.Jar(), client.BaseURL())),
			WithNavigator(NavigatorFunc(func(string, string) {})),
		)
		client.SetTokenSource(mgr)
		require.NoError(t, mgr.RecordSession([]byte(loginBody)))

		mgr.Logout(context.Background())
		assert.Equal(t, "abc", gotCookie)
		assert.False(t, mgr.SignedIn())
		assert.Empty(t, client.Jar().Cookies(client.BaseURL()))
	})
}

func TestSweepSignsOutExpiredSession(t *testing.T) {
	f := newFixture(t, WithSweepInterval(30*time.Second))
	require.NoError(t, f.mgr.RecordSession(sessionBody("abc", epoch.Add(time.Minute).Format(time.RFC3339))))

	var mu sync.Mutex
	var events []Event
	f.mgr.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.mgr.Start(ctx)
	defer f.mgr.Stop()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	f.clock.Advance(30 * time.Second)
	// still valid: the first tick must not sign out
	f.clock.Advance(45 * time.Second)

	select {
	case reason := <-f.nav.ch:
		assert.Equal(t, ReasonExpired, reason)
	case <-ctx.Done():
		t.Fatal("sweep did not force navigation to login")
	}

	assert.Equal(t, StateSignedOut, f.mgr.State())
	_, ok := f.file.Get(KeySessionToken)
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonExpired, events[0].Reason)
	assert.Equal(t, StateSignedIn, events[0].From)
}

func TestSweep(t *testing.T) {
	t.Run("missing stored token", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))
		require.NoError(t, f.file.Remove(KeySessionToken))

		assert.True(t, f.mgr.Sweep())
		assert.Equal(t, StateSignedOut, f.mgr.State())
		assert.Equal(t, []string{ReasonExpired}, f.nav.reasons)
	})

	t.Run("valid session untouched", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))
		assert.False(t, f.mgr.Sweep())
		assert.True(t, f.mgr.SignedIn())
	})

	t.Run("signed out is not navigated again", func(t *testing.T) {
		f := newFixture(t)
		f.mgr.Restore()
		assert.False(t, f.mgr.Sweep())
		assert.Empty(t, f.nav.reasons)
	})
}

// hookStorage runs onGet once, the first time a key is read after arming.
type hookStorage struct {
	*MemoryStorage
	armed atomic.Bool
	onGet func()
}

func (s *hookStorage) Get(key string) (string, bool) {
	if s.armed.CompareAndSwap(true, false) {
		s.onGet()
	}
	return s.MemoryStorage.Get(key)
}

func TestSweepDoesNotClearConcurrentRecording(t *testing.T) {
	hook := &hookStorage{MemoryStorage: NewMemoryStorage()}
	f := newFixture(t)
	f.mgr = NewManager(f.logout, WithStorage(hook, f.memory), WithClock(f.clock), WithNavigator(f.nav))
	require.NoError(t, f.mgr.RecordSession(sessionBody("old", epoch.Add(time.Minute).Format(time.RFC3339))))
	f.clock.Advance(2 * time.Minute)

	done := make(chan error, 1)
	hook.onGet = func() {
		// a login completes while the sweep is deciding
		go func() { done <- f.mgr.RecordSession(sessionBody("fresh", "2099-01-01T00:00:00Z")) }()
		select {
		case err := <-done:
			done <- err
		case <-time.After(50 * time.Millisecond):
		}
	}
	hook.armed.Store(true)

	assert.True(t, f.mgr.Sweep())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not finish")
	}
	assert.Equal(t, StateSignedIn, f.mgr.State())
	assert.Equal(t, "fresh", f.mgr.Token())
	assert.True(t, f.mgr.TokenValid())
	v, _ := hook.Get(KeySessionToken)
	assert.Equal(t, "fresh", v)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mgr.Start(ctx)
	f.mgr.Start(ctx)
	f.mgr.Stop()
	f.mgr.Stop()

	f.mgr.Start(ctx)
	f.mgr.Stop()
}

func TestSubscribeUnsubscribe(t *testing.T) {
	f := newFixture(t)
	count := 0
	unsubscribe := f.mgr.Subscribe(func(Event) { count++ })

	require.NoError(t, f.mgr.RecordSession([]byte(loginBody)))
	unsubscribe()
	unsubscribe()
	f.mgr.Clear()

	assert.Equal(t, 1, count)
	assert.Nil(t, f.mgr.Current())
}
