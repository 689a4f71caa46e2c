package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/term"
)

// fakeBackend is an in-process stand-in for the business-management backend.
type fakeBackend struct {
	mu     sync.Mutex
	hits   []string
	bodies map[string]string
	// bodies accepted by the mapping create route, in order
	created []string
	// expiry returned by login for the given email, defaults to one hour
	expiry map[string]time.Duration
}

func (b *fakeBackend) record(r *http.Request, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits = append(b.hits, r.Method+" "+r.URL.RequestURI())
	b.bodies[r.Method+" "+r.URL.Path] = string(body)
}

func (b *fakeBackend) Hits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.hits...)
}

func (b *fakeBackend) Body(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[key]
}

func (b *fakeBackend) Created() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.created...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) session(email string) map[string]any {
	ttl := time.Hour
	b.mu.Lock()
	if d, ok := b.expiry[email]; ok {
		ttl = d
	}
	b.mu.Unlock()
	return map[string]any{
		"session_token": "tok-1",
		"expires_at":    time.Now().Add(ttl).UTC().Format(time.RFC3339Nano),
		"user":          map[string]any{"email": email, "client_id": 7, "name": "Ada"},
	}
}

func (b *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			b.record(req, body)
			req.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var creds struct{ Email, Password string }
		_ = json.NewDecoder(req.Body).Decode(&creds)
		switch {
		case strings.HasPrefix(creds.Email, "otp@"):
			writeJSON(w, http.StatusOK, map[string]any{"token": "tmp-1", "message": "OTP sent"})
		case creds.Password == "secret":
			writeJSON(w, http.StatusOK, b.session(creds.Email))
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		}
	})
	r.Post("/auth/verify-otp", func(w http.ResponseWriter, req *http.Request) {
		var in struct{ Token, OTP string }
		_ = json.NewDecoder(req.Body).Decode(&in)
		if in.Token != "tmp-1" || in.OTP != "123456" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid OTP"})
			return
		}
		writeJSON(w, http.StatusOK, b.session("otp@example.com"))
	})
	r.Post("/auth/logout", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "bye"})
	})

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.Header.Get("Authorization") != "Bearer tok-1" {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
					return
				}
				next.ServeHTTP(w, req)
			})
		})
		r.Post("/auth/protected/profile", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"email": "ada@example.com", "client_id": 7})
		})
		r.Get("/admin/users/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 1, "username": "ada", "useremail": "ada@example.com"},
			})
		})
		r.Post("/admin/users", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{"id": 2})
		})
		r.Put("/admin/users/{id}", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(req, "id")})
		})
		r.Get("/admin/outlets/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 101, "client_id": req.URL.Query().Get("client_id")},
			})
		})
		r.Delete("/admin/services/{id}", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"deleted": chi.URLParam(req, "id")})
		})
		r.Get("/access/user-outlet-mappings/", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, []map[string]any{})
		})
		r.Post("/api/v1/access/user-outlet-mappings", func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			b.mu.Lock()
			b.created = append(b.created, string(body))
			b.mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{"id": len(b.Created())})
		})
		r.Get("/dashboard/stats", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"users": 3, "outlets": 12})
		})
	})
	return r
}

// cliEnv runs commands against a fake backend with a private config and
// session file.
type cliEnv struct {
	t           *testing.T
	backend     *fakeBackend
	configPath  string
	sessionPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	color.NoColor = true
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvLogLevel, "")
	// keep the default session file away from the real user config
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	b := &fakeBackend{bodies: map[string]string{}, expiry: map[string]time.Duration{}}
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &cliEnv{
		t:           t,
		backend:     b,
		configPath:  filepath.Join(dir, "config.yaml"),
		sessionPath: filepath.Join(dir, "session.yaml"),
	}
	cfg := &Config{Version: ConfigVersion, ServerURL: srv.URL, SessionFile: env.sessionPath, LogLevel: "error"}
	require.NoError(t, cfg.WriteConfig(env.configPath))
	t.Cleanup(releaseRuntime)
	return env
}

func (e *cliEnv) run(args ...string) (string, error) {
	return e.runWithInput("", args...)
}

func (e *cliEnv) runWithInput(stdin string, args ...string) (string, error) {
	e.t.Helper()
	releaseRuntime()
	config = nil

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) login(email string) {
	e.t.Helper()
	out, err := e.run("login", "--email", email, "--password", "secret")
	require.NoError(e.t, err, out)
}

func TestLoginStatusLogout(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: signed out")

	out, err = env.run("login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
	assert.Contains(t, out, "Signed in as: ada@example.com")
	assert.FileExists(t, env.sessionPath)

	out, err = env.run("status", "-j")
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "value.signed_in").Bool())
	assert.Equal(t, "ada@example.com", gjson.Get(out, "value.email").String())
	assert.Equal(t, "7", gjson.Get(out, "value.client_id").String())

	_, err = env.run("logout")
	require.NoError(t, err)
	assert.Contains(t, env.backend.Hits(), "POST /auth/logout")
	assert.NoFileExists(t, env.sessionPath)

	out, err = env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: signed out")
}

func TestLoginRejected(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("login", "--email", "ada@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.NoFileExists(t, env.sessionPath)

	_, err = env.run("login", "--email", "not-an-email", "--password", "secret")
	require.Error(t, err)
	assert.Equal(t, []string{"POST /auth/login"}, env.backend.Hits(), "invalid credentials are not sent")
}

func TestLoginPasswordFromStdin(t *testing.T) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		t.Skip("stdin is a terminal")
	}
	env := newCLIEnv(t)

	out, err := env.runWithInput("secret\n", "login", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
}

func TestLoginWithOTP(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("login", "--email", "otp@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "advx verify-otp --token tmp-1")
	assert.NoFileExists(t, env.sessionPath)

	_, err = env.run("verify-otp", "--token", "tmp-1", "--otp", "12ab56")
	require.Error(t, err)

	out, err = env.run("verify-otp", "--token", "tmp-1", "--otp", "123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Login successful")
	assert.FileExists(t, env.sessionPath)
	assert.JSONEq(t, `{"token":"tmp-1","otp":"123456"}`, env.backend.Body("POST /auth/verify-otp"))
}

func TestGuardRefusesWithoutSession(t *testing.T) {
	env := newCLIEnv(t)

	for _, args := range [][]string{
		{"users", "list"},
		{"mappings", "user-outlet", "list"},
		{"dashboard", "stats"},
		{"whoami"},
	} {
		_, err := env.run(args...)
		assert.ErrorIs(t, err, ErrNotSignedIn, "%v", args)
	}
	assert.Empty(t, env.backend.Hits())
}

func TestGuardClearsExpiredSession(t *testing.T) {
	env := newCLIEnv(t)
	expired := "session_token: tok-1\nexpires_at: \"2001-01-01T00:00:00Z\"\nemail: ada@example.com\n"
	require.NoError(t, os.WriteFile(env.sessionPath, []byte(expired), 0o600))

	_, err := env.run("users", "list")
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.NoFileExists(t, env.sessionPath)
}

func TestResourceCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")

	out, err := env.run("users", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "USERNAME")
	assert.Contains(t, out, "ada@example.com")

	out, err = env.run("users", "create",
		"--set", "username=bob", "--set", "usernumber=5",
		"--set", "useremail=bob@example.com", "--set", "clientid=7")
	require.NoError(t, err, out)
	assert.JSONEq(t, `{"username":"bob","usernumber":5,"useremail":"bob@example.com","clientid":7}`,
		env.backend.Body("POST /admin/users"))
	hits := env.backend.Hits()
	require.GreaterOrEqual(t, len(hits), 2)
	assert.Equal(t, []string{"POST /admin/users", "GET /admin/users/"}, hits[len(hits)-2:], "create refreshes the list")

	out, err = env.run("users", "update", "2", "--set", "username=robert", "-j")
	require.NoError(t, err)
	assert.Equal(t, "2", gjson.Get(out, "value.id").String())
	assert.JSONEq(t, `{"username":"robert"}`, env.backend.Body("PUT /admin/users/2"))

	out, err = env.run("outlets", "list", "-j")
	require.NoError(t, err)
	assert.Equal(t, "7", gjson.Get(out, "value.0.client_id").String(), "client_id defaults to the signed-in client")

	_, err = env.run("services", "delete", "3", "4")
	require.NoError(t, err)
	assert.Contains(t, env.backend.Hits(), "DELETE /admin/services/3")
	assert.Contains(t, env.backend.Hits(), "DELETE /admin/services/4")
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")
	before := len(env.backend.Hits())

	_, err := env.run("users", "create", "--set", "username=bob")
	require.Error(t, err)
	assert.Len(t, env.backend.Hits(), before, "nothing is sent")

	_, err = env.run("users", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no payload given")
}

func TestCreateFromTemplatedFile(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")
	t.Setenv("ADVX_TEST_OUTLET", "101")

	file := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
user_id: 10
outlet_id: {{ .ENV.ADVX_TEST_OUTLET }}
client_id: {{ .Session.client_id }}
---
user_id: 11
outlet_id: 102
client_id: {{ .Session.client_id }}
`), 0o600))

	_, err := env.run("mappings", "user-outlet", "create", "-f", file)
	require.NoError(t, err)

	// the backend only serves this collection under /api/v1, which the
	// dispatcher reaches through its fallback prefixes
	var posted []string
	for _, h := range env.backend.Hits() {
		if strings.HasPrefix(h, "POST /") && h != "POST /auth/login" {
			posted = append(posted, h)
		}
	}
	attempt := []string{
		"POST /access/user-outlet-mappings",
		"POST /access/user-outlet-mappings",
		"POST /api/access/user-outlet-mappings",
		"POST /api/v1/access/user-outlet-mappings",
	}
	assert.Equal(t, append(append([]string{}, attempt...), attempt...), posted)

	created := env.backend.Created()
	require.Len(t, created, 2)
	assert.JSONEq(t, `{"user_id":10,"outlet_id":101,"client_id":7}`, created[0])
	assert.JSONEq(t, `{"user_id":11,"outlet_id":102,"client_id":7}`, created[1])
}

func TestTemplateNeedsSessionValue(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")

	file := filepath.Join(t.TempDir(), "service.yaml")
	require.NoError(t, os.WriteFile(file, []byte("servicename: {{ .Session.brand }}\n"), 0o600))

	_, err := env.run("services", "create", "-f", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing session value: brand")
}

func TestDashboardAndWhoami(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")

	out, err := env.run("dashboard", "stats", "-y")
	require.NoError(t, err)
	assert.Contains(t, out, "outlets: 12")
	assert.Contains(t, out, "users: 3")

	out, err = env.run("whoami", "-j")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", gjson.Get(out, "value.email").String())
}

func TestSessionWatchEndsOnExpiry(t *testing.T) {
	env := newCLIEnv(t)
	env.backend.expiry["short@example.com"] = 1500 * time.Millisecond
	env.login("short@example.com")

	out, err := env.run("session", "watch", "--interval", "50ms")
	assert.ErrorIs(t, err, ErrAlreadyHandled)
	assert.Contains(t, out, "watching session")
	assert.Contains(t, out, "signed-in -> signed-out (expired)")
	assert.Contains(t, out, "session ended: expired")
	assert.NoFileExists(t, env.sessionPath)
}

func TestConfigClear(t *testing.T) {
	env := newCLIEnv(t)
	env.login("ada@example.com")

	_, err := env.run("config", "clear")
	require.NoError(t, err)
	assert.NoFileExists(t, env.sessionPath)
	assert.NotContains(t, env.backend.Hits(), "POST /auth/logout")
}
