package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/advancex/advx/internal/api"
	"github.com/advancex/advx/internal/apicache"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/advancex/advx/internal/session"
)

// runtime wires the dispatcher, session manager, API wrappers and endpoint
// cache for one command invocation.
type runtime struct {
	cfg      *Config
	client   *httpclient.Client
	session  *session.Manager
	api      *api.Client
	registry *api.Registry
	store    *apicache.Store
	nav      *loginNavigator
}

var rt *runtime

// getRuntime builds the runtime from the loaded configuration on first use
// and restores any persisted session.
func getRuntime() (*runtime, error) {
	if rt != nil {
		return rt, nil
	}
	cfg := GetConfig()
	if cfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	client, err := httpclient.New(cfg.GetServerURL(),
		httpclient.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
		httpclient.WithHeader("User-Agent", "advx/"+cliVersion),
	)
	if err != nil {
		return nil, err
	}

	sessionFile, err := cfg.GetSessionFile()
	if err != nil {
		return nil, err
	}
	interval, err := cfg.GetSweepInterval()
	if err != nil {
		return nil, err
	}

	nav := newLoginNavigator(os.Stderr)
	mgr := session.NewManager(client,
		session.WithStorage(session.NewFileStorage(sessionFile), session.NewMemoryStorage()),
		session.WithCookieMirror(session.NewCookieMirror(client.Jar(), client.BaseURL())),
		session.WithSweepInterval(interval),
		session.WithLogoutPath(api.PathLogout),
		session.WithNavigator(nav),
	)
	client.SetTokenSource(mgr)
	mgr.Restore()

	apiClient := api.New(client)
	registry := api.NewRegistry(apiClient)
	rt = &runtime{
		cfg:      cfg,
		client:   client,
		session:  mgr,
		api:      apiClient,
		registry: registry,
		store:    apicache.New(registry),
		nav:      nav,
	}
	return rt, nil
}

func releaseRuntime() {
	if rt != nil {
		rt.session.Stop()
		rt = nil
	}
}

// loginNavigator is where the session manager sends the user when a sign-in
// is required. On the command line that is a hint to run "advx login".
type loginNavigator struct {
	out       io.Writer
	signedOut chan string
}

func newLoginNavigator(out io.Writer) *loginNavigator {
	return &loginNavigator{out: out, signedOut: make(chan string, 1)}
}

func (n *loginNavigator) NavigateToLogin(loginPath, reason string) {
	switch reason {
	case session.ReasonLogout:
		fmt.Fprintln(n.out, "Signed out. Sign in again with \"advx login\"")
	default:
		warnLabel.Fprintf(n.out, "Session %s. Sign in again with \"advx login\"\n", reason)
	}
	select {
	case n.signedOut <- reason:
	default:
	}
}

// Done is signalled with the reason whenever the user was sent to sign in.
func (n *loginNavigator) Done() <-chan string {
	return n.signedOut
}
