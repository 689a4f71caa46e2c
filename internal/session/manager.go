package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultLogoutPath    = "/auth/logout"
	DefaultLoginPath     = "/login"
)

// Reasons reported with transitions.
const (
	ReasonRestored = "restored"
	ReasonRecorded = "recorded"
	ReasonLogout   = "logout"
	ReasonExpired  = "expired"
	ReasonCleared  = "cleared"
)

// LogoutCaller is the part of the dispatcher used to sign out on the backend.
type LogoutCaller interface {
	Post(ctx context.Context, path string, payload any, opts ...httpclient.RequestOption) (*httpclient.Response, error)
}

// Navigator sends the user to the login entry point.
type Navigator interface {
	NavigateToLogin(loginPath, reason string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(loginPath, reason string)

func (f NavigatorFunc) NavigateToLogin(loginPath, reason string) { f(loginPath, reason) }

// Event describes a state transition.
type Event struct {
	From    State
	To      State
	Reason  string
	Session *Session // nil once signed out
}

// Manager owns the session lifecycle.
type Manager struct {
	logout     LogoutCaller
	storages   []Storage
	cookies    *CookieMirror
	clock      clockwork.Clock
	interval   time.Duration
	nav        Navigator
	logoutPath string
	loginPath  string

	// opMu serialises every change to the stored session, so a validity
	// check and the clear it decides on cannot interleave with a recording.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	current *Session
	subs    map[int]func(Event)
	nextSub int

	sweepMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithStorage sets the storage scopes. The first scope is authoritative for
// validity checks; the others are written as redundant copies.
func WithStorage(storages ...Storage) Option {
	return func(m *Manager) {
		m.storages = storages
	}
}

func WithCookieMirror(c *CookieMirror) Option {
	return func(m *Manager) {
		m.cookies = c
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		m.nav = n
	}
}

func WithLogoutPath(p string) Option {
	return func(m *Manager) {
		m.logoutPath = p
	}
}

func WithLoginPath(p string) Option {
	return func(m *Manager) {
		m.loginPath = p
	}
}

// NewManager creates a manager in StateUnknown. Call Restore to perform the
// initial validity check.
func NewManager(logout LogoutCaller, opts ...Option) *Manager {
	m := &Manager{
		logout:     logout,
		clock:      clockwork.NewRealClock(),
		interval:   DefaultSweepInterval,
		logoutPath: DefaultLogoutPath,
		loginPath:  DefaultLoginPath,
		subs:       make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.storages) == 0 {
		m.storages = []Storage{NewMemoryStorage()}
	}
	return m
}

// Restore performs the initial validity check against stored values. A valid
// stored session is re-synchronised to every scope and the cookie mirror;
// anything else is cleared.
func (m *Manager) Restore() State {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	stored := m.stored()
	if !IsValid(stored.Token, stored.ExpiresAt, m.clock.Now()) {
		m.clear(ReasonRestored)
		return StateSignedOut
	}
	if err := m.persist(stored); err != nil {
		log.Warn().Err(err).Msg("unable to re-synchronise stored session")
	}
	m.transition(StateSignedIn, stored, ReasonRestored)
	return StateSignedIn
}

// RecordSession signs in from a response carrying session_token, expires_at
// and the user profile. Any later response carrying a new pair replaces the
// session. A response without both values, or with an expiry that has already
// passed, leaves the state untouched.
func (m *Manager) RecordSession(body []byte) error {
	s, err := ParseResponse(body)
	if err != nil {
		log.Warn().Err(err).Msg("session response not recorded")
		return err
	}
	if !IsValid(s.Token, s.ExpiresAt, m.clock.Now()) {
		err := apperrors.Invalid("session response carries an expiry in the past")
		log.Warn().Time("expires_at", s.ExpiresAt).Msg("session response not recorded")
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	prev := m.stored()
	if err := m.persist(s); err != nil {
		m.rollback(prev)
		return err
	}
	m.transition(StateSignedIn, s, ReasonRecorded)
	return nil
}

// rollback puts back the stored values that were in place before a failed
// persist. A previous session that was no longer valid is wiped instead.
// The state is not changed.
func (m *Manager) rollback(prev *Session) {
	if !IsValid(prev.Token, prev.ExpiresAt, m.clock.Now()) {
		m.wipe()
		return
	}
	if err := m.persist(prev); err != nil {
		log.Warn().Err(err).Msg("unable to restore previous session after a failed update")
	}
}

// Logout signs out on the backend on a best-effort basis, then clears local
// state unconditionally and navigates to the login entry point. A backend
// failure is logged and never surfaced.
func (m *Manager) Logout(ctx context.Context) {
	if m.logout != nil {
		if _, err := m.logout.Post(ctx, m.logoutPath, nil); err != nil {
			log.Warn().Err(err).Msg("logout request failed, clearing local session anyway")
		}
	}
	m.opMu.Lock()
	m.clear(ReasonLogout)
	m.opMu.Unlock()
	m.navigate(ReasonLogout)
}

// Clear removes the session from every scope and the cookie mirror.
func (m *Manager) Clear() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.clear(ReasonCleared)
}

// TokenValid applies IsValid to the values of the authoritative scope.
func (m *Manager) TokenValid() bool {
	s := m.stored()
	return IsValid(s.Token, s.ExpiresAt, m.clock.Now())
}

// Sweep runs one validity check. A signed-in session whose stored token is
// missing or expired is cleared and the navigator is sent to the login path.
// It reports whether the session was cleared.
func (m *Manager) Sweep() bool {
	m.opMu.Lock()
	expired := m.SignedIn() && !m.TokenValid()
	if expired {
		log.Info().Msg("session expired, signing out")
		m.clear(ReasonExpired)
	}
	m.opMu.Unlock()
	if expired {
		m.navigate(ReasonExpired)
	}
	return expired
}

// Start launches the periodic sweep. It runs until ctx is done or Stop is
// called. Starting a running sweep is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	ticker := m.clock.NewTicker(m.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.Sweep()
			}
		}
	}()
}

// SetSweepInterval changes the interval used by the next Start.
func (m *Manager) SetSweepInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.sweepMu.Lock()
	m.interval = d
	m.sweepMu.Unlock()
}

// Stop cancels the sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.sweepMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.sweepMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Subscribe registers fn for every transition and returns a function that
// removes it. Callbacks run outside the state lock but while the transition
// is being applied, so they must not call RecordSession, Clear, Logout,
// Restore or Sweep.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) SignedIn() bool {
	return m.State() == StateSignedIn
}

// User returns the profile of the current session.
func (m *Manager) User() (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Profile{}, false
	}
	return m.current.User, true
}

// Current returns a copy of the current session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	cp := *m.current
	return &cp
}

// Token implements httpclient.TokenSource.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.Token
}

// Expiry implements httpclient.TokenSource.
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return time.Time{}
	}
	return m.current.ExpiresAt
}

// LoginPath is where the navigator is sent on sign-out.
func (m *Manager) LoginPath() string {
	return m.loginPath
}

func (m *Manager) stored() *Session {
	return fromValues(m.storages[0].Get)
}

func (m *Manager) persist(s *Session) error {
	values := s.Values()
	var errs []error
	for _, st := range m.storages {
		if err := st.Set(values); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if m.cookies != nil {
		m.cookies.Mirror(s.Token, s.RawExpiry(), s.ExpiresAt)
	}
	return nil
}

// clear wipes the stored session and signs out. Callers hold opMu.
func (m *Manager) clear(reason string) {
	m.wipe()
	m.transition(StateSignedOut, nil, reason)
}

func (m *Manager) wipe() {
	for _, st := range m.storages {
		if err := st.Remove(AllKeys...); err != nil {
			log.Warn().Err(err).Msg("unable to remove stored session")
		}
	}
	if m.cookies != nil {
		m.cookies.Clear()
	}
}

func (m *Manager) transition(to State, s *Session, reason string) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.current = s
	subs := make([]func(Event), 0, len(m.subs))
	if from != to || reason == ReasonRecorded {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	var snapshot *Session
	if s != nil {
		cp := *s
		snapshot = &cp
	}
	for _, fn := range subs {
		fn(Event{From: from, To: to, Reason: reason, Session: snapshot})
	}
}

func (m *Manager) navigate(reason string) {
	if m.nav == nil {
		log.Info().Str("login_path", m.loginPath).Str("reason", reason).Msg("sign-in required")
		return
	}
	m.nav.NavigateToLogin(m.loginPath, reason)
}
