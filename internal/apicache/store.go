// Package apicache keeps the last known state of every registered endpoint and
// mediates fetches and creates against it. At most one fetch per endpoint is
// in flight at a time; a fetch whose parameters equal those of the last
// successful fetch is skipped.
package apicache

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/advancex/advx/internal/api"
	"github.com/advancex/advx/internal/common/apperrors"
	"github.com/advancex/advx/internal/common/httpclient"
	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownEndpoint = apperrors.New("unknown endpoint")
	ErrNotSupported    = apperrors.New("operation not supported by endpoint")
)

// State is the observable state of one endpoint.
type State struct {
	Data        json.RawMessage
	Loading     bool
	Err         error
	LastFetched time.Time // zero until the first successful fetch
	Params      httpclient.Params
}

type entry struct {
	state     State
	paramsKey string // key of state.Params

	// completedKey is the key of the last fetch that succeeded; it is reset
	// when a fetch fails.
	completedKey string

	fetching bool
	idle     chan struct{} // closed when the current fetch finishes
	creating int
}

func (e *entry) loading() bool {
	return e.fetching || e.creating > 0
}

// Store holds one State per registered endpoint for the life of the process.
type Store struct {
	registry *api.Registry
	clock    clockwork.Clock

	mu      sync.Mutex
	entries map[api.EndpointName]*entry
	subs    map[int]func(api.EndpointName, State)
	nextSub int
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates the state of every endpoint in registry up front.
func New(registry *api.Registry, opts ...Option) *Store {
	s := &Store{
		registry: registry,
		clock:    clockwork.NewRealClock(),
		entries:  make(map[api.EndpointName]*entry),
		subs:     make(map[int]func(api.EndpointName, State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	empty, _ := paramsKey(nil)
	for _, name := range registry.Names() {
		s.entries[name] = &entry{paramsKey: empty}
	}
	return s
}

// Fetch reads the endpoint with params and records the outcome. It returns
// immediately, without a network call, when a fetch for the endpoint is
// already in flight, while a create is running, or when params equal those of
// the last successful fetch.
// A failed fetch keeps the previous data; its error is recorded and returned.
func (s *Store) Fetch(ctx context.Context, name api.EndpointName, params httpclient.Params) error {
	ep, err := s.endpoint(name)
	if err != nil {
		return err
	}
	if ep.Get == nil {
		return ErrNotSupported.Msg(string(name) + " cannot be fetched")
	}
	key, err := paramsKey(params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e := s.entries[name]
	if e.loading() {
		s.mu.Unlock()
		log.Debug().Str("endpoint", string(name)).Msg("fetch already in flight, dropped")
		return nil
	}
	if e.completedKey != "" && key == e.completedKey {
		s.mu.Unlock()
		log.Debug().Str("endpoint", string(name)).Msg("params unchanged, fetch skipped")
		return nil
	}
	s.begin(e, params, key)
	snapshot := e.state.clone()
	s.mu.Unlock()
	s.notify(name, snapshot)

	return s.load(ctx, ep, params, key)
}

// Create invokes the endpoint's create operation and returns the created
// resource's data. On success, an endpoint that can also be read is fetched
// again with the last used params, regardless of whether they changed; a
// fetch already in flight is waited for first. On failure the error is
// recorded and returned.
func (s *Store) Create(ctx context.Context, name api.EndpointName, payload any) (json.RawMessage, error) {
	ep, err := s.endpoint(name)
	if err != nil {
		return nil, err
	}
	if ep.Create == nil {
		return nil, ErrNotSupported.Msg(string(name) + " cannot be created")
	}

	s.mu.Lock()
	e := s.entries[name]
	e.creating++
	e.state.Loading = true
	e.state.Err = nil
	snapshot := e.state.clone()
	s.mu.Unlock()
	s.notify(name, snapshot)

	data, err := ep.Create(ctx, payload)
	if err != nil {
		s.endCreate(name, err)
		return nil, err
	}
	if ep.Get == nil {
		s.endCreate(name, nil)
		return data, nil
	}

	s.mu.Lock()
	for e.fetching {
		idle := e.idle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Str("endpoint", string(name)).Msg("refresh after create abandoned")
			s.endCreate(name, nil)
			return data, nil
		}
		s.mu.Lock()
	}
	e.creating--
	params, key := maps.Clone(e.state.Params), e.paramsKey
	s.begin(e, params, key)
	snapshot = e.state.clone()
	s.mu.Unlock()
	s.notify(name, snapshot)

	if ferr := s.load(ctx, ep, params, key); ferr != nil {
		log.Warn().Err(ferr).Str("endpoint", string(name)).Msg("refresh after create failed")
	}
	return data, nil
}

// Snapshot returns a copy of the endpoint's current state.
func (s *Store) Snapshot(name api.EndpointName) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return State{}, false
	}
	return e.state.clone(), true
}

// Subscribe registers fn for every state change. Callbacks run outside the
// store's lock.
func (s *Store) Subscribe(fn func(api.EndpointName, State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) endpoint(name api.EndpointName) (api.Endpoint, error) {
	ep, ok := s.registry.Lookup(name)
	if !ok {
		return api.Endpoint{}, ErrUnknownEndpoint.Msg("unknown endpoint " + string(name))
	}
	return ep, nil
}

// begin marks a fetch with params as in flight. Callers hold s.mu.
func (s *Store) begin(e *entry, params httpclient.Params, key string) {
	e.fetching = true
	e.idle = make(chan struct{})
	e.state.Loading = true
	e.state.Err = nil
	e.state.Params = maps.Clone(params)
	e.paramsKey = key
}

func (s *Store) load(ctx context.Context, ep api.Endpoint, params httpclient.Params, key string) error {
	data, err := ep.Get(ctx, params)

	s.mu.Lock()
	e := s.entries[ep.Name]
	if err != nil {
		e.state.Err = err
		e.completedKey = ""
	} else {
		e.state.Data = data
		e.state.LastFetched = s.clock.Now()
		e.completedKey = key
	}
	e.fetching = false
	close(e.idle)
	e.state.Loading = e.loading()
	snapshot := e.state.clone()
	s.mu.Unlock()
	s.notify(ep.Name, snapshot)

	if err != nil {
		log.Warn().Err(err).Str("endpoint", string(ep.Name)).Msg("fetch failed")
	}
	return err
}

// endCreate records the end of a create that does not go on to refetch.
func (s *Store) endCreate(name api.EndpointName, err error) {
	s.mu.Lock()
	e := s.entries[name]
	e.creating--
	if err != nil {
		e.state.Err = err
	}
	e.state.Loading = e.loading()
	snapshot := e.state.clone()
	s.mu.Unlock()
	s.notify(name, snapshot)
}

func (s *Store) notify(name api.EndpointName, st State) {
	s.mu.Lock()
	subs := make([]func(api.EndpointName, State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(name, st)
	}
}

func (st State) clone() State {
	cp := st
	cp.Params = maps.Clone(st.Params)
	if st.Data != nil {
		cp.Data = append(json.RawMessage(nil), st.Data...)
	}
	return cp
}

// paramsKey is the canonical JSON form of params. A nil map and an empty
// map are equal.
func paramsKey(params httpclient.Params) (string, error) {
	if params == nil {
		params = httpclient.Params{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}
