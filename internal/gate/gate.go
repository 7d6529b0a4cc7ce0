package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"capitania.club/internal/backend"
	"capitania.club/internal/member"
	"capitania.club/internal/obs"
	"capitania.club/internal/stream"
)

// Snapshot is an immutable view of the gate after a committed resolution.
type Snapshot struct {
	State   State
	Session *backend.Session
	Profile *member.Profile
	// Err holds the lookup failure that forced a conservative resolution.
	Err error
	// Token is the sequence number of the resolution that produced this
	// snapshot.
	Token uint64
}

// Option configures a Gate.
type Option func(*Gate)

// WithFailOpen resolves failed profile lookups to Authenticated instead of
// MustChangePassword.
func WithFailOpen() Option {
	return func(g *Gate) { g.failOpen = true }
}

// WithLogger sets the logger used for transition lines.
func WithLogger(l *charmlog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithFetchTimeout bounds each profile lookup.
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Gate) { g.fetchTimeout = d }
}

// Gate resolves the stream of auth events into exactly one steady state.
// Each resolution takes a monotonically increasing token and commits only
// if no newer resolution was started in the meantime.
type Gate struct {
	auth         backend.Auth
	profiles     backend.ProfileReader
	failOpen     bool
	fetchTimeout time.Duration
	log          *charmlog.Logger

	mu       sync.Mutex
	current  Snapshot
	seq      uint64
	cancel   context.CancelFunc
	baseCtx  context.Context
	stop     context.CancelFunc
	started  bool
	closed   bool
	sub      backend.Subscription
	inflight sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	watchers  *stream.Hub[Snapshot]
}

// New builds a gate in the Loading state. Call Start to begin resolving.
func New(auth backend.Auth, profiles backend.ProfileReader, opts ...Option) *Gate {
	g := &Gate{
		auth:         auth,
		profiles:     profiles,
		fetchTimeout: 10 * time.Second,
		log:          obs.Logger(),
		current:      Snapshot{State: StateLoading},
		ready:        make(chan struct{}),
		watchers:     stream.NewHub[Snapshot](16),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start subscribes to auth events and resolves the current session. It
// returns immediately; use Ready or WaitReady to block on the first
// resolution.
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	g.baseCtx, g.stop = context.WithCancel(ctx)
	// The initial lookup takes the first token so that any event delivered
	// by the subscription supersedes it.
	token, fetchCtx := g.beginLocked()
	g.inflight.Add(1)
	g.mu.Unlock()

	sub := g.auth.OnAuthStateChange(g.HandleEvent)
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		sub.Unsubscribe()
	} else {
		g.sub = sub
		g.mu.Unlock()
	}

	go func() {
		defer g.inflight.Done()
		session, err := g.auth.GetCurrentSession(fetchCtx)
		if err != nil {
			if fetchCtx.Err() == nil {
				g.log.Warn("gate: current session unavailable", "err", err)
			}
			session = nil
		}
		g.resolve(fetchCtx, token, backend.EventInitialSession, session)
	}()
	return nil
}

// HandleEvent starts a resolution for one auth notification. Events are
// expected in emission order; each one supersedes every earlier one.
func (g *Gate) HandleEvent(evt backend.AuthEvent) {
	g.mu.Lock()
	if g.closed || !g.started {
		g.mu.Unlock()
		return
	}
	token, fetchCtx := g.beginLocked()
	g.inflight.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.inflight.Done()
		g.resolve(fetchCtx, token, evt.Kind, evt.Session)
	}()
}

// beginLocked issues a new token and cancels the lookup it supersedes.
func (g *Gate) beginLocked() (uint64, context.Context) {
	g.seq++
	if g.cancel != nil {
		g.cancel()
	}
	ctx, cancel := context.WithCancel(g.baseCtx)
	g.cancel = cancel
	return g.seq, ctx
}

func (g *Gate) resolve(ctx context.Context, token uint64, kind backend.EventKind, session *backend.Session) {
	start := time.Now()
	snap := Snapshot{Session: session, Token: token}

	if session.Authenticated() {
		fetchCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
		profile, err := g.profiles.GetProfile(fetchCtx, session.UserID)
		cancel()
		if err != nil {
			snap.Err = fmt.Errorf("%w: %w", ErrProfileFetch, err)
		} else {
			snap.Profile = &profile
		}
	}
	snap.State = Resolve(session, snap.Profile, snap.Err, g.failOpen)

	outcome := "committed"
	if !g.commit(snap) {
		outcome = "stale"
	}
	obs.ObserveGateResolve(outcome, time.Since(start))
	if outcome == "stale" {
		g.log.Debug("gate: discarded stale resolution", "event", kind, "token", token)
		return
	}
	if snap.Err != nil && !errors.Is(snap.Err, context.Canceled) {
		g.log.Warn("gate: profile lookup failed", "event", kind, "user_id", session.UserID, "state", snap.State, "err", snap.Err)
	}
}

// commit installs snap if its token is still the latest.
func (g *Gate) commit(snap Snapshot) bool {
	g.mu.Lock()
	if g.closed || snap.Token != g.seq {
		g.mu.Unlock()
		return false
	}
	prev := g.current
	g.current = snap
	g.mu.Unlock()

	g.readyOnce.Do(func() { close(g.ready) })
	if prev.State != snap.State {
		obs.ObserveGateTransition(string(prev.State), string(snap.State))
		g.log.Info("gate: transition", "from", prev.State, "to", snap.State, "token", snap.Token)
	}
	g.watchers.Publish(snap)
	return true
}

// PasswordChanged moves MustChangePassword to Authenticated after the user
// completed the forced change.
func (g *Gate) PasswordChanged() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	cur := g.current
	if cur.State != StateMustChangePassword {
		g.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotPending, cur.State)
	}
	token, _ := g.beginLocked()
	g.mu.Unlock()

	next := Snapshot{State: StateAuthenticated, Session: cur.Session, Token: token}
	if cur.Profile != nil {
		p := *cur.Profile
		p.ForcePasswordChange = false
		next.Profile = &p
	}
	g.commit(next)
	return nil
}

// SignOut asks the backend to end the session and resets the gate to
// Unauthenticated. The local reset happens even if the backend call fails.
func (g *Gate) SignOut(ctx context.Context) error {
	err := g.auth.SignOut(ctx)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	token, _ := g.beginLocked()
	g.mu.Unlock()

	g.commit(Snapshot{State: StateUnauthenticated, Token: token})
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Current returns the latest committed snapshot.
func (g *Gate) Current() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// State returns the latest committed state.
func (g *Gate) State() State {
	return g.Current().State
}

// Stack returns the screen stack mounted in the current state.
func (g *Gate) Stack() Stack {
	return StackFor(g.State())
}

// BackNavigationAllowed is false while the password reset is forced.
func (g *Gate) BackNavigationAllowed() bool {
	return g.Stack().BackNavigation
}

// Ready is closed after the first resolution commits.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

// WaitReady blocks until the first resolution or ctx ends.
func (g *Gate) WaitReady(ctx context.Context) (Snapshot, error) {
	select {
	case <-g.ready:
		return g.Current(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Watch delivers every committed snapshot until ctx ends. A slow reader may
// miss intermediate snapshots; Current is always authoritative.
func (g *Gate) Watch(ctx context.Context) <-chan Snapshot {
	return g.watchers.Subscribe(ctx)
}

// Close unsubscribes from auth events, abandons in-flight lookups and
// waits for them to return. Calling Close again is a no-op.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	sub := g.sub
	if g.cancel != nil {
		g.cancel()
	}
	if g.stop != nil {
		g.stop()
	}
	g.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	g.inflight.Wait()
	g.watchers.Close()
}
