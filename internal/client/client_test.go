package client

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"capitania.club/internal/backend"
	"capitania.club/internal/gate"
	"capitania.club/internal/httpapi"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/obs"
	"capitania.club/internal/policy"
	"capitania.club/internal/store/memory"
	"capitania.club/internal/stream"
)

const password = "secret1"

type server struct {
	url     string
	store   *memory.Store
	changes *stream.Hub[backend.Change]
}

func newServer(t *testing.T) *server {
	t.Helper()
	obs.Setup(obs.LogConfig{Output: io.Discard})

	changes := stream.NewHub[backend.Change](64)
	t.Cleanup(changes.Close)
	store := memory.New(changes)
	tokens, err := identity.NewTokens("test-secret-0123456789", "capitania-test", time.Hour)
	require.NoError(t, err)
	ids := identity.NewService(store, tokens, identity.WithBcryptCost(bcrypt.MinCost))
	mem := members.NewService(store, ids, policy.New(policy.Context{}), "SenhaTemporaria123")
	api := httpapi.New(httpapi.Config{
		Identity: ids, Members: mem, Profiles: store, Changes: changes,
		RateBurst: 1000, RatePerSec: 1000,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	seed := func(id, cpf string, role member.Role, force bool) {
		hash, err := identity.HashPassword(password, bcrypt.MinCost)
		require.NoError(t, err)
		_, err = store.CreateMember(context.Background(), member.NewMember{
			ID: id, Email: id + "@club.com", PasswordHash: hash, Role: role,
			Metadata: member.Metadata{FullName: strings.ToUpper(id[:1]) + id[1:] + " Silva", CPF: cpf, IsActive: true, ForcePasswordChange: force},
		})
		require.NoError(t, err)
	}
	seed("admin", "22222222222", member.RoleAdmin, false)
	seed("socio", "44444444444", member.RoleSocio, false)
	seed("novo", "55555555555", member.RoleSocio, true)
	return &server{url: srv.URL, store: store, changes: changes}
}

func newClient(t *testing.T, s *server) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: s.url, Timeout: 5 * time.Second, Logger: obs.NewLogger(obs.LogConfig{Output: io.Discard})})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

type recorder struct {
	mu     sync.Mutex
	events []backend.EventKind
}

func (r *recorder) add(e backend.AuthEvent) {
	r.mu.Lock()
	r.events = append(r.events, e.Kind)
	r.mu.Unlock()
}

func (r *recorder) kinds() []backend.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backend.EventKind(nil), r.events...)
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "ftp://club", "://"} {
		_, err := New(Config{BaseURL: raw})
		assert.Error(t, err, raw)
	}
}

func TestSignInEmitsEvents(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	rec := &recorder{}
	sub := c.OnAuthStateChange(rec.add)
	defer sub.Unsubscribe()

	info, err := c.SignInWithCPF(context.Background(), "444.444.444-44", password)
	require.NoError(t, err)
	assert.Equal(t, gate.StateAuthenticated, info.State)
	require.NotNil(t, c.Session())
	assert.Equal(t, "socio", c.Session().UserID)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	require.NotNil(t, me.Profile)
	assert.Equal(t, "socio", me.Profile.ID)

	require.NoError(t, c.SignOut(context.Background()))
	assert.Nil(t, c.Session())

	require.Eventually(t, func() bool { return len(rec.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []backend.EventKind{backend.EventSignedIn, backend.EventSignedOut}, rec.kinds())
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	ctx := context.Background()

	_, err := c.SignInWithCPF(ctx, "44444444444", "wrong")
	assert.ErrorIs(t, err, identity.ErrAuthFailure)

	_, err = c.SignInWithPassword(ctx, "socio@club.com", password)
	require.NoError(t, err)

	_, err = c.ListMembers(ctx, "")
	assert.ErrorIs(t, err, policy.ErrPermissionDenied)
	code, ok := IsDenied(err)
	assert.True(t, ok)
	assert.Equal(t, policy.CodeNotManager, code)

	_, err = c.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, policy.ErrPermissionDenied)

	_, err = c.GetProfile(ctx, "socio")
	assert.NoError(t, err)
}

func TestRejectedTokenSignsOut(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	rec := &recorder{}
	defer c.OnAuthStateChange(rec.add).Unsubscribe()

	c.Restore(&backend.Session{UserID: "socio", AccessToken: "forged", ExpiresAt: time.Now().Add(time.Hour)})
	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, identity.ErrAuthFailure)
	assert.Nil(t, c.Session())
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, backend.EventSignedOut, rec.kinds()[0])
}

func TestExpiredSessionIsDropped(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	c.Restore(&backend.Session{UserID: "socio", AccessToken: "x", ExpiresAt: time.Now().Add(-time.Minute)})
	got, err := c.GetCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, c.Session())
}

func TestGateOverRemoteClient(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	ctx := context.Background()

	g := gate.New(c, c, gate.WithLogger(obs.NewLogger(obs.LogConfig{Output: io.Discard})))
	require.NoError(t, g.Start(ctx))
	defer g.Close()

	snap, err := g.WaitReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, gate.StateUnauthenticated, snap.State)

	waitState := func(want gate.State) {
		t.Helper()
		require.Eventually(t, func() bool { return g.State() == want }, 2*time.Second, 5*time.Millisecond, "want %s, have %s", want, g.State())
	}

	_, err = c.SignInWithCPF(ctx, "55555555555", password)
	require.NoError(t, err)
	waitState(gate.StateMustChangePassword)
	assert.False(t, g.BackNavigationAllowed())

	_, err = c.Card(ctx)
	assert.ErrorIs(t, err, ErrPasswordChangeRequired)

	require.NoError(t, c.UpdatePassword(ctx, "novasenha"))
	waitState(gate.StateAuthenticated)

	card, err := c.Card(ctx)
	require.NoError(t, err)
	assert.Equal(t, "novo", card.MemberID)

	require.NoError(t, g.SignOut(ctx))
	waitState(gate.StateUnauthenticated)
	assert.Nil(t, c.Session())
}

func TestSubscribeToTableChanges(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, "admin@club.com", password)
	require.NoError(t, err)

	got := make(chan backend.Change, 8)
	sub := c.SubscribeToTableChanges(backend.TableProfiles, func(ch backend.Change) {
		select {
		case got <- ch:
		default:
		}
	})
	defer sub.Unsubscribe()

	// Keep mutating until the stream is attached and relays one.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ch := <-got:
			assert.Equal(t, backend.TableProfiles, ch.Table)
			assert.Equal(t, "socio", ch.RecordID)
			return
		case <-tick.C:
			_, err := c.ToggleStatus(ctx, "socio")
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("no change received")
		}
	}
}

func TestParseSSE(t *testing.T) {
	body := ": stream started\n\n" +
		"event: change\ndata: {\"table\":\"profiles\",\"kind\":\"DELETE\",\"record_id\":\"u1\"}\n\n" +
		"data: not-json\n\n" +
		": ping\n\n"
	var got []backend.Change
	err := parseSSE(context.Background(), strings.NewReader(body), func(c backend.Change) { got = append(got, c) })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, backend.ChangeDelete, got[0].Kind)
	assert.Equal(t, "u1", got[0].RecordID)
}

func TestAuthEventBurstKeepsLastEvent(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	ctx := context.Background()

	rec := &recorder{}
	sub := c.OnAuthStateChange(rec.add)
	defer sub.Unsubscribe()

	g := gate.New(c, c, gate.WithLogger(obs.NewLogger(obs.LogConfig{Output: io.Discard})))
	require.NoError(t, g.Start(ctx))
	defer g.Close()
	_, err := g.WaitReady(ctx)
	require.NoError(t, err)

	_, err = c.SignInWithCPF(ctx, "44444444444", password)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return g.State() == gate.StateAuthenticated }, 2*time.Second, 5*time.Millisecond)

	// Far more events than any listener buffer, then sign out.
	const burst = 200
	for i := 0; i < burst; i++ {
		c.emit(backend.EventTokenRefreshed)
	}
	c.setSession(nil)
	c.emit(backend.EventSignedOut)

	require.Eventually(t, func() bool { return len(rec.kinds()) == burst+2 }, 2*time.Second, 5*time.Millisecond)
	kinds := rec.kinds()
	assert.Equal(t, backend.EventSignedIn, kinds[0])
	assert.Equal(t, backend.EventSignedOut, kinds[len(kinds)-1])

	require.Eventually(t, func() bool { return g.State() == gate.StateUnauthenticated }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, gate.StateUnauthenticated, g.State())
}

func TestCloseEndsTableSubscriptions(t *testing.T) {
	s := newServer(t)
	c := newClient(t, s)
	_, err := c.SignInWithPassword(context.Background(), "admin@club.com", password)
	require.NoError(t, err)

	sub := c.SubscribeToTableChanges(backend.TableProfiles, func(backend.Change) {})
	// Let the stream attach so Close has to interrupt a live request.
	require.Eventually(t, func() bool { return s.changes.Len() > 0 }, 2*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a live table subscription")
	}
	sub.Unsubscribe()
}
