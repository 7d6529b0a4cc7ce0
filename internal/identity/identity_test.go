package identity

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"capitania.club/internal/backend"
	"capitania.club/internal/gate"
	"capitania.club/internal/member"
	"capitania.club/internal/obs"
	"capitania.club/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	tokens, err := NewTokens("test-secret-0123456789", "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	store := memory.New(nil)
	svc := NewService(store, tokens,
		WithBcryptCost(bcrypt.MinCost),
		WithLogger(obs.NewLogger(obs.LogConfig{Output: io.Discard})))
	return svc, store
}

func signUp(t *testing.T, svc *Service, email, cpf string, meta member.Metadata) member.Profile {
	t.Helper()
	meta.CPF = cpf
	if meta.FullName == "" {
		meta.FullName = "Test Member"
	}
	p, err := svc.SignUp(context.Background(), email, "secret1", meta)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return p
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("test-secret-0123456789", "capitania", time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, expires, err := tokens.Issue("user-42", member.RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiration, got %v", expires)
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-42" || claims.Role != member.RoleAdmin || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokensRejectTampering(t *testing.T) {
	tokens, _ := NewTokens("test-secret-0123456789", "capitania", time.Minute)
	other, _ := NewTokens("another-secret-987654", "capitania", time.Minute)
	token, _, _ := other.Issue("user-1", member.RoleSocio)
	if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	wrongIssuer, _ := NewTokens("test-secret-0123456789", "someone-else", time.Minute)
	token, _, _ = wrongIssuer.Issue("user-1", member.RoleSocio)
	if _, err := tokens.Parse(token); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for wrong issuer, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", Issuer: "capitania"})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := tokens.Parse(raw); err == nil {
		t.Fatal("unsigned token accepted")
	}
}

func TestTokensExpire(t *testing.T) {
	tokens, _ := NewTokens("test-secret-0123456789", "capitania", time.Minute)
	base := time.Now().UTC()
	tokens.now = func() time.Time { return base }
	token, _, _ := tokens.Issue("user-1", member.RoleSocio)
	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestNewTokensValidation(t *testing.T) {
	if _, err := NewTokens(" ", "x", time.Minute); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewTokens("secret", "x", 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
}

func TestSignInWithCPF(t *testing.T) {
	svc, _ := newTestService(t)
	p := signUp(t, svc, "Ana@Club.com", "123.456.789-01", member.Metadata{FullName: "Ana Souza"})

	res, err := svc.SignInWithCPF(context.Background(), "12345678901", "secret1")
	if err != nil {
		t.Fatalf("SignInWithCPF: %v", err)
	}
	if res.Session.UserID != p.ID || res.Session.AccessToken == "" {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if res.Profile.Email != "ana@club.com" {
		t.Fatalf("email not normalized: %q", res.Profile.Email)
	}

	session, claims, err := svc.Authenticate(res.Session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if session.UserID != p.ID || claims.Role != member.RoleSocio {
		t.Fatalf("unexpected authenticate result: %+v %+v", session, claims)
	}
}

func TestSignInFailures(t *testing.T) {
	svc, _ := newTestService(t)
	signUp(t, svc, "ana@club.com", "12345678901", member.Metadata{})

	ctx := context.Background()
	if _, err := svc.SignInWithCPF(ctx, "99999999999", "secret1"); !errors.Is(err, ErrCPFNotRegistered) {
		t.Fatalf("expected ErrCPFNotRegistered, got %v", err)
	}
	if _, err := svc.SignInWithCPF(ctx, "123", "secret1"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure for short cpf, got %v", err)
	}
	if _, err := svc.SignInWithCPF(ctx, "12345678901", "wrong!"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if _, err := svc.SignInWithPassword(ctx, "nobody@club.com", "secret1"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
}

func TestInactiveMemberCanSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	signUp(t, svc, "new@club.com", "11122233344", member.Metadata{IsActive: false})

	res, err := svc.SignInWithPassword(context.Background(), "new@club.com", "secret1")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if res.Profile.IsActive || res.Profile.StatusLabel() != "PENDENTE" {
		t.Fatalf("expected pending member, got %+v", res.Profile)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name, email, password string
		meta                  member.Metadata
	}{
		{"bad email", "nope", "secret1", member.Metadata{FullName: "A", CPF: "12345678901"}},
		{"short password", "a@club.com", "123", member.Metadata{FullName: "A", CPF: "12345678901"}},
		{"no name", "a@club.com", "secret1", member.Metadata{CPF: "12345678901"}},
		{"short cpf", "a@club.com", "secret1", member.Metadata{FullName: "A", CPF: "1234"}},
	}
	for _, tc := range cases {
		if _, err := svc.SignUp(ctx, tc.email, tc.password, tc.meta); !errors.Is(err, member.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}

	signUp(t, svc, "dup@club.com", "12345678901", member.Metadata{})
	if _, err := svc.SignUp(ctx, "dup@club.com", "secret1", member.Metadata{FullName: "B", CPF: "10987654321"}); !errors.Is(err, member.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCompletePasswordChange(t *testing.T) {
	svc, _ := newTestService(t)
	p := signUp(t, svc, "ana@club.com", "12345678901", member.Metadata{ForcePasswordChange: true})
	ctx := context.Background()

	if _, err := svc.CompletePasswordChange(ctx, p.ID, "12345"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	updated, err := svc.CompletePasswordChange(ctx, p.ID, "brand-new")
	if err != nil {
		t.Fatalf("CompletePasswordChange: %v", err)
	}
	if updated.ForcePasswordChange {
		t.Fatal("forced change flag not cleared")
	}
	if _, err := svc.CompletePasswordChange(ctx, "ghost", "brand-new"); !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown member, got %v", err)
	}
	if _, err := svc.SignInWithPassword(ctx, "ana@club.com", "secret1"); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := svc.SignInWithPassword(ctx, "ana@club.com", "brand-new"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestValidatePasswordChange(t *testing.T) {
	if err := ValidatePasswordChange("abcdef", "abcdef"); err != nil {
		t.Fatalf("valid change rejected: %v", err)
	}
	if err := ValidatePasswordChange("abcdef", "abcdeg"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := ValidatePasswordChange("abc", "abc"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("unexpected user in empty context")
	}
	ctx = ContextWithPrincipal(ctx, Principal{
		Session: backend.Session{UserID: "user-7"},
		Profile: member.Profile{ID: "user-7", Role: member.RoleAdmin},
		State:   gate.StateAuthenticated,
	})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	p, _ := PrincipalFromContext(ctx)
	if p.State != gate.StateAuthenticated || p.Profile.Role != member.RoleAdmin {
		t.Fatalf("unexpected principal: %+v", p)
	}
}
