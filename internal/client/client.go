// Package client talks to the Capitania API over HTTP. A Client is an
// explicit session context: it holds at most one session, reports auth
// changes to listeners and implements backend.Client so the session gate
// can run against a remote server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"

	"capitania.club/internal/backend"
	"capitania.club/internal/fixtures"
	"capitania.club/internal/gate"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/obs"
	"capitania.club/internal/policy"
	"capitania.club/internal/stream"
	"capitania.club/internal/wallet"
)

const defaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Logger     *charmlog.Logger
	// HTTPClient replaces the transport, mostly for tests.
	HTTPClient *http.Client
}

// SessionInfo is the server's view of a session.
type SessionInfo struct {
	Session backend.Session `json:"session"`
	Profile *member.Profile `json:"profile,omitempty"`
	State   gate.State      `json:"state"`
	Stack   gate.Stack      `json:"stack"`
}

type Client struct {
	http    *resty.Client
	baseURL string
	log     *charmlog.Logger
	events  *stream.Feed[backend.AuthEvent]

	mu      sync.Mutex
	session *backend.Session
	now     func() time.Time

	// emitMu pairs each event with the session it reports.
	emitMu sync.Mutex

	// ctx parents every table subscription; Close cancels it.
	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

var _ backend.Client = (*Client)(nil)

// New validates the base URL and builds the HTTP client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("base URL must be an absolute http(s) URL, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.Logger()
	}

	var hc *resty.Client
	if cfg.HTTPClient != nil {
		hc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		hc = resty.New()
	}
	hc.SetBaseURL(base.String()).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	hc.AddRetryCondition(retryCondition)

	ctx, stop := context.WithCancel(context.Background())
	return &Client{
		http:    hc,
		baseURL: base.String(),
		log:     logger,
		events:  stream.NewFeed[backend.AuthEvent](),
		now:     time.Now,
		ctx:     ctx,
		stop:    stop,
	}, nil
}

// retryCondition retries reads on transport errors and 5xx, and anything
// that was rate limited.
func retryCondition(r *resty.Response, err error) bool {
	if r == nil {
		return false
	}
	if r.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	if r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	return err != nil || r.StatusCode() >= 500
}

// Close stops table subscriptions, waits for their goroutines and releases
// auth listeners.
func (c *Client) Close() {
	c.stop()
	c.events.Close()
	c.wg.Wait()
}

// Restore installs a previously saved session without emitting an event.
// The gate picks it up through GetCurrentSession.
func (c *Client) Restore(s *backend.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil || s.AccessToken == "" {
		c.session = nil
		return
	}
	cp := *s
	c.session = &cp
}

// Session returns a copy of the current session, or nil.
func (c *Client) Session() *backend.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) setSession(s *backend.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) emit(kind backend.EventKind) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.events.Publish(backend.AuthEvent{Kind: kind, Session: c.Session()})
}

// GetCurrentSession returns the held session. An expired session is
// dropped and reported as none.
func (c *Client) GetCurrentSession(context.Context) (*backend.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	if c.session.Expired(c.now()) {
		c.session = nil
		return nil, nil
	}
	cp := *c.session
	return &cp, nil
}

// OnAuthStateChange registers fn for auth events. Every event is delivered,
// in emission order, so the last one seen is always the latest.
func (c *Client) OnAuthStateChange(fn func(backend.AuthEvent)) backend.Subscription {
	return c.events.Listen(fn)
}

// do performs one request. A 401 on an authenticated call drops the session
// and emits SIGNED_OUT.
func (c *Client) do(ctx context.Context, method, path string, body, result any) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetError(&APIError{})
	token := c.token()
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return resp, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() < 400 {
		return resp, nil
	}
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{Message: strings.TrimSpace(resp.String())}
	}
	apiErr.Status = resp.StatusCode()
	if apiErr.Status == http.StatusUnauthorized && token != "" && token == c.token() {
		c.log.Warn("client: session rejected, signing out", "path", path)
		c.setSession(nil)
		c.emit(backend.EventSignedOut)
	}
	return resp, apiErr
}

func (c *Client) signIn(ctx context.Context, body map[string]string) (*SessionInfo, error) {
	var out SessionInfo
	if _, err := c.do(ctx, http.MethodPost, "/v1/auth/login", body, &out); err != nil {
		return nil, err
	}
	s := out.Session
	c.setSession(&s)
	c.emit(backend.EventSignedIn)
	return &out, nil
}

// SignInWithPassword signs in by e-mail.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	out, err := c.signIn(ctx, map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// SignInWithCPF signs in by CPF, the way members log in at the club.
func (c *Client) SignInWithCPF(ctx context.Context, cpf, password string) (*SessionInfo, error) {
	return c.signIn(ctx, map[string]string{"cpf": cpf, "password": password})
}

// SignUp registers a new member. The server decides the initial status.
func (c *Client) SignUp(ctx context.Context, email, password string, meta member.Metadata) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": meta.FullName,
		"cpf":       meta.CPF,
	}, &p)
	return p, err
}

// SignOut ends the session locally even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	var err error
	if c.token() != "" {
		_, err = c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, nil)
	}
	had := c.Session() != nil
	c.setSession(nil)
	if had {
		c.emit(backend.EventSignedOut)
	}
	return err
}

// UpdatePassword completes a password change and emits USER_UPDATED.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	if c.token() == "" {
		return ErrNoSession
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/auth/password", map[string]string{
		"password": newPassword,
		"confirm":  newPassword,
	}, nil)
	if err != nil {
		return err
	}
	c.emit(backend.EventUserUpdated)
	return nil
}

// Me returns the server's view of the current session.
func (c *Client) Me(ctx context.Context) (*SessionInfo, error) {
	var out SessionInfo
	if _, err := c.do(ctx, http.MethodGet, "/v1/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProfile(ctx context.Context, userID string) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(userID), nil, &p)
	return p, err
}

func (c *Client) UpdateProfile(ctx context.Context, id string, upd member.Update) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodPatch, "/v1/profiles/"+url.PathEscape(id), upd, &p)
	return p, err
}

func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/profiles/"+url.PathEscape(id), nil, nil)
	return err
}

// ListMembers returns members matching q.
func (c *Client) ListMembers(ctx context.Context, q string) ([]member.Profile, error) {
	var out struct {
		Items []member.Profile `json:"items"`
	}
	path := "/v1/members"
	if q = strings.TrimSpace(q); q != "" {
		path += "?q=" + url.QueryEscape(q)
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// RegisterMember registers a member on staff's behalf.
func (c *Client) RegisterMember(ctx context.Context, in members.RegisterInput) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodPost, "/v1/members", in, &p)
	return p, err
}

// MemberOptions returns the management menu for id.
func (c *Client) MemberOptions(ctx context.Context, id string) (policy.Menu, error) {
	var m policy.Menu
	_, err := c.do(ctx, http.MethodGet, "/v1/members/"+url.PathEscape(id)+"/options", nil, &m)
	return m, err
}

func (c *Client) ToggleStatus(ctx context.Context, id string) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodPost, "/v1/members/"+url.PathEscape(id)+"/status", nil, &p)
	return p, err
}

func (c *Client) ChangeRole(ctx context.Context, id string, role member.Role) (member.Profile, error) {
	var p member.Profile
	_, err := c.do(ctx, http.MethodPost, "/v1/members/"+url.PathEscape(id)+"/role", map[string]string{"role": string(role)}, &p)
	return p, err
}

func (c *Client) RemoveMember(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/members/"+url.PathEscape(id), nil, nil)
	return err
}

// Card returns the caller's member card.
func (c *Client) Card(ctx context.Context) (wallet.Card, error) {
	var card wallet.Card
	_, err := c.do(ctx, http.MethodGet, "/v1/me/card", nil, &card)
	return card, err
}

// CardQR returns the card QR code as a PNG (format "png") or as terminal
// text (format "text").
func (c *Client) CardQR(ctx context.Context, format string, size int) ([]byte, error) {
	path := "/v1/me/card?format=" + url.QueryEscape(format)
	if size > 0 {
		path += "&size=" + strconv.Itoa(size)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) CheckIn(ctx context.Context) (member.Checkin, error) {
	var ci member.Checkin
	_, err := c.do(ctx, http.MethodPost, "/v1/checkins", nil, &ci)
	return ci, err
}

func (c *Client) Checkins(ctx context.Context, limit int) ([]member.Checkin, error) {
	var out struct {
		Items []member.Checkin `json:"items"`
	}
	path := "/v1/checkins"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// NextFixture returns the club's next match, or nil when unknown.
func (c *Client) NextFixture(ctx context.Context) (*fixtures.Fixture, error) {
	var out struct {
		Fixture *fixtures.Fixture `json:"fixture"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/fixtures/next", nil, &out); err != nil {
		return nil, err
	}
	return out.Fixture, nil
}

// IsDenied reports whether err is a policy refusal and returns its code.
func IsDenied(err error) (policy.Code, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Denial()
	}
	return "", false
}
