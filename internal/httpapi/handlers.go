package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"capitania.club/internal/backend"
	"capitania.club/internal/fixtures"
	"capitania.club/internal/identity"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/obs"
	"capitania.club/internal/policy"
	"capitania.club/internal/stream"
)

const serviceName = "capitania-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// FixtureSource looks up the club's next match.
type FixtureSource interface {
	Next(ctx context.Context) (*fixtures.Fixture, error)
}

// Config wires the API to its services. Identity, Members and Profiles are
// required; the rest are optional.
type Config struct {
	Identity *identity.Service
	Members  *members.Service
	Profiles backend.ProfileReader
	Changes  *stream.Hub[backend.Change]
	Fixtures FixtureSource
	Probe    readinessChecker
	Version  string
	Logger   *charmlog.Logger

	// FailOpen resolves a failed profile lookup to Authenticated instead of
	// MustChangePassword.
	FailOpen       bool
	AllowedOrigins []string
	RateBurst      int
	RatePerSec     float64
	MaxBodyBytes   int64
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	identity   *identity.Service
	members    *members.Service
	profiles   backend.ProfileReader
	changes    *stream.Hub[backend.Change]
	fixtures   FixtureSource
	readyProbe readinessChecker
	version    string
	log        *charmlog.Logger

	failOpen   bool
	origins    []string
	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		identity:   cfg.Identity,
		members:    cfg.Members,
		profiles:   cfg.Profiles,
		changes:    cfg.Changes,
		fixtures:   cfg.Fixtures,
		readyProbe: cfg.Probe,
		version:    cfg.Version,
		log:        cfg.Logger,
		failOpen:   cfg.FailOpen,
		origins:    cfg.AllowedOrigins,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSec,
		maxBody:    cfg.MaxBodyBytes,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// session
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password", a.handlePassword)
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/me/card", a.handleCard)
	a.mux.HandleFunc("/v1/checkins", a.handleCheckins)

	// management
	a.mux.HandleFunc("/v1/members", a.handleMembersCollection)
	a.mux.HandleFunc("/v1/members/stream", a.Stream)
	a.mux.HandleFunc("/v1/members/{id}", a.handleMemberResource)
	a.mux.HandleFunc("/v1/members/{id}/{action}", a.handleMemberAction)
	a.mux.HandleFunc("/v1/profiles/{id}", a.handleProfileResource)

	a.mux.HandleFunc("/v1/fixtures/next", a.handleNextFixture)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped handler. Request ids are assigned
// first so every later layer can log them.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleNextFixture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	var fx *fixtures.Fixture
	if a.fixtures != nil {
		var err error
		fx, err = a.fixtures.Next(r.Context())
		if err != nil {
			a.log.Warn("fixtures: lookup failed", "err", err)
			fx = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fixture": fx})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, "", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if code != "" {
		payload["code"] = code
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit out of range")
	}
	return val, nil
}

// handleError maps service errors onto HTTP statuses.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var denial *policy.DeniedError
	switch {
	case errors.As(err, &denial):
		writeErrorCode(w, r, http.StatusForbidden, string(denial.Code), denial.Reason)
	case errors.Is(err, identity.ErrAuthFailure):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, policy.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, member.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, member.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, member.ErrInvalidInput),
		errors.Is(err, policy.ErrInvalidAction),
		errors.Is(err, policy.ErrMissingTarget),
		errors.Is(err, policy.ErrMissingActor):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, members.ErrMutationFailure):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		obs.Logger().Error("httpapi: request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
