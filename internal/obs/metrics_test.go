package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/v1/members":             "/v1/members",
		"/v1/members/abc":         "/v1/members/:id",
		"/v1/members/abc/status":  "/v1/members/:id/status",
		"/v1/members/abc/role":    "/v1/members/:id/role",
		"/v1/members/abc/options": "/v1/members/:id/options",
		"/v1/members/abc/extra":   "/v1/members/abc/extra",
		"/v1/members/stream":      "/v1/members/stream",
		"/v1/profiles/abc":        "/v1/profiles/:id",
		"/v1/members?q=ana":       "/v1/members",
		"/v1/auth/login":          "/v1/auth/login",
		"/v1/me/card":             "/v1/me/card",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/members/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/members/42", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/members/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(gateTransitions.WithLabelValues("loading", "authenticated"))
	ObserveGateTransition("loading", "authenticated")
	if got := testutil.ToFloat64(gateTransitions.WithLabelValues("loading", "authenticated")); got != before+1 {
		t.Fatalf("transition not counted: %v", got)
	}

	before = testutil.ToFloat64(policyDecisions.WithLabelValues("remove_member", "admin_target"))
	ObservePolicyDecision("remove_member", "admin_target")
	if got := testutil.ToFloat64(policyDecisions.WithLabelValues("remove_member", "admin_target")); got != before+1 {
		t.Fatalf("decision not counted: %v", got)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LogConfig{JSON: true, Level: "debug", Output: &buf})
	l.Debug("hello", "user_id", "u1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "hello" || entry["user_id"] != "u1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ParseLevel("nonsense") != ParseLevel("info") {
		t.Fatal("unknown level should map to info")
	}
	var buf bytes.Buffer
	l := NewLogger(LogConfig{Level: "warn", Output: &buf})
	l.Info("dropped")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatal("info line should be filtered at warn level")
	}
}

func TestBuildInfo(t *testing.T) {
	b := ReadBuild("1.2.3", "abc123")
	if b.Version != "1.2.3" || b.Commit != "abc123" {
		t.Fatalf("ldflags values must win, got %+v", b)
	}
	InitBuildInfo(b)
	InitBuildInfo(b)
	if got := testutil.ToFloat64(buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion)); got != 1 {
		t.Fatalf("build_info = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(buildInfo); n != 1 {
		t.Fatalf("expected a single build_info series, got %d", n)
	}

	d := ReadBuild("", "")
	if d.Version == "" || d.Commit == "" {
		t.Fatalf("defaults missing: %+v", d)
	}
}
