package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"capitania.club/internal/backend"
)

func TestStreamRelaysProfileChanges(t *testing.T) {
	c := newTestAPI(t)
	admin := c.token("22222222222")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/members/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", first, err)
	}

	toggle := c.post("/v1/members/socio/status", nil, admin)
	expectStatus(t, toggle, http.StatusOK)
	toggle.Body.Close()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var change backend.Change
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if change.Table != backend.TableProfiles || change.Kind != backend.ChangeUpdate || change.RecordID != "socio" {
			t.Fatalf("unexpected change: %+v", change)
		}
		return
	}
}

func TestStreamRequiresToken(t *testing.T) {
	c := newTestAPI(t)
	resp := c.get("/v1/members/stream", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
