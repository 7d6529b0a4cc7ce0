package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"capitania.club/internal/backend"
	"capitania.club/internal/identity"
	"capitania.club/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.Setup(obs.LogConfig{JSON: true, Output: &buf})
	defer obs.Setup(obs.LogConfig{JSON: true})

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithPrincipal(ctx, identity.Principal{Session: backend.Session{UserID: "user-42"}})

	if err := LogEvent(ctx, EventMemberRemoved, map[string]any{"target_id": "user-7"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := bytes.TrimSpace(buf.Bytes())
	if len(line) == 0 {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventMemberRemoved {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if id, _ := entry["audit_id"].(string); len(id) != 26 {
		t.Fatalf("missing audit id: %v", entry["audit_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["target_id"] != "user-7" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
