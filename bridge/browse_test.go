package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSession(t *testing.T, dir, stem string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, stem+".jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListProjectsSkipsEmpty(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})

	full := filepath.Join(projects, "-home-dev-webapp")
	empty := filepath.Join(projects, "-home-dev-empty")
	for _, d := range []string{full, empty} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeSession(t, full, "sess-1",
		`{"type":"user","cwd":"/home/dev/webapp","message":{"role":"user","content":"fix the login bug"}}`)

	list := m.ListProjects()
	if len(list) != 1 {
		t.Fatalf("expected 1 project, got %d", len(list))
	}
	p := list[0]
	if p.EncodedName != "-home-dev-webapp" {
		t.Errorf("encoded name = %q", p.EncodedName)
	}
	if p.DisplayName != "webapp" || p.RealPath != "/home/dev/webapp" {
		t.Errorf("display = %q, path = %q", p.DisplayName, p.RealPath)
	}
	if p.ConversationCount != 1 {
		t.Errorf("conversation count = %d", p.ConversationCount)
	}
}

func TestListConversationsMetadata(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})
	dir := filepath.Join(projects, "proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSession(t, dir, "sess-a",
		`{"type":"user","cwd":"/w","gitBranch":"main","timestamp":"2026-08-20T10:00:00Z","message":{"role":"user","content":"first question"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"answer"}]}}`,
		`{"type":"user","message":{"role":"user","content":"follow up"}}`)

	convs := m.ListConversations("proj")
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	c := convs[0]
	if c.SessionID != "sess-a" {
		t.Errorf("session id = %q", c.SessionID)
	}
	if c.FirstMessage != "first question" {
		t.Errorf("first message = %q", c.FirstMessage)
	}
	if c.MessageCount != 2 {
		t.Errorf("message count = %d, want 2 user messages", c.MessageCount)
	}
	if c.GitBranch != "main" || c.Cwd != "/w" {
		t.Errorf("branch = %q, cwd = %q", c.GitBranch, c.Cwd)
	}
	want := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if !c.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v", c.Timestamp)
	}
}

func TestListConversationsNoPreview(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})
	dir := filepath.Join(projects, "proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSession(t, dir, "sess-a",
		`{"type":"summary"}`)

	convs := m.ListConversations("proj")
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].FirstMessage != "(no preview)" {
		t.Errorf("first message = %q", convs[0].FirstMessage)
	}
	if convs[0].Timestamp.IsZero() {
		t.Error("timestamp should fall back to file mtime")
	}
}

func TestMessagePreviewBlockList(t *testing.T) {
	got := messagePreview([]byte(`[{"type":"text","text":"hello"},{"type":"image"},{"type":"text","text":"world"}]`))
	if got != "hello world" {
		t.Errorf("preview = %q", got)
	}

	long := `"` + strings.Repeat("a", 200) + `"`
	got = messagePreview([]byte(long))
	if len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Errorf("long preview not clipped: %d chars", len(got))
	}
}
