package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandleCommandNonCommandsPassThrough(t *testing.T) {
	m, _ := newTestManager(t, &scriptedExecutor{})
	for _, text := range []string{"hello", "/start", "", "  "} {
		if _, handled := m.HandleCommand(context.Background(), "u1", text); handled {
			t.Errorf("%q should not be handled", text)
		}
	}
}

func TestHandleCommandListAndEnter(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})
	dir := filepath.Join(projects, "-home-dev-webapp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSession(t, dir, "sess-1",
		`{"type":"user","cwd":"/home/dev/webapp","message":{"role":"user","content":"hi"}}`)

	reply, handled := m.HandleCommand(context.Background(), "u1", "/cc")
	if !handled {
		t.Fatal("expected /cc to be handled")
	}
	if !strings.Contains(reply, "1. webapp") {
		t.Errorf("project list = %q", reply)
	}

	reply, handled = m.HandleCommand(context.Background(), "u1", "/cc 1")
	if !handled || !strings.Contains(reply, "Entered webapp") {
		t.Errorf("enter reply = %q", reply)
	}
	if !m.InBridgeMode("u1") {
		t.Error("expected bridge mode after /cc 1")
	}

	reply, _ = m.HandleCommand(context.Background(), "u1", "/cc 99")
	if !strings.Contains(reply, "Invalid project number") {
		t.Errorf("out-of-range reply = %q", reply)
	}
}

func TestHandleCommandResume(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})
	dir := filepath.Join(projects, "proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSession(t, dir, "sess-a",
		`{"type":"user","cwd":"/p","message":{"role":"user","content":"old chat"}}`)

	reply, handled := m.HandleCommand(context.Background(), "u1", "/cc 1 1")
	if !handled || !strings.Contains(reply, "Resumed conversation") {
		t.Errorf("resume reply = %q", reply)
	}
	if got := m.State("u1").ActiveSessionID; got != "sess-a" {
		t.Errorf("resumed session = %q", got)
	}

	// Invalid conversation index lists the available ones instead.
	m.Exit("u1")
	reply, _ = m.HandleCommand(context.Background(), "u1", "/cc 1 9")
	if !strings.Contains(reply, "Conversations in") || !strings.Contains(reply, "old chat") {
		t.Errorf("conversation list = %q", reply)
	}
	if m.InBridgeMode("u1") {
		t.Error("invalid resume index must not enter bridge mode")
	}
}

func TestHandleCommandExitModelEffort(t *testing.T) {
	m, projects := newTestManager(t, &scriptedExecutor{})
	dir := filepath.Join(projects, "proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSession(t, dir, "sess-a", `{"type":"user","message":{"role":"user","content":"x"}}`)

	if reply, _ := m.HandleCommand(context.Background(), "u1", "/exit"); reply != "Not in bridge mode." {
		t.Errorf("exit outside bridge = %q", reply)
	}
	if reply, _ := m.HandleCommand(context.Background(), "u1", "/model opus"); !strings.Contains(reply, "Enter bridge mode first") {
		t.Errorf("model outside bridge = %q", reply)
	}

	m.HandleCommand(context.Background(), "u1", "/cc 1")
	m.HandleCommand(context.Background(), "u1", "/model opus")
	m.HandleCommand(context.Background(), "u1", "/effort high")
	s := m.State("u1")
	if s.ActiveModel != "opus" || s.ActiveEffort != "high" {
		t.Errorf("state = %+v", s)
	}

	if reply, _ := m.HandleCommand(context.Background(), "u1", "/model"); reply != "Usage: /model NAME" {
		t.Errorf("bare /model = %q", reply)
	}

	reply, _ := m.HandleCommand(context.Background(), "u1", "/exit")
	if reply != "Left bridge mode." || m.InBridgeMode("u1") {
		t.Errorf("exit reply = %q, inBridge = %v", reply, m.InBridgeMode("u1"))
	}
}
