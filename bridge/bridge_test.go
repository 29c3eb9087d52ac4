package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	parrot "github.com/ciana/parrot"
	"github.com/ciana/parrot/gateway"
)

// scriptedExecutor returns a fixed result and optionally drops session
// files into a project directory mid-call, the way the real CLI does.
type scriptedExecutor struct {
	result      gateway.Result
	createFiles []string // files written during Run
	lastCmd     []string
	lastCwd     string
}

func (e *scriptedExecutor) Run(ctx context.Context, cmd []string, cwd string, timeout int) gateway.Result {
	e.lastCmd = cmd
	e.lastCwd = cwd
	for _, rel := range e.createFiles {
		if err := os.WriteFile(rel, []byte("{}"), 0o644); err != nil {
			panic(err)
		}
	}
	return e.result
}

func (e *scriptedExecutor) CheckAvailable(ctx context.Context, cliPath string) (bool, string) {
	return true, "v1.0.0"
}

func newTestManager(t *testing.T, exec Executor, opts ...Option) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := parrot.OpenJSONStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	projects := filepath.Join(dir, "projects")
	m := NewManager("claude", projects, store, exec, opts...)
	return m, projects
}

func seedProject(t *testing.T, projectsDir, project string, stems ...string) {
	t.Helper()
	dir := filepath.Join(projectsDir, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, stem := range stems {
		if err := os.WriteFile(filepath.Join(dir, stem+".jsonl"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestManagerEnterExit(t *testing.T) {
	m, _ := newTestManager(t, &scriptedExecutor{})

	if m.InBridgeMode("u1") {
		t.Error("fresh user should not be in bridge mode")
	}

	m.Enter("u1", "-home-dev-proj", "/home/dev/proj", "")
	if !m.InBridgeMode("u1") {
		t.Error("expected bridge mode after Enter")
	}
	s := m.State("u1")
	if s.ActiveProject != "-home-dev-proj" || s.ActiveSessionID != "" {
		t.Errorf("state = %+v", s)
	}

	m.Exit("u1")
	if m.InBridgeMode("u1") {
		t.Error("expected normal mode after Exit")
	}
}

func TestManagerStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := parrot.OpenJSONStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager("claude", dir, store, &scriptedExecutor{})
	m.Enter("u1", "proj", "/p", "sess-1")
	m.SetModel("u1", "opus")

	store2, err := parrot.OpenJSONStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	m2 := NewManager("claude", dir, store2, &scriptedExecutor{})
	s := m2.State("u1")
	if s.Mode != ModeBridge || s.ActiveSessionID != "sess-1" || s.ActiveModel != "opus" {
		t.Errorf("restored state = %+v", s)
	}
}

func TestSendMessageNotInBridgeMode(t *testing.T) {
	m, _ := newTestManager(t, &scriptedExecutor{})
	resp := m.SendMessage(context.Background(), "u1", "hi")
	if resp.Error != "not in bridge mode" {
		t.Errorf("Error = %q", resp.Error)
	}
}

func TestSendMessageAdoptsNewSession(t *testing.T) {
	exec := &scriptedExecutor{
		result: gateway.Result{Stdout: `{"type":"result","result":"done"}`},
	}
	m, projects := newTestManager(t, exec)
	seedProject(t, projects, "proj", "old-a", "old-b")
	exec.createFiles = []string{filepath.Join(projects, "proj", "new-c.jsonl")}

	m.Enter("u1", "proj", "/p", "")
	resp := m.SendMessage(context.Background(), "u1", "hello")
	if resp.Error != "" {
		t.Fatalf("error = %q", resp.Error)
	}

	if got := m.State("u1").ActiveSessionID; got != "new-c" {
		t.Errorf("adopted session = %q, want new-c", got)
	}
}

func TestSendMessageAmbiguousSessionStaysUnbound(t *testing.T) {
	exec := &scriptedExecutor{
		result: gateway.Result{Stdout: `{"type":"result","result":"done"}`},
	}
	m, projects := newTestManager(t, exec)
	seedProject(t, projects, "proj")
	exec.createFiles = []string{
		filepath.Join(projects, "proj", "one.jsonl"),
		filepath.Join(projects, "proj", "two.jsonl"),
	}

	m.Enter("u1", "proj", "/p", "")
	m.SendMessage(context.Background(), "u1", "hello")

	if got := m.State("u1").ActiveSessionID; got != "" {
		t.Errorf("ambiguous session adopted %q, want unbound", got)
	}
}

func TestSendMessageErrorPaths(t *testing.T) {
	exec := &scriptedExecutor{result: gateway.Result{Error: "Cannot connect to host gateway. Is the gateway server running?"}}
	m, projects := newTestManager(t, exec)
	seedProject(t, projects, "proj")
	m.Enter("u1", "proj", "/p", "sess")

	resp := m.SendMessage(context.Background(), "u1", "hi")
	if resp.Error == "" || len(resp.Events) != 0 {
		t.Errorf("expected transport error, got %+v", resp)
	}

	exec.result = gateway.Result{Stderr: "boom", Returncode: 2}
	resp = m.SendMessage(context.Background(), "u1", "hi")
	if resp.Error != "boom" {
		t.Errorf("Error = %q, want boom", resp.Error)
	}

	exec.result = gateway.Result{}
	resp = m.SendMessage(context.Background(), "u1", "hi")
	if len(resp.Events) != 1 {
		t.Fatalf("expected placeholder event, got %+v", resp)
	}
	if te := resp.Events[0].(parrot.TextEvent); te.Text != "(empty response)" {
		t.Errorf("text = %q", te.Text)
	}
}

func TestBuildCommand(t *testing.T) {
	m, _ := newTestManager(t, &scriptedExecutor{},
		WithPermissionMode("acceptEdits"))

	cmd := m.buildCommand("do it", UserSession{
		Mode:            ModeBridge,
		ActiveSessionID: "sess-9",
		ActiveModel:     "opus",
		ActiveEffort:    "high",
	})

	want := []string{
		"claude", "-p", "--resume", "sess-9",
		"--output-format", "stream-json", "--verbose",
		"--permission-mode", "acceptEdits",
		"--model", "opus", "--effort", "high",
		"do it",
	}
	if len(cmd) != len(want) {
		t.Fatalf("argv = %v", cmd)
	}
	for i := range want {
		if cmd[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q (full: %v)", i, cmd[i], want[i], cmd)
		}
	}

	// No session bound yet: no --resume pair.
	cmd = m.buildCommand("x", UserSession{Mode: ModeBridge})
	for _, arg := range cmd {
		if arg == "--resume" {
			t.Error("unbound session must not pass --resume")
		}
	}
}

func TestSendMessageRunsInProjectPath(t *testing.T) {
	exec := &scriptedExecutor{result: gateway.Result{Stdout: `{"type":"result","result":"ok"}`}}
	m, projects := newTestManager(t, exec)
	seedProject(t, projects, "proj")
	m.Enter("u1", "proj", "/home/dev/proj", "sess")

	m.SendMessage(context.Background(), "u1", "hi")
	if exec.lastCwd != "/home/dev/proj" {
		t.Errorf("cwd = %q", exec.lastCwd)
	}
}
