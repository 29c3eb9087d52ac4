// Package bridge manages per-user sessions over an external streaming
// code-assistant CLI. A user in bridge mode has their messages routed here
// instead of through the normal agent path: each message becomes one CLI
// invocation (resumed against the active session when one is bound), and
// the CLI's NDJSON output is parsed into ordered events.
//
// The CLI writes one session file per conversation under a per-project
// directory; the manager detects a freshly created session by diffing the
// directory's file stems around the first invocation.
package bridge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	parrot "github.com/ciana/parrot"
)

// Session modes. Absence of a persisted entry means normal mode.
const (
	ModeNormal = "normal"
	ModeBridge = "bridge"
)

// UserSession is one user's bridge state, persisted while mode is bridge.
type UserSession struct {
	Mode              string `json:"mode"`
	ActiveProject     string `json:"active_project,omitempty"`
	ActiveProjectPath string `json:"active_project_path,omitempty"`
	ActiveSessionID   string `json:"active_session_id,omitempty"`
	ActiveModel       string `json:"active_model,omitempty"`
	ActiveEffort      string `json:"active_effort,omitempty"`
}

// Response is the parsed outcome of one bridge invocation. Error is set,
// with an empty event list, for transport failures, non-zero exits, and
// timeouts.
type Response struct {
	Events []parrot.Event
	Error  string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a structured logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPermissionMode sets the CLI permission-mode flag value.
func WithPermissionMode(mode string) Option {
	return func(m *Manager) { m.permissionMode = mode }
}

// WithTimeout sets the per-invocation subprocess timeout in seconds.
// Zero means no limit.
func WithTimeout(secs int) Option {
	return func(m *Manager) { m.timeout = secs }
}

// Manager owns every user's bridge session. Messages for one user are
// serialized through a per-user mutex; distinct users run in parallel.
type Manager struct {
	cliPath        string
	projectsDir    string
	permissionMode string
	timeout        int
	exec           Executor
	store          *parrot.JSONStore
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*UserSession
	locks    sync.Map // user id -> *sync.Mutex, never removed
}

// NewManager creates a bridge manager. Persisted sessions are restored
// from the store immediately.
func NewManager(cliPath, projectsDir string, store *parrot.JSONStore, exec Executor, opts ...Option) *Manager {
	m := &Manager{
		cliPath:     cliPath,
		projectsDir: expandHome(projectsDir),
		exec:        exec,
		store:       store,
		logger:      slog.New(slog.DiscardHandler),
		sessions:    make(map[string]*UserSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m
}

func (m *Manager) restore() {
	for _, uid := range m.store.Keys() {
		var s UserSession
		if ok, err := m.store.Get(uid, &s); err != nil {
			m.logger.Warn("bridge state restore failed", "user_id", uid, "error", err)
		} else if ok && s.Mode == ModeBridge {
			m.sessions[uid] = &s
		}
	}
	if len(m.sessions) > 0 {
		m.logger.Info("restored bridge state", "users", len(m.sessions))
	}
}

// State returns a copy of the user's session. Unknown users read as
// normal mode.
func (m *Manager) State(userID string) UserSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		return *s
	}
	return UserSession{Mode: ModeNormal}
}

// InBridgeMode reports whether the user's messages should be intercepted.
func (m *Manager) InBridgeMode(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return ok && s.Mode == ModeBridge
}

// Enter puts the user into bridge mode bound to a project. An empty
// sessionID means a new conversation; the id is detected after the first
// message.
func (m *Manager) Enter(userID, project, projectPath, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &UserSession{
		Mode:              ModeBridge,
		ActiveProject:     project,
		ActiveProjectPath: projectPath,
		ActiveSessionID:   sessionID,
	}
	m.sessions[userID] = s
	m.persist(userID, s)
}

// Exit returns the user to normal mode and removes the persisted entry.
func (m *Manager) Exit(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	if err := m.store.Delete(userID); err != nil {
		m.logger.Warn("bridge state delete failed", "user_id", userID, "error", err)
	}
}

// SetModel updates the model used for the user's invocations.
func (m *Manager) SetModel(userID, model string) {
	m.updateSession(userID, func(s *UserSession) { s.ActiveModel = model })
}

// SetEffort updates the reasoning-effort level for the user's invocations.
func (m *Manager) SetEffort(userID, effort string) {
	m.updateSession(userID, func(s *UserSession) { s.ActiveEffort = effort })
}

func (m *Manager) updateSession(userID string, fn func(*UserSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return
	}
	fn(s)
	m.persist(userID, s)
}

// persist writes the session through to the store. Callers hold m.mu.
// Only bridge-mode entries are persisted.
func (m *Manager) persist(userID string, s *UserSession) {
	if s.Mode != ModeBridge {
		return
	}
	if err := m.store.Set(userID, s); err != nil {
		m.logger.Warn("bridge state persist failed", "user_id", userID, "error", err)
	}
}

// userLock returns the user's mutex, creating it on first access.
func (m *Manager) userLock(userID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// SendMessage runs one CLI invocation for the user's message and returns
// the parsed response. Calls for the same user are serialized.
func (m *Manager) SendMessage(ctx context.Context, userID, text string) Response {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	state := m.State(userID)
	if state.Mode != ModeBridge {
		return Response{Error: "not in bridge mode"}
	}

	cmd := m.buildCommand(text, state)

	// Snapshot session stems before the call so a freshly created session
	// can be identified afterwards.
	var before map[string]bool
	if state.ActiveSessionID == "" && state.ActiveProject != "" {
		before = m.sessionStems(state.ActiveProject)
	}

	result := m.exec.Run(ctx, cmd, state.ActiveProjectPath, m.timeout)

	if state.ActiveSessionID == "" && state.ActiveProject != "" {
		m.adoptNewSession(userID, state.ActiveProject, before)
	}

	if result.Error != "" {
		return Response{Error: result.Error}
	}
	stdout := strings.TrimSpace(result.Stdout)
	stderr := strings.TrimSpace(result.Stderr)
	if result.Returncode != 0 {
		m.logger.Warn("bridge CLI exited non-zero", "user_id", userID,
			"returncode", result.Returncode, "stderr", stderr)
		if stderr == "" {
			stderr = "Bridge CLI returned an error."
		}
		return Response{Error: stderr}
	}
	if stdout == "" {
		if stderr != "" {
			return Response{Error: stderr}
		}
		return Response{Events: []parrot.Event{parrot.TextEvent{Text: "(empty response)"}}}
	}
	return parseStream(stdout, m.logger)
}

// buildCommand assembles the CLI argv. The user's text is always the
// single trailing argument; nothing is shell-interpreted.
func (m *Manager) buildCommand(text string, state UserSession) []string {
	cmd := []string{m.cliPath, "-p"}
	if state.ActiveSessionID != "" {
		cmd = append(cmd, "--resume", state.ActiveSessionID)
	}
	cmd = append(cmd, "--output-format", "stream-json", "--verbose")
	if m.permissionMode != "" {
		cmd = append(cmd, "--permission-mode", m.permissionMode)
	}
	if state.ActiveModel != "" {
		cmd = append(cmd, "--model", state.ActiveModel)
	}
	if state.ActiveEffort != "" {
		cmd = append(cmd, "--effort", state.ActiveEffort)
	}
	return append(cmd, text)
}

// sessionStems lists the session-file stems in a project directory.
func (m *Manager) sessionStems(project string) map[string]bool {
	stems := make(map[string]bool)
	entries, err := os.ReadDir(filepath.Join(m.projectsDir, project))
	if err != nil {
		return stems
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		stems[strings.TrimSuffix(e.Name(), ".jsonl")] = true
	}
	return stems
}

// adoptNewSession binds the session created by the call just made. Exactly
// one new stem must have appeared; anything else leaves the session id
// unset so the next message retries.
func (m *Manager) adoptNewSession(userID, project string, before map[string]bool) {
	after := m.sessionStems(project)
	var fresh []string
	for stem := range after {
		if !before[stem] {
			fresh = append(fresh, stem)
		}
	}
	switch len(fresh) {
	case 1:
		m.updateSession(userID, func(s *UserSession) { s.ActiveSessionID = fresh[0] })
		m.logger.Info("detected new session", "user_id", userID, "session_id", fresh[0])
	case 0:
		m.logger.Warn("no new session detected", "user_id", userID, "project", project)
	default:
		m.logger.Warn("ambiguous new session, leaving unbound",
			"user_id", userID, "project", project, "candidates", len(fresh))
	}
}

// CheckAvailable probes whether the CLI can be reached: a version call
// locally, the gateway health endpoint when executing remotely.
func (m *Manager) CheckAvailable(ctx context.Context) (bool, string) {
	return m.exec.CheckAvailable(ctx, m.cliPath)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
