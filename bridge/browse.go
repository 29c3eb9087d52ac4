package bridge

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ProjectInfo describes one project directory under the CLI's projects
// root.
type ProjectInfo struct {
	EncodedName       string
	RealPath          string
	DisplayName       string
	ConversationCount int
	LastActivity      time.Time
}

// ConversationInfo describes one session file within a project.
type ConversationInfo struct {
	SessionID    string
	FirstMessage string
	Timestamp    time.Time
	MessageCount int
	GitBranch    string
	Cwd          string
}

// ListProjects scans the projects root and returns projects sorted by most
// recent activity. Projects without session files are omitted.
func (m *Manager) ListProjects() []ProjectInfo {
	entries, err := os.ReadDir(m.projectsDir)
	if err != nil {
		return nil
	}

	var projects []ProjectInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files := m.sessionFilesByMtime(e.Name())
		if len(files) == 0 {
			continue
		}

		newest := files[0]
		realPath := peekCwd(newest.path)
		display := e.Name()
		if realPath != "" {
			display = realPath[strings.LastIndex(realPath, "/")+1:]
		}
		if realPath == "" {
			realPath = e.Name()
		}

		projects = append(projects, ProjectInfo{
			EncodedName:       e.Name(),
			RealPath:          realPath,
			DisplayName:       display,
			ConversationCount: len(files),
			LastActivity:      newest.mtime,
		})
	}

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].LastActivity.After(projects[j].LastActivity)
	})
	return projects
}

// ListConversations returns conversation metadata for a project, newest
// first.
func (m *Manager) ListConversations(projectEncoded string) []ConversationInfo {
	files := m.sessionFilesByMtime(projectEncoded)
	var convs []ConversationInfo
	for _, f := range files {
		if info, ok := parseConversation(f.path, f.mtime); ok {
			convs = append(convs, info)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].Timestamp.After(convs[j].Timestamp)
	})
	return convs
}

type sessionFile struct {
	path  string
	mtime time.Time
}

// sessionFilesByMtime lists a project's session files, newest first.
func (m *Manager) sessionFilesByMtime(project string) []sessionFile {
	dir := filepath.Join(m.projectsDir, project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []sessionFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, sessionFile{
			path:  filepath.Join(dir, e.Name()),
			mtime: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })
	return files
}

// sessionLine is the subset of a session-file record used for browsing.
type sessionLine struct {
	Type      string `json:"type"`
	Cwd       string `json:"cwd"`
	GitBranch string `json:"gitBranch"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// peekCwd reads a session file until it finds a record carrying a cwd.
func peekCwd(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec sessionLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return ""
		}
		if rec.Cwd != "" {
			return rec.Cwd
		}
	}
	return ""
}

// parseConversation extracts preview metadata from one session file.
func parseConversation(path string, mtime time.Time) (ConversationInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return ConversationInfo{}, false
	}
	defer f.Close()

	info := ConversationInfo{
		SessionID: strings.TrimSuffix(filepath.Base(path), ".jsonl"),
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec sessionLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}

		if info.Cwd == "" {
			info.Cwd = rec.Cwd
		}
		if info.GitBranch == "" {
			info.GitBranch = rec.GitBranch
		}
		if info.Timestamp.IsZero() && rec.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
				info.Timestamp = ts.UTC()
			}
		}

		if rec.Type == "user" || rec.Message.Role == "user" {
			info.MessageCount++
			if info.FirstMessage == "" {
				if preview := messagePreview(rec.Message.Content); preview != "" {
					info.FirstMessage = preview
				}
			}
		}
	}

	if info.Timestamp.IsZero() {
		info.Timestamp = mtime
	}
	if info.FirstMessage == "" {
		info.FirstMessage = "(no preview)"
	}
	return info, true
}

// messagePreview flattens a message content field, which is either a plain
// string or a block list, into a short preview.
func messagePreview(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return clip(strings.TrimSpace(s), 120)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return clip(strings.TrimSpace(strings.Join(texts, " ")), 120)
	}
	return ""
}
