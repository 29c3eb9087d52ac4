package parrot

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TaskStore owns the ordered sequence of ScheduledTask records in a single
// JSON array file. One process-wide mutex guards every read-modify-write:
// the scheduler holds it while marking tasks due, the schedule tool while
// appending or cancelling. Task bodies execute outside the lock.
type TaskStore struct {
	mu   sync.Mutex
	path string
}

// NewTaskStore creates a store over the task file at path. The file is
// created lazily on first write; until then the store reads as empty.
func NewTaskStore(path string) *TaskStore {
	return &TaskStore{path: path}
}

// Mutate runs fn under the store lock with the current task list and
// persists whatever fn returns. fn returning an error aborts without
// writing. This is the only way to modify the task file.
func (s *TaskStore) Mutate(fn func(tasks []ScheduledTask) ([]ScheduledTask, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	updated, err := fn(tasks)
	if err != nil {
		return err
	}
	if updated == nil {
		return nil // fn declined to modify
	}
	return writeJSONAtomic(s.path, updated)
}

// Load returns a snapshot of all tasks.
func (s *TaskStore) Load() ([]ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// NextID generates a task id unique across every record, active or not.
// Callers must hold the lock via Mutate; tasks is the current list.
func NextID(tasks []ScheduledTask) string {
	for {
		id := NewTaskID()
		if !idTaken(tasks, id) {
			return id
		}
	}
}

func idTaken(tasks []ScheduledTask, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// load reads the task file. Callers hold s.mu. A missing file is an empty
// list; corruption is a hard error.
func (s *TaskStore) load() ([]ScheduledTask, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task store %s: %w", s.path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var tasks []ScheduledTask
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("task store %s: corrupt JSON: %w", s.path, err)
	}
	return tasks, nil
}
