// Package journal records what each sync pass did, next to the hash cache,
// so a later invocation can report the last outcome.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileName is the journal file inside the metadata directory.
const FileName = "last-run.json"

// Status is the terminal status of a pass.
type Status string

const (
	StatusRunning  Status = "running"
	StatusUpToDate Status = "up_to_date"
	StatusDone     Status = "done"
	StatusAborted  Status = "aborted"
)

// Action is what happened to one path.
type Action string

const (
	ActionDownloaded Action = "downloaded"
	ActionExtracted  Action = "extracted"
	ActionRenamed    Action = "renamed"
	ActionDeleted    Action = "deleted"
)

// Record describes one pass.
type Record struct {
	Version  int       `json:"version"`
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	Status   Status    `json:"status"`
	Checked  int       `json:"checked"`
	Bytes    int64     `json:"bytes"`
	Entries  []Entry   `json:"entries"`
	Error    string    `json:"error,omitempty"`
}

// Entry is one path touched by a pass.
type Entry struct {
	Path   string `json:"path"`
	Action Action `json:"action"`
	Bytes  int64  `json:"bytes,omitempty"`
}

// New starts a record for the pass id.
func New(id string, started time.Time) *Record {
	return &Record{
		Version: 1,
		ID:      id,
		Started: started.UTC(),
		Status:  StatusRunning,
		Entries: []Entry{},
	}
}

// Add appends an entry.
func (r *Record) Add(path string, action Action, bytes int64) {
	r.Entries = append(r.Entries, Entry{Path: path, Action: action, Bytes: bytes})
	r.Bytes += bytes
}

// Finish sets the terminal status. err, when non-nil, is kept as text.
func (r *Record) Finish(status Status, at time.Time, err error) {
	r.Status = status
	r.Finished = at.UTC()
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Error = ""
	}
}

// Count returns the number of entries with the given action.
func (r *Record) Count(action Action) int {
	n := 0
	for _, e := range r.Entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// Duration is the wall time of a finished pass.
func (r *Record) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Save writes the record to dir atomically.
func (r *Record) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}

	finalPath := filepath.Join(dir, FileName)
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temporary journal file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename journal file: %w", err)
	}

	// Sync directory for durability
	if df, err := os.Open(dir); err == nil {
		syncErr := df.Sync()
		df.Close()
		if syncErr != nil {
			return fmt.Errorf("sync directory: %w", syncErr)
		}
	}
	return nil
}

// ErrNoRecord is returned by Load when no pass has been recorded yet.
var ErrNoRecord = errors.New("no sync pass recorded")

// Load reads the record in dir.
func Load(dir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, fmt.Errorf("read journal file: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal journal: %w", err)
	}
	return &r, nil
}
