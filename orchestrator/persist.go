package orchestrator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maastricht-university/edmo-pose/pose"
)

// SessionBundle is written next to the payload log when a session closes.
type SessionBundle struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Payloads    int       `json:"payloads"`
	PayloadsLog string    `json:"payloads_log"`
}

type recordLine struct {
	At      time.Time    `json:"at"`
	Payload pose.Payload `json:"payload"`
}

// SessionRecorder appends every dispatched payload to
// <root>/session_<ts>/payloads.jsonl and writes session.json on Close.
type SessionRecorder struct {
	mu      sync.Mutex
	dir     string
	f       *os.File
	w       *bufio.Writer
	enc     *json.Encoder
	bundle  SessionBundle
	closed  bool
	nowFunc func() time.Time
}

func mkSessionDir(outputsRoot string, now time.Time) (string, error) {
	dir := filepath.Join(outputsRoot, "session_"+now.Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func NewSessionRecorder(outputsRoot string) (*SessionRecorder, error) {
	now := time.Now()
	dir, err := mkSessionDir(outputsRoot, now)
	if err != nil {
		return nil, fmt.Errorf("session dir: %w", err)
	}
	logPath := filepath.Join(dir, "payloads.jsonl")
	f, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("session log: %w", err)
	}
	w := bufio.NewWriter(f)
	return &SessionRecorder{
		dir: dir,
		f:   f,
		w:   w,
		enc: json.NewEncoder(w),
		bundle: SessionBundle{
			SessionID:   uuid.NewString(),
			StartedAt:   now,
			PayloadsLog: logPath,
		},
		nowFunc: time.Now,
	}, nil
}

func (r *SessionRecorder) Dir() string { return r.dir }

func (r *SessionRecorder) SessionID() string { return r.bundle.SessionID }

func (r *SessionRecorder) Record(p pose.Payload, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("session %s closed", r.bundle.SessionID)
	}
	if err := r.enc.Encode(recordLine{At: at, Payload: p}); err != nil {
		return err
	}
	r.bundle.Payloads++
	return nil
}

// Close flushes the payload log and writes the session bundle. It is safe
// to call more than once.
func (r *SessionRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("flush session log: %w", err)
	}
	if err := r.f.Close(); err != nil {
		return err
	}
	r.bundle.EndedAt = r.nowFunc()
	return writeJSON(filepath.Join(r.dir, "session.json"), r.bundle)
}
