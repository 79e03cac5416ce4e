package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gobackup-homelab/internal/services/executor"
)

// Heartbeat is what a running daemon publishes for the CLI.
type Heartbeat struct {
	PID       int            `json:"pid"`
	UpdatedAt time.Time      `json:"updated_at"`
	InFlight  int            `json:"in_flight"`
	Active    []HeartbeatRun `json:"active"`
}

// HeartbeatRun is one active run in a Heartbeat.
type HeartbeatRun struct {
	Task    string    `json:"task"`
	Started time.Time `json:"started"`
}

// NewHeartbeat captures the executor's active runs.
func NewHeartbeat(now time.Time, runs []executor.RunInfo) Heartbeat {
	hb := Heartbeat{PID: os.Getpid(), UpdatedAt: now, InFlight: len(runs)}
	for _, r := range runs {
		hb.Active = append(hb.Active, HeartbeatRun{Task: r.TaskName, Started: r.Started})
	}
	return hb
}

// HeartbeatPath returns the heartbeat file that belongs to a task store.
func HeartbeatPath(storePath string) string {
	return storePath + ".status.json"
}

// WriteHeartbeat atomically replaces the heartbeat file.
func WriteHeartbeat(path string, hb Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	return nil
}

// ReadHeartbeat loads the heartbeat file. ok is false when the file is
// missing or older than maxAge, meaning no daemon is publishing.
func ReadHeartbeat(path string, now time.Time, maxAge time.Duration) (hb Heartbeat, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Heartbeat{}, false, nil
	}
	if err != nil {
		return Heartbeat{}, false, fmt.Errorf("reading heartbeat: %w", err)
	}
	if err := json.Unmarshal(data, &hb); err != nil {
		return Heartbeat{}, false, fmt.Errorf("parsing heartbeat: %w", err)
	}
	if now.Sub(hb.UpdatedAt) > maxAge {
		return hb, false, nil
	}
	return hb, true, nil
}

// RemoveHeartbeat deletes the heartbeat file, ignoring a missing one.
func RemoveHeartbeat(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
