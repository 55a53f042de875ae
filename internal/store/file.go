package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zulandar/ticketbooth/internal/models"
)

// FileBackend keeps the state as one JSON document on disk.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend persisting to path. The file need not exist.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the document location.
func (f *FileBackend) Path() string { return f.path }

// LockPath returns the advisory lock file guarding the document.
func (f *FileBackend) LockPath() string { return f.path + ".lock" }

// Lock takes the document's advisory lock, waiting until ctx is done.
func (f *FileBackend) Lock(ctx context.Context) (func() error, error) {
	return lockFile(ctx, f.LockPath())
}

// Load reads the document. A missing file yields the zero state.
func (f *FileBackend) Load(ctx context.Context) (*models.State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	return decodeState(f.path, data)
}

// Save writes the document to a temp file in the same directory and renames
// it over the target.
func (f *FileBackend) Save(ctx context.Context, state *models.State) error {
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tickets-*.json")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("store: flush temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("store: replace %s: %w", f.path, err)
	}
	success = true
	return nil
}

func decodeState(source string, data []byte) (*models.State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &CorruptError{Source: source, Err: errors.New("empty document")}
	}
	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &CorruptError{Source: source, Err: err}
	}
	state.Normalize()
	if err := validateState(&state); err != nil {
		return nil, &CorruptError{Source: source, Err: err}
	}
	return &state, nil
}

func encodeState(state *models.State) ([]byte, error) {
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// validateState rejects documents that decode but cannot be a real state.
func validateState(state *models.State) error {
	if state.LastTicketNumber < 0 {
		return fmt.Errorf("negative last_ticket_number %d", state.LastTicketNumber)
	}
	for channelID, t := range state.TicketsByChannel {
		if t == nil {
			return fmt.Errorf("ticket %s: null record", channelID)
		}
		if t.TicketNumber <= 0 {
			return fmt.Errorf("ticket %s: invalid ticket_number %d", channelID, t.TicketNumber)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("ticket %s: unknown status %q", channelID, t.Status)
		}
	}
	return nil
}
