package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	watchStateFile = "watch.json"
)

// WatchState is the persisted transcript watcher position: how many bytes of
// each transcript file have already been fed to the buffer.
type WatchState struct {
	// Offsets maps absolute transcript file paths to byte offsets.
	Offsets map[string]int64 `json:"offsets"`
}

// LoadWatchState loads the watcher state from a target .recall/watch.json.
// Returns an empty state if none has been saved yet.
func (m *Manager) LoadWatchState(overrideDir string) (*WatchState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	state := &WatchState{Offsets: map[string]int64{}}

	data, err := os.ReadFile(filepath.Join(dir, watchStateFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return nil, fmt.Errorf("reading watch state: %w", err)
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing watch state: %w", err)
	}
	if state.Offsets == nil {
		state.Offsets = map[string]int64{}
	}

	return state, nil
}

// SaveWatchState persists the watcher state to a target .recall/watch.json.
func (m *Manager) SaveWatchState(state *WatchState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil watch state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watch state: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, watchStateFile), data, 0o600); err != nil {
		return fmt.Errorf("writing watch state: %w", err)
	}

	return nil
}

// ClearWatchState removes the watch state file so the next watcher run
// re-reads every transcript from the start. Returns nil if the file
// doesn't exist.
func (m *Manager) ClearWatchState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, watchStateFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing watch state: %w", err)
	}

	return nil
}
