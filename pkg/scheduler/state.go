package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/credibility"
)

// State is the validator state persisted across restarts
type State struct {
	SavedAt     time.Time            `json:"saved_at"`
	Credibility credibility.Snapshot `json:"credibility"`
	Scores      map[string]float64   `json:"scores"`
}

// SaveState writes credibility and scores to StatePath atomically
func (v *Validator) SaveState() error {
	if v.config.StatePath == "" {
		return nil
	}
	v.stateMu.Lock()
	defer v.stateMu.Unlock()

	state := State{
		SavedAt:     v.nowFunc(),
		Credibility: v.Credibility.Snapshot(),
		Scores:      v.Scores.Snapshot(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(v.config.StatePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), v.config.StatePath); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// LoadState restores credibility and scores from StatePath. A missing file
// is not an error.
func (v *Validator) LoadState() error {
	if v.config.StatePath == "" {
		return nil
	}
	v.stateMu.Lock()
	defer v.stateMu.Unlock()

	data, err := os.ReadFile(v.config.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if state.Credibility.Records != nil {
		v.Credibility.Restore(state.Credibility)
	}
	if state.Scores != nil {
		v.Scores.Restore(state.Scores)
	}
	v.Logger.Info("Validator state restored", map[string]interface{}{
		"saved_at": state.SavedAt,
		"workers":  len(state.Scores),
	})
	return nil
}
