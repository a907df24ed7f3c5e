package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MorelloLab/SilQ/pkg/awg"
	"github.com/MorelloLab/SilQ/pkg/digitizer"
	"github.com/MorelloLab/SilQ/pkg/pulseblaster"
	"github.com/MorelloLab/SilQ/pkg/pulses"
)

// PlanVersion is the current version of the plan file format.
const PlanVersion = 1

// CompilePlan captures the full output of one compile run: the targeted
// sequence per interface and each backend's synthesized device program.
type CompilePlan struct {
	// Version is the plan file format version.
	Version int `json:"version"`

	// SavedAt is when the plan was saved.
	SavedAt time.Time `json:"saved_at"`

	// CompileID identifies the compile run.
	CompileID string `json:"compile_id"`

	// Duration is the whole-system sequence duration in seconds.
	Duration float64 `json:"duration"`

	// FinalDelay is the trailing quiet time in seconds.
	FinalDelay float64 `json:"final_delay"`

	// Interfaces holds the per-instrument results, keyed by name.
	Interfaces map[string]InterfacePlan `json:"interfaces,omitempty"`
}

// InterfacePlan is the compile output of a single instrument.
type InterfacePlan struct {
	// Sequence is the targeted pulse partition.
	Sequence *pulses.SequenceSnapshot `json:"sequence,omitempty"`

	// Waveforms holds AWG channel programs, keyed by channel name.
	Waveforms map[string]*awg.ChannelPlan `json:"waveforms,omitempty"`

	// Instructions holds a pulseblaster instruction list.
	Instructions []pulseblaster.Instruction `json:"instructions,omitempty"`

	// Trigger holds derived digitizer trigger settings.
	Trigger *digitizer.TriggerSettings `json:"trigger,omitempty"`

	// Acquisition holds the derived digitizer record configuration.
	Acquisition *digitizer.Acquisition `json:"acquisition,omitempty"`
}

// PlanStore manages persistence of compile plans to a JSON file.
type PlanStore struct {
	mu   sync.Mutex
	path string
}

// NewPlanStore creates a plan store writing to path.
func NewPlanStore(path string) *PlanStore {
	return &PlanStore{path: path}
}

// Save persists the compile plan to disk.
func (s *PlanStore) Save(plan *CompilePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	plan.Version = PlanVersion
	if plan.SavedAt.IsZero() {
		plan.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the compile plan from disk.
// Returns nil, nil if the file doesn't exist.
func (s *PlanStore) Load() (*CompilePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	plan := &CompilePlan{}
	if err := json.Unmarshal(data, plan); err != nil {
		return nil, err
	}

	return plan, nil
}

// Clear removes the plan file.
func (s *PlanStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
