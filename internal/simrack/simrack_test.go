package simrack

import (
	"testing"

	"github.com/MorelloLab/SilQ/pkg/wiring"
)

func TestNew(t *testing.T) {
	rack, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := rack.Layout.TriggerInstrument(); got != PulseBlasterName {
		t.Errorf("TriggerInstrument() = %q, want %q", got, PulseBlasterName)
	}
	if got := rack.Layout.AcquisitionInstrument(); got != DigitizerName {
		t.Errorf("AcquisitionInstrument() = %q, want %q", got, DigitizerName)
	}

	if len(rack.Layout.Interfaces()) != 4 {
		t.Errorf("len(Interfaces()) = %d, want 4", len(rack.Layout.Interfaces()))
	}

	triggers := rack.Layout.Connections(wiring.Criteria{Trigger: wiring.Flag(true)})
	if len(triggers) != 2 {
		t.Errorf("trigger connections = %d, want 2", len(triggers))
	}

	readout, err := rack.Layout.GetConnection(wiring.Criteria{Label: "readout"})
	if err != nil {
		t.Fatalf("GetConnection(readout) error = %v", err)
	}
	if readout.InputInstrument() != DigitizerName {
		t.Errorf("readout input = %q, want %q", readout.InputInstrument(), DigitizerName)
	}
}

func TestNewChain(t *testing.T) {
	chain, err := NewChain(nil, 3)
	if err != nil {
		t.Fatalf("NewChain() error = %v", err)
	}

	if len(chain.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(chain.Stages))
	}

	// Each stage has exactly one inbound trigger connection.
	for _, stage := range chain.Stages {
		conns := chain.Layout.Connections(wiring.Criteria{
			InputInstrument: stage.Name(),
			Trigger:         wiring.Flag(true),
		})
		if len(conns) != 1 {
			t.Errorf("stage %s inbound triggers = %d, want 1", stage.Name(), len(conns))
		}
	}

	// The AWG is fed by the last stage, not the root clock.
	conn, err := chain.Layout.GetConnection(wiring.Criteria{
		InputInstrument: AWGName,
		Trigger:         wiring.Flag(true),
	})
	if err != nil {
		t.Fatalf("GetConnection(awg trigger) error = %v", err)
	}
	if conn.OutputInstrument() != "stage3" {
		t.Errorf("awg trigger source = %q, want %q", conn.OutputInstrument(), "stage3")
	}
}
