// Command silq-compile compiles a configured pulse sequence into device
// programs for the reference rack.
//
// The setup file declares pulse defaults, per-environment overrides, the
// sequence to compile, and optionally the rack wiring. The compiled plan
// (AWG waveforms, pulse blaster instructions, digitizer settings) is printed
// as JSON or saved for later inspection.
//
// Usage:
//
//	silq-compile -setup setup.yaml [flags]
//
// Examples:
//
//	# Compile and print the plan
//	silq-compile -setup setup.yaml
//
//	# Select an environment override set and save the plan
//	silq-compile -setup setup.yaml -env no_chip -out plan.json
//
//	# Record a compile trace for silq-trace
//	silq-compile -setup setup.yaml -trace compile.slog
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"github.com/MorelloLab/SilQ/internal/simrack"
	"github.com/MorelloLab/SilQ/pkg/config"
	"github.com/MorelloLab/SilQ/pkg/log"
	"github.com/MorelloLab/SilQ/pkg/persistence"
	"github.com/MorelloLab/SilQ/pkg/version"
	"github.com/MorelloLab/SilQ/pkg/wiring"
)

func main() {
	var (
		setupPath   = flag.String("setup", "", "Setup file path (required)")
		env         = flag.String("env", "", "Environment override set, replaces the setup file's selection")
		outPath     = flag.String("out", "", "Save the compiled plan to this JSON file")
		tracePath   = flag.String("trace", "", "Write a binary compile trace to this file")
		samples     = flag.Int("samples", 1, "Number of sequence repetitions to acquire")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("silq-compile", version.Current)
		return
	}
	if *setupPath == "" {
		fmt.Fprintln(os.Stderr, "silq-compile: -setup is required")
		flag.Usage()
		os.Exit(1)
	}

	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	cfg, err := config.Load(*setupPath)
	if err != nil {
		stdlog.Fatalf("Failed to load setup: %v", err)
	}
	if *env != "" {
		cfg.Environment = *env
		if err := cfg.Validate(); err != nil {
			stdlog.Fatalf("Invalid environment: %v", err)
		}
	}

	logger := log.Logger(log.NoopLogger{})
	if *tracePath != "" {
		fileLogger, err := log.NewFileLogger(*tracePath)
		if err != nil {
			stdlog.Fatalf("Failed to open trace file: %v", err)
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	rack, err := buildRack(cfg, logger)
	if err != nil {
		stdlog.Fatalf("Failed to build rack: %v", err)
	}
	rack.Layout.SetSamples(*samples)

	seq, err := cfg.BuildSequence()
	if err != nil {
		stdlog.Fatalf("Failed to build sequence: %v", err)
	}
	if seq.Empty() {
		stdlog.Fatal("Setup file declares no sequence")
	}

	if err := rack.Layout.Target(seq); err != nil {
		stdlog.Fatalf("Targeting failed: %v", err)
	}
	if err := rack.Layout.Setup(); err != nil {
		stdlog.Fatalf("Setup failed: %v", err)
	}

	plan := assemblePlan(rack)
	stdlog.Printf("Compiled %d pulses in %d interface partitions (compile %s)",
		seq.Len(), len(plan.Interfaces), plan.CompileID)

	if *outPath != "" {
		store := persistence.NewPlanStore(*outPath)
		if err := store.Save(plan); err != nil {
			stdlog.Fatalf("Failed to save plan: %v", err)
		}
		stdlog.Printf("Plan saved to %s", *outPath)
		return
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		stdlog.Fatalf("Failed to encode plan: %v", err)
	}
	fmt.Println(string(data))
}

// buildRack assembles the reference rack. When the setup file declares its
// own connections they replace the default wiring.
func buildRack(cfg *config.Config, logger log.Logger) (*simrack.Rack, error) {
	if len(cfg.Connections) == 0 {
		return simrack.New(logger)
	}

	rack, err := simrack.NewBare(logger)
	if err != nil {
		return nil, err
	}
	for _, decl := range cfg.Connections {
		flags := wiring.Flags{
			Trigger: decl.Trigger,
			Acquire: decl.Acquire,
			Default: decl.Default,
			Label:   decl.Label,
		}
		if _, err := rack.Layout.AddConnection(decl.Output, decl.Input, flags); err != nil {
			return nil, fmt.Errorf("connection %s to %s: %w", decl.Output, decl.Input, err)
		}
	}
	if err := rack.Layout.SetTriggerInstrument(simrack.PulseBlasterName); err != nil {
		return nil, err
	}
	if err := rack.Layout.SetAcquisitionInstrument(simrack.DigitizerName); err != nil {
		return nil, err
	}
	return rack, nil
}

// assemblePlan collects the per-interface compile results.
func assemblePlan(rack *simrack.Rack) *persistence.CompilePlan {
	plan := &persistence.CompilePlan{
		CompileID:  rack.Layout.CompileID(),
		Duration:   rack.Layout.Duration(),
		FinalDelay: rack.Layout.FinalDelay(),
		Interfaces: make(map[string]persistence.InterfacePlan),
	}

	for _, iface := range rack.Layout.Interfaces() {
		if iface.Sequence().Empty() {
			continue
		}
		snap := iface.Sequence().Snapshot()
		ifacePlan := persistence.InterfacePlan{Sequence: &snap}

		switch iface.Name() {
		case simrack.AWGName:
			ifacePlan.Waveforms = rack.AWG.Plans()
		case simrack.PulseBlasterName:
			ifacePlan.Instructions = rack.PulseBlaster.Instructions()
		case simrack.DigitizerName:
			trigger := rack.Digitizer.Trigger()
			acquisition := rack.Digitizer.AcquisitionPlan()
			ifacePlan.Trigger = &trigger
			ifacePlan.Acquisition = &acquisition
		}
		plan.Interfaces[iface.Name()] = ifacePlan
	}
	return plan
}
