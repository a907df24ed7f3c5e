// Command silq-shell is an interactive shell for building and compiling
// pulse sequences on the reference rack.
//
// Usage:
//
//	silq-shell [-setup setup.yaml] [-trace file]
//
// A setup file preloads pulse defaults and a starting sequence; without one
// the shell starts with the default rack wiring and an empty sequence. Type
// "help" at the prompt for the command list.
package main

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"

	"github.com/MorelloLab/SilQ/internal/simrack"
	"github.com/MorelloLab/SilQ/pkg/config"
	"github.com/MorelloLab/SilQ/pkg/log"
	"github.com/MorelloLab/SilQ/pkg/pulses"
	"github.com/MorelloLab/SilQ/pkg/version"
)

func main() {
	var (
		setupPath   = flag.String("setup", "", "Setup file preloading defaults and a sequence")
		tracePath   = flag.String("trace", "", "Write a binary compile trace to this file")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("silq-shell", version.Current)
		return
	}

	var cfg *config.Config
	if *setupPath != "" {
		loaded, err := config.Load(*setupPath)
		if err != nil {
			stdlog.Fatalf("Failed to load setup: %v", err)
		}
		cfg = loaded
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

	rack, err := simrack.New(logger)
	if err != nil {
		stdlog.Fatalf("Failed to build rack: %v", err)
	}

	seq := pulses.NewSequence(pulses.DefaultSequenceConfig())
	if cfg != nil && len(cfg.Sequence) > 0 {
		seq, err = cfg.BuildSequence()
		if err != nil {
			stdlog.Fatalf("Failed to build configured sequence: %v", err)
		}
	}

	shell, err := newShell(rack, cfg, seq)
	if err != nil {
		stdlog.Fatalf("Failed to start shell: %v", err)
	}
	if err := shell.run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
