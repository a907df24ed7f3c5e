package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/MorelloLab/SilQ/internal/simrack"
	"github.com/MorelloLab/SilQ/pkg/config"
	"github.com/MorelloLab/SilQ/pkg/pulses"
)

// shell holds the interactive session state: the working sequence and the
// rack it compiles onto.
type shell struct {
	rack *simrack.Rack
	cfg  *config.Config
	seq  *pulses.Sequence
	rl   *readline.Instance
}

func newShell(rack *simrack.Rack, cfg *config.Config, seq *pulses.Sequence) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "silq> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{rack: rack, cfg: cfg, seq: seq, rl: rl}, nil
}

// run is the interactive command loop.
func (s *shell) run() error {
	defer s.rl.Close()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "add":
			s.cmdAdd(args)

		case "remove", "rm":
			s.cmdRemove(args)

		case "clear":
			s.seq.Clear()
			fmt.Fprintln(s.rl.Stdout(), "Sequence cleared")

		case "list", "ls":
			s.cmdList()

		case "times":
			s.cmdTimes()

		case "target", "compile":
			s.cmdTarget()

		case "plan":
			s.cmdPlan(args)

		case "start":
			s.cmdStart()

		case "stop":
			s.cmdStop()

		case "status":
			s.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
SilQ Shell Commands:
  Sequence:
    add <kind> <name> [key=value ...]  - Add a pulse (keys: t_start, t_stop,
                                         duration, amplitude, frequency,
                                         phase, offset, acquire, label)
    remove <name>                      - Remove all pulses with a name
    clear                              - Remove all pulses
    list                               - Show the sequence
    times                              - Show transition times

  Compilation:
    target                             - Distribute pulses over the rack
    plan [instrument]                  - Show compiled device programs

  Control:
    start                              - Start the instruments
    stop                               - Stop the instruments
    status                             - Show rack status

  General:
    help                               - Show this help
    quit                               - Exit

  Example:
    add DC plunge t_start=0 duration=1e-3 amplitude=0.5
    add DC read duration=2e-3 amplitude=0 acquire=true
    target`)
}

func (s *shell) cmdAdd(args []string) {
	out := s.rl.Stdout()
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: add <kind> <name> [key=value ...]")
		return
	}

	kind, err := pulses.ParseKind(args[0])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	opts, err := parseOptions(args[2:])
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	p := pulses.New(kind, args[1], opts...)
	if s.cfg != nil {
		s.cfg.Apply(p)
	}
	added, err := s.seq.Add(p)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	for _, a := range added {
		fmt.Fprintf(out, "Added %s: t_start=%g duration=%g\n", a.FullName(), a.Start(), a.Duration())
	}
}

// parseOptions turns key=value arguments into pulse options.
func parseOptions(args []string) ([]pulses.Option, error) {
	var opts []pulses.Option
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}

		switch key {
		case "acquire":
			if value == "true" || value == "1" {
				opts = append(opts, pulses.Acquire())
			}
			continue
		case "label":
			opts = append(opts, pulses.Label(value))
			continue
		case "average":
			switch value {
			case "none":
				opts = append(opts, pulses.Average(pulses.AverageNone))
			case "point":
				opts = append(opts, pulses.Average(pulses.AveragePoint))
			case "trace":
				opts = append(opts, pulses.Average(pulses.AverageTrace))
			default:
				return nil, fmt.Errorf("unknown average mode %q", value)
			}
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "t_start":
			opts = append(opts, pulses.Start(v))
		case "t_stop":
			opts = append(opts, pulses.Stop(v))
		case "duration":
			opts = append(opts, pulses.Duration(v))
		case "amplitude":
			opts = append(opts, pulses.Amplitude(v))
		case "frequency":
			opts = append(opts, pulses.Frequency(v))
		case "phase":
			opts = append(opts, pulses.Phase(v))
		case "offset":
			opts = append(opts, pulses.Offset(v))
		default:
			return nil, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

func (s *shell) cmdRemove(args []string) {
	out := s.rl.Stdout()
	if len(args) != 1 {
		fmt.Fprintln(out, "Usage: remove <name>")
		return
	}
	if err := s.seq.RemoveNamed(args[0]); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Removed %s\n", args[0])
}

func (s *shell) cmdList() {
	out := s.rl.Stdout()
	if s.seq.Empty() {
		fmt.Fprintln(out, "Sequence is empty")
		return
	}
	fmt.Fprintf(out, "Sequence: %d pulses, duration %g s\n", s.seq.Len(), s.seq.Duration())
	for _, p := range s.seq.Pulses() {
		state := ""
		if !p.Enabled() {
			state = " (disabled)"
		}
		acquire := ""
		if p.Acquires() {
			acquire = " acquire"
		}
		fmt.Fprintf(out, "  %-14s %-14s t=[%g, %g]%s%s\n",
			p.FullName(), p.Kind(), p.Start(), p.Stop(), acquire, state)
	}
}

func (s *shell) cmdTimes() {
	out := s.rl.Stdout()
	fmt.Fprintf(out, "t_start: %v\n", s.seq.TStartList())
	fmt.Fprintf(out, "t_stop:  %v\n", s.seq.TStopList())
	fmt.Fprintf(out, "t_list:  %v\n", s.seq.TList())
}

func (s *shell) cmdTarget() {
	out := s.rl.Stdout()
	if err := s.rack.Layout.Target(s.seq); err != nil {
		fmt.Fprintf(out, "Targeting failed: %v\n", err)
		return
	}
	if err := s.rack.Layout.Setup(); err != nil {
		fmt.Fprintf(out, "Setup failed: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Compiled (compile %s)\n", s.rack.Layout.CompileID())
	for _, iface := range s.rack.Layout.Interfaces() {
		if iface.Sequence().Empty() {
			continue
		}
		fmt.Fprintf(out, "  %-14s %d pulse(s)\n", iface.Name(), iface.Sequence().Len())
	}
}

func (s *shell) cmdPlan(args []string) {
	out := s.rl.Stdout()
	show := func(name string) bool {
		return len(args) == 0 || args[0] == name
	}

	if show(simrack.AWGName) {
		for channel, plan := range s.rack.AWG.Plans() {
			fmt.Fprintf(out, "%s.%s: %d waveform(s), %d step(s)\n",
				simrack.AWGName, channel, len(plan.Waveforms), len(plan.Steps))
			for _, step := range plan.Steps {
				fmt.Fprintf(out, "  wf %d x%d loops  %s\n", step.WaveformIndex, step.Loops, step.Label)
			}
		}
	}
	if show(simrack.PulseBlasterName) {
		instructions := s.rack.PulseBlaster.Instructions()
		if len(instructions) > 0 {
			fmt.Fprintf(out, "%s: %d instruction(s)\n", simrack.PulseBlasterName, len(instructions))
			for _, in := range instructions {
				fmt.Fprintf(out, "  %s\n", in)
			}
		}
	}
	if show(simrack.DigitizerName) {
		if acq := s.rack.Digitizer.AcquisitionPlan(); acq.SamplesPerRecord > 0 {
			trig := s.rack.Digitizer.Trigger()
			fmt.Fprintf(out, "%s: %d samples/record, %d record(s), trigger %s level %d\n",
				simrack.DigitizerName, acq.SamplesPerRecord, acq.Records, trig.Slope, trig.Level)
			for name, shape := range acq.Shapes {
				fmt.Fprintf(out, "  %s shape %v\n", name, shape)
			}
		}
	}
}

func (s *shell) cmdStart() {
	out := s.rl.Stdout()
	if err := s.rack.Layout.Start(); err != nil {
		fmt.Fprintf(out, "Start failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Instruments started")
}

func (s *shell) cmdStop() {
	out := s.rl.Stdout()
	if err := s.rack.Layout.Stop(); err != nil {
		fmt.Fprintf(out, "Stop failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Instruments stopped")
}

func (s *shell) cmdStatus() {
	out := s.rl.Stdout()
	fmt.Fprintf(out, "Sequence: %d pulse(s), duration %g s\n", s.seq.Len(), s.seq.Duration())
	fmt.Fprintf(out, "Trigger instrument: %s\n", s.rack.Layout.TriggerInstrument())
	fmt.Fprintf(out, "Acquisition instrument: %s\n", s.rack.Layout.AcquisitionInstrument())
	fmt.Fprintf(out, "Started: %v\n", s.rack.Layout.Started())
}
