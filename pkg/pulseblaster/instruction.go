package pulseblaster

import "fmt"

// OpCode is a board instruction opcode.
type OpCode uint8

const (
	// OpContinue holds the flags for the tick count, then advances.
	OpContinue OpCode = 0
	// OpLongDelay repeats a delay Arg times for waits beyond the tick limit.
	OpLongDelay OpCode = 1
	// OpWait holds the flags until the next software trigger.
	OpWait OpCode = 2
	// OpBranch jumps to the instruction at Arg.
	OpBranch OpCode = 3
	// OpStop halts the board.
	OpStop OpCode = 4
)

// String returns the opcode mnemonic.
func (o OpCode) String() string {
	switch o {
	case OpContinue:
		return "CONTINUE"
	case OpLongDelay:
		return "LONG_DELAY"
	case OpWait:
		return "WAIT"
	case OpBranch:
		return "BRANCH"
	case OpStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

// Instruction is one programmed board step.
type Instruction struct {
	// Flags is the output channel bitmask held during the step.
	Flags uint32 `json:"flags"`

	// Op is the opcode.
	Op OpCode `json:"op"`

	// Arg is the opcode argument (branch target, long-delay multiplier).
	Arg int `json:"arg"`

	// Ticks is the step length in core clock ticks.
	Ticks int64 `json:"ticks"`
}

// String renders the instruction for inspection output.
func (in Instruction) String() string {
	return fmt.Sprintf("%#04x %s %d %d", in.Flags, in.Op, in.Arg, in.Ticks)
}
