package recompiler

import "os"

// ExecutionMode determines whether compiled functions are used
type ExecutionMode int

const (
	ModeInterpreter ExecutionMode = iota // every instruction interpreted
	ModeRecompiler                       // compiled functions where available
)

// ModeEnv selects the execution mode; "interpreter" disables the runtime
const ModeEnv = "PPCREC_MODE"

// GetExecutionMode returns the execution mode chosen by the environment
func GetExecutionMode() ExecutionMode {
	if os.Getenv(ModeEnv) == "interpreter" {
		return ModeInterpreter
	}
	return ModeRecompiler
}

func (m ExecutionMode) String() string {
	if m == ModeInterpreter {
		return "interpreter"
	}
	return "recompiler"
}
