package engine

// Status classifies a finished run. Non-zero exits are outcomes, not errors.
type Status int

const (
	// StatusOK means every step exited zero.
	StatusOK Status = iota

	// StatusCompileFailed means a compile step exited non-zero; later steps
	// were not run.
	StatusCompileFailed

	// StatusRuntimeFailed means a run step exited non-zero, was killed or
	// timed out.
	StatusRuntimeFailed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCompileFailed:
		return "compile_failed"
	case StatusRuntimeFailed:
		return "runtime_failed"
	default:
		return "unknown"
	}
}

// Failed reports whether the status is a failure.
func (s Status) Failed() bool {
	return s != StatusOK
}

// Stage is the kind of the last step that ran.
type Stage string

const (
	StageCompile Stage = "compile"
	StageRun     Stage = "run"
)

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "clean"
	case 1:
		return "error"
	case 124:
		return "timeout"
	case 137:
		return "SIGKILL"
	case 139:
		return "SIGSEGV"
	case 143:
		return "SIGTERM"
	default:
		return ""
	}
}
