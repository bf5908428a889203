package jobserver

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-snip-runner/internal/engine"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/resolver"
)

// Request is one run invocation. It is never mutated after Run accepts it.
type Request struct {
	ID        string
	File      string
	Filetype  string
	FirstLine int // 1-indexed, inclusive
	LastLine  int
	ScriptDir string
	Received  time.Time
}

// Result is what a Sink receives for every accepted or rejected request.
// Exactly one of Outcome and Err is set.
type Result struct {
	Request Request
	Outcome *engine.Outcome
	Err     error
}

// Sink presents results. Deliver is called from the worker goroutine and
// must not block for long.
type Sink interface {
	Deliver(Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

// Deliver calls f(r).
func (f SinkFunc) Deliver(r Result) { f(r) }

// Resolver gathers the code to run.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request, desc *language.Descriptor) (*resolver.Unit, error)
}

// Delegate runs code for languages without a local handler.
type Delegate interface {
	Supports(filetype string) bool
	Execute(ctx context.Context, jobID, filetype, code string) (*engine.Outcome, error)
}

// Recorder receives job lifecycle events for metrics.
type Recorder interface {
	QueueDepth(n int)
	JobFinished(lang, status string, elapsed time.Duration, fallback bool)
	JobRejected(reason string)
	WorkspaceCleaned()
	ResolutionMiss(lang string, missing int)
}

type nopRecorder struct{}

func (nopRecorder) QueueDepth(int)                                  {}
func (nopRecorder) JobFinished(string, string, time.Duration, bool) {}
func (nopRecorder) JobRejected(string)                              {}
func (nopRecorder) WorkspaceCleaned()                               {}
func (nopRecorder) ResolutionMiss(string, int)                      {}

// Stats is a point-in-time snapshot of server counters.
type Stats struct {
	Queued          int
	Accepted        uint64
	Completed       uint64
	Failed          uint64
	Rejected        uint64
	Cleans          uint64
	ActiveProcesses int
}
