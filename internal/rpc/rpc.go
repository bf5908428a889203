// Package rpc connects the job server to an editor over msgpack-rpc on
// stdio. The editor sends run, terminate and clean as notifications;
// results are pushed back with echo and error writes.
package rpc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/neovim/go-client/nvim"

	"github.com/randomizedcoder/go-snip-runner/internal/jobserver"
)

// ErrBackendUnreachable is returned when the rpc transport fails.
var ErrBackendUnreachable = errors.New("backend unreachable")

// Notification names accepted from the editor.
const (
	MethodRun       = "run"
	MethodTerminate = "terminate"
	MethodClean     = "clean"
)

// Editor is the part of the editor API the backend uses.
type Editor interface {
	// CurrentFile returns the saved path and filetype of the active buffer.
	CurrentFile() (path, filetype string, err error)
	Echo(text string) error
	Error(text string) error
}

// Backend is what notifications are forwarded to.
type Backend interface {
	Run(req jobserver.Request) (string, error)
	Terminate()
	Clean() error
}

// Handlers turns editor notifications into job server calls. Handlers
// return quickly; execution happens on the job server's worker.
type Handlers struct {
	backend Backend
	editor  Editor
	logger  *slog.Logger
}

// NewHandlers creates Handlers.
func NewHandlers(backend Backend, editor Editor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{backend: backend, editor: editor, logger: logger}
}

// Run handles run(firstLine, lastLine, scriptDir).
func (h *Handlers) Run(firstLine, lastLine int, scriptDir string) {
	path, filetype, err := h.editor.CurrentFile()
	if err != nil {
		h.logger.Warn("current_file_failed", "error", err)
		h.editor.Error("snip-runner: cannot read current buffer: " + err.Error())
		return
	}
	if path == "" {
		h.editor.Error("snip-runner: buffer has no file, save it first")
		return
	}

	req := jobserver.Request{
		File:      path,
		Filetype:  filetype,
		FirstLine: firstLine,
		LastLine:  lastLine,
		ScriptDir: scriptDir,
		Received:  time.Now(),
	}
	// Rejections are reported through the sink.
	if _, err := h.backend.Run(req); err != nil {
		h.logger.Debug("run_not_queued", "error", err)
	}
}

// Terminate handles terminate().
func (h *Handlers) Terminate() {
	h.backend.Terminate()
}

// Clean handles clean().
func (h *Handlers) Clean() {
	if err := h.backend.Clean(); err != nil {
		h.logger.Warn("clean_not_queued", "error", err)
		h.editor.Error("snip-runner: clean failed: " + err.Error())
	}
}

// Conn is an editor connection over a msgpack-rpc stream.
type Conn struct {
	v      *nvim.Nvim
	logger *slog.Logger
}

// Dial wraps an already established stream, normally stdin and stdout.
func Dial(r io.Reader, w io.Writer, c io.Closer, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logf := func(format string, args ...interface{}) {
		logger.Info("rpc_transport", "message", fmt.Sprintf(format, args...))
	}
	v, err := nvim.New(r, w, c, logf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	return &Conn{v: v, logger: logger}, nil
}

// Register installs the notification handlers.
func (c *Conn) Register(h *Handlers) error {
	for method, fn := range map[string]interface{}{
		MethodRun:       h.Run,
		MethodTerminate: h.Terminate,
		MethodClean:     h.Clean,
	} {
		if err := c.v.RegisterHandler(method, fn); err != nil {
			return fmt.Errorf("register %s: %w", method, err)
		}
	}
	return nil
}

// Serve blocks until the stream closes. A transport failure is reported as
// ErrBackendUnreachable.
func (c *Conn) Serve() error {
	if err := c.v.Serve(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	return nil
}

// Close closes the stream.
func (c *Conn) Close() error {
	return c.v.Close()
}

// CurrentFile asks the editor for the active buffer's path and filetype.
func (c *Conn) CurrentFile() (string, string, error) {
	var path, filetype string
	b := c.v.NewBatch()
	b.Eval("expand('%:p')", &path)
	b.Eval("&filetype", &filetype)
	if err := b.Execute(); err != nil {
		return "", "", err
	}
	return path, filetype, nil
}

// Echo writes text to the message area.
func (c *Conn) Echo(text string) error {
	return c.v.WriteOut(text + "\n")
}

// Error writes text to the error channel.
func (c *Conn) Error(text string) error {
	return c.v.WritelnErr(text)
}

// Sink delivers job results to an Editor.
type Sink struct {
	editor Editor
	logger *slog.Logger
}

// NewSink creates a Sink.
func NewSink(editor Editor, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{editor: editor, logger: logger}
}

// Deliver echoes output or writes the error.
func (s *Sink) Deliver(r jobserver.Result) {
	text, isErr := jobserver.Render(r)
	var err error
	switch {
	case isErr:
		err = s.editor.Error(text)
	case text != "":
		err = s.editor.Echo(text)
	}
	if err != nil {
		s.logger.Warn("deliver_failed", "job_id", r.Request.ID, "error", err)
	}
}

var (
	_ Editor         = (*Conn)(nil)
	_ jobserver.Sink = (*Sink)(nil)
)
