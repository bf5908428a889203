// Package fallback runs Bloc-level code for languages without a local
// handler on a remote JDoodle-compatible interpreter service.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/randomizedcoder/go-snip-runner/internal/engine"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
)

// ErrDelegateFailed is returned when the delegate could not be reached or
// rejected the request after all retries.
var ErrDelegateFailed = errors.New("fallback delegate failed")

// delegateLangs are the language names the delegate accepts.
var delegateLangs = []string{"java", "c", "cpp", "c99", "cpp14", "php", "perl", "python3", "ruby", "go", "scala", "bash", "sql", "pascal", "csharp",
	"vbn", "haskell", "objc", "ell", "swift", "groovy", "fortran", "brainfuck", "lua", "tcl", "hack", "rust", "d", "ada", "r", "freebasic",
	"verilog", "cobol", "dart", "yabasic", "clojure", "nodejs", "scheme", "forth", "prolog", "octave", "coffeescript", "icon", "fsharp", "nasm",
	"gccasm", "intercal", "unlambda", "picolisp", "spidermonkey", "rhino", "bc", "clisp", "elixir", "factor", "falcon", "fantom", "pike", "smalltalk",
	"mozart", "lolcode", "racket", "kotlin"}

// filetypeAliases maps editor filetypes whose name differs from the
// delegate's.
var filetypeAliases = map[string]string{
	"javascript":  "nodejs",
	"js":          "nodejs",
	"python":      "python3",
	"cs":          "csharp",
	"sh":          "bash",
	"zsh":         "bash",
	"objective-c": "objc",
	"asm":         "nasm",
	"lisp":        "clisp",
	"coffee":      "coffeescript",
	"vb":          "vbn",
	"st":          "smalltalk",
}

// Config holds fallback settings. The adapter is disabled unless both
// credentials are set.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	MaxAttempts  int
	Timeout      time.Duration
	Backoff      BackoffConfig
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Adapter routes code to the delegate.
type Adapter struct {
	cfg    Config
	client *Client
	supp   map[string]bool
	logger *slog.Logger
}

// New creates an Adapter.
func New(cfg Config) *Adapter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	supp := make(map[string]bool, len(delegateLangs))
	for _, l := range delegateLangs {
		supp[l] = true
	}

	return &Adapter{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		supp:   supp,
		logger: cfg.Logger,
	}
}

// Enabled reports whether credentials were configured.
func (a *Adapter) Enabled() bool {
	return a.cfg.ClientID != "" && a.cfg.ClientSecret != ""
}

// DelegateName maps an editor filetype to the delegate's language name.
func (a *Adapter) DelegateName(filetype string) (string, bool) {
	ft := strings.ToLower(strings.TrimSpace(filetype))
	if alias, ok := filetypeAliases[ft]; ok {
		ft = alias
	}
	return ft, a.supp[ft]
}

// Supports reports whether filetype can be run remotely.
func (a *Adapter) Supports(filetype string) bool {
	if !a.Enabled() {
		return false
	}
	_, ok := a.DelegateName(filetype)
	return ok
}

// Execute runs code remotely. Network errors, 429 and 5xx replies are
// retried with backoff.
func (a *Adapter) Execute(ctx context.Context, jobID, filetype, code string) (*engine.Outcome, error) {
	lang, ok := a.DelegateName(filetype)
	if !ok || !a.Enabled() {
		return nil, fmt.Errorf("%w: %s", language.ErrUnsupportedLanguage, filetype)
	}

	start := time.Now()
	schedule := newRetrySchedule(jobID, a.cfg.Backoff)

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		resp, err := a.client.Execute(ctx, lang, code)
		if err == nil {
			out := toOutcome(resp)
			out.JobID = jobID
			out.Language = filetype
			out.Elapsed = time.Since(start)
			a.logger.Debug("fallback_executed",
				"job_id", jobID,
				"delegate_language", lang,
				"attempts", attempt,
				"cpu_time", string(resp.CPUTime),
				"memory", string(resp.Memory),
			)
			return out, nil
		}
		lastErr = err

		if !retryable(err) || attempt == a.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := schedule.wait()
		a.logger.Info("fallback_retry",
			"job_id", jobID,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrDelegateFailed, ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrDelegateFailed, lastErr)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// toOutcome maps a delegate reply. The delegate reports no exit code, so a
// non-zero compilation status becomes a compile failure with exit code 1.
func toOutcome(resp *ExecResponse) *engine.Outcome {
	out := &engine.Outcome{
		Stdout:   resp.Output,
		Status:   engine.StatusOK,
		Stage:    engine.StageRun,
		Fallback: true,
	}
	cs := string(resp.CompilationStatus)
	if cs != "" && cs != "0" {
		out.Status = engine.StatusCompileFailed
		out.Stage = engine.StageCompile
		out.ExitCode = 1
		out.Stderr = resp.Output
		out.Stdout = ""
	}
	return out
}
