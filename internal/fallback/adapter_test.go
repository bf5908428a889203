package fallback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-snip-runner/internal/engine"
	"github.com/randomizedcoder/go-snip-runner/internal/language"
	"github.com/randomizedcoder/go-snip-runner/internal/logging"
)

func fastBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func newTestAdapter(url string) *Adapter {
	return New(Config{
		BaseURL:      url,
		ClientID:     "id",
		ClientSecret: "secret",
		Backoff:      fastBackoff(),
		Logger:       logging.Discard(),
	})
}

// =============================================================================
// Tests: language mapping
// =============================================================================

func TestDelegateName(t *testing.T) {
	a := newTestAdapter("")

	tests := []struct {
		filetype string
		want     string
		ok       bool
	}{
		{"kotlin", "kotlin", true},
		{"Haskell", "haskell", true},
		{"javascript", "nodejs", true},
		{"python", "python3", true},
		{"sh", "bash", true},
		{"vimscript", "vimscript", false},
	}
	for _, tt := range tests {
		got, ok := a.DelegateName(tt.filetype)
		assert.Equal(t, tt.ok, ok, tt.filetype)
		assert.Equal(t, tt.want, got, tt.filetype)
	}
}

func TestSupports_DisabledWithoutCredentials(t *testing.T) {
	a := New(Config{Logger: logging.Discard()})
	assert.False(t, a.Enabled())
	assert.False(t, a.Supports("kotlin"))

	_, err := a.Execute(context.Background(), "j", "kotlin", "println(1)")
	assert.ErrorIs(t, err, language.ErrUnsupportedLanguage)
}

// =============================================================================
// Tests: Execute
// =============================================================================

func TestExecute_Success(t *testing.T) {
	var got execRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"output":"hello\n","statusCode":200,"memory":"7580","cpuTime":"0.01","compilationStatus":null}`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Execute(context.Background(), "job1", "kotlin", `println("hello")`)
	require.NoError(t, err)

	assert.Equal(t, "id", got.ClientID)
	assert.Equal(t, "secret", got.ClientSecret)
	assert.Equal(t, "kotlin", got.Language)
	assert.Equal(t, `println("hello")`, got.Script)

	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, engine.StatusOK, out.Status)
	assert.True(t, out.Fallback)
	assert.Equal(t, "job1", out.JobID)
}

func TestExecute_CompileFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"error: unresolved reference","statusCode":"200","compilationStatus":1}`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Execute(context.Background(), "j", "kotlin", "x")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompileFailed, out.Status)
	assert.Equal(t, engine.StageCompile, out.Stage)
	assert.Equal(t, "error: unresolved reference", out.Stderr)
	assert.Empty(t, out.Stdout)
}

func TestExecute_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"output":"ok","statusCode":200}`))
	}))
	defer srv.Close()

	out, err := newTestAdapter(srv.URL).Execute(context.Background(), "j", "kotlin", "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Stdout)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecute_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Unauthorized Request","statusCode":401}`))
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).Execute(context.Background(), "j", "kotlin", "x")
	require.ErrorIs(t, err, ErrDelegateFailed)
	assert.Contains(t, err.Error(), "Unauthorized Request")
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	a.cfg.MaxAttempts = 2
	_, err := a.Execute(context.Background(), "j", "kotlin", "x")
	require.ErrorIs(t, err, ErrDelegateFailed)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestAdapter(url).Execute(context.Background(), "j", "kotlin", "x")
	assert.ErrorIs(t, err, ErrDelegateFailed)
}

// =============================================================================
// Tests: Backoff
// =============================================================================

func TestDefaultBackoffConfig(t *testing.T) {
	cfg := DefaultBackoffConfig()
	assert.Equal(t, 250*time.Millisecond, cfg.Initial)
	assert.Equal(t, 5*time.Second, cfg.Max)
	assert.Equal(t, 1.7, cfg.Multiplier)
	assert.Equal(t, 0.4, cfg.JitterPct)
}

func TestBackoffConfig_Base(t *testing.T) {
	cfg := BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Base(tt.retry), "retry=%d", tt.retry)
	}
}

func TestRetrySchedule_NoJitterFollowsBase(t *testing.T) {
	cfg := BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	s := newRetrySchedule("job", cfg)
	for i := 0; i < 6; i++ {
		assert.Equal(t, cfg.Base(i), s.wait(), "retry=%d", i)
	}
}

func TestRetrySchedule_JitterBoundsAndDeterminism(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: time.Minute, Multiplier: 1, JitterPct: 0.4}

	a := newRetrySchedule("job-a", cfg)
	b := newRetrySchedule("job-a", cfg)
	other := newRetrySchedule("job-b", cfg)

	differs := false
	for i := 0; i < 20; i++ {
		da, db := a.wait(), b.wait()
		assert.Equal(t, da, db, "one job must always jitter the same way")
		assert.GreaterOrEqual(t, da, 800*time.Millisecond)
		assert.LessOrEqual(t, da, 1200*time.Millisecond)
		if other.wait() != da {
			differs = true
		}
	}
	assert.True(t, differs, "different jobs should not share a schedule")
}
