package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-snip-runner/internal/metrics"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatusMsg carries a scraped backend status.
type StatusMsg struct {
	Status *metrics.BackendStatus
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	metricsURL string
	interval   time.Duration

	// Current state
	status       *metrics.BackendStatus
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	source StatusSource

	quitting bool
}

// StatusSource provides the latest backend status. *metrics.StatusScraper
// satisfies it.
type StatusSource interface {
	Status() *metrics.BackendStatus
}

// Config holds TUI configuration.
type Config struct {
	MetricsURL string
	Source     StatusSource

	// Interval between redraws; defaults to 500ms.
	Interval time.Duration
}

// New creates a new TUI model.
func New(cfg Config) Model {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return Model{
		metricsURL: cfg.MetricsURL,
		interval:   interval,
		source:     cfg.Source,
		startTime:  time.Now(),
		lastUpdate: time.Now(),
		width:      80,
		height:     24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// The caller enables the alt screen with tea.WithAltScreen.
	return tickCmd(m.interval)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd(m.interval)

	case StatusMsg:
		m.status = msg.Status
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source == nil {
		return
	}
	if st := m.source.Status(); st != nil {
		m.status = st
	}
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the monitor started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Status returns the last status shown.
func (m Model) Status() *metrics.BackendStatus {
	return m.status
}

// OKRatio returns the share of finished jobs that succeeded.
func (m Model) OKRatio() float64 {
	if m.status == nil || m.status.TotalJobs == 0 {
		return 0
	}
	var ok int64
	for _, l := range m.status.Languages {
		ok += l.OK
	}
	return float64(ok) / float64(m.status.TotalJobs)
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStatus pushes a status update to the TUI.
func SendStatus(p *tea.Program, st *metrics.BackendStatus) {
	if p != nil {
		p.Send(StatusMsg{Status: st})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
