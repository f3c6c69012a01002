// Package tui is the interactive reminder client: it shows the ringing
// reminder and the pending queue, and maps keys to the acknowledgment
// actions. Progress and snooze calls are fire-and-forget; the server is the
// source of truth and the next poll reasserts state.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/taskbell/internal/client"
	"github.com/basket/taskbell/internal/persistence"
)

// Actions is the subset of the API client the TUI needs.
type Actions interface {
	Progress(ctx context.Context, taskID string, stopped bool) (*client.ProgressResponse, error)
	Snooze(ctx context.Context, taskID string, minutes int) (*client.ProgressResponse, error)
}

// Ringer plays and stops the audio cue.
type Ringer interface {
	Play(priority persistence.Priority, onEnd func()) error
	Stop()
}

type tickMsg time.Time

type ringEndedMsg struct{ taskID string }

type actionDoneMsg struct {
	message string
	err     error
}

// Model is the bubbletea model for the reminder client.
type Model struct {
	queue  *client.Queue
	ring   Ringer
	api    Actions
	logger *slog.Logger

	ringEnded chan string
	cursor    int
	status    string
	width     int
	quitting  bool
}

type Config struct {
	Queue  *client.Queue
	Ring   Ringer
	API    Actions
	Logger *slog.Logger
}

func NewModel(cfg Config) *Model {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		queue:     cfg.Queue,
		ring:      cfg.Ring,
		api:       cfg.API,
		logger:    logger,
		ringEnded: make(chan string, 4),
		width:     80,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitRingEnd())
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) waitRingEnd() tea.Cmd {
	return func() tea.Msg {
		return ringEndedMsg{taskID: <-m.ringEnded}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.maybeActivate()
		return m, tick()

	case ringEndedMsg:
		// Natural end consumes the occurrence without the stopped flag.
		cmd := m.ackActive(false, 0)
		return m, tea.Batch(cmd, m.waitRingEnd())

	case actionDoneMsg:
		if msg.err != nil {
			m.status = "server error: " + msg.err.Error()
			m.logger.Warn("reminder action failed", "error", msg.err)
		} else if msg.message != "" {
			m.status = msg.message
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.ring.Stop()
		return m, tea.Quit

	case "s":
		if _, ok := m.queue.Active(); !ok {
			return m, nil
		}
		m.ring.Stop()
		return m, m.ackActive(true, 0)

	case "z":
		return m, m.snoozeActive(10)

	case "Z":
		return m, m.snoozeActive(60)

	case "j", "down":
		if pending := m.queue.Pending(); m.cursor < len(pending)-1 {
			m.cursor++
		}
		return m, nil

	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "J":
		if m.queue.MoveDown(m.cursor) {
			m.cursor++
		}
		return m, nil

	case "K":
		if m.queue.MoveUp(m.cursor) {
			m.cursor--
		}
		return m, nil

	case "x":
		if item, ok := m.queue.Remove(m.cursor); ok {
			m.status = fmt.Sprintf("Removed %q from the queue", item.Task.Name)
			m.clampCursor()
		}
		return m, nil
	}
	return m, nil
}

// maybeActivate promotes the next pending reminder when nothing rings.
func (m *Model) maybeActivate() {
	item, ok := m.queue.ActivateNext()
	if !ok {
		return
	}
	taskID := item.Task.ID
	err := m.ring.Play(item.Task.Priority, func() {
		m.ringEnded <- taskID
	})
	if err != nil {
		// The reminder stays active and visible; the user acknowledges it
		// by key since there is no cue to wait out.
		m.status = "ringtone unavailable; press s to acknowledge"
		m.logger.Warn("ringtone failed", "task_id", taskID, "error", err)
	}
}

// ackActive progresses (or snoozes, when minutes > 0) the active reminder
// and frees the slot for the next one.
func (m *Model) ackActive(stopped bool, minutes int) tea.Cmd {
	active, ok := m.queue.Active()
	if !ok {
		return nil
	}
	m.queue.FinishActive()
	taskID := active.Task.ID

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp *client.ProgressResponse
		var err error
		if minutes > 0 {
			resp, err = m.api.Snooze(ctx, taskID, minutes)
		} else {
			resp, err = m.api.Progress(ctx, taskID, stopped)
		}
		if err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{message: resp.Message}
	}
}

func (m *Model) snoozeActive(minutes int) tea.Cmd {
	if _, ok := m.queue.Active(); !ok {
		return nil
	}
	m.ring.Stop()
	return m.ackActive(false, minutes)
}

func (m *Model) clampCursor() {
	if n := len(m.queue.Pending()); m.cursor >= n && n > 0 {
		m.cursor = n - 1
	} else if n == 0 {
		m.cursor = 0
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	activeStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))

	priorityStyles = map[persistence.Priority]lipgloss.Style{
		persistence.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		persistence.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		persistence.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("taskbell") + "\n\n")

	if active, ok := m.queue.Active(); ok {
		label := priorityStyles[active.Task.Priority].Render(strings.ToUpper(string(active.Task.Priority)))
		body := fmt.Sprintf("🔔 %s  %s\n%s", label, active.Task.Name,
			dimStyle.Render("s stop   z snooze 10m   Z snooze 60m"))
		b.WriteString(activeStyle.Render(body) + "\n\n")
	} else {
		b.WriteString(dimStyle.Render("No reminder ringing.") + "\n\n")
	}

	pending := m.queue.Pending()
	if len(pending) > 0 {
		b.WriteString(fmt.Sprintf("Queued (%d):\n", len(pending)))
		for i, item := range pending {
			prefix := "  "
			if i == m.cursor {
				prefix = cursorStyle.Render("> ")
			}
			label := priorityStyles[item.Task.Priority].Render(string(item.Task.Priority))
			b.WriteString(fmt.Sprintf("%s%s %s %s\n", prefix, label, item.Task.Name,
				dimStyle.Render(item.ReminderAt.Local().Format("15:04"))))
		}
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(dimStyle.Render("j/k select   K/J reorder   x remove   q quit"))
	return b.String()
}

// Run drives the TUI until quit or context cancellation. Cancellation is a
// normal shutdown, not an error.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(NewModel(cfg), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
