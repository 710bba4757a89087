package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"crmsync/backend"
	"crmsync/internal/sync"
)

// watchQueueRows caps how many queue items the watch view lists.
const watchQueueRows = 8

// QueueQuery is the live queue listing fed to the watch view.
type QueueQuery = <-chan backend.QueryResult[[]backend.QueueItem]

// stateMsg carries a coordinator snapshot into the model.
type stateMsg struct {
	state sync.State
	ok    bool
}

// queueMsg carries a live queue listing into the model.
type queueMsg struct {
	result backend.QueryResult[[]backend.QueueItem]
	ok     bool
}

type tickMsg time.Time

// watchModel is the bubbletea model for `crmsync watch`
type watchModel struct {
	states   <-chan sync.State
	queue    QueueQuery
	trigger  func()
	spinner  spinner.Model
	state    sync.State
	received bool
	items    []backend.QueueItem
	queueErr error
	closed   bool
	quitting bool
	now      func() time.Time
	width    int
}

func newWatchModel(states <-chan sync.State, queue QueueQuery, trigger func()) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warnStyle
	return watchModel{
		states:  states,
		queue:   queue,
		trigger: trigger,
		spinner: sp,
		now:     time.Now,
		width:   80,
	}
}

func waitForState(ch <-chan sync.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		return stateMsg{state: st, ok: ok}
	}
}

func waitForQueue(ch QueueQuery) tea.Cmd {
	return func() tea.Msg {
		res, ok := <-ch
		return queueMsg{result: res, ok: ok}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init initializes the watchModel
func (m watchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForState(m.states), tick()}
	if m.queue != nil {
		cmds = append(cmds, waitForQueue(m.queue))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and updates watchModel state
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s":
			if m.trigger != nil {
				m.trigger()
			}
			return m, nil
		}

	case stateMsg:
		if !msg.ok {
			m.closed = true
			m.quitting = true
			return m, tea.Quit
		}
		m.state = msg.state
		m.received = true
		return m, waitForState(m.states)

	case queueMsg:
		if !msg.ok {
			m.queue = nil
			return m, nil
		}
		m.items, m.queueErr = msg.result.Value, msg.result.Err
		return m, waitForQueue(m.queue)

	case tickMsg:
		// Refreshes the "last sync" age.
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the current snapshot
func (m watchModel) View() string {
	if m.quitting {
		return ""
	}
	var s strings.Builder
	if !m.received {
		s.WriteString(m.spinner.View() + " Waiting for sync status...\n")
	} else {
		s.WriteString(RenderState(m.state, m.now()))
		if m.state.Syncing {
			s.WriteString(m.spinner.View() + " Pushing queued changes\n")
		}
	}
	switch {
	case m.queueErr != nil:
		s.WriteString(errorStyle.Render("Queue unavailable: "+m.queueErr.Error()) + "\n")
	case len(m.items) > 0:
		shown := m.items
		if len(shown) > watchQueueRows {
			shown = shown[:watchQueueRows]
		}
		s.WriteString("\n" + RenderQueue(shown))
		if more := len(m.items) - len(shown); more > 0 {
			s.WriteString(dimStyle.Render(fmt.Sprintf("... and %d more", more)) + "\n")
		}
	}
	s.WriteString("\n")
	s.WriteString(dimStyle.Render("s: sync now • q: quit"))
	s.WriteString("\n")
	return s.String()
}

// RunWatch shows live sync status and the queue until the user quits or
// states closes. queue may be nil.
func RunWatch(states <-chan sync.State, queue QueueQuery, trigger func()) error {
	p := tea.NewProgram(newWatchModel(states, queue, trigger))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running watch view: %w", err)
	}
	return nil
}
