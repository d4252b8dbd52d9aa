package runner

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/workflow"
)

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles all state updates for the runner.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionOpenedMsg:
		m.busy = false
		m.sessions = append(m.sessions, msg.session)
		m.setStatus(fmt.Sprintf("Opened %s", title(msg.session.pageWorkflow)), false)
		return m, nil

	case sessionClosedMsg:
		if i := m.sessionIndex(msg.id); i >= 0 {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			m.clampCursor(areaSessions)
		}
		return m, nil

	case executionDoneMsg:
		m.busy = false
		m.showOutcomes(msg)
		m.log.Infof("run finished: %d outcome(s), first error: %v", len(msg.outcomes), msg.outcomes.Err())
		return m, nil

	case statusMsg:
		m.busy = false
		if msg.err {
			m.log.Warnf("%s", msg.text)
		}
		m.setStatus(msg.text, msg.err)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m.updateFocusedInput(msg)
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		m.switchArea(1)
		return m, nil
	case "shift+tab":
		m.switchArea(-1)
		return m, nil
	case "ctrl+r":
		return m, m.execute()
	case "up":
		m.moveCursor(-1)
		return m, nil
	case "down":
		m.moveCursor(1)
		return m, nil
	}

	if m.area == areaFields {
		if msg.Type == tea.KeyEnter {
			m.moveCursor(1)
			return m, nil
		}
		return m.updateFocusedInput(msg)
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "k":
		m.moveCursor(-1)
	case "j":
		m.moveCursor(1)
	case "enter":
		return m, m.activate()
	case "x", "delete":
		if m.area == areaSessions {
			return m, m.closeSelected()
		}
	case "c":
		if m.area == areaSessions {
			return m, m.copySelected()
		}
	}
	return m, nil
}

func (m *model) updateFocusedInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.area != areaFields || len(m.fields) == 0 {
		return m, nil
	}
	i := m.cursor[areaFields]
	var cmd tea.Cmd
	m.fields[i].input, cmd = m.fields[i].input.Update(msg)
	return m, cmd
}

func (m *model) switchArea(delta int) {
	next := m.area
	for n := area(0); n < areaCount; n++ {
		next = (next + area(delta) + areaCount) % areaCount
		if next != areaFields || len(m.fields) > 0 {
			break
		}
	}
	m.area = next
	m.syncFocus()
}

func (m *model) moveCursor(delta int) {
	m.cursor[m.area] += delta
	m.clampCursor(m.area)
	m.syncFocus()
}

// syncFocus gives keyboard focus to the selected field, and only while the
// fields area is active.
func (m *model) syncFocus() {
	for i := range m.fields {
		if m.area == areaFields && i == m.cursor[areaFields] {
			m.fields[i].input.Focus()
		} else {
			m.fields[i].input.Blur()
		}
	}
}

func (m *model) activate() tea.Cmd {
	switch m.area {
	case areaTargets:
		if len(m.targets) == 0 {
			return nil
		}
		return m.open(m.targets[m.cursor[areaTargets]])
	case areaSessions:
		if len(m.sessions) == 0 {
			return nil
		}
		id := m.sessions[m.cursor[areaSessions]].id
		registry := m.registry
		return func() tea.Msg {
			if err := registry.Focus(id); err != nil {
				return statusMsg{text: err.Error(), err: true}
			}
			return nil
		}
	}
	return nil
}

func (m *model) open(pw *workflow.PageWorkflow) tea.Cmd {
	m.busy = true
	m.setStatus(fmt.Sprintf("Opening %s…", pw.URL), false)
	ctx, registry := m.ctx, m.registry
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		id, err := registry.Create(ctx, pw.URL)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Failed to open %s: %v", title(pw), err), err: true}
		}
		return sessionOpenedMsg{session: activeSession{id: id, pageWorkflow: pw}}
	})
}

func (m *model) closeSelected() tea.Cmd {
	if len(m.sessions) == 0 {
		return nil
	}
	id := m.sessions[m.cursor[areaSessions]].id
	registry := m.registry
	return func() tea.Msg {
		if err := registry.Remove(id); err != nil && !errors.Is(err, browser.ErrSessionNotFound) {
			return statusMsg{text: err.Error(), err: true}
		}
		return sessionClosedMsg{id: id}
	}
}

func (m *model) copySelected() tea.Cmd {
	if len(m.sessions) == 0 {
		return nil
	}
	s := m.sessions[m.cursor[areaSessions]]
	url := s.pageWorkflow.URL
	if sess, ok := m.registry.Get(s.id); ok && sess.View != nil {
		url = sess.View.URL()
	}
	copyFn := m.copy
	return func() tea.Msg {
		if err := copyFn(url); err != nil {
			return statusMsg{text: fmt.Sprintf("Copy failed: %v", err), err: true}
		}
		return statusMsg{text: "Copied " + url}
	}
}

// execute broadcasts the form values to every open session. Sessions are
// grouped by page workflow; each group is one broadcast.
func (m *model) execute() tea.Cmd {
	if m.busy {
		return nil
	}
	if len(m.sessions) == 0 {
		m.setStatus("Open at least one target first.", true)
		return nil
	}

	var order []*workflow.PageWorkflow
	groups := make(map[*workflow.PageWorkflow][]string)
	for _, s := range m.sessions {
		if _, ok := groups[s.pageWorkflow]; !ok {
			order = append(order, s.pageWorkflow)
		}
		groups[s.pageWorkflow] = append(groups[s.pageWorkflow], s.id)
	}

	values := m.values()
	ctx, bc := m.ctx, m.broadcaster
	m.busy = true
	m.setStatus(fmt.Sprintf("Running on %d session(s)…", len(m.sessions)), false)

	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		var all execution.Outcomes
		for _, pw := range order {
			out, err := bc.Execute(ctx, execution.Request{
				SessionIDs:   groups[pw],
				PageWorkflow: pw,
				Values:       values,
			})
			if err != nil {
				return executionDoneMsg{outcomes: all, err: err}
			}
			all = append(all, out...)
		}
		return executionDoneMsg{outcomes: all}
	})
}

func (m *model) showOutcomes(msg executionDoneMsg) {
	m.results = m.results[:0]
	for _, o := range msg.outcomes {
		name := o.SessionID
		if i := m.sessionIndex(o.SessionID); i >= 0 {
			name = title(m.sessions[i].pageWorkflow)
		}
		switch {
		case o.Err != nil:
			m.results = append(m.results, resultLine{text: fmt.Sprintf("✗ %s: %v", name, o.Err)})
		case o.Report.OK():
			m.results = append(m.results, resultLine{text: fmt.Sprintf("✓ %s: %d action(s)", name, len(o.Report.Results)), ok: true})
		default:
			m.results = append(m.results, resultLine{text: fmt.Sprintf("! %s: %d not found, %d failed",
				name, o.Report.Count(execution.StatusNotFound), o.Report.Count(execution.StatusError))})
		}
	}

	switch {
	case msg.err != nil:
		m.setStatus(fmt.Sprintf("Execution failed: %v", msg.err), true)
	case msg.outcomes.Err() != nil:
		m.setStatus("Execution finished with errors.", true)
	default:
		m.setStatus(fmt.Sprintf("Execution finished on %d session(s).", len(msg.outcomes)), false)
	}
}

func title(pw *workflow.PageWorkflow) string {
	if pw.Title != "" {
		return pw.Title
	}
	return pw.URL
}
