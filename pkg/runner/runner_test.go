package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/store"
	"github.com/entrhq/pageflow/pkg/workflow"
)

type fakeView struct {
	browser.View
	url string

	mu   sync.Mutex
	args []interface{}
}

func (v *fakeView) URL() string { return v.url }

func (v *fakeView) Evaluate(ctx context.Context, fn string, arg interface{}) (interface{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.args = append(v.args, arg)
	if strings.Contains(v.url, "broken") {
		return nil, errors.New("Target closed")
	}
	return map[string]interface{}{"results": []interface{}{
		map[string]interface{}{"step": "name", "index": 0.0, "selector": "#name", "status": "ok"},
	}}, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	next     int
	open     map[string]*browser.Session
	focused  []string
	removed  []string
	createFn func(url string) error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{open: make(map[string]*browser.Session)}
}

func (f *fakeSessions) Create(ctx context.Context, url string) (string, error) {
	if f.createFn != nil {
		if err := f.createFn(url); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("s%d", f.next)
	f.open[id] = &browser.Session{ID: id, URL: url, View: &fakeView{url: url}}
	return id, nil
}

func (f *fakeSessions) Get(id string) (*browser.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.open[id]
	return s, ok
}

func (f *fakeSessions) Focus(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[id]; !ok {
		return fmt.Errorf("%w: %s", browser.ErrSessionNotFound, id)
	}
	f.focused = append(f.focused, id)
	return nil
}

func (f *fakeSessions) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[id]; !ok {
		return fmt.Errorf("%w: %s", browser.ErrSessionNotFound, id)
	}
	delete(f.open, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func testWorkflow() (*workflow.Workflow, []*workflow.PageWorkflow) {
	wf := &workflow.Workflow{ID: "signup", Title: "Sign up", Steps: []workflow.WorkflowStep{
		{ID: "name", Type: workflow.StepInput, Desc: "Full name"},
		{ID: "when", Type: workflow.StepDate},
		{ID: "go", Type: workflow.StepClick},
	}}
	steps := []workflow.PageWorkflowStep{{
		ID: "name", Type: workflow.StepInput, Value: "Default",
		Actions: []workflow.Action{{Type: workflow.StepInput, Selector: "#name"}},
	}}
	return wf, []*workflow.PageWorkflow{
		{ID: "a", Title: "Site A", URL: "https://a.example.com", WorkflowID: "signup", Steps: steps},
		{ID: "b", URL: "https://broken.example.com", WorkflowID: "signup", Steps: steps},
	}
}

func newTestModel(t *testing.T) (*model, *fakeSessions, *[]string) {
	t.Helper()
	sessions := newFakeSessions()
	var copied []string
	wf, targets := testWorkflow()
	m := newModel(deps{
		ctx:         context.Background(),
		registry:    sessions,
		broadcaster: execution.NewBroadcaster(sessions, 0, nil),
		copy: func(s string) error {
			copied = append(copied, s)
			return nil
		},
	}, wf, targets)
	return m, sessions, &copied
}

// drive runs cmd and feeds the resulting messages back into m, the way the
// program loop would, skipping timer-driven messages.
func drive(m *model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	switch msg := msg.(type) {
	case nil, spinner.TickMsg, tea.QuitMsg:
		return
	case tea.BatchMsg:
		for _, c := range msg {
			drive(m, c)
		}
	default:
		_, next := m.Update(msg)
		drive(m, next)
	}
}

func press(m *model, key string) tea.Cmd {
	var msg tea.KeyMsg
	switch key {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+r":
		msg = tea.KeyMsg{Type: tea.KeyCtrlR}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	_, cmd := m.Update(msg)
	return cmd
}

func typeText(m *model, text string) {
	for _, r := range text {
		_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func TestNewModelBuildsFormFields(t *testing.T) {
	m, _, _ := newTestModel(t)
	require.Len(t, m.fields, 2, "click steps take no value")
	assert.Equal(t, "name", m.fields[0].step.ID)
	assert.Equal(t, "when", m.fields[1].step.ID)
	assert.True(t, m.fields[0].input.Focused())
	assert.Equal(t, areaFields, m.area)
}

func TestModelWithoutFieldsStartsOnTargets(t *testing.T) {
	wf := &workflow.Workflow{ID: "w", Title: "Click only", Steps: []workflow.WorkflowStep{{ID: "go", Type: workflow.StepClick}}}
	m := newModel(deps{ctx: context.Background(), registry: newFakeSessions()}, wf, nil)
	assert.Equal(t, areaTargets, m.area)

	m.switchArea(1)
	assert.Equal(t, areaSessions, m.area)
	m.switchArea(1)
	assert.Equal(t, areaTargets, m.area, "empty fields area is skipped")
}

func TestFormValues(t *testing.T) {
	m, _, _ := newTestModel(t)
	typeText(m, "  Alice ")
	drive(m, press(m, "enter"))
	assert.Equal(t, 1, m.cursor[areaFields])

	assert.Equal(t, map[string]string{"name": "Alice"}, m.values(), "empty fields fall back to step defaults")
}

func TestOpenRunAndClose(t *testing.T) {
	m, sessions, copied := newTestModel(t)
	typeText(m, "Alice")

	drive(m, press(m, "tab"))
	require.Equal(t, areaTargets, m.area)
	drive(m, press(m, "enter"))
	drive(m, press(m, "down"))
	drive(m, press(m, "enter"))

	require.Len(t, m.sessions, 2)
	assert.Equal(t, 2, sessions.count())
	assert.False(t, m.busy)
	assert.Contains(t, m.View(), "Site A")

	drive(m, press(m, "ctrl+r"))
	require.Len(t, m.results, 2)
	assert.True(t, m.results[0].ok)
	assert.Contains(t, m.results[0].text, "Site A")
	assert.False(t, m.results[1].ok)
	assert.Contains(t, m.results[1].text, "Target closed")
	assert.True(t, m.statusErr)

	view := sessions.open["s1"].View.(*fakeView)
	require.Len(t, view.args, 1)
	first := view.args[0].(map[string]interface{})["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Alice", first["value"])

	drive(m, press(m, "tab"))
	require.Equal(t, areaSessions, m.area)
	drive(m, press(m, "enter"))
	assert.Equal(t, []string{"s1"}, sessions.focused)

	drive(m, press(m, "c"))
	assert.Equal(t, []string{"https://a.example.com"}, *copied)

	drive(m, press(m, "x"))
	assert.Equal(t, []string{"s1"}, sessions.removed)
	require.Len(t, m.sessions, 1)
	assert.Equal(t, "s2", m.sessions[0].id)
}

func TestRunWithoutSessions(t *testing.T) {
	m, _, _ := newTestModel(t)
	assert.Nil(t, press(m, "ctrl+r"))
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, "Open at least one target")
}

func TestOpenFailure(t *testing.T) {
	m, sessions, _ := newTestModel(t)
	sessions.createFn = func(string) error { return errors.New("display gone") }

	drive(m, press(m, "tab"))
	drive(m, press(m, "enter"))

	assert.Empty(t, m.sessions)
	assert.False(t, m.busy)
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, "display gone")
}

func TestSessionClosedByUser(t *testing.T) {
	m, _, _ := newTestModel(t)
	drive(m, press(m, "tab"))
	drive(m, press(m, "enter"))
	require.Len(t, m.sessions, 1)

	_, _ = m.Update(sessionClosedMsg{id: m.sessions[0].id})
	assert.Empty(t, m.sessions)

	// unknown ids are ignored
	_, _ = m.Update(sessionClosedMsg{id: "nope"})
	assert.Empty(t, m.sessions)
}

func TestRunnerClosesSessionsOnQuit(t *testing.T) {
	st := store.New(t.TempDir())
	wf, targets := testWorkflow()
	ctx := context.Background()
	require.NoError(t, st.SaveWorkflow(ctx, wf))
	for _, pw := range targets {
		require.NoError(t, st.SavePageWorkflow(ctx, pw))
	}

	sessions := newFakeSessions()
	r := New(Options{
		Store:      st,
		Sessions:   sessions,
		WorkflowID: "signup",
		Copy:       func(string) error { return nil },
		ProgramOptions: []tea.ProgramOption{
			tea.WithInput(nil),
			tea.WithOutput(io.Discard),
			tea.WithoutRenderer(),
		},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.program.Load() != nil }, 2*time.Second, 10*time.Millisecond)

	p := r.program.Load()
	p.Send(tea.KeyMsg{Type: tea.KeyTab})
	p.Send(tea.KeyMsg{Type: tea.KeyEnter})
	require.Eventually(t, func() bool { return sessions.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	p.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not exit")
	}
	assert.Zero(t, sessions.count())
	assert.Equal(t, []string{"s1"}, sessions.removed)
}

func TestRunnerUnknownWorkflow(t *testing.T) {
	r := New(Options{Store: store.New(t.TempDir()), Sessions: newFakeSessions(), WorkflowID: "missing"})
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
