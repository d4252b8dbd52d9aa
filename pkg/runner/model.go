package runner

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"

	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/workflow"
)

// area is the part of the screen that receives navigation keys.
type area int

const (
	areaFields area = iota
	areaTargets
	areaSessions
	areaCount
)

// activeSession is a session this runner opened for one page workflow.
type activeSession struct {
	id           string
	pageWorkflow *workflow.PageWorkflow
}

type resultLine struct {
	text string
	ok   bool
}

type field struct {
	step  workflow.WorkflowStep
	input textinput.Model
}

// deps are the collaborators the model's commands use.
type deps struct {
	ctx         context.Context
	registry    Sessions
	broadcaster *execution.Broadcaster
	copy        func(string) error
	log         logging.Sink
}

// model is the runner's bubbletea state.
type model struct {
	deps

	workflow *workflow.Workflow
	targets  []*workflow.PageWorkflow
	fields   []field
	sessions []activeSession

	area    area
	cursor  [areaCount]int
	busy    bool
	spinner spinner.Model

	status    string
	statusErr bool
	results   []resultLine

	width  int
	height int
}

// sessionOpenedMsg reports a session created for a target.
type sessionOpenedMsg struct{ session activeSession }

// sessionClosedMsg reports a session gone, closed here or by the user.
type sessionClosedMsg struct{ id string }

// executionDoneMsg carries the outcomes of one run.
type executionDoneMsg struct {
	outcomes execution.Outcomes
	err      error
}

// statusMsg replaces the status line.
type statusMsg struct {
	text string
	err  bool
}

// formSteps are the step types that take a value in the form.
var formSteps = map[workflow.StepType]bool{
	workflow.StepInput:  true,
	workflow.StepDate:   true,
	workflow.StepSelect: true,
}

func newModel(d deps, wf *workflow.Workflow, targets []*workflow.PageWorkflow) *model {
	if d.log == nil {
		d.log = logging.Nop()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = cursorStyle

	m := &model{
		deps:     d,
		workflow: wf,
		targets:  targets,
		spinner:  sp,
	}
	for _, step := range wf.Steps {
		if !formSteps[step.Type] {
			continue
		}
		ti := textinput.New()
		ti.Prompt = ""
		ti.Placeholder = placeholder(step)
		ti.CharLimit = 512
		m.fields = append(m.fields, field{step: step, input: ti})
	}
	if len(m.fields) > 0 {
		m.fields[0].input.Focus()
	} else {
		m.area = areaTargets
	}
	return m
}

func placeholder(step workflow.WorkflowStep) string {
	label := step.Desc
	if label == "" {
		label = string(step.Type)
	}
	switch step.Type {
	case workflow.StepDate:
		return "Enter " + label + " (YYYY-MM-DD)"
	default:
		return "Enter " + label
	}
}

// values collects the form. Empty fields are left out so the page step's own
// default applies.
func (m *model) values() map[string]string {
	out := make(map[string]string, len(m.fields))
	for _, f := range m.fields {
		if v := strings.TrimSpace(f.input.Value()); v != "" {
			out[f.step.ID] = v
		}
	}
	return out
}

func (m *model) sessionIndex(id string) int {
	for i, s := range m.sessions {
		if s.id == id {
			return i
		}
	}
	return -1
}

func (m *model) setStatus(text string, isErr bool) {
	m.status, m.statusErr = text, isErr
}

func (m *model) itemCount(a area) int {
	switch a {
	case areaFields:
		return len(m.fields)
	case areaTargets:
		return len(m.targets)
	case areaSessions:
		return len(m.sessions)
	}
	return 0
}

func (m *model) clampCursor(a area) {
	n := m.itemCount(a)
	switch {
	case n == 0:
		m.cursor[a] = 0
	case m.cursor[a] >= n:
		m.cursor[a] = n - 1
	case m.cursor[a] < 0:
		m.cursor[a] = 0
	}
}
