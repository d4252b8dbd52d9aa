// Package workflow defines the persisted records the engine reads: workflows,
// their per-site bindings (page workflows) and the DOM actions inside them.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// StepType is the kind of interaction a step or action performs.
type StepType string

const (
	StepInput  StepType = "input"
	StepClick  StepType = "click"
	StepSelect StepType = "select"
	StepUpload StepType = "upload"
	StepDate   StepType = "date"
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepInput, StepClick, StepSelect, StepUpload, StepDate:
		return true
	}
	return false
}

// Input modes.
const (
	ModeSet       = "set"
	ModeType      = "type"
	ModeInnerText = "inner_text"
)

// Select modes.
const (
	ModeValue = "value"
	ModeText  = "text"
	ModeIndex = "index"
)

var validModes = map[StepType][]string{
	StepInput:  {ModeSet, ModeType, ModeInnerText},
	StepSelect: {ModeValue, ModeText, ModeIndex},
}

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid workflow record")

// WorkflowStep is one parameterized step of a site-independent workflow.
type WorkflowStep struct {
	ID   string   `json:"id"`
	Type StepType `json:"type"`
	Desc string   `json:"desc,omitempty"`
}

// Workflow is a canonical ordered list of steps. The order drives the value-entry form.
type Workflow struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Desc      string         `json:"desc,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
	Steps     []WorkflowStep `json:"steps"`
}

// Action is one DOM operation inside a page workflow step.
type Action struct {
	Type     StepType `json:"type"`
	Selector string   `json:"selector"`
	// Delay in milliseconds, applied before the selector is resolved.
	Delay int    `json:"delay,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// PageWorkflowStep maps a workflow step onto concrete actions for one site.
type PageWorkflowStep struct {
	ID      string   `json:"id"`
	Type    StepType `json:"type"`
	Desc    string   `json:"desc,omitempty"`
	Value   string   `json:"value,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// PageWorkflow binds a Workflow to one target site.
type PageWorkflow struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	URL        string             `json:"url"`
	WorkflowID string             `json:"workflowId"`
	CreatedAt  int64              `json:"createdAt"`
	UpdatedAt  int64              `json:"updatedAt"`
	Steps      []PageWorkflowStep `json:"steps"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the workflow's own invariants.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return invalid("workflow id is required")
	}
	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			return invalid("step %d has no id", i)
		}
		if seen[s.ID] {
			return invalid("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if !s.Type.Valid() {
			return invalid("step %q has unknown type %q", s.ID, s.Type)
		}
	}
	return nil
}

// Step returns the step with the given id.
func (w *Workflow) Step(id string) (WorkflowStep, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return WorkflowStep{}, false
}

// Validate checks the action's selector, delay and mode.
func (a Action) Validate() error {
	if !a.Type.Valid() {
		return invalid("unknown action type %q", a.Type)
	}
	if strings.TrimSpace(a.Selector) == "" {
		return invalid("%s action has an empty selector", a.Type)
	}
	if a.Delay < 0 {
		return invalid("action %q has negative delay", a.Selector)
	}
	if a.Mode == "" {
		return nil
	}
	modes, ok := validModes[a.Type]
	if !ok {
		return invalid("%s action does not take a mode (got %q)", a.Type, a.Mode)
	}
	for _, m := range modes {
		if m == a.Mode {
			return nil
		}
	}
	return invalid("mode %q is not valid for %s actions", a.Mode, a.Type)
}

// Validate checks the page workflow on its own, without the bound workflow.
func (p *PageWorkflow) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return invalid("page workflow id is required")
	}
	if strings.TrimSpace(p.URL) == "" {
		return invalid("page workflow %q has no url", p.ID)
	}
	if p.WorkflowID == "" {
		return invalid("page workflow %q is not bound to a workflow", p.ID)
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		if seen[s.ID] {
			return invalid("duplicate page step id %q", s.ID)
		}
		seen[s.ID] = true
		for _, a := range s.Actions {
			if err := a.Validate(); err != nil {
				return fmt.Errorf("step %q: %w", s.ID, err)
			}
		}
	}
	return nil
}

// ValidateBinding checks that pw maps onto wf: same workflow id, and every
// page step matches exactly one workflow step.
func ValidateBinding(wf *Workflow, pw *PageWorkflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	if err := pw.Validate(); err != nil {
		return err
	}
	if pw.WorkflowID != wf.ID {
		return invalid("page workflow %q is bound to %q, not %q", pw.ID, pw.WorkflowID, wf.ID)
	}
	for _, s := range pw.Steps {
		if _, ok := wf.Step(s.ID); !ok {
			return invalid("page step %q has no matching workflow step", s.ID)
		}
	}
	return nil
}
