// Package execution turns a page workflow and a set of values into a plan,
// runs that plan inside session pages and collects per-action reports.
//
// A plan is plain data. It is handed to a fixed interpreter function that runs
// in the page; nothing about the plan is spliced into script source.
package execution

import (
	"time"

	"github.com/entrhq/pageflow/pkg/workflow"
)

// Default timings, in milliseconds, applied by Compile.
const (
	DefaultPollInterval = 100
	DefaultTimeout      = 5000
	DefaultTypingPace   = 50
)

// Status is the outcome of a single action.
type Status string

const (
	StatusOK       Status = "ok"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
	StatusSkipped  Status = "skipped"
)

// PlanAction is one action with its value already resolved.
type PlanAction struct {
	Step     string            `json:"step"`
	Index    int               `json:"index"`
	Type     workflow.StepType `json:"type"`
	Selector string            `json:"selector"`
	Mode     string            `json:"mode,omitempty"`
	Value    string            `json:"value"`
	Delay    int               `json:"delay,omitempty"`
}

// Plan is the interpreter's input. Times are milliseconds.
type Plan struct {
	PollInterval int          `json:"pollInterval"`
	Timeout      int          `json:"timeout"`
	TypingPace   int          `json:"typingPace"`
	Actions      []PlanAction `json:"actions"`
}

// Compile flattens steps into a plan, in step order then action order.
// A step's value is values[step.ID], or the step's default when that is
// missing or empty.
func Compile(steps []workflow.PageWorkflowStep, values map[string]string) Plan {
	plan := Plan{
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
		TypingPace:   DefaultTypingPace,
		Actions:      []PlanAction{},
	}
	for _, step := range steps {
		value := values[step.ID]
		if value == "" {
			value = step.Value
		}
		for i, a := range step.Actions {
			plan.Actions = append(plan.Actions, PlanAction{
				Step:     step.ID,
				Index:    i,
				Type:     a.Type,
				Selector: a.Selector,
				Mode:     a.Mode,
				Value:    value,
				Delay:    a.Delay,
			})
		}
	}
	return plan
}

// Budget is an upper bound on how long the plan can run in the page,
// assuming every selector times out.
func (p Plan) Budget() time.Duration {
	ms := 0
	for _, a := range p.Actions {
		ms += a.Delay + p.Timeout + p.PollInterval
		if a.Type == workflow.StepInput && a.Mode == workflow.ModeType {
			ms += len([]rune(a.Value)) * p.TypingPace
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// ActionResult is the interpreter's record for one action.
type ActionResult struct {
	Step     string `json:"step"`
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Report is everything the interpreter observed, one result per plan action.
type Report struct {
	Results []ActionResult `json:"results"`
}

// Count returns how many results have status s.
func (r *Report) Count(s Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// OK reports whether every action succeeded or was skipped.
func (r *Report) OK() bool {
	return r.Count(StatusNotFound) == 0 && r.Count(StatusError) == 0
}
