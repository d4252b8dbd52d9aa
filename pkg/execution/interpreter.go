package execution

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/entrhq/pageflow/pkg/browser"
)

//go:embed interpreter.js
var interpreterJS string

// Interpreter returns the page-side function that executes a Plan.
func Interpreter() string {
	return interpreterJS
}

// Run evaluates plan in view and decodes the interpreter's report.
// ctx only bounds how long the caller waits; an abandoned plan keeps running
// in the page until it finishes or the page goes away.
func Run(ctx context.Context, view browser.View, plan Plan) (*Report, error) {
	arg, err := plan.payload()
	if err != nil {
		return nil, err
	}
	raw, err := view.Evaluate(ctx, interpreterJS, arg)
	if err != nil {
		return nil, fmt.Errorf("evaluating plan: %w", err)
	}
	return decodeReport(raw)
}

// payload renders the plan as the JSON-shaped maps and slices a driver passes
// to page script.
func (p Plan) payload() (map[string]interface{}, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}
	return out, nil
}

// decodeReport converts whatever the driver deserialized into a Report.
func decodeReport(raw interface{}) (*Report, error) {
	if raw == nil {
		return nil, fmt.Errorf("interpreter returned no report")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &report, nil
}
