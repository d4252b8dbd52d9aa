package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/workflow"
)

func signupWorkflow() *workflow.PageWorkflow {
	return &workflow.PageWorkflow{
		ID:         "pw1",
		URL:        "https://example.com/signup",
		WorkflowID: "wf1",
		Steps:      signupSteps(),
	}
}

func TestRunPassesPlanAsArgument(t *testing.T) {
	view := &scriptedView{result: okReport("ok", "not_found")}
	plan := Compile(signupSteps(), map[string]string{"email": "a@b.c"})

	report, err := Run(context.Background(), view, plan)
	require.NoError(t, err)

	assert.Equal(t, Interpreter(), view.fn)
	arg, ok := view.arg.(map[string]interface{})
	require.True(t, ok, "plan travels as plain data")
	assert.EqualValues(t, 5000, arg["timeout"])
	first := arg["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "a@b.c", first["value"])
	assert.Equal(t, "#email", first["selector"])
	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusNotFound, report.Results[1].Status)
	assert.Equal(t, 1, report.Results[1].Index)
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), &scriptedView{err: errors.New("Target closed")}, Plan{})
	assert.ErrorContains(t, err, "Target closed")

	_, err = Run(context.Background(), &scriptedView{}, Plan{})
	assert.ErrorContains(t, err, "no report")

	_, err = Run(context.Background(), &scriptedView{result: "garbage"}, Plan{})
	assert.ErrorContains(t, err, "decoding report")
}

func TestInterpreterScript(t *testing.T) {
	js := Interpreter()
	assert.Contains(t, js, "async (plan) =>")
	for _, want := range []string{"plan.timeout", "plan.pollInterval", "plan.typingPace", "'not_found'", "'skipped'", "'error'"} {
		assert.Contains(t, js, want)
	}
}

func TestBroadcastOutcomesInRequestOrder(t *testing.T) {
	good := &scriptedView{result: okReport("ok", "ok", "ok", "ok")}
	bad := &scriptedView{err: errors.New("Execution context was destroyed")}
	other := &scriptedView{result: okReport("ok", "not_found", "ok", "ok")}
	sessions := sessionMap{
		"a": {ID: "a", View: good},
		"b": {ID: "b", View: bad},
		"c": {ID: "c", View: other},
	}
	b := NewBroadcaster(sessions, 0, nil)

	out, err := b.Execute(context.Background(), Request{
		SessionIDs:   []string{"c", "missing", "b", "a"},
		PageWorkflow: signupWorkflow(),
	})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, []string{"c", "missing", "b", "a"}, []string{out[0].SessionID, out[1].SessionID, out[2].SessionID, out[3].SessionID})

	assert.NoError(t, out[0].Err)
	assert.Equal(t, 1, out[0].Report.Count(StatusNotFound))

	assert.ErrorIs(t, out[1].Err, browser.ErrSessionNotFound)
	assert.Nil(t, out[1].Report)

	assert.ErrorContains(t, out[2].Err, "destroyed")
	assert.NoError(t, out[3].Err, "one failed session does not mask the others")
	assert.True(t, out[3].Report.OK())

	// the legacy view reports the first failure in request order
	assert.ErrorIs(t, out.Err(), browser.ErrSessionNotFound)
	assert.ErrorContains(t, out.Err(), "session missing")

	for _, v := range []*scriptedView{good, bad, other} {
		assert.Equal(t, 1, v.callCount())
	}
}

func TestBroadcastSharesOnePlan(t *testing.T) {
	a := &scriptedView{result: okReport()}
	b := &scriptedView{result: okReport()}
	bc := NewBroadcaster(sessionMap{"a": {View: a}, "b": {View: b}}, 1, nil)

	out, err := bc.Execute(context.Background(), Request{
		SessionIDs:   []string{"a", "b"},
		PageWorkflow: signupWorkflow(),
		Values:       map[string]string{"email": "x@y.z"},
	})
	require.NoError(t, err)
	assert.NoError(t, out.Err())
	assert.Equal(t, a.arg, b.arg)
	first := a.arg.(map[string]interface{})["actions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "x@y.z", first["value"])
}

func TestBroadcastUnknownSessionEvaluatesNothing(t *testing.T) {
	out, err := NewBroadcaster(sessionMap{}, 0, nil).Execute(context.Background(), Request{
		SessionIDs:   []string{"ghost"},
		PageWorkflow: signupWorkflow(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err(), browser.ErrSessionNotFound)
}

func TestBroadcastRequiresPageWorkflow(t *testing.T) {
	_, err := NewBroadcaster(sessionMap{}, 0, nil).Execute(context.Background(), Request{SessionIDs: []string{"a"}})
	assert.Error(t, err)
}

func TestBroadcastContextBoundsWait(t *testing.T) {
	stuck := &scriptedView{block: make(chan struct{})}
	defer close(stuck.block)
	bc := NewBroadcaster(sessionMap{"a": {View: stuck}}, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := bc.Execute(ctx, Request{SessionIDs: []string{"a"}, PageWorkflow: signupWorkflow()})
	require.NoError(t, err)
	assert.ErrorIs(t, out[0].Err, context.DeadlineExceeded)
}

func TestOutcomesErrNil(t *testing.T) {
	assert.NoError(t, Outcomes{{SessionID: "a", Report: &Report{}}}.Err())
	assert.NoError(t, Outcomes(nil).Err())
}
