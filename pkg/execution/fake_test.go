package execution

import (
	"context"
	"errors"
	"sync"

	"github.com/entrhq/pageflow/pkg/browser"
)

// scriptedView answers Evaluate and Content; every other View method panics
// through the nil embedded interface.
type scriptedView struct {
	browser.View

	mu      sync.Mutex
	calls   int
	fn      string
	arg     interface{}
	result  interface{}
	err     error
	content string
	block   chan struct{}
}

func (v *scriptedView) Evaluate(ctx context.Context, fn string, arg interface{}) (interface{}, error) {
	v.mu.Lock()
	v.calls++
	v.fn, v.arg = fn, arg
	block := v.block
	v.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.result, v.err
}

func (v *scriptedView) Content(ctx context.Context) (string, error) {
	if v.content == "" {
		return "", errors.New("page gone")
	}
	return v.content, nil
}

func (v *scriptedView) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type sessionMap map[string]*browser.Session

func (m sessionMap) Get(id string) (*browser.Session, bool) {
	s, ok := m[id]
	return s, ok
}

// okReport is what the driver hands back: JSON-decoded maps and slices.
func okReport(statuses ...string) interface{} {
	results := make([]interface{}, len(statuses))
	for i, s := range statuses {
		results[i] = map[string]interface{}{"step": "s", "index": float64(i), "selector": "#x", "status": s}
	}
	return map[string]interface{}{"results": results}
}
