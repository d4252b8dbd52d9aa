package execution

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/workflow"
)

// Sessions looks up open sessions. *browser.Registry satisfies it.
type Sessions interface {
	Get(id string) (*browser.Session, bool)
}

// Request asks for one page workflow to run on several sessions.
type Request struct {
	SessionIDs   []string
	PageWorkflow *workflow.PageWorkflow
	Values       map[string]string
}

// SessionOutcome is the result of running the plan on one session.
type SessionOutcome struct {
	SessionID string
	Report    *Report
	Err       error
}

// Outcomes holds one outcome per requested session, in request order.
type Outcomes []SessionOutcome

// Err returns the first failure in request order, or nil when every
// session evaluated its plan.
func (o Outcomes) Err() error {
	for _, out := range o {
		if out.Err != nil {
			return fmt.Errorf("session %s: %w", out.SessionID, out.Err)
		}
	}
	return nil
}

// Broadcaster runs a compiled plan on many sessions at once.
type Broadcaster struct {
	sessions Sessions
	log      logging.Sink
	limit    int
}

// NewBroadcaster creates a broadcaster over sessions. A limit <= 0 runs every
// session concurrently.
func NewBroadcaster(sessions Sessions, limit int, log logging.Sink) *Broadcaster {
	if log == nil {
		log = logging.Nop()
	}
	return &Broadcaster{sessions: sessions, log: log, limit: limit}
}

// Execute compiles the request once and evaluates it on every session.
// A failing session never masks the others; see Outcomes.Err for the
// all-or-nothing view.
func (b *Broadcaster) Execute(ctx context.Context, req Request) (Outcomes, error) {
	if req.PageWorkflow == nil {
		return nil, errors.New("no page workflow to execute")
	}
	plan := Compile(req.PageWorkflow.Steps, req.Values)
	b.log.Infof("executing %q (%d actions) on %d session(s)",
		req.PageWorkflow.ID, len(plan.Actions), len(req.SessionIDs))

	outcomes := make(Outcomes, len(req.SessionIDs))
	var g errgroup.Group
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	for i, id := range req.SessionIDs {
		outcomes[i].SessionID = id
		s, ok := b.sessions.Get(id)
		if !ok {
			outcomes[i].Err = fmt.Errorf("%w: %s", browser.ErrSessionNotFound, id)
			continue
		}
		i, id := i, id
		g.Go(func() error {
			report, err := Run(ctx, s.View, plan)
			if err != nil {
				b.log.Warnf("session %s: %v", id, err)
			} else if !report.OK() {
				b.log.Warnf("session %s: %d not found, %d failed",
					id, report.Count(StatusNotFound), report.Count(StatusError))
			}
			// each goroutine owns its slot
			outcomes[i].Report = report
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}
