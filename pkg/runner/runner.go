// Package runner provides the terminal runner: a form for one workflow's
// values, a list of the sites bound to it, and the browser sessions opened
// for those sites. Running broadcasts the values to every open session.
//
// The runner owns the sessions it opens. Quitting closes all of them.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/store"
)

// Sessions is the session surface the runner drives. *browser.Registry satisfies it.
type Sessions interface {
	Create(ctx context.Context, url string) (string, error)
	Get(id string) (*browser.Session, bool)
	Focus(id string) error
	Remove(id string) error
}

// Options configures a Runner.
type Options struct {
	Store      *store.Store
	Sessions   Sessions
	WorkflowID string
	Logger     logging.Sink
	// Copy writes text to the clipboard. Defaults to the system clipboard.
	Copy func(string) error
	// ProgramOptions are passed to tea.NewProgram.
	ProgramOptions []tea.ProgramOption
}

// Runner is the interactive terminal runner for one workflow.
type Runner struct {
	opts    Options
	owned   *ownedSessions
	program atomic.Pointer[tea.Program]
}

// ownedSessions records every session created through it, so the runner can
// close them even if the model never saw the result.
type ownedSessions struct {
	Sessions

	mu  sync.Mutex
	ids []string
}

func (o *ownedSessions) Create(ctx context.Context, url string) (string, error) {
	id, err := o.Sessions.Create(ctx, url)
	if err == nil {
		o.mu.Lock()
		o.ids = append(o.ids, id)
		o.mu.Unlock()
	}
	return id, err
}

func (o *ownedSessions) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.ids...)
}

// New creates a runner. It does not touch the store until Run.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}
	return &Runner{opts: opts, owned: &ownedSessions{Sessions: opts.Sessions}}
}

// SessionClosed tells the runner a session went away. It never blocks, so it
// can serve as the registry's notifier.
func (r *Runner) SessionClosed(id string) {
	if p := r.program.Load(); p != nil {
		go p.Send(sessionClosedMsg{id: id})
	}
}

// Run loads the workflow and its page workflows, then blocks until the user quits.
func (r *Runner) Run(ctx context.Context) error {
	wf, err := r.opts.Store.GetWorkflow(ctx, r.opts.WorkflowID)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}
	targets, err := r.opts.Store.ListPageWorkflowsFor(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("loading page workflows: %w", err)
	}

	m := newModel(deps{
		ctx:         ctx,
		registry:    r.owned,
		broadcaster: execution.NewBroadcaster(r.owned, 0, r.opts.Logger),
		copy:        r.opts.Copy,
		log:         r.opts.Logger,
	}, wf, targets)

	progOpts := append([]tea.ProgramOption{tea.WithContext(ctx)}, r.opts.ProgramOptions...)
	program := tea.NewProgram(m, progOpts...)
	r.program.Store(program)
	r.opts.Logger.Infof("runner started for workflow %s (%d targets)", wf.ID, len(targets))

	_, runErr := program.Run()
	closeErr := r.closeAll()
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return errors.Join(fmt.Errorf("running runner: %w", runErr), closeErr)
	}
	return closeErr
}

// closeAll removes every session this runner opened that is still open.
func (r *Runner) closeAll() error {
	var errs []error
	closed := 0
	for _, id := range r.owned.list() {
		err := r.opts.Sessions.Remove(id)
		switch {
		case err == nil:
			closed++
		case !errors.Is(err, browser.ErrSessionNotFound):
			errs = append(errs, err)
		}
	}
	if closed > 0 {
		r.opts.Logger.Infof("runner closed %d session(s)", closed)
	}
	return errors.Join(errs...)
}
