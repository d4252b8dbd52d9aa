package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/pageflow/pkg/execution"
	"github.com/entrhq/pageflow/pkg/logging"
	"github.com/entrhq/pageflow/pkg/store"
	"github.com/entrhq/pageflow/pkg/workflow"
)

// runFile is the document read by `pageflow run`.
//
//	workflow: signup
//	page_workflows: [acme-signup, globex-signup]
//	values:
//	  email: alice@example.com
//	keep_open: true
type runFile struct {
	// Workflow selects every page workflow bound to it when PageWorkflows is empty.
	Workflow      string            `yaml:"workflow"`
	PageWorkflows []string          `yaml:"page_workflows"`
	Values        map[string]string `yaml:"values"`
	// Limit caps how many sessions run their plan at once; 0 means all.
	Limit int `yaml:"limit"`
	// KeepOpen leaves the sessions open after the run until interrupted.
	KeepOpen bool `yaml:"keep_open"`
}

func loadRunFile(path string) (*runFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	f := &runFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("invalid run file: %w", err)
	}
	return f, nil
}

func (f *runFile) validate() error {
	if f.Workflow == "" && len(f.PageWorkflows) == 0 {
		return errors.New("either workflow or page_workflows is required")
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", f.Limit)
	}
	return nil
}

// targets resolves the page workflows the run file names. Listed page
// workflows must be bound to the workflow when both are given.
func (f *runFile) targets(ctx context.Context, st *store.Store) ([]*workflow.PageWorkflow, error) {
	if len(f.PageWorkflows) == 0 {
		pws, err := st.ListPageWorkflowsFor(ctx, f.Workflow)
		if err != nil {
			return nil, err
		}
		if len(pws) == 0 {
			return nil, fmt.Errorf("no page workflows are bound to workflow %q", f.Workflow)
		}
		return pws, nil
	}

	pws := make([]*workflow.PageWorkflow, 0, len(f.PageWorkflows))
	for _, id := range f.PageWorkflows {
		pw, err := st.GetPageWorkflow(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("page workflow %q: %w", id, err)
		}
		if f.Workflow != "" && pw.WorkflowID != f.Workflow {
			return nil, fmt.Errorf("page workflow %q is bound to %q, not %q", id, pw.WorkflowID, f.Workflow)
		}
		pws = append(pws, pw)
	}
	return pws, nil
}

// runSessions opens and looks up sessions. *browser.Registry satisfies it.
type runSessions interface {
	execution.Sessions
	Create(ctx context.Context, url string) (string, error)
}

// targetOutcome is what happened on one page workflow's site.
type targetOutcome struct {
	PageWorkflow *workflow.PageWorkflow
	SessionID    string
	Report       *execution.Report
	Err          error
}

func (o targetOutcome) ok() bool {
	return o.Err == nil && o.Report.OK()
}

// executeRun opens one session per target, then runs every target's plan at
// the same time. A target that fails to open or run does not stop the others.
func executeRun(ctx context.Context, sessions runSessions, targets []*workflow.PageWorkflow, f *runFile, log logging.Sink) []targetOutcome {
	outcomes := make([]targetOutcome, len(targets))
	for i, pw := range targets {
		outcomes[i].PageWorkflow = pw
		id, err := sessions.Create(ctx, pw.URL)
		if err != nil {
			outcomes[i].Err = fmt.Errorf("opening session: %w", err)
			log.Warnf("run: %s: %v", pw.ID, outcomes[i].Err)
			continue
		}
		outcomes[i].SessionID = id
	}

	bc := execution.NewBroadcaster(sessions, 0, log)
	var g errgroup.Group
	if f.Limit > 0 {
		g.SetLimit(f.Limit)
	}
	for i := range outcomes {
		if outcomes[i].Err != nil {
			continue
		}
		i := i
		g.Go(func() error {
			out, err := bc.Execute(ctx, execution.Request{
				SessionIDs:   []string{outcomes[i].SessionID},
				PageWorkflow: outcomes[i].PageWorkflow,
				Values:       f.Values,
			})
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			outcomes[i].Report, outcomes[i].Err = out[0].Report, out[0].Err
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// printOutcomes writes one line per target plus one per failed action, and
// returns how many targets did not complete cleanly.
func printOutcomes(w io.Writer, outcomes []targetOutcome) int {
	failed := 0
	for _, o := range outcomes {
		name := o.PageWorkflow.Title
		if name == "" {
			name = o.PageWorkflow.ID
		}
		switch {
		case o.Err != nil:
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", errorMark, name, o.Err)
			continue
		case o.Report.OK():
			fmt.Fprintf(w, "%s %s: %d action(s)\n", okMark, name, len(o.Report.Results))
		default:
			failed++
			fmt.Fprintf(w, "%s %s: %d not found, %d failed\n", warnMark, name,
				o.Report.Count(execution.StatusNotFound), o.Report.Count(execution.StatusError))
		}
		for _, r := range o.Report.Results {
			switch r.Status {
			case execution.StatusNotFound:
				fmt.Fprintf(w, "    %s[%d] %s: not found\n", r.Step, r.Index, r.Selector)
			case execution.StatusError:
				fmt.Fprintf(w, "    %s[%d] %s: %s\n", r.Step, r.Index, r.Selector, r.Error)
			}
		}
	}
	return failed
}

func runFileCommand(ctx context.Context, g *globalFlags, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	path := fs.String("file", "", "Run file (YAML) naming the targets and values")
	var bf browserFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("-file is required")
	}

	f, err := loadRunFile(*path)
	if err != nil {
		return err
	}
	a, err := newApp(g, "run")
	if err != nil {
		return err
	}
	defer a.close()

	targets, err := f.targets(ctx, a.store)
	if err != nil {
		return err
	}

	stack, err := a.openBrowser(bf)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.close(); err != nil {
			a.log.Warnf("closing browser: %v", err)
		}
	}()

	outcomes := executeRun(ctx, stack.registry, targets, f, a.log.Component("execution"))
	failed := printOutcomes(stdout, outcomes)

	if f.KeepOpen && ctx.Err() == nil {
		fmt.Fprintln(stdout, "Sessions left open. Press Ctrl+C to close them.")
		<-ctx.Done()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d target(s) failed", failed, len(outcomes))
	}
	return nil
}
