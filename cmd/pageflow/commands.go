package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/entrhq/pageflow/pkg/config"
	"github.com/entrhq/pageflow/pkg/runner"
	"github.com/entrhq/pageflow/pkg/server"
)

const defaultAddr = "127.0.0.1:7345"

func runRunner(ctx context.Context, g *globalFlags, args []string, _ io.Writer) error {
	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	workflowID := fs.String("workflow", "", "Workflow to run")
	var bf browserFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowID == "" {
		return errors.New("-workflow is required")
	}

	a, err := newApp(g, "runner")
	if err != nil {
		return err
	}
	defer a.close()

	// fail before launching a browser for nothing
	if _, err := a.store.GetWorkflow(ctx, *workflowID); err != nil {
		return fmt.Errorf("workflow %q: %w", *workflowID, err)
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

	r := runner.New(runner.Options{
		Store:      a.store,
		Sessions:   stack.registry,
		WorkflowID: *workflowID,
		Logger:     a.log.Component("runner"),
	})
	stack.registry.SetNotifier(r)
	return r.Run(ctx)
}

func runServe(ctx context.Context, g *globalFlags, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", defaultAddr, "Listen address of the control API")
	limit := fs.Int("limit", 0, "Maximum sessions running a plan at once per execution (0: no limit)")
	var bf browserFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(g, "serve")
	if err != nil {
		return err
	}
	defer a.close()

	stack, err := a.openBrowser(bf)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.close(); err != nil {
			a.log.Warnf("closing browser: %v", err)
		}
	}()

	srv := server.New(server.Options{
		Store:          a.store,
		Sessions:       stack.registry,
		Logger:         a.log.Component("server"),
		ExecutionLimit: *limit,
	})
	stack.registry.SetNotifier(srv.Hub())
	if err := srv.ForwardStoreChanges(ctx); err != nil {
		a.log.Warnf("store changes will not be streamed: %v", err)
	}

	fmt.Fprintf(stdout, "pageflow control API on http://%s (log: %s)\n", *addr, a.log.LogPath())
	return srv.ListenAndServe(ctx, *addr)
}

func runConfig(_ context.Context, g *globalFlags, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	write := fs.Bool("write", false, "Write the effective configuration back to the file")
	reset := fs.Bool("reset", false, "Reset every section to its defaults first")
	noColor := fs.Bool("no-color", false, "Print plain JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.Initialize(g.configPath); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	manager := config.Global()
	if *reset {
		manager.ResetAll()
	}

	sections := make(map[string]map[string]interface{})
	for _, s := range manager.GetSections() {
		sections[s.ID()] = s.Data()
	}
	if err := writeJSON(stdout, sections, !*noColor); err != nil {
		return err
	}

	if !*write {
		return nil
	}
	if err := manager.SaveAll(); err != nil {
		return err
	}
	if fileStore, ok := manager.Store().(*config.FileStore); ok {
		fmt.Fprintf(stdout, "wrote %s\n", fileStore.Path())
	}
	return nil
}
