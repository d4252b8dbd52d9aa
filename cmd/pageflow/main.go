// Package main provides the pageflow command: a browser runner that opens
// isolated sessions for the sites bound to a workflow and replays the
// workflow's values into all of them at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

// command is one pageflow subcommand.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, g *globalFlags, args []string, stdout io.Writer) error
}

var commands = []command{
	{name: "runner", summary: "Interactive terminal runner for one workflow", run: runRunner},
	{name: "run", summary: "Execute a run file and print the outcomes", run: runFileCommand},
	{name: "serve", summary: "Serve the HTTP control API and event stream", run: runServe},
	{name: "plan", summary: "Print the compiled action plan of a page workflow", run: runPlan},
	{name: "config", summary: "Show or write the configuration file", run: runConfig},
}

func main() {
	g := &globalFlags{}
	fs := flag.NewFlagSet("pageflow", flag.ExitOnError)
	g.register(fs)
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = func() { usage(fs) }
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("pageflow v%s\n", version)
		return
	}

	args := fs.Args()
	if len(args) == 0 {
		usage(fs)
		os.Exit(2)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage(fs)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.run(ctx, g, args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pageflow %s: %v\n", cmd.name, err)
		os.Exit(1)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "pageflow - run one workflow across many sites\n\n")
	fmt.Fprintf(out, "Usage: pageflow [global options] <command> [options]\n\n")
	fmt.Fprintf(out, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(out, "\nGlobal options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(out, "\nExamples:\n")
	fmt.Fprintf(out, "  pageflow runner -workflow signup\n")
	fmt.Fprintf(out, "  pageflow run -file signup-run.yaml\n")
	fmt.Fprintf(out, "  pageflow serve -addr 127.0.0.1:7345\n")
	fmt.Fprintf(out, "  pageflow plan -page acme-signup -set email=a@example.com\n")
}
