package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/pageflow/pkg/execution"
)

var (
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB3BA"))
	stringStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8E6CF"))
	numberStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD3B6"))
	literalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B5A8FF"))
	punctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	okMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8E6CF")).Render("✓")
	warnMark  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD3B6")).Render("!")
	errorMark = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render("✗")
)

// highlightJSON styles indented JSON for a terminal. Anything the lexer
// cannot tokenise is returned unchanged.
func highlightJSON(src string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		return src
	}
	iter, err := chroma.Coalesce(lexer).Tokenise(nil, src)
	if err != nil {
		return src
	}

	var b strings.Builder
	for token := iter(); token != chroma.EOF; token = iter() {
		style, ok := styleForToken(token.Type)
		if !ok || strings.TrimSpace(token.Value) == "" {
			b.WriteString(token.Value)
			continue
		}
		b.WriteString(style.Render(token.Value))
	}
	return b.String()
}

func styleForToken(t chroma.TokenType) (lipgloss.Style, bool) {
	switch {
	case t == chroma.NameTag:
		return keyStyle, true
	case t.InCategory(chroma.LiteralString):
		return stringStyle, true
	case t.InCategory(chroma.LiteralNumber):
		return numberStyle, true
	case t.InCategory(chroma.Keyword):
		return literalStyle, true
	case t == chroma.Punctuation:
		return punctStyle, true
	}
	return lipgloss.Style{}, false
}

// writeJSON prints v indented, highlighted when color is set.
func writeJSON(w io.Writer, v interface{}, color bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out := string(data)
	if color {
		out = highlightJSON(out)
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

// valueFlags collects repeated -set step=value pairs.
type valueFlags map[string]string

func (v valueFlags) String() string {
	pairs := make([]string, 0, len(v))
	for k, val := range v {
		pairs = append(pairs, k+"="+val)
	}
	return strings.Join(pairs, ",")
}

func (v valueFlags) Set(s string) error {
	k, val, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected step=value, got %q", s)
	}
	v[k] = val
	return nil
}

func runPlan(ctx context.Context, g *globalFlags, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	pageID := fs.String("page", "", "Page workflow id")
	noColor := fs.Bool("no-color", false, "Print plain JSON")
	budget := fs.Bool("budget", false, "Also print the worst-case run time of the plan")
	values := valueFlags{}
	fs.Var(values, "set", "Form value as step=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pageID == "" {
		return errors.New("-page is required")
	}

	a, err := newApp(g, "plan")
	if err != nil {
		return err
	}
	defer a.close()

	pw, err := a.store.GetPageWorkflow(ctx, *pageID)
	if err != nil {
		return fmt.Errorf("page workflow %q: %w", *pageID, err)
	}
	plan := execution.Compile(pw.Steps, values)
	if err := writeJSON(stdout, plan, !*noColor); err != nil {
		return err
	}
	if *budget {
		fmt.Fprintf(stdout, "budget: %s\n", plan.Budget())
	}
	return nil
}
