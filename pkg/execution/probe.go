package execution

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/entrhq/pageflow/pkg/browser"
	"github.com/entrhq/pageflow/pkg/workflow"
)

// SelectorMatch says how many elements one action's selector matches in a
// snapshot of the page.
type SelectorMatch struct {
	Step     string `json:"step"`
	Index    int    `json:"index"`
	Selector string `json:"selector"`
	Matches  int    `json:"matches"`
	// Invalid is set when the selector could not be compiled.
	Invalid string `json:"invalid,omitempty"`
}

// Probe snapshots the view's DOM and checks every action selector of pw
// against it. Nothing is clicked or typed.
//
// The snapshot is static: elements a page renders later, or inside iframes
// and shadow roots, are not seen.
func Probe(ctx context.Context, view browser.View, pw *workflow.PageWorkflow) ([]SelectorMatch, error) {
	content, err := view.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page content: %w", err)
	}
	return ProbeHTML(content, pw)
}

// ProbeHTML is Probe over an HTML document already in hand.
func ProbeHTML(content string, pw *workflow.PageWorkflow) ([]SelectorMatch, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parsing page content: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	var out []SelectorMatch
	for _, step := range pw.Steps {
		for i, a := range step.Actions {
			m := SelectorMatch{Step: step.ID, Index: i, Selector: a.Selector}
			m.Matches, m.Invalid = count(doc, a.Selector)
			out = append(out, m)
		}
	}
	return out, nil
}

func count(doc *goquery.Document, selector string) (n int, invalid string) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return 0, err.Error()
	}
	return doc.FindMatcher(sel).Length(), ""
}
