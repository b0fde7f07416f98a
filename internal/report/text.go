package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/0x6d61/docleech/internal/engine"
	"github.com/0x6d61/docleech/internal/showdoc"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50
)

var (
	styleRoot     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleCategory = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleMethod   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleBranch   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// TextReporter outputs the tree for a terminal.
type TextReporter struct {
	// Verbose controls detail level: 0=tree only, 1=+page links, 2=+page ids.
	Verbose int
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes the formatted fetch result to w.
func (r *TextReporter) Generate(ctx context.Context, result *engine.Result, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &strings.Builder{}

	doubleBar := strings.Repeat(doubleLine, lineWidth)
	singleBar := strings.Repeat(singleLine, lineWidth)

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintln(b, "docleech - ShowDoc API Tree")
	fmt.Fprintln(b, doubleBar)

	var item showdoc.ItemInfo
	if result.Tree != nil {
		item = result.Tree.ItemInfo
	}
	fmt.Fprintf(b, "Item:     %s (%s)\n", item.ItemName, item.ItemID)
	fmt.Fprintf(b, "Source:   %s\n", result.Target.ItemLink())
	session := string(result.SessionSource)
	if result.Attempts > 0 {
		session += fmt.Sprintf(", %d login attempt(s)", result.Attempts)
	}
	if result.Reauthenticated {
		session += ", re-authenticated"
	}
	if session == "" {
		session = "-"
	}
	fmt.Fprintf(b, "Session:  %s\n", session)
	fmt.Fprintf(b, "Duration: %.1fs\n", result.Duration().Seconds())
	fmt.Fprintf(b, "Requests: %d\n", result.RequestCount)
	fmt.Fprintln(b, singleBar)

	var st showdoc.TreeStats
	if result.Tree == nil || len(result.Tree.Categories) == 0 {
		fmt.Fprintln(b, "No categories found.")
	} else {
		fmt.Fprintln(b, r.render(result.Tree))
		st = result.Tree.Stats()
	}

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintf(b, "Summary: %d categories, %d pages, %d API pages", st.Categories, st.Pages, st.APIPages)
	if st.Failed > 0 {
		fmt.Fprintf(b, ", %d failed", st.Failed)
	}
	fmt.Fprintln(b)
	fmt.Fprintln(b, doubleBar)

	_, err := io.WriteString(w, b.String())
	return err
}

// render draws the category tree with lipgloss.
func (r *TextReporter) render(t *showdoc.ApiTree) string {
	name := t.ItemInfo.ItemName
	if name == "" {
		name = "item " + t.ItemInfo.ItemID
	}
	root := tree.Root(styleRoot.Render(name)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(styleBranch)
	for _, c := range t.Categories {
		root.Child(r.category(c))
	}
	return root.String()
}

func (r *TextReporter) category(c *showdoc.Category) *tree.Tree {
	label := styleCategory.Render(c.CatName)
	if r.Verbose >= 2 {
		label += styleDim.Render(" #" + c.CatID)
	}
	node := tree.Root(label).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(styleBranch)
	for _, p := range c.Pages {
		node.Child(r.page(p))
	}
	for _, child := range c.Children {
		node.Child(r.category(child))
	}
	return node
}

func (r *TextReporter) page(p *showdoc.Page) string {
	var line string
	switch {
	case p.FetchError != "":
		line = styleFailed.Render("[failed] ") + p.PageTitle
	case p.IsAPI():
		line = styleMethod.Render("["+strings.ToUpper(p.API.Method)+"]") + " " + p.PageTitle + " " + styleDim.Render(p.API.URL)
	case p.Kind == showdoc.PageDoc:
		line = styleDim.Render("[doc]") + " " + p.PageTitle
	default:
		line = p.PageTitle
	}
	if r.Verbose >= 2 {
		line += styleDim.Render(" #" + p.PageID)
	}
	if r.Verbose >= 1 && p.Link != "" {
		line += " " + styleDim.Render(p.Link)
	}
	return line
}
