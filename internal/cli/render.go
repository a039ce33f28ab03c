// Package cli renders diagnostics for humans: source-quoted with
// carets, file:line:col anchors, and severity colors. The structured
// Report is the single source of truth; this package only formats.
package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/bmb-lang/bmbc/internal/diag"
	"github.com/bmb-lang/bmbc/internal/source"
)

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgCyan)
	boldWhite = color.New(color.FgWhite, color.Bold)
	dim       = color.New(color.Faint)
	okColor   = color.New(color.FgGreen, color.Bold)
)

// Render writes every diagnostic in the order it was reported.
func Render(w io.Writer, sources *source.Map, reports []*diag.Report) {
	for _, r := range reports {
		RenderOne(w, sources, r)
	}
}

// RenderOne writes a single diagnostic with its quoted source line.
func RenderOne(w io.Writer, sources *source.Map, r *diag.Report) {
	sev := infoColor
	switch r.Sev {
	case diag.Error:
		sev = errColor
	case diag.Warning:
		sev = warnColor
	}

	anchor := ""
	if r.Span != nil {
		if u, ok := sources.Unit(r.Span.Unit); ok {
			pos := u.Pos(r.Span.Start)
			anchor = fmt.Sprintf("%s:%d:%d: ", pos.Unit, pos.Line, pos.Column)
		}
	}
	fmt.Fprintf(w, "%s%s %s %s\n",
		anchor,
		sev.Sprintf("%s:", r.Sev),
		dim.Sprintf("[%s]", r.Code),
		boldWhite.Sprint(r.Message))

	quoteSource(w, sources, r)

	for _, n := range r.Notes {
		fmt.Fprintf(w, "  %s %s\n", dim.Sprint("note:"), n)
	}
	if r.Model != nil {
		fmt.Fprintf(w, "  %s\n", dim.Sprint("counterexample:"))
		names := make([]string, 0, len(r.Model.Bindings))
		for k := range r.Model.Bindings {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(w, "    %s = %s\n", k, r.Model.Bindings[k])
		}
	}
}

// quoteSource prints the offending line with a caret run under the
// span.
func quoteSource(w io.Writer, sources *source.Map, r *diag.Report) {
	if r.Span == nil {
		return
	}
	u, ok := sources.Unit(r.Span.Unit)
	if !ok {
		return
	}
	pos := u.Pos(r.Span.Start)
	lines := strings.Split(string(u.Text), "\n")
	if pos.Line-1 < 0 || pos.Line-1 >= len(lines) {
		return
	}
	line := lines[pos.Line-1]
	fmt.Fprintf(w, "  %s %s\n", dim.Sprintf("%4d |", pos.Line), line)

	width := r.Span.End - r.Span.Start
	if width < 1 {
		width = 1
	}
	if pos.Column-1+width > len(line) {
		width = len(line) - (pos.Column - 1)
		if width < 1 {
			width = 1
		}
	}
	carets := strings.Repeat("^", width)
	fmt.Fprintf(w, "  %s %s%s\n", dim.Sprint("     |"), strings.Repeat(" ", pos.Column-1), errColor.Sprint(carets))
}

// Summary prints the end-of-run status line.
func Summary(w io.Writer, errs, warns int) {
	switch {
	case errs > 0:
		fmt.Fprintf(w, "%s %d error(s), %d warning(s)\n", errColor.Sprint("build failed:"), errs, warns)
	case warns > 0:
		fmt.Fprintf(w, "%s %d warning(s)\n", okColor.Sprint("build succeeded:"), warns)
	default:
		fmt.Fprintln(w, okColor.Sprint("build succeeded"))
	}
}
