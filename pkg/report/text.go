package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"
)

var (
	sectionColor = color.New(color.FgCyan, color.Bold)
	blockColor   = color.New(color.FgHiWhite, color.Bold)
	mutedColor   = color.New(color.FgHiBlack)
	accentColor  = color.New(color.FgGreen)
)

const barWidth = 20

// WriteText renders the view for a terminal. Colors follow color.NoColor,
// which is off when stdout is not a TTY.
func WriteText(w io.Writer, v View) error {
	tw := &textWriter{w: w}

	for i, s := range v.Sections {
		if i > 0 {
			tw.println("")
		}
		tw.colored(sectionColor, strings.ToUpper(s.Title))
		tw.println(strings.Repeat("=", len(s.Title)))

		for _, b := range s.Blocks {
			tw.block(b)
		}
	}
	return tw.err
}

type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) println(s string) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintln(t.w, s)
}

func (t *textWriter) colored(c *color.Color, s string) {
	if t.err != nil {
		return
	}
	_, t.err = c.Fprintln(t.w, s)
}

func (t *textWriter) block(b Block) {
	if b.Title != "" {
		t.colored(blockColor, b.Title)
	}
	if b.Score != nil {
		t.println(fmt.Sprintf("  %s %s", bar(*b.Score), b.Text))
	} else if b.Text != "" {
		t.println(indent(b.Text, "  "))
	}

	for _, it := range b.Items {
		line := "  - " + it.Label
		if it.Priority != "" {
			line += " (" + it.Priority + ")"
		}
		if it.Percent != nil {
			line = fmt.Sprintf("%-40s %s %s%%", line, bar(*it.Percent), formatNumber(*it.Percent))
		}
		t.println(line)
		if it.Detail != "" {
			t.colored(mutedColor, "      "+it.Detail)
		}
		for _, c := range it.Children {
			t.colored(accentColor, "      * "+c)
		}
	}
}

func bar(pct float64) string {
	filled := int(math.Round(clamp(pct, 0, 100) / 100 * barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
