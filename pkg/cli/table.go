package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ansi matches the colour sequences written by this package.
var ansi = regexp.MustCompile("\033\\[[0-9;]*m")

// Table buffers rows and writes them column-aligned on Flush. Widths are
// measured without colour codes, so coloured cells line up. A table with
// no rows prints nothing.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
	prefix  string
	limits  map[int]int
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to out.
func NewTableTo(out io.Writer, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

// WithPrefix sets a string prepended to every line.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithMaxWidth truncates cells of column col to width runes.
func (t *Table) WithMaxWidth(col, width int) *Table {
	if t.limits == nil {
		t.limits = make(map[int]int)
	}
	t.limits[col] = width
	return t
}

// Row adds a row. Empty cells print as "-".
func (t *Table) Row(values ...string) {
	row := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			v = "-"
		}
		if limit, ok := t.limits[i]; ok {
			v = truncate(v, limit)
		}
		row[i] = v
	}
	t.rows = append(t.rows, row)
}

// Flush writes the header, a divider and the buffered rows.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	widths := make([]int, len(t.headers))
	grow := func(cells []string) {
		for i, c := range cells {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := visibleLen(c); n > widths[i] {
				widths[i] = n
			}
		}
	}
	grow(t.headers)
	for _, r := range t.rows {
		grow(r)
	}

	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	t.line(t.headers, widths)
	t.line(dividers, widths)
	for _, r := range t.rows {
		t.line(r, widths)
	}
	t.rows = nil
}

func (t *Table) line(cells []string, widths []int) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i, c := range cells {
		b.WriteString(c)
		if i == len(cells)-1 {
			break
		}
		b.WriteString(strings.Repeat(" ", widths[i]-visibleLen(c)+2))
	}
	fmt.Fprintln(t.out, b.String())
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(ansi.ReplaceAllString(s, ""))
}

func truncate(s string, limit int) string {
	if limit < 4 || visibleLen(s) <= limit {
		return s
	}
	plain := []rune(ansi.ReplaceAllString(s, ""))
	return string(plain[:limit-3]) + "..."
}
