package application

import (
	"strings"
	"unicode/utf8"
)

// AlignTables pads the pipe-delimited tables found inside fenced code blocks
// so that every column has a uniform width. Lines outside fences, the fences
// themselves, and fenced lines that are not table rows are returned as is.
// Each contiguous run of rows is aligned independently. AlignTables is
// idempotent.
func AlignTables(text string) string {
	lines := strings.Split(text, "\n")

	var (
		fence   string // active fence marker, empty outside a block
		changed bool
	)

	for i := 0; i < len(lines); {
		line := lines[i]

		if fence == "" {
			if marker, ok := fenceMarker(line); ok {
				fence = marker
			}
			i++
			continue
		}

		if closesFence(line, fence) {
			fence = ""
			i++
			continue
		}

		if !isTableRow(line) {
			i++
			continue
		}

		end := i
		for end < len(lines) && isTableRow(lines[end]) {
			end++
		}
		alignRows(lines[i:end])
		changed = true
		i = end
	}

	if !changed {
		return text
	}
	return strings.Join(lines, "\n")
}

// fenceMarker reports whether line opens a fenced block and returns the run
// of fence characters that must close it.
func fenceMarker(line string) (string, bool) {
	t := strings.TrimLeft(line, " \t")
	for _, ch := range []byte{'`', '~'} {
		n := 0
		for n < len(t) && t[n] == ch {
			n++
		}
		if n >= 3 {
			return t[:n], true
		}
	}
	return "", false
}

func closesFence(line, marker string) bool {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, marker) {
		return false
	}
	return strings.Trim(t, marker[:1]) == ""
}

// isTableRow reports whether line both starts and ends with an unescaped pipe.
func isTableRow(line string) bool {
	t := strings.TrimSpace(line)
	if len(t) < 2 || t[0] != '|' || t[len(t)-1] != '|' {
		return false
	}
	return t[len(t)-2] != '\\'
}

// tableRow is a parsed row plus the bits of the source line that are kept.
type tableRow struct {
	cells     []string
	separator bool
	indent    string
	crlf      bool
}

// alignRows rewrites rows in place.
func alignRows(rows []string) {
	parsed := make([]tableRow, len(rows))
	columns := 0
	for i, line := range rows {
		parsed[i] = parseRow(line)
		columns = max(columns, len(parsed[i].cells))
	}

	widths := make([]int, columns)
	for _, row := range parsed {
		for c, cell := range row.cells {
			widths[c] = max(widths[c], utf8.RuneCountInString(cell))
		}
	}

	indent := parsed[0].indent
	for i, row := range parsed {
		var b strings.Builder
		b.WriteString(indent)
		b.WriteString("|")
		for c := 0; c < columns; c++ {
			cell := ""
			if c < len(row.cells) {
				cell = row.cells[c]
			}
			b.WriteByte(' ')
			if row.separator {
				b.WriteString(strings.Repeat("-", widths[c]))
			} else {
				b.WriteString(cell)
				b.WriteString(strings.Repeat(" ", widths[c]-utf8.RuneCountInString(cell)))
			}
			b.WriteString(" |")
		}
		if row.crlf {
			b.WriteByte('\r')
		}
		rows[i] = b.String()
	}
}

func parseRow(line string) tableRow {
	row := tableRow{crlf: strings.HasSuffix(line, "\r")}

	trimmed := strings.TrimLeft(line, " \t")
	row.indent = line[:len(line)-len(trimmed)]

	t := strings.TrimSpace(trimmed)
	row.cells = splitCells(t[1 : len(t)-1])

	row.separator = true
	for _, cell := range row.cells {
		if !isDashRun(cell) {
			row.separator = false
			break
		}
	}
	return row
}

// splitCells splits on pipes not preceded by a backslash and trims each cell.
// Escapes are kept verbatim so the row round-trips.
func splitCells(inner string) []string {
	var (
		cells []string
		start int
	)
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '\\':
			i++ // skip the escaped byte
		case '|':
			cells = append(cells, strings.TrimSpace(inner[start:i]))
			start = i + 1
		}
	}
	return append(cells, strings.TrimSpace(inner[start:]))
}

func isDashRun(cell string) bool {
	return cell != "" && strings.Trim(cell, "-") == ""
}
