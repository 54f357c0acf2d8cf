package store

import (
	"encoding/json"
	"strconv"
	"strings"
)

// MaxCellLength bounds a rendered markdown cell; longer values keep
// MaxCellLength-3 characters followed by "...".
const MaxCellLength = 200

// NoTablesMessage is rendered for a task without tables.
const NoTablesMessage = "No tables found for this task."

// RenderMarkdown renders tables as GitHub-flavored markdown, one table per
// block separated by a blank line.
func RenderMarkdown(tables []TableData) string {
	if len(tables) == 0 {
		return NoTablesMessage
	}

	var sb strings.Builder
	for _, t := range tables {
		writeRow(&sb, t.Columns)
		sep := make([]string, len(t.Columns))
		for i := range sep {
			sep[i] = "---"
		}
		writeRow(&sb, sep)

		cells := make([]string, len(t.Columns))
		for _, r := range t.Rows {
			for i, c := range t.Columns {
				cells[i] = FormatCell(r[c])
			}
			writeRow(&sb, cells)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("| ")
	sb.WriteString(strings.Join(cells, " | "))
	sb.WriteString(" |\n")
}

// FormatCell renders a value for a markdown cell: null is empty, pipes are
// escaped, line breaks are flattened and long values are cut.
func FormatCell(v any) string {
	s := FormatValue(v)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if r := []rune(s); len(r) > MaxCellLength {
		s = string(r[:MaxCellLength-3]) + "..."
	}
	return s
}

// FormatValue renders a record value as plain text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
