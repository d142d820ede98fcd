package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"permavid/internal/api"
)

const maxCellWidth = 48

var queueHeaders = []string{"ID", "STATUS", "PROGRESS", "TITLE", "MESSAGE"}

// renderQueueItems renders a rounded table on a terminal and tab-separated
// plain text otherwise, so output stays pipeable.
func renderQueueItems(out io.Writer, items []api.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.ID,
			item.Status,
			progressCell(item),
			truncateCell(item.Title),
			truncateCell(item.Message),
		})
	}
	if !isTerminal(out) {
		return renderPlain(queueHeaders, rows)
	}
	return renderTable(queueHeaders, rows)
}

func progressCell(item api.QueueItem) string {
	if item.EncodingProgress == nil {
		return ""
	}
	return fmt.Sprintf("%d%%", *item.EncodingProgress)
}

func truncateCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	if len(value) <= maxCellWidth {
		return value
	}
	return value[:maxCellWidth-3] + "..."
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func renderPlain(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(strings.Join(headers, "\t"))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(strings.Join(row, "\t"))
	}
	return b.String()
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
