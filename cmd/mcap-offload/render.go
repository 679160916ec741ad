package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/mcap-offload/internal/inventory"
	"github.com/mattjoyce/mcap-offload/internal/recovery"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("#00FF00"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("#FF0000"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD"))
)

func renderListing(l inventory.Listing) string {
	if l.Count == 0 {
		return dimStyle.Render(fmt.Sprintf("No recordings in %s", l.Dir))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("NAME", "SIZE", "MODIFIED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, f := range l.Files {
		t.Row(f.Name, humanize.Bytes(uint64(f.Size)), humanize.Time(f.ModifiedAt))
	}

	summary := dimStyle.Render(fmt.Sprintf("%d file(s), %s in %s", l.Count, humanize.Bytes(uint64(l.TotalSize())), l.Dir))
	return t.String() + "\n" + summary
}

func renderResults(results []recovery.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		detail := filepath.Base(r.OutputPath)
		if r.Err != nil {
			detail = r.Err.Error()
		}
		rows = append(rows, []string{r.Staged.Requested, string(r.Status), r.Duration.Round(time.Millisecond).String(), detail})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("FILE", "STATUS", "DURATION", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && results[row].Recovered():
				return okStyle
			case col == 1:
				return failStyle
			}
			return cellStyle
		}).
		String()
}
