package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/opd-ai/radiolink/xtp"
)

var (
	// headerCellStyle is used for table column headers.
	headerCellStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	cellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	// summaryStyle renders the totals line.
	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)
)

var reportHeaders = []string{"FILE", "REMOTE", "SIZE", "CHUNKS", "TIME", "KBPS", "VERIFIED"}

// renderReport renders one row per sent file and a totals line.
func renderReport(results []*xtp.FileResult) string {
	if len(results) == 0 {
		return summaryStyle.Render("no files sent") + "\n"
	}

	rows := make([][]string, 0, len(results))
	var (
		total    int64
		elapsed  time.Duration
		verified int
	)
	for _, r := range results {
		rows = append(rows, []string{
			r.Path,
			r.RemotePath,
			formatBytes(r.Size),
			fmt.Sprintf("%d", r.Chunks),
			r.Duration.Round(time.Millisecond).String(),
			fmt.Sprintf("%.2f", r.Kbps),
			verifiedText(r.Verified),
		})
		total += r.Size
		elapsed += r.Duration
		if r.Verified {
			verified++
		}
	}

	widths := make([]int, len(reportHeaders))
	for i, h := range reportHeaders {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(reportHeaders, widths, func(int, string) lipgloss.Style { return headerCellStyle }))
	for _, row := range rows {
		b.WriteString(renderRow(row, widths, func(col int, cell string) lipgloss.Style {
			if col == len(reportHeaders)-1 {
				if cell == verifiedText(true) {
					return okStyle
				}
				return failStyle
			}
			return cellStyle
		}))
	}

	kbps := 0.0
	if elapsed > 0 {
		kbps = float64(total) * 8 / 1024 / elapsed.Seconds()
	}
	b.WriteString(summaryStyle.Render(fmt.Sprintf("%d/%d verified, %s in %s, %.2f kbps",
		verified, len(results), formatBytes(total), elapsed.Round(time.Millisecond), kbps)))
	b.WriteString("\n")
	return b.String()
}

func renderRow(cells []string, widths []int, style func(col int, cell string) lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = style(i, cell).Width(widths[i] + 2).Render(cell)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...) + "\n"
}

func verifiedText(ok bool) string {
	if ok {
		return "yes"
	}
	return "NO"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
