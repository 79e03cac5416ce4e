package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fgeck/gobackup-homelab/internal/models"
)

var (
	colorOrange = lipgloss.Color("#FAB387")
	colorRed    = lipgloss.Color("#F38BA8")
	colorGreen  = lipgloss.Color("#A6E3A1")
	colorMuted  = lipgloss.Color("#6C7086")
	colorAccent = lipgloss.Color("#06B6D4")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle  = lipgloss.NewStyle().Width(12).Foreground(colorMuted)
)

// statusStyle maps a status colour hint to a style.
func statusStyle(hint string) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch hint {
	case models.ColorOrange:
		return s.Foreground(colorOrange)
	case models.ColorRed:
		return s.Foreground(colorRed)
	case models.ColorGreen:
		return s.Foreground(colorGreen)
	default:
		return s
	}
}

// renderTable lays rows out in columns sized to their widest cell.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, 0, len(cells))
		for i, cell := range cells {
			parts = append(parts, style.Width(widths[i]+2).Render(cell))
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	var b strings.Builder
	b.WriteString(line(headers, headerStyle))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(line(row, lipgloss.NewStyle()))
		b.WriteString("\n")
	}
	return b.String()
}
