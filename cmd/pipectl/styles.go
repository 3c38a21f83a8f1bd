// cmd/pipectl/styles.go
package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Corphon/ShotPipelineMCP/internal/models"
)

var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorWarning = lipgloss.Color("#FFC107")
	colorError   = lipgloss.Color("#e53935")
	colorMuted   = lipgloss.Color("#6b7280")
	colorInfo    = lipgloss.Color("#2196F3")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted).Width(20)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

// statusStyle 摄取状态对应的颜色
func statusStyle(status models.IngestStatus) lipgloss.Style {
	switch status {
	case models.IngestSuccess:
		return successStyle
	case models.IngestRefused:
		return warningStyle
	default:
		return errorStyle
	}
}

// row 渲染一行 “标签 值”
func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}
