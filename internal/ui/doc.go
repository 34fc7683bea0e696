// Package ui styles CLI output with lipgloss: colored statuses, headings and live sync progress lines.
//
// Colors degrade to plain text when the output is not a terminal.
package ui
