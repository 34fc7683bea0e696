package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/plsync/internal/models"
)

// Styles is the default CLI palette.
var Styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

func (p *Palette) Title(s string) string { return p.title.Render(s) }
func (p *Palette) OK(s string) string    { return p.ok.Render(s) }
func (p *Palette) Err(s string) string   { return p.err.Render(s) }
func (p *Palette) Warn(s string) string  { return p.warn.Render(s) }
func (p *Palette) Help(s string) string  { return p.help.Render(s) }

// Status colors a job, source or item status: green when done, red on failure, orange while in progress.
func (p *Palette) Status(status string) string {
	switch status {
	case string(models.JobCompleted):
		return p.OK(status)
	case string(models.JobFailed), string(models.SourceError):
		return p.Err(status)
	case string(models.JobCancelled), string(models.ItemSkipped), string(models.SourceIdle), string(models.ItemPending):
		return p.Help(status)
	default:
		return p.Warn(status)
	}
}
