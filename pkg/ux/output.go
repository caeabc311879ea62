// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//

// Package ux provides terminal output styling for the ideaforge CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette: warm ambers for ideas, indigo for structure.
var (
	ColorAmber  = lipgloss.Color("#F5A524")
	ColorGold   = lipgloss.Color("#F4D03F")
	ColorIndigo = lipgloss.Color("#6C63FF")
	ColorSlate  = lipgloss.Color("#5B6770")

	ColorSuccess = lipgloss.Color("#2ECC71")
	ColorWarning = ColorGold
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = ColorSlate
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Action    lipgloss.Style

	Box lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmber),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorAmber).Bold(true),
	Action:    lipgloss.NewStyle().Foreground(ColorIndigo),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorIndigo).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes personality-aware output to w.
type Printer struct {
	w     io.Writer
	level PersonalityLevel
}

// NewPrinter creates a printer using the current personality level.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, level: GetPersonality().Level}
}

// WithLevel returns a copy of p at level.
func (p *Printer) WithLevel(level PersonalityLevel) *Printer {
	return &Printer{w: p.w, level: level}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Title prints a styled title
func (p *Printer) Title(text string) {
	if p.level == PersonalityMachine {
		return
	}
	p.printf("%s\n", Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf("OK: %s\n", text)
	case PersonalityMinimal:
		p.printf("%s %s\n", IconSuccess.Render(), text)
	default:
		p.printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf("WARN: %s\n", text)
	case PersonalityMinimal:
		p.printf("%s %s\n", IconWarning.Render(), text)
	default:
		p.printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func (p *Printer) Error(text string) {
	switch p.level {
	case PersonalityMachine:
		p.printf("ERROR: %s\n", text)
	case PersonalityMinimal:
		p.printf("%s %s\n", IconError.Render(), text)
	default:
		p.printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.level == PersonalityMachine {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.level == PersonalityMachine {
		p.printf("%s: %s\n", title, content)
		return
	}
	p.printf("%s\n", Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// Block prints a preformatted multi-line block such as a rendered tree.
func (p *Printer) Block(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	if p.level == PersonalityMachine {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s\n", Styles.Muted.Render(text))
}

// IterationLine describes one finished exploration step.
type IterationLine struct {
	Iteration int
	Total     int
	Action    string
	NodeID    string
	Reward    float64

	// Score is the node's review average, nil when unscored.
	Score *float64
}

// Iteration prints a progress line for one step.
func (p *Printer) Iteration(line IterationLine) {
	score := "-"
	if line.Score != nil {
		score = fmt.Sprintf("%.1f", *line.Score)
	}
	if p.level == PersonalityMachine {
		p.printf("ITERATION %d/%d action=%s node=%s reward=%.3f score=%s\n",
			line.Iteration, line.Total, line.Action, line.NodeID, line.Reward, score)
		return
	}
	p.printf("%s %d/%d %s %s  reward %.3f  score %s\n",
		ProgressBar(line.Iteration, line.Total, 20),
		line.Iteration, line.Total,
		IconArrow.Render(),
		Styles.Action.Render(line.Action),
		line.Reward,
		Styles.Highlight.Render(score))
}

// ProgressBar renders a simple progress bar
func ProgressBar(current, total int, width int) string {
	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}
	if current < 0 {
		current = 0
	}
	pct := float64(current) / float64(total)
	filled := int(pct * float64(width))
	return Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
}
