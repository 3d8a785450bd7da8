package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"relaypool/contracts/admin"
)

const quotaBarWidth = 24

type styles struct {
	title      lipgloss.Style
	header     lipgloss.Style
	account    lipgloss.Style
	detail     lipgloss.Style
	warning    lipgloss.Style
	section    lipgloss.Style
	empty      lipgloss.Style
	key        lipgloss.Style
	meta       lipgloss.Style
	barBracket lipgloss.Style
	barFill    lipgloss.Style
	barEmpty   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:      lipgloss.NewStyle().Bold(true),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		account:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:     lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:    lipgloss.NewStyle().MarginTop(1),
		empty:      lipgloss.NewStyle().Faint(true),
		key:        lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		barBracket: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:    lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barEmpty:   lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}

// renderQuotaBar draws remaining headroom: filled means budget left.
func renderQuotaBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	leftFraction := (100.0 - used) / 100.0
	filled := int(math.Round(float64(width) * leftFraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatResetRelative(resetsAt time.Time, now time.Time) string {
	if resetsAt.IsZero() {
		return "reset unknown"
	}
	if !resetsAt.After(now) {
		return "reset passed"
	}

	remaining := resetsAt.Sub(now)
	switch {
	case remaining < time.Minute:
		return "resets in under a minute"
	case remaining < time.Hour:
		minutes := int(math.Ceil(remaining.Minutes()))
		return fmt.Sprintf("resets in %dm", minutes)
	case remaining < 24*time.Hour:
		hours := int(math.Ceil(remaining.Hours()))
		return fmt.Sprintf("resets in %dh (%s)", hours, resetsAt.Format("15:04"))
	default:
		days := int(math.Ceil(remaining.Hours() / 24))
		return fmt.Sprintf("resets in %dd (%s)", days, resetsAt.Format("15:04 on 02 Jan"))
	}
}

// quotaLine renders one account's quota projection as a single bar line.
func quotaLine(quota admin.QuotaView, now time.Time, s styles) string {
	if quota.PrimaryUsedPct == nil {
		parts := []string{s.key.Render("quota:"), " ", s.detail.Render(quota.Shape)}
		if quota.Exhausted {
			parts = append(parts, " ", s.warning.Render("[exhausted]"))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	used := *quota.PrimaryUsedPct
	left := clampPercent(100 - used)
	parts := []string{
		s.key.Render("quota:"),
		" ",
		renderQuotaBar(used, quotaBarWidth, s),
		" ",
		s.detail.Render(fmt.Sprintf("%2.0f%% left", left)),
	}

	if quota.NextReset != nil {
		parts = append(parts, " ", s.meta.Render("("+formatResetRelative(*quota.NextReset, now)+")"))
	}
	if quota.Exhausted {
		parts = append(parts, " ", s.warning.Render("[exhausted]"))
	}
	if quota.Expired {
		parts = append(parts, " ", s.warning.Render("[stale]"))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// renderQuota is the standalone `poolctl quota` view.
func renderQuota(quota admin.QuotaView, now time.Time) string {
	s := newStyles()
	lines := []string{
		s.title.Render("Quota for " + quota.AccountID),
		quotaLine(quota, now, s),
		s.meta.Render(fmt.Sprintf("health: %.2f, shape: %s, updated %s",
			quota.HealthScore, quota.Shape, quota.LastUpdatedAt.Format(time.RFC3339))),
	}
	if quota.Detail != "" {
		lines = append(lines, s.detail.Render(quota.Detail))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
