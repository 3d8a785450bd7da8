package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"relaypool/contracts/admin"
)

func newStatusCmd(api *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pool dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := api.PoolStatus(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, status)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderPoolStatus(status, time.Now()))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")

	return cmd
}

func renderPoolStatus(status admin.PoolStatus, now time.Time) string {
	s := newStyles()

	enabled := lo.CountBy(status.Accounts, func(a admin.AccountView) bool { return a.Enabled })
	limited := lo.CountBy(status.Accounts, func(a admin.AccountView) bool {
		return a.RateLimitedUntil != nil && a.RateLimitedUntil.After(now)
	})

	lines := []string{
		s.title.Render("Relay Pool"),
		s.header.Render(fmt.Sprintf("accounts: %d (%d enabled, %d rate-limited)",
			len(status.Accounts), enabled, limited)),
	}

	if len(status.Accounts) == 0 {
		lines = append(lines, s.empty.Render("No accounts in the pool."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, account := range status.Accounts {
		quota, hasQuota := status.Quotas[account.ID]
		lines = append(lines, s.section.Render(renderPoolAccount(account, quota, hasQuota, now, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderPoolAccount(account admin.AccountView, quota admin.QuotaView, hasQuota bool, now time.Time, s styles) string {
	title := []string{
		s.account.Render(fmt.Sprintf("%s (%s)", account.Name, account.Provider)),
	}
	if !account.Enabled {
		tag := "[disabled]"
		if account.DisabledReason != "" {
			tag = "[disabled: " + account.DisabledReason + "]"
		}
		title = append(title, " ", s.warning.Render(tag))
	}
	if account.RateLimitedUntil != nil && account.RateLimitedUntil.After(now) {
		title = append(title, " ", s.warning.Render("[rate-limited "+formatResetRelative(*account.RateLimitedUntil, now)+"]"))
	}

	parts := []string{lipgloss.JoinHorizontal(lipgloss.Top, title...)}

	if hasQuota {
		parts = append(parts, quotaLine(quota, now, s))
	} else {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top,
			s.key.Render("quota:"), " ", s.empty.Render("no snapshot yet")))
	}

	usage := fmt.Sprintf("served %d requests", account.UsageCount)
	if account.LastUsedAt != nil {
		usage += ", last " + formatSince(*account.LastUsedAt, now)
	}
	parts = append(parts, s.meta.Render(usage))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func formatSince(at time.Time, now time.Time) string {
	if at.IsZero() || at.After(now) {
		return "just now"
	}
	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	}
}
