package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"relaypool/contracts/admin"
)

func newAccountsCmd(api *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage pooled upstream accounts",
	}

	cmd.AddCommand(
		newAccountsListCmd(api),
		newAccountsGetCmd(api),
		newAccountsCreateCmd(api),
		newAccountsEnableCmd(api),
		newAccountsDisableCmd(api),
		newAccountsDeleteCmd(api),
	)

	return cmd
}

func newAccountsListCmd(api *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every account in the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := api.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, accounts)
			}

			for _, a := range accounts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					a.ID, a.Name, a.Provider, accountState(a, time.Now()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")

	return cmd
}

func newAccountsGetCmd(api *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <account-id>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := api.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, account)
			}

			printAccount(cmd, account)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")

	return cmd
}

func newAccountsCreateCmd(api *client) *cobra.Command {
	var (
		name           string
		provider       string
		credential     string
		credentialFile string
		labels         []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new upstream account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cred := credential
			if credentialFile != "" {
				raw, err := os.ReadFile(credentialFile)
				if err != nil {
					return fmt.Errorf("read credential file: %w", err)
				}
				cred = strings.TrimSpace(string(raw))
			}

			parsed, err := parseLabels(labels)
			if err != nil {
				return err
			}

			account, err := api.CreateAccount(cmd.Context(), admin.CreateAccountRequest{
				Name:       name,
				Provider:   provider,
				Credential: cred,
				Labels:     parsed,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", account.ID, account.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Account name (unique)")
	cmd.Flags().StringVar(&provider, "provider", "", "Upstream provider (claude, claude-console, codex, gemini, antigravity)")
	cmd.Flags().StringVar(&credential, "credential", "", "Credential value")
	cmd.Flags().StringVar(&credentialFile, "credential-file", "", "Read the credential from a file instead")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "Label as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("provider")
	cmd.MarkFlagsMutuallyExclusive("credential", "credential-file")
	cmd.MarkFlagsOneRequired("credential", "credential-file")

	return cmd
}

func newAccountsEnableCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <account-id>",
		Short: "Put an account back into rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api.EnableAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !resp.Changed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s was already enabled\n", resp.Account.ID)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enabled account %s\n", resp.Account.ID)
			return nil
		},
	}
}

func newAccountsDisableCmd(api *client) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "disable <account-id>",
		Short: "Pull an account out of rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api.DisableAccount(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}

			if !resp.Changed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s was already disabled\n", resp.Account.ID)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Disabled account %s\n", resp.Account.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the account is being pulled")

	return cmd
}

func newAccountsDeleteCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account-id>",
		Short: "Remove an account from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted account %s\n", args[0])
			return nil
		},
	}
}

func newQuotaCmd(api *client) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "quota <account-id>",
		Short: "Show the latest quota snapshot for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quota, err := api.Quota(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, quota)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderQuota(quota, time.Now()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")

	return cmd
}

func newRateLimitCmd(api *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate-limit",
		Short: "Apply or lift rate limit windows",
	}

	cmd.AddCommand(
		newRateLimitSetCmd(api),
		newRateLimitClearCmd(api),
	)

	return cmd
}

func newRateLimitSetCmd(api *client) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "set <account-id>",
		Short: "Mark an account rate limited for a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := api.MarkRateLimited(cmd.Context(), args[0], window)
			if err != nil {
				return err
			}

			until := "unknown"
			if account.RateLimitedUntil != nil {
				until = account.RateLimitedUntil.Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s rate limited until %s\n", account.ID, until)
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "for", time.Minute, "Window length, e.g. 5m or 1h")

	return cmd
}

func newRateLimitClearCmd(api *client) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <account-id>",
		Short: "Lift an expired rate limit flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := api.ClearRateLimit(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !resp.Cleared {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Account %s has no expired rate limit to clear\n", resp.Account.ID)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared rate limit on account %s\n", resp.Account.ID)
			return nil
		},
	}
}

func newCacheCmd(api *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage derived selection state",
	}

	cmd.AddCommand(newCacheInvalidateCmd(api))

	return cmd
}

func newCacheInvalidateCmd(api *client) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached account list, or one account's quota snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := api.InvalidateCache(cmd.Context(), accountID); err != nil {
				return err
			}

			if accountID == "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Account list cache invalidated")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Quota snapshot invalidated for account %s\n", accountID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Limit invalidation to one account's quota snapshot")

	return cmd
}

func printAccount(cmd *cobra.Command, a admin.AccountView) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "id:        %s\n", a.ID)
	_, _ = fmt.Fprintf(out, "name:      %s\n", a.Name)
	_, _ = fmt.Fprintf(out, "provider:  %s\n", a.Provider)
	_, _ = fmt.Fprintf(out, "state:     %s\n", accountState(a, time.Now()))
	_, _ = fmt.Fprintf(out, "usage:     %d requests\n", a.UsageCount)
	if a.LastUsedAt != nil {
		_, _ = fmt.Fprintf(out, "last used: %s\n", a.LastUsedAt.Format(time.RFC3339))
	}
	if len(a.Labels) > 0 {
		_, _ = fmt.Fprintf(out, "labels:    %s\n", formatLabels(a.Labels))
	}
	_, _ = fmt.Fprintf(out, "created:   %s\n", a.CreatedAt.Format(time.RFC3339))
}

func accountState(a admin.AccountView, now time.Time) string {
	if !a.Enabled {
		if a.DisabledReason != "" {
			return "disabled (" + a.DisabledReason + ")"
		}
		return "disabled"
	}
	if a.RateLimitedUntil != nil && a.RateLimitedUntil.After(now) {
		return "rate-limited until " + a.RateLimitedUntil.Format("15:04:05")
	}
	return "enabled"
}

func parseLabels(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	labels := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid label %q, expected key=value", pair)
		}
		labels[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return labels, nil
}

func formatLabels(labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for key, value := range labels {
		pairs = append(pairs, key+"="+value)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, " ")
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
