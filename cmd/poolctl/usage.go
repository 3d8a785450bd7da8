package main

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"relaypool/contracts/admin"
)

func newUsageCmd(api *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize relayed traffic",
	}

	cmd.AddCommand(
		newUsageAccountsCmd(api),
		newUsageModelsCmd(api),
		newUsageHourlyCmd(api),
	)

	return cmd
}

func newUsageAccountsCmd(api *client) *cobra.Command {
	var (
		asJSON   bool
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Traffic per account, defaults to the last 24 hours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromTime, toTime, err := parseRange(from, to)
			if err != nil {
				return err
			}

			summary, err := api.UsageByAccount(cmd.Context(), fromTime, toTime)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "usage %s to %s\n",
				summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
			for _, row := range summary.Accounts {
				_, _ = fmt.Fprintf(out, "%s\t%d requests\t%d failed\t%d in\t%d out\t%dms avg\n",
					row.AccountID, row.Requests, row.Failures,
					row.InputTokens, row.OutputTokens, row.AvgLatencyMs)
			}

			total := lo.SumBy(summary.Accounts, func(r admin.AccountUsageView) int64 { return r.Requests })
			failed := lo.SumBy(summary.Accounts, func(r admin.AccountUsageView) int64 { return r.Failures })
			_, _ = fmt.Fprintf(out, "total\t%d requests\t%d failed\n", total, failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")
	cmd.Flags().StringVar(&from, "from", "", "Range start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (RFC3339)")

	return cmd
}

func newUsageModelsCmd(api *client) *cobra.Command {
	var (
		asJSON   bool
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Traffic per model, defaults to the last 24 hours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromTime, toTime, err := parseRange(from, to)
			if err != nil {
				return err
			}

			summary, err := api.UsageByModel(cmd.Context(), fromTime, toTime)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "usage %s to %s\n",
				summary.From.Format(time.RFC3339), summary.To.Format(time.RFC3339))
			for _, row := range summary.Models {
				_, _ = fmt.Fprintf(out, "%s\t%d requests\t%d failed\t%d in\t%d out\n",
					row.Model, row.Requests, row.Failures, row.InputTokens, row.OutputTokens)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")
	cmd.Flags().StringVar(&from, "from", "", "Range start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (RFC3339)")

	return cmd
}

func newUsageHourlyCmd(api *client) *cobra.Command {
	var (
		asJSON   bool
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "hourly <account-id>",
		Short: "One account's hour-by-hour traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromTime, toTime, err := parseRange(from, to)
			if err != nil {
				return err
			}

			series, err := api.UsageSeries(cmd.Context(), args[0], fromTime, toTime)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, series)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "account %s, %s to %s\n",
				series.AccountID, series.From.Format(time.RFC3339), series.To.Format(time.RFC3339))
			for _, b := range series.Buckets {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%s\t%d requests\t%d failed\t%d in\t%d out\n",
					b.Hour.Format("2006-01-02 15:04"), b.Model, b.Client,
					b.Requests, b.Failures, b.InputTokens, b.OutputTokens)
			}
			if len(series.Buckets) == 0 {
				_, _ = fmt.Fprintln(out, "no traffic in range")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output raw JSON")
	cmd.Flags().StringVar(&from, "from", "", "Range start (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (RFC3339)")

	return cmd
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	var fromTime, toTime time.Time
	if from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		fromTime = parsed
	}
	if to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		toTime = parsed
	}
	return fromTime, toTime, nil
}
