package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

const dateLayout = "2006-01-02"

func (r *runner) newGenerateCommand() *cobra.Command {
	var in fiscal.GenerateInput
	var startMonth int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Register a fiscal year and its periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := r.requireActor(); err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			in.StartMonth = time.Month(startMonth)
			in.ActorID = r.actor
			res, err := svc.GenerateFiscalYear(cmd.Context(), in)
			if err != nil {
				return r.fail(cmd, err)
			}
			res.Warnings = fiscal.LocalizeAll(res.Warnings, r.tag())
			if r.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fy := res.FiscalYear
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "fiscal year %s %s %s (%s to %s)\n", fy.ID, fy.Entity, fy.Year,
				fy.StartDate.Format(dateLayout), fy.EndDate.Format(dateLayout))
			writePeriods(out, res.Periods)
			if len(res.OpeningBalances) > 0 {
				_, _ = fmt.Fprintf(out, "opening balances: %d accounts\n", len(res.OpeningBalances))
			}
			writeMessages(out, "warnings", res.Warnings)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Entity, "entity", "", "owning entity (required)")
	_ = cmd.MarkFlagRequired("entity")
	cmd.Flags().StringVar(&in.Year, "year", "", "four digit year label (required)")
	_ = cmd.MarkFlagRequired("year")
	cmd.Flags().IntVar(&startMonth, "start-month", 1, "first calendar month of the fiscal year")
	cmd.Flags().BoolVar(&in.CopyFromPrevious, "copy-previous", false, "reuse the previous year's settings")
	cmd.Flags().BoolVar(&in.IncludeOpeningBalances, "opening-balances", false, "carry closing balances of the previous year")
	return cmd
}

func (r *runner) newPeriodsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "periods <fiscal-year-id>",
		Short: "List the periods of a fiscal year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "fiscal year")
			if err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			periods, err := svc.ListPeriods(cmd.Context(), id)
			if err != nil {
				return r.fail(cmd, err)
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), periods)
			}
			writePeriods(cmd.OutOrStdout(), periods)
			return nil
		},
	}
}

func (r *runner) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <period-id>",
		Short: "Run the pre-closing checks of a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			check, err := svc.GetPeriodStatus(cmd.Context(), id)
			if err != nil {
				return r.fail(cmd, err)
			}
			check.Errors = fiscal.LocalizeAll(check.Errors, r.tag())
			check.Warnings = fiscal.LocalizeAll(check.Warnings, r.tag())
			if r.json {
				return writeJSON(cmd.OutOrStdout(), check)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "period %s can close: %t\n", check.PeriodID, check.CanClose)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "entries posted\t%t\n", check.Checks.EntriesPosted)
			_, _ = fmt.Fprintf(tw, "bank reconciliations complete\t%t\n", check.Checks.BankReconciled)
			_, _ = fmt.Fprintf(tw, "depreciation calculated\t%t\n", check.Checks.DepreciationCalculated)
			_, _ = fmt.Fprintf(tw, "accruals recorded\t%t\n", check.Checks.AccrualsRecorded)
			_, _ = fmt.Fprintf(tw, "no open journals\t%t\n", check.Checks.NoOpenJournals)
			_ = tw.Flush()
			writeMessages(out, "errors", check.Errors)
			writeMessages(out, "warnings", check.Warnings)
			return nil
		},
	}
}

func (r *runner) newCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <period-id>",
		Short: "Close a period after the pre-closing checks pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			if err := r.requireActor(); err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			p, err := svc.ClosePeriod(cmd.Context(), id, r.actor)
			if err != nil {
				return r.fail(cmd, err)
			}
			return r.writePeriod(cmd, p)
		},
	}
}

func (r *runner) newReopenCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <period-id>",
		Short: "Reopen a closed period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			if err := r.requireActor(); err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			p, err := svc.ReopenPeriod(cmd.Context(), id, reason, r.actor)
			if err != nil {
				return r.fail(cmd, err)
			}
			return r.writePeriod(cmd, p)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "justification recorded in the audit trail (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (r *runner) newForceCloseCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "force-close <period-id>",
		Short: "Close a period without running the pre-closing checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			if err := r.requireActor(); err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			p, err := svc.ForceClosePeriod(cmd.Context(), id, reason, r.actor)
			if err != nil {
				return r.fail(cmd, err)
			}
			return r.writePeriod(cmd, p)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "justification recorded in the audit trail (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (r *runner) newCloseYearCommand() *cobra.Command {
	var checkOnly bool
	cmd := &cobra.Command{
		Use:   "close-year <fiscal-year-id>",
		Short: "Close a fiscal year once every period is closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "fiscal year")
			if err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			if checkOnly {
				check, err := svc.CanCloseFiscalYear(cmd.Context(), id, nil)
				if err != nil {
					return r.fail(cmd, err)
				}
				check.Reasons = fiscal.LocalizeAll(check.Reasons, r.tag())
				if r.json {
					if err := writeJSON(cmd.OutOrStdout(), check); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					_, _ = fmt.Fprintf(out, "fiscal year %s can close: %t (open periods: %d, trial balance %d/%d)\n",
						check.FiscalYearID, check.CanClose, check.OpenPeriods, check.TrialBalance.Debit, check.TrialBalance.Credit)
					writeMessages(out, "reasons", check.Reasons)
				}
				if !check.CanClose {
					return ErrRefused
				}
				return nil
			}
			if err := r.requireActor(); err != nil {
				return err
			}
			fy, err := svc.CloseFiscalYear(cmd.Context(), id, r.actor)
			if err != nil {
				return r.fail(cmd, err)
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), fy)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "fiscal year %s %s %s closed\n", fy.ID, fy.Entity, fy.Year)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "only report year-end eligibility")
	return cmd
}

func (r *runner) newIntegrityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity <period-id>",
		Short: "Check the data integrity of a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			report, err := svc.CheckDataIntegrity(cmd.Context(), id)
			if err != nil {
				return r.fail(cmd, err)
			}
			report.Issues = fiscal.LocalizeAll(report.Issues, r.tag())
			report.Recommendations = fiscal.LocalizeAll(report.Recommendations, r.tag())
			if r.json {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "period %s valid: %t\n", report.PeriodID, report.IsValid)
				writeMessages(out, "issues", report.Issues)
				writeMessages(out, "recommendations", report.Recommendations)
			}
			if !report.IsValid {
				return ErrIntegrityIssues
			}
			return nil
		},
	}
}

func (r *runner) newRegenerateCommand() *cobra.Command {
	var opts fiscal.RegenerationOptions
	cmd := &cobra.Command{
		Use:   "regenerate <period-id>",
		Short: "Recompute the stored balances of a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			progress := func(percent int, step string) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%3d%% %s\n", percent, step)
			}
			res, err := svc.RegeneratePeriodBalances(cmd.Context(), id, opts, progress)
			if err != nil {
				return r.fail(cmd, err)
			}
			res.Errors = fiscal.LocalizeAll(res.Errors, r.tag())
			res.Warnings = fiscal.LocalizeAll(res.Warnings, r.tag())
			if r.json {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "period %s regenerated: %t in %s\n", res.PeriodID, res.Success, res.Duration.Round(time.Millisecond))
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintf(tw, "accounts\t%d\n", res.Details.Accounts)
				_, _ = fmt.Fprintf(tw, "journals\t%d\n", res.Details.Journals)
				_, _ = fmt.Fprintf(tw, "entries\t%d\n", res.Details.Entries)
				_, _ = fmt.Fprintf(tw, "balances\t%d\n", res.Details.Balances)
				_ = tw.Flush()
				writeMessages(out, "errors", res.Errors)
				writeMessages(out, "warnings", res.Warnings)
			}
			if !res.Success {
				return ErrRefused
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.RecalculateBalances, "balances", true, "recalculate account balances")
	cmd.Flags().BoolVar(&opts.RegenerateJournals, "journals", false, "rebuild journal totals")
	cmd.Flags().BoolVar(&opts.UpdateReports, "reports", false, "invalidate cached reports")
	cmd.Flags().BoolVar(&opts.ForceRecalculation, "force", false, "allow regeneration of a closed period")
	cmd.Flags().BoolVar(&opts.IncludeAuxiliary, "auxiliary", false, "include auxiliary accounts")
	return cmd
}

func (r *runner) newAdjustmentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "adjustments <period-id>",
		Short: "Regenerate the amortization and provision entries of a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "period")
			if err != nil {
				return err
			}
			if err := r.requireActor(); err != nil {
				return err
			}
			svc, err := r.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.RegenerateAdjustmentEntries(cmd.Context(), id, r.actor)
			if err != nil {
				return r.fail(cmd, err)
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "period %s: %d entries, %d accounts, total %d\n",
				res.PeriodID, res.GeneratedEntries, res.UpdatedAccounts, res.TotalAmount)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range res.Details {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.Kind, e.AccountCode, e.Label, e.Amount)
			}
			return tw.Flush()
		},
	}
}

func (r *runner) writePeriod(cmd *cobra.Command, p fiscal.Period) error {
	if r.json {
		return writeJSON(cmd.OutOrStdout(), p)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "period %s %s is %s\n", p.ID, p.Name, p.Status)
	return nil
}

func writePeriods(w io.Writer, periods []fiscal.Period) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NO\tNAME\tSTART\tEND\tSTATUS\tID")
	for _, p := range periods {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", p.Number, p.Name,
			p.StartDate.Format(dateLayout), p.EndDate.Format(dateLayout), p.Status, p.ID)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
