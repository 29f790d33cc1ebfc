package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roro-pixel/bokati-sub001/jobs"
)

func (r *runner) newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue and inspect background jobs",
	}
	cmd.AddCommand(r.newJobsTriggerCommand(), r.newJobsStatsCommand())
	return cmd
}

func (r *runner) newJobsTriggerCommand() *cobra.Command {
	var opts TriggerOptions
	cmd := &cobra.Command{
		Use:       "trigger <task-type>",
		Short:     "Enqueue a maintenance job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskIntegrityScan, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := r.env.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			info, err := ctl.Trigger(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s on %s as %s\n", info.Type, info.Queue, info.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "restrict an integrity scan to one entity")
	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 72*time.Hour, "retention of idempotency keys")
	return cmd
}

func (r *runner) newJobsStatsCommand() *cobra.Command {
	var queues []string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctl, err := r.env.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			stats := make([]QueueStats, 0, len(queues))
			for _, q := range queues {
				s, err := ctl.InspectQueue(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("inspect %s: %w", q, err)
				}
				stats = append(stats, s)
			}
			if r.json {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, s := range stats {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&queues, "queue", []string{jobs.QueueCritical, jobs.QueueDefault}, "queues to inspect")
	return cmd
}
