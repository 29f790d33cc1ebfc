package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/i18n"
)

// FiscalService is the slice of the fiscal service driven from the command line.
type FiscalService interface {
	GenerateFiscalYear(ctx context.Context, in fiscal.GenerateInput) (fiscal.GenerateResult, error)
	ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]fiscal.Period, error)
	GetPeriodStatus(ctx context.Context, periodID uuid.UUID) (fiscal.PeriodClosingCheck, error)
	ClosePeriod(ctx context.Context, periodID uuid.UUID, actorID int64) (fiscal.Period, error)
	ReopenPeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (fiscal.Period, error)
	ForceClosePeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (fiscal.Period, error)
	CanCloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, periods []fiscal.Period) (fiscal.FiscalYearClosingCheck, error)
	CloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, actorID int64) (fiscal.FiscalYear, error)
	CheckDataIntegrity(ctx context.Context, periodID uuid.UUID) (fiscal.IntegrityReport, error)
	RegeneratePeriodBalances(ctx context.Context, periodID uuid.UUID, opts fiscal.RegenerationOptions, progress fiscal.Progress) (fiscal.RegenerationResult, error)
	RegenerateAdjustmentEntries(ctx context.Context, periodID uuid.UUID, actorID int64) (fiscal.AdjustmentResult, error)
}

// JobsController enqueues and inspects background jobs.
type JobsController interface {
	Trigger(ctx context.Context, name string, opts TriggerOptions) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context, queue string) (QueueStats, error)
}

// Env opens the runtime dependencies on first use so that commands which do
// not need a store never dial one.
type Env interface {
	Fiscal(ctx context.Context) (FiscalService, error)
	Jobs(ctx context.Context) (JobsController, error)
}

var (
	// ErrActorRequired is returned by mutating commands run without --actor.
	ErrActorRequired = errors.New("fiscalctl: --actor is required")
	// ErrIntegrityIssues signals that an integrity check reported issues.
	ErrIntegrityIssues = errors.New("fiscalctl: integrity issues found")
	// ErrRefused signals a check or regeneration that did not pass.
	ErrRefused = errors.New("fiscalctl: operation refused")
)

type runner struct {
	env    Env
	json   bool
	actor  int64
	locale string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(env Env, defaultLocale string) *cobra.Command {
	r := &runner{env: env}
	rootCmd := &cobra.Command{
		Use:   "fiscalctl",
		Short: "Fiscal year and accounting period operations",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&r.json, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().Int64Var(&r.actor, "actor", 0, "user id recorded in the audit trail")
	rootCmd.PersistentFlags().StringVar(&r.locale, "locale", defaultLocale, "language of rendered messages")

	rootCmd.AddCommand(
		r.newGenerateCommand(),
		r.newPeriodsCommand(),
		r.newStatusCommand(),
		r.newCloseCommand(),
		r.newReopenCommand(),
		r.newForceCloseCommand(),
		r.newCloseYearCommand(),
		r.newIntegrityCommand(),
		r.newRegenerateCommand(),
		r.newAdjustmentsCommand(),
		r.newJobsCommand(),
	)
	return rootCmd
}

func (r *runner) tag() language.Tag {
	return i18n.Parse(r.locale)
}

func (r *runner) service(cmd *cobra.Command) (FiscalService, error) {
	return r.env.Fiscal(cmd.Context())
}

func (r *runner) requireActor() error {
	if r.actor <= 0 {
		return ErrActorRequired
	}
	return nil
}

// fail prints the localized reasons carried by err before returning it.
func (r *runner) fail(cmd *cobra.Command, err error) error {
	reasons := fiscal.LocalizeAll(fiscal.ReasonsOf(err), r.tag())
	if len(reasons) == 0 {
		return err
	}
	w := cmd.ErrOrStderr()
	for _, reason := range reasons {
		_, _ = fmt.Fprintf(w, "  - [%s] %s\n", reason.Code, reason.Text)
	}
	return err
}

func parseID(arg, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fiscalctl: invalid %s id %q", what, arg)
	}
	return id, nil
}

func writeMessages(w io.Writer, label string, msgs []fiscal.Message) {
	if len(msgs) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "%s:\n", label)
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "  - [%s] %s\n", m.Code, m.Text)
	}
}
