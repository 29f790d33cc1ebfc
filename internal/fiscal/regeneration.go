package fiscal

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
)

// CheckDataIntegrity inspects the period's ledger data. Concurrent callers
// for the same period share one evaluation; nothing is kept afterwards.
// The shared evaluation is detached from the first caller's cancellation;
// each caller still stops waiting when its own ctx is done.
func (s *Service) CheckDataIntegrity(ctx context.Context, periodID uuid.UUID) (IntegrityReport, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.integrity.DoChan(periodID.String(), func() (interface{}, error) {
		return s.checkIntegrity(shared, periodID)
	})
	select {
	case <-ctx.Done():
		return IntegrityReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return IntegrityReport{}, res.Err
		}
		return res.Val.(IntegrityReport), nil
	}
}

func (s *Service) checkIntegrity(ctx context.Context, periodID uuid.UUID) (IntegrityReport, error) {
	report := IntegrityReport{PeriodID: periodID, Issues: []Message{}, Recommendations: []Message{}}
	period, err := s.repo.GetPeriod(ctx, periodID)
	if errors.Is(err, ErrNotFound) {
		report.Issues = append(report.Issues, NewMessage(CodePeriodNotFound))
		report.Recommendations = append(report.Recommendations, NewMessage("CHECK_PERIOD_ID"))
		return report, nil
	}
	if err != nil {
		return IntegrityReport{}, err
	}
	fy, err := s.repo.GetFiscalYear(ctx, period.FiscalYearID)
	if err != nil {
		return IntegrityReport{}, err
	}
	if s.ledger == nil {
		return IntegrityReport{}, errLedgerMissing
	}
	stats, err := s.ledger.IntegrityStats(ctx, scopeOf(fy, period))
	if err != nil {
		return IntegrityReport{}, err
	}
	return integrityFromStats(periodID, stats), nil
}

func integrityFromStats(periodID uuid.UUID, stats IntegrityStats) IntegrityReport {
	report := IntegrityReport{PeriodID: periodID, Issues: []Message{}, Recommendations: []Message{}}
	if stats.UnbalancedEntries > 0 {
		report.Issues = append(report.Issues, NewMessage("UNBALANCED_ENTRIES", stats.UnbalancedEntries))
		report.Recommendations = append(report.Recommendations, NewMessage("FIX_UNBALANCED_ENTRIES"))
	}
	if stats.EntriesOutsideRange > 0 {
		report.Issues = append(report.Issues, NewMessage("ENTRIES_OUTSIDE_PERIOD", stats.EntriesOutsideRange))
		report.Recommendations = append(report.Recommendations, NewMessage("MOVE_ENTRIES_TO_PERIOD"))
	}
	if stats.UnknownAccountLines > 0 {
		report.Issues = append(report.Issues, NewMessage("UNKNOWN_ACCOUNT_LINES", stats.UnknownAccountLines))
		report.Recommendations = append(report.Recommendations, NewMessage("REMAP_ACCOUNT_LINES"))
	}
	report.IsValid = len(report.Issues) == 0
	return report
}

// RegeneratePeriodBalances recomputes the period's balances and journal
// rollups. Every write is an upsert committed in one transaction, so a
// cancelled run leaves nothing behind and repeated runs are idempotent.
func (s *Service) RegeneratePeriodBalances(ctx context.Context, periodID uuid.UUID, opts RegenerationOptions, progress Progress) (RegenerationResult, error) {
	started := s.now()
	result := RegenerationResult{PeriodID: periodID, Errors: []Message{}, Warnings: []Message{}}
	if s.ledger == nil {
		return result, errLedgerMissing
	}
	err := s.withPeriodLock(ctx, periodID, func(fy FiscalYear, period Period) error {
		progress.report(0, "integrity")
		if !opts.ForceRecalculation {
			report, err := s.checkIntegrity(ctx, periodID)
			if err != nil {
				return err
			}
			if !report.IsValid {
				result.Errors = append(result.Errors, report.Issues...)
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		scope := scopeOf(fy, period)
		var balances []AccountBalance
		var totals []JournalTotal
		if opts.RecalculateBalances {
			progress.report(20, "balances")
			activity, err := s.ledger.AccountActivity(ctx, scope, opts.IncludeAuxiliary)
			if err != nil {
				return err
			}
			if len(activity) == 0 {
				result.Warnings = append(result.Warnings, NewMessage("NO_ACCOUNT_ACTIVITY"))
			}
			for _, acc := range activity {
				if acc.Debit < 0 || acc.Credit < 0 {
					result.Errors = append(result.Errors, NewMessage("ACCOUNT_REJECTED", acc.Code))
					continue
				}
				if acc.Auxiliary && !opts.IncludeAuxiliary {
					continue
				}
				balances = append(balances, acc)
			}
			sort.Slice(balances, func(i, j int) bool { return balances[i].Code < balances[j].Code })
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.RegenerateJournals {
			progress.report(50, "journals")
			var err error
			totals, err = s.ledger.JournalTotals(ctx, scope)
			if err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		progress.report(70, "commit")
		var written int
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if opts.RecalculateBalances {
				n, err := tx.UpsertAccountBalances(ctx, period.ID, balances)
				if err != nil {
					return err
				}
				written = n
			}
			if opts.RegenerateJournals {
				if _, err := tx.UpsertJournalTotals(ctx, period.ID, totals); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		result.Details = RegenerationDetails{
			Accounts: len(balances),
			Journals: len(totals),
			Entries:  countEntries(totals),
			Balances: written,
		}
		result.Processed = len(balances) + len(totals)

		if opts.UpdateReports && s.reports != nil {
			progress.report(90, "reports")
			if err := s.reports.Invalidate(ctx, fy.Entity); err != nil {
				s.logger.Warn("invalidate reports", slog.String("entity", fy.Entity), slog.Any("error", err))
				result.Warnings = append(result.Warnings, NewMessage("REPORT_REFRESH_FAILED"))
			}
		}
		progress.report(100, "done")
		return nil
	})
	result.Duration = s.now().Sub(started)
	if err != nil {
		return result, err
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

func countEntries(totals []JournalTotal) int {
	n := 0
	for _, t := range totals {
		n += t.Entries
	}
	return n
}

// RegenerateAdjustmentEntries asks the depreciation service for the
// period's amortization and provision entries. Balances are not touched.
func (s *Service) RegenerateAdjustmentEntries(ctx context.Context, periodID uuid.UUID, actorID int64) (AdjustmentResult, error) {
	if s.depreciation == nil {
		return AdjustmentResult{}, errCollaboratorsMissing
	}
	var result AdjustmentResult
	err := s.withPeriodLock(ctx, periodID, func(fy FiscalYear, period Period) error {
		entries, err := s.depreciation.AdjustmentEntries(ctx, scopeOf(fy, period))
		if err != nil {
			return err
		}
		accounts := make(map[string]struct{}, len(entries))
		var total int64
		for _, e := range entries {
			accounts[e.AccountCode] = struct{}{}
			total += e.Amount
		}
		result = AdjustmentResult{
			PeriodID:         period.ID,
			GeneratedEntries: len(entries),
			UpdatedAccounts:  len(accounts),
			TotalAmount:      total,
			Details:          entries,
		}
		return nil
	})
	if err != nil {
		return AdjustmentResult{}, err
	}
	s.record(ctx, actorID, "period.adjustments", "period", periodID, map[string]any{
		"entries": result.GeneratedEntries,
		"total":   result.TotalAmount,
	})
	return result, nil
}
