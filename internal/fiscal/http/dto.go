package fiscalhttp

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

const dateLayout = "2006-01-02"

type generateRequest struct {
	Entity                 string `json:"entity" validate:"required,max=64"`
	Year                   string `json:"year" validate:"required,numeric,len=4"`
	StartMonth             int    `json:"start_month" validate:"omitempty,min=1,max=12"`
	CopyFromPrevious       bool   `json:"copy_from_previous"`
	IncludeOpeningBalances bool   `json:"include_opening_balances"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type messageDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type fiscalYearDTO struct {
	ID        uuid.UUID  `json:"id"`
	Entity    string     `json:"entity"`
	Year      string     `json:"year"`
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date"`
	IsClosed  bool       `json:"is_closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  *int64     `json:"closed_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Version   int64      `json:"version"`
}

type periodDTO struct {
	ID           uuid.UUID  `json:"id"`
	FiscalYearID uuid.UUID  `json:"fiscal_year_id"`
	Number       int        `json:"number"`
	Name         string     `json:"name"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	Status       string     `json:"status"`
	IsAdjustment bool       `json:"is_adjustment_period"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosedBy     *int64     `json:"closed_by,omitempty"`
	Version      int64      `json:"version"`
}

type balanceDTO struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Opening   int64  `json:"opening"`
	Debit     int64  `json:"debit"`
	Credit    int64  `json:"credit"`
	Closing   int64  `json:"closing"`
}

type generateResponse struct {
	FiscalYear      fiscalYearDTO `json:"fiscal_year"`
	Periods         []periodDTO   `json:"periods"`
	OpeningBalances []balanceDTO  `json:"opening_balances,omitempty"`
	Warnings        []messageDTO  `json:"warnings"`
}

type periodStatusResponse struct {
	PeriodID  uuid.UUID            `json:"period_id"`
	Checks    fiscal.ClosingChecks `json:"checks"`
	Errors    []messageDTO         `json:"errors"`
	Warnings  []messageDTO         `json:"warnings"`
	CanClose  bool                 `json:"can_close"`
	CheckedAt time.Time            `json:"checked_at"`
}

type yearCheckResponse struct {
	FiscalYearID uuid.UUID    `json:"fiscal_year_id"`
	CanClose     bool         `json:"can_close"`
	Reasons      []messageDTO `json:"reasons"`
	OpenPeriods  int          `json:"open_periods"`
	TrialDebit   int64        `json:"trial_balance_debit"`
	TrialCredit  int64        `json:"trial_balance_credit"`
}

type integrityResponse struct {
	PeriodID        uuid.UUID    `json:"period_id"`
	IsValid         bool         `json:"is_valid"`
	Issues          []messageDTO `json:"issues"`
	Recommendations []messageDTO `json:"recommendations"`
}

type regenerationResponse struct {
	PeriodID   uuid.UUID                  `json:"period_id"`
	Success    bool                       `json:"success"`
	Processed  int                        `json:"processed"`
	Errors     []messageDTO               `json:"errors"`
	Warnings   []messageDTO               `json:"warnings"`
	DurationMS int64                      `json:"duration_ms"`
	Details    fiscal.RegenerationDetails `json:"details"`
}

type adjustmentEntryDTO struct {
	Kind        string `json:"kind"`
	AccountCode string `json:"account_code"`
	Label       string `json:"label"`
	Amount      int64  `json:"amount"`
}

type adjustmentResponse struct {
	PeriodID         uuid.UUID            `json:"period_id"`
	GeneratedEntries int                  `json:"generated_entries"`
	UpdatedAccounts  int                  `json:"updated_accounts"`
	TotalAmount      int64                `json:"total_amount"`
	Details          []adjustmentEntryDTO `json:"details"`
}

type workflowResponse struct {
	ID         uuid.UUID    `json:"id"`
	Kind       string       `json:"kind"`
	Target     uuid.UUID    `json:"target"`
	State      string       `json:"state"`
	Progress   int          `json:"progress"`
	Step       string       `json:"step"`
	Errors     []messageDTO `json:"errors"`
	Warnings   []messageDTO `json:"warnings"`
	Resumable  bool         `json:"resumable"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

type taskResponse struct {
	TaskID   string    `json:"task_id"`
	PeriodID uuid.UUID `json:"period_id"`
}

func messages(msgs []fiscal.Message, tag language.Tag) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range fiscal.LocalizeAll(msgs, tag) {
		out = append(out, messageDTO{Code: m.Code, Message: m.Text})
	}
	return out
}

func toFiscalYear(fy fiscal.FiscalYear) fiscalYearDTO {
	return fiscalYearDTO{
		ID:        fy.ID,
		Entity:    fy.Entity,
		Year:      fy.Year,
		StartDate: fy.StartDate.Format(dateLayout),
		EndDate:   fy.EndDate.Format(dateLayout),
		IsClosed:  fy.IsClosed,
		ClosedAt:  fy.ClosedAt,
		ClosedBy:  fy.ClosedBy,
		CreatedAt: fy.CreatedAt,
		Version:   fy.Version,
	}
}

func toPeriod(p fiscal.Period) periodDTO {
	return periodDTO{
		ID:           p.ID,
		FiscalYearID: p.FiscalYearID,
		Number:       p.Number,
		Name:         p.Name,
		StartDate:    p.StartDate.Format(dateLayout),
		EndDate:      p.EndDate.Format(dateLayout),
		Status:       string(p.Status),
		IsAdjustment: p.IsAdjustment,
		ClosedAt:     p.ClosedAt,
		ClosedBy:     p.ClosedBy,
		Version:      p.Version,
	}
}

func toPeriods(periods []fiscal.Period) []periodDTO {
	out := make([]periodDTO, 0, len(periods))
	for _, p := range periods {
		out = append(out, toPeriod(p))
	}
	return out
}

func toGenerate(res fiscal.GenerateResult, tag language.Tag) generateResponse {
	out := generateResponse{
		FiscalYear: toFiscalYear(res.FiscalYear),
		Periods:    toPeriods(res.Periods),
		Warnings:   messages(res.Warnings, tag),
	}
	for _, b := range res.OpeningBalances {
		out.OpeningBalances = append(out.OpeningBalances, balanceDTO{
			AccountID: b.AccountID,
			Code:      b.Code,
			Name:      b.Name,
			Opening:   b.Opening,
			Debit:     b.Debit,
			Credit:    b.Credit,
			Closing:   b.Closing(),
		})
	}
	return out
}

func toPeriodStatus(c fiscal.PeriodClosingCheck, tag language.Tag) periodStatusResponse {
	return periodStatusResponse{
		PeriodID:  c.PeriodID,
		Checks:    c.Checks,
		Errors:    messages(c.Errors, tag),
		Warnings:  messages(c.Warnings, tag),
		CanClose:  c.CanClose,
		CheckedAt: c.CheckedAt,
	}
}

func toYearCheck(c fiscal.FiscalYearClosingCheck, tag language.Tag) yearCheckResponse {
	return yearCheckResponse{
		FiscalYearID: c.FiscalYearID,
		CanClose:     c.CanClose,
		Reasons:      messages(c.Reasons, tag),
		OpenPeriods:  c.OpenPeriods,
		TrialDebit:   c.TrialBalance.Debit,
		TrialCredit:  c.TrialBalance.Credit,
	}
}

func toIntegrity(r fiscal.IntegrityReport, tag language.Tag) integrityResponse {
	return integrityResponse{
		PeriodID:        r.PeriodID,
		IsValid:         r.IsValid,
		Issues:          messages(r.Issues, tag),
		Recommendations: messages(r.Recommendations, tag),
	}
}

func toRegeneration(r fiscal.RegenerationResult, tag language.Tag) regenerationResponse {
	return regenerationResponse{
		PeriodID:   r.PeriodID,
		Success:    r.Success,
		Processed:  r.Processed,
		Errors:     messages(r.Errors, tag),
		Warnings:   messages(r.Warnings, tag),
		DurationMS: r.Duration.Milliseconds(),
		Details:    r.Details,
	}
}

func toAdjustments(r fiscal.AdjustmentResult) adjustmentResponse {
	out := adjustmentResponse{
		PeriodID:         r.PeriodID,
		GeneratedEntries: r.GeneratedEntries,
		UpdatedAccounts:  r.UpdatedAccounts,
		TotalAmount:      r.TotalAmount,
		Details:          make([]adjustmentEntryDTO, 0, len(r.Details)),
	}
	for _, e := range r.Details {
		out.Details = append(out.Details, adjustmentEntryDTO(e))
	}
	return out
}

func toWorkflow(wf fiscal.Workflow, tag language.Tag) workflowResponse {
	return workflowResponse{
		ID:         wf.ID,
		Kind:       string(wf.Kind),
		Target:     wf.Target,
		State:      string(wf.State),
		Progress:   wf.Progress,
		Step:       wf.Step,
		Errors:     messages(wf.Errors, tag),
		Warnings:   messages(wf.Warnings, tag),
		Resumable:  wf.Resumable,
		StartedAt:  wf.StartedAt,
		FinishedAt: wf.FinishedAt,
	}
}
