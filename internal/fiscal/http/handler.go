package fiscalhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
	"github.com/roro-pixel/bokati-sub001/internal/i18n"
	"github.com/roro-pixel/bokati-sub001/internal/platform/httpx"
	"github.com/roro-pixel/bokati-sub001/internal/shared"
)

// ActorHeader carries the numeric identifier of the acting user.
const ActorHeader = "X-User-ID"

const idempotencyModule = "fiscal.generate"

type fiscalService interface {
	GenerateFiscalYear(ctx context.Context, in fiscal.GenerateInput) (fiscal.GenerateResult, error)
	GetFiscalYear(ctx context.Context, id uuid.UUID) (fiscal.FiscalYear, error)
	ListPeriods(ctx context.Context, fiscalYearID uuid.UUID) ([]fiscal.Period, error)
	CanCloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, periods []fiscal.Period) (fiscal.FiscalYearClosingCheck, error)
	CloseFiscalYear(ctx context.Context, fiscalYearID uuid.UUID, actorID int64) (fiscal.FiscalYear, error)
	GetPeriodStatus(ctx context.Context, periodID uuid.UUID) (fiscal.PeriodClosingCheck, error)
	ClosePeriod(ctx context.Context, periodID uuid.UUID, actorID int64) (fiscal.Period, error)
	ReopenPeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (fiscal.Period, error)
	ForceClosePeriod(ctx context.Context, periodID uuid.UUID, reason string, actorID int64) (fiscal.Period, error)
	CheckDataIntegrity(ctx context.Context, periodID uuid.UUID) (fiscal.IntegrityReport, error)
	RegeneratePeriodBalances(ctx context.Context, periodID uuid.UUID, opts fiscal.RegenerationOptions, progress fiscal.Progress) (fiscal.RegenerationResult, error)
	RegenerateAdjustmentEntries(ctx context.Context, periodID uuid.UUID, actorID int64) (fiscal.AdjustmentResult, error)
	PrepareWorkflow(ctx context.Context, kind fiscal.WorkflowKind, target uuid.UUID) (fiscal.Workflow, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (fiscal.Workflow, error)
	RunYearEnd(ctx context.Context, workflowID, fiscalYearID uuid.UUID, actorID int64) (fiscal.Workflow, error)
}

// Dispatcher hands long-running work to the background worker.
type Dispatcher interface {
	DispatchRegeneration(ctx context.Context, periodID uuid.UUID, opts fiscal.RegenerationOptions, actorID int64) (string, error)
	DispatchPeriodClosing(ctx context.Context, workflowID, periodID uuid.UUID, actorID int64) error
	DispatchYearEnd(ctx context.Context, workflowID, fiscalYearID uuid.UUID, actorID int64) error
}

// Idempotency claims request keys so retried creates are not replayed.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes the fiscal period lifecycle over JSON.
type Handler struct {
	logger     *slog.Logger
	service    fiscalService
	dispatcher Dispatcher
	idem       Idempotency
	validate   *validator.Validate
	locale     language.Tag
}

// Option customises a Handler.
type Option func(*Handler)

// WithDispatcher enables asynchronous execution through ?async=1.
func WithDispatcher(d Dispatcher) Option {
	return func(h *Handler) { h.dispatcher = d }
}

// WithIdempotency enables Idempotency-Key handling on fiscal year creation.
func WithIdempotency(store Idempotency) Option {
	return func(h *Handler) { h.idem = store }
}

// WithDefaultLocale sets the language used when the client sends none.
func WithDefaultLocale(tag language.Tag) Option {
	return func(h *Handler) { h.locale = tag }
}

// NewHandler constructs the fiscal HTTP handler.
func NewHandler(logger *slog.Logger, service fiscalService, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		locale:   i18n.French,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fiscal-years", func(r chi.Router) {
		r.Post("/", h.generateFiscalYear)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getFiscalYear)
			r.Get("/periods", h.listPeriods)
			r.Get("/closing-check", h.closingCheck)
			r.Post("/close", h.closeFiscalYear)
			r.Post("/year-end", h.yearEnd)
		})
	})
	r.Route("/periods/{id}", func(r chi.Router) {
		r.Get("/status", h.periodStatus)
		r.Get("/integrity", h.integrity)
		r.Post("/close", h.closePeriod)
		r.Post("/reopen", h.reopenPeriod)
		r.Post("/force-close", h.forceClosePeriod)
		r.Post("/regenerate", h.regenerate)
		r.Post("/adjustments", h.adjustments)
	})
	r.Get("/workflows/{id}", h.getWorkflow)
}

func (h *Handler) generateFiscalYear(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idem != nil {
		if err := h.idem.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "request already processed")
				return
			}
			h.fail(w, r, err)
			return
		}
	}
	res, err := h.service.GenerateFiscalYear(r.Context(), fiscal.GenerateInput{
		Entity:                 req.Entity,
		Year:                   req.Year,
		StartMonth:             time.Month(req.StartMonth),
		CopyFromPrevious:       req.CopyFromPrevious,
		IncludeOpeningBalances: req.IncludeOpeningBalances,
		ActorID:                actorID,
	})
	if err != nil {
		if key != "" && h.idem != nil {
			if derr := h.idem.Delete(context.WithoutCancel(r.Context()), key, idempotencyModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toGenerate(res, h.tag(r)))
}

func (h *Handler) getFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	fy, err := h.service.GetFiscalYear(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFiscalYear(fy))
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.GetFiscalYear(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	periods, err := h.service.ListPeriods(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": toPeriods(periods)})
}

func (h *Handler) closingCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	check, err := h.service.CanCloseFiscalYear(r.Context(), id, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toYearCheck(check, h.tag(r)))
}

func (h *Handler) closeFiscalYear(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	fy, err := h.service.CloseFiscalYear(r.Context(), id, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFiscalYear(fy))
}

func (h *Handler) yearEnd(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if h.async(r) {
		if _, err := h.service.GetFiscalYear(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		wf, err := h.service.PrepareWorkflow(r.Context(), fiscal.WorkflowYearEnd, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.dispatcher.DispatchYearEnd(r.Context(), wf.ID, id, actorID); err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, toWorkflow(wf, h.tag(r)))
		return
	}
	wf, err := h.service.RunYearEnd(r.Context(), uuid.Nil, id, actorID)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, toWorkflow(wf, h.tag(r)))
	case wf.State == fiscal.WorkflowFailed:
		httpx.JSON(w, http.StatusUnprocessableEntity, toWorkflow(wf, h.tag(r)))
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) periodStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	check, err := h.service.GetPeriodStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodStatus(check, h.tag(r)))
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	report, err := h.service.CheckDataIntegrity(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toIntegrity(report, h.tag(r)))
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if h.async(r) {
		wf, err := h.service.PrepareWorkflow(r.Context(), fiscal.WorkflowPeriodClosing, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.dispatcher.DispatchPeriodClosing(r.Context(), wf.ID, id, actorID); err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, toWorkflow(wf, h.tag(r)))
		return
	}
	p, err := h.service.ClosePeriod(r.Context(), id, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriod(p))
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.ReopenPeriod)
}

func (h *Handler) forceClosePeriod(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.ForceClosePeriod)
}

func (h *Handler) withReason(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, string, int64) (fiscal.Period, error)) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := op(r.Context(), id, req.Reason, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriod(p))
}

func (h *Handler) regenerate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	opts := fiscal.RegenerationOptions{RecalculateBalances: true, RegenerateJournals: true, UpdateReports: true}
	if !h.decode(w, r, &opts) {
		return
	}
	if h.async(r) {
		taskID, err := h.dispatcher.DispatchRegeneration(r.Context(), id, opts, actorID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, taskResponse{TaskID: taskID, PeriodID: id})
		return
	}
	res, err := h.service.RegeneratePeriodBalances(r.Context(), id, opts, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	httpx.JSON(w, status, toRegeneration(res, h.tag(r)))
}

func (h *Handler) adjustments(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	res, err := h.service.RegenerateAdjustmentEntries(r.Context(), id, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAdjustments(res))
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	wf, err := h.service.GetWorkflow(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toWorkflow(wf, h.tag(r)))
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", ActorHeader+" header required")
		return 0, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			reasons := make([]httpx.Reason, 0, len(verrs))
			for _, fe := range verrs {
				reasons = append(reasons, httpx.Reason{
					Code:    "INVALID_" + strings.ToUpper(fe.Field()),
					Message: fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()),
				})
			}
			httpx.ProblemWithReasons(w, http.StatusBadRequest, "Validation Failed", "invalid request body", reasons)
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) async(r *http.Request) bool {
	if h.dispatcher == nil {
		return false
	}
	v, err := strconv.ParseBool(r.URL.Query().Get("async"))
	return err == nil && v
}

func (h *Handler) tag(r *http.Request) language.Tag {
	if strings.TrimSpace(r.Header.Get("Accept-Language")) == "" {
		return h.locale
	}
	return i18n.Match(r.Header.Get("Accept-Language"))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	tag := h.tag(r)
	reasons := reasonsOf(fiscal.LocalizeAll(fiscal.ReasonsOf(err), tag))
	switch {
	case errors.Is(err, fiscal.ErrCannotClose):
		httpx.ProblemWithReasons(w, http.StatusUnprocessableEntity, "Cannot Close", err.Error(), reasons)
	case errors.Is(err, fiscal.ErrIntegrity):
		httpx.ProblemWithReasons(w, http.StatusUnprocessableEntity, "Integrity Check Failed", err.Error(), reasons)
	case errors.Is(err, fiscal.ErrValidation):
		httpx.ProblemWithReasons(w, http.StatusBadRequest, "Validation Failed", err.Error(), reasons)
	case errors.Is(err, fiscal.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, fiscal.ErrConflict),
		errors.Is(err, fiscal.ErrStaleVersion),
		errors.Is(err, fiscal.ErrInvalidTransition),
		errors.Is(err, fiscal.ErrFiscalYearClosed),
		errors.Is(err, fiscal.ErrWorkflowTransition):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "request timed out")
	default:
		h.logger.Error("fiscal request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func reasonsOf(msgs []fiscal.Message) []httpx.Reason {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]httpx.Reason, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, httpx.Reason{Code: m.Code, Message: m.Text})
	}
	return out
}
