package fiscal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	minYear = 2000
	maxYear = 2100
)

var monthNames = [...]string{
	time.January:   "Janvier",
	time.February:  "Février",
	time.March:     "Mars",
	time.April:     "Avril",
	time.May:       "Mai",
	time.June:      "Juin",
	time.July:      "Juillet",
	time.August:    "Août",
	time.September: "Septembre",
	time.October:   "Octobre",
	time.November:  "Novembre",
	time.December:  "Décembre",
}

// ParseYear validates a fiscal year label.
func ParseYear(year string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || value < minYear || value > maxYear {
		return 0, validationError("year", "INVALID_YEAR")
	}
	return value, nil
}

// Validate checks the generation input before any state mutation.
func (in GenerateInput) Validate() error {
	if strings.TrimSpace(in.Entity) == "" {
		return validationError("entity", "ENTITY_REQUIRED")
	}
	if _, err := ParseYear(in.Year); err != nil {
		return err
	}
	if in.StartMonth != 0 && (in.StartMonth < time.January || in.StartMonth > time.December) {
		return validationError("start_month", "INVALID_DATE_RANGE")
	}
	return nil
}

// BuildFiscalYear lays out a fiscal year with 12 monthly periods and the
// adjustment period. Nothing is persisted.
func BuildFiscalYear(in GenerateInput, now time.Time, newID func() uuid.UUID) (FiscalYear, []Period, error) {
	if err := in.Validate(); err != nil {
		return FiscalYear{}, nil, err
	}
	if newID == nil {
		newID = uuid.New
	}
	year, _ := ParseYear(in.Year)
	startMonth := in.StartMonth
	if startMonth == 0 {
		startMonth = time.January
	}
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, -1)
	if !start.Before(end) {
		return FiscalYear{}, nil, validationError("dates", "INVALID_DATE_RANGE")
	}

	fy := FiscalYear{
		ID:        newID(),
		Entity:    strings.TrimSpace(in.Entity),
		Year:      strconv.Itoa(year),
		StartDate: start,
		EndDate:   end,
		CreatedAt: now,
		CreatedBy: in.ActorID,
		Version:   1,
	}

	periods := make([]Period, 0, AdjustmentPeriodNumber)
	for i := 0; i < 12; i++ {
		pStart := start.AddDate(0, i, 0)
		pEnd := pStart.AddDate(0, 1, -1)
		periods = append(periods, Period{
			ID:           newID(),
			FiscalYearID: fy.ID,
			Number:       i + 1,
			Name:         fmt.Sprintf("%s %d", monthNames[pStart.Month()], pStart.Year()),
			StartDate:    pStart,
			EndDate:      pEnd,
			Status:       PeriodStatusOpen,
			CreatedAt:    now,
			Version:      1,
		})
	}
	last := periods[len(periods)-1]
	periods = append(periods, Period{
		ID:           newID(),
		FiscalYearID: fy.ID,
		Number:       AdjustmentPeriodNumber,
		Name:         fmt.Sprintf("Ajustements %d", year),
		StartDate:    last.StartDate,
		EndDate:      last.EndDate,
		Status:       PeriodStatusOpen,
		IsAdjustment: true,
		CreatedAt:    now,
		Version:      1,
	})
	return fy, periods, nil
}

// PreviousYear returns the label of the fiscal year preceding year.
func PreviousYear(year string) (string, bool) {
	value, err := ParseYear(year)
	if err != nil || value-1 < minYear {
		return "", false
	}
	return strconv.Itoa(value - 1), true
}
