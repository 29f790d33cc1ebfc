package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/platform/money"
)

func TestMinorAllConvertsEachAmount(t *testing.T) {
	p := NewPostgres(nil, money.Scale(2))
	got, err := p.minorAll(decimal.RequireFromString("-10.50"), decimal.RequireFromString("250"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, []int64{-1050, 25000, 0}, got)
}

func TestMinorAllRejectsOverflow(t *testing.T) {
	p := NewPostgres(nil, money.Scale(2))
	_, err := p.minorAll(decimal.RequireFromString("1e30"))
	require.Error(t, err)
}

func TestTrialTotalsBalanced(t *testing.T) {
	p := NewPostgres(nil, money.DefaultScale)
	totals, err := p.trialTotals(decimal.RequireFromString("1000.0000"), decimal.RequireFromString("1000.0000"))
	require.NoError(t, err)
	require.True(t, totals.Balanced())
	require.Equal(t, int64(1000), totals.Debit)
}

func TestTrialTotalsRejectsSubUnitResidual(t *testing.T) {
	p := NewPostgres(nil, money.DefaultScale)
	_, err := p.trialTotals(decimal.RequireFromString("1000.4000"), decimal.RequireFromString("1000.0000"))
	require.ErrorIs(t, err, money.ErrSubUnit)
}
