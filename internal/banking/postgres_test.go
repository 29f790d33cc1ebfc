package banking

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roro-pixel/bokati-sub001/internal/fiscal"
)

func TestPendingReconciliationsScopedToPeriodActivity(t *testing.T) {
	scope := fiscal.Scope{
		Entity:   "ACME",
		PeriodID: uuid.New(),
		End:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	args := pendingReconciliationsArgs(scope)
	require.Len(t, args, strings.Count(pendingReconciliationsSQL, "$"))
	assert.Equal(t, []any{"ACME", scope.PeriodID, scope.End}, args)

	assert.Contains(t, pendingReconciliationsSQL, "jl.account_id = ba.account_id AND je.period_id = $2")
	assert.Contains(t, pendingReconciliationsSQL, "br.statement_date >= $3")
}
