package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID_PrefixAndUniqueness(t *testing.T) {
	a := NewID(IDPrefixTimeEntry)
	b := NewID(IDPrefixTimeEntry)

	assert.True(t, strings.HasPrefix(a, "te_"))
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "-")
}

func TestAllowanceRemaining(t *testing.T) {
	m := &MonthlyAllowance{FreeMinutesTotal: 300, FreeMinutesUsed: 120}
	assert.Equal(t, 180, m.Remaining())

	m.FreeMinutesUsed = 300
	assert.Equal(t, 0, m.Remaining())

	// Defensive clamp; committed state never goes over.
	m.FreeMinutesUsed = 310
	assert.Equal(t, 0, m.Remaining())
}

func TestAssignmentCovers(t *testing.T) {
	from := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	open := &PlanAssignment{EffectiveFrom: from}
	assert.False(t, open.Covers(from.AddDate(0, 0, -1)))
	assert.True(t, open.Covers(from))
	assert.True(t, open.Covers(from.AddDate(1, 0, 0)))

	closed := &PlanAssignment{EffectiveFrom: from, EffectiveTo: &to}
	assert.True(t, closed.Covers(from))
	assert.True(t, closed.Covers(to), "the closing day itself is still covered")
	assert.False(t, closed.Covers(to.AddDate(0, 0, 1)))
}

func TestPeriodBoundaries(t *testing.T) {
	d := time.Date(2026, 8, 15, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), PeriodStartOf(d))
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), PeriodEndOf(d))

	// February in a leap year.
	leap := time.Date(2028, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), PeriodEndOf(leap))
}

func TestMidnight_TruncatesToUTCDate(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	d := time.Date(2026, 8, 15, 23, 30, 0, 0, loc)
	got := Midnight(d)
	require.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestInvoiceStatusIsTerminal(t *testing.T) {
	assert.False(t, InvoiceOpen.IsTerminal())
	assert.False(t, InvoiceReview.IsTerminal())
	assert.True(t, InvoicePaid.IsTerminal())
	assert.True(t, InvoiceCancelled.IsTerminal())
}

func TestIsKnownPlanCode(t *testing.T) {
	assert.True(t, IsKnownPlanCode(PlanBasic))
	assert.True(t, IsKnownPlanCode(PlanNone))
	assert.False(t, IsKnownPlanCode("GOLD"))
}
