package proration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
)

func TestApplyGivesShortfallToFirstItem(t *testing.T) {
	lines, err := Apply([]money.Cents{1000, 1000, 1000}, 100, 0, 3000)
	require.NoError(t, err)

	assert.Equal(t, money.Cents(34), lines[0].Discount)
	assert.Equal(t, money.Cents(33), lines[1].Discount)
	assert.Equal(t, money.Cents(33), lines[2].Discount)

	_, _, total := Totals(lines)
	assert.Equal(t, money.Cents(2900), total)
}

func TestApplyTakesExcessFromLastItem(t *testing.T) {
	// each naive share is 0.5 cent and rounds up to 1
	lines, err := Apply([]money.Cents{1000, 1000}, 1, 1, 2000)
	require.NoError(t, err)

	assert.Equal(t, money.Cents(1), lines[0].Discount)
	assert.Equal(t, money.Cents(0), lines[1].Discount)
	assert.Equal(t, money.Cents(1), lines[0].Addition)
	assert.Equal(t, money.Cents(0), lines[1].Addition)
	assert.Equal(t, money.Cents(1000), lines[0].Total)
	assert.Equal(t, money.Cents(1000), lines[1].Total)
}

func TestApplyAdditionRemainders(t *testing.T) {
	lines, err := Apply([]money.Cents{1000, 1000, 1000}, 0, 100, 3000)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(34), lines[0].Addition)
	assert.Equal(t, money.Cents(33), lines[1].Addition)
	assert.Equal(t, money.Cents(33), lines[2].Addition)
	assert.Equal(t, money.Cents(1034), lines[0].Total)

	// 66.67 rounds up three times, one cent too many
	lines, err = Apply([]money.Cents{1000, 1000, 1000}, 0, 200, 3000)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(67), lines[0].Addition)
	assert.Equal(t, money.Cents(67), lines[1].Addition)
	assert.Equal(t, money.Cents(66), lines[2].Addition)
	assert.Equal(t, money.Cents(1066), lines[2].Total)
}

func TestApplySingleItemTakesEverything(t *testing.T) {
	lines, err := Apply([]money.Cents{999}, 333, 17, 999)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, money.Cents(333), lines[0].Discount)
	assert.Equal(t, money.Cents(17), lines[0].Addition)
	assert.Equal(t, money.Cents(683), lines[0].Total)
}

func TestApplyWithoutAdjustmentsKeepsBaseAmounts(t *testing.T) {
	bases := []money.Cents{150, 2599, 1}
	lines, err := Apply(bases, 0, 0, 2750)
	require.NoError(t, err)
	for i, l := range lines {
		assert.Equal(t, bases[i], l.Total)
		assert.Zero(t, l.Discount)
		assert.Zero(t, l.Addition)
	}
}

func TestApplyRejectsZeroSubtotal(t *testing.T) {
	_, err := Apply([]money.Cents{0, 0}, 0, 0, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Apply([]money.Cents{0}, 100, 0, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestApplyRejectsInconsistentInput(t *testing.T) {
	cases := map[string]func() error{
		"negative discount": func() error { _, err := Apply([]money.Cents{100}, -1, 0, 100); return err },
		"negative base":     func() error { _, err := Apply([]money.Cents{-100}, 0, 0, -100); return err },
		"subtotal mismatch": func() error { _, err := Apply([]money.Cents{100, 100}, 0, 0, 150); return err },
		"discount too big":  func() error { _, err := Apply([]money.Cents{100}, 101, 0, 100); return err },
		"no items":          func() error { _, err := Apply(nil, 10, 0, 0); return err },
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, run(), domain.ErrValidation)
		})
	}
}

func TestApplyDoesNotDriveTinyFirstItemNegative(t *testing.T) {
	// shares are 1, 666, 666, 666: one cent short, but item 0 is worth a
	// single cent and is already fully discounted
	lines, err := Apply([]money.Cents{1, 1000, 1000, 1000}, 2000, 0, 3001)
	require.NoError(t, err)

	assert.Equal(t, money.Cents(0), lines[0].Total)
	assert.Equal(t, money.Cents(667), lines[1].Discount)
	for _, l := range lines {
		assert.GreaterOrEqual(t, int64(l.Total), int64(0))
	}
	discount, _, total := Totals(lines)
	assert.Equal(t, money.Cents(2000), discount)
	assert.Equal(t, money.Cents(1001), total)
}

func TestApplyConservesAmounts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 500; round++ {
		n := 1 + rng.Intn(12)
		bases := make([]money.Cents, n)
		var subtotal money.Cents
		for i := range bases {
			bases[i] = money.Cents(rng.Intn(50000))
			subtotal += bases[i]
		}
		if subtotal == 0 {
			continue
		}
		discount := money.Cents(rng.Int63n(int64(subtotal) + 1))
		addition := money.Cents(rng.Intn(20000))

		lines, err := Apply(bases, discount, addition, subtotal)
		require.NoError(t, err)

		gotDiscount, gotAddition, total := Totals(lines)
		require.Equal(t, discount, gotDiscount, "round %d", round)
		require.Equal(t, addition, gotAddition, "round %d", round)
		require.Equal(t, subtotal-discount+addition, total, "round %d", round)
		for i, l := range lines {
			require.Equal(t, l.Base-l.Discount+l.Addition, l.Total, "round %d line %d", round, i)
			require.GreaterOrEqual(t, int64(l.Discount), int64(0))
			require.GreaterOrEqual(t, int64(l.Addition), int64(0))
		}
	}
}
