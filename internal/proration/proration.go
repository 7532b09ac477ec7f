// Package proration spreads a sale's header discount and addition across its
// line items in proportion to each item's value.
//
// Shares are rounded half-up to the cent. Any rounding shortfall is given to
// the first item and any excess is taken back from the last item, so the
// adjusted lines always add up to subtotal - discount + addition. When the
// designated item cannot absorb the whole remainder without going negative,
// the rest moves on to the next (shortfall) or previous (excess) item.
package proration

import (
	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
)

type Line struct {
	Base     money.Cents
	Discount money.Cents
	Addition money.Cents
	Total    money.Cents
}

// Apply returns one Line per base amount, in the same order. Inputs are not
// modified.
func Apply(bases []money.Cents, discount, addition, subtotal money.Cents) ([]Line, error) {
	if discount < 0 || addition < 0 {
		return nil, domain.Validation("discount and addition must not be negative")
	}
	if len(bases) == 0 {
		if discount != 0 || addition != 0 {
			return nil, domain.Validation("cannot distribute adjustments over an empty item list")
		}
		return []Line{}, nil
	}

	var sum money.Cents
	for i, base := range bases {
		if base < 0 {
			return nil, domain.Validation("item %d has a negative value", i)
		}
		sum += base
	}
	if subtotal <= 0 {
		return nil, domain.Validation("subtotal must be greater than zero")
	}
	if subtotal != sum {
		return nil, domain.Validation("subtotal %s does not match items %s", subtotal, sum)
	}
	if discount > subtotal {
		return nil, domain.Validation("discount %s exceeds subtotal %s", discount, subtotal)
	}

	lines := make([]Line, len(bases))
	for i, base := range bases {
		lines[i] = Line{Base: base, Total: base}
	}
	if discount == 0 && addition == 0 {
		return lines, nil
	}

	for i := range lines {
		lines[i].Discount = discount.Share(lines[i].Base, subtotal)
		lines[i].Addition = addition.Share(lines[i].Base, subtotal)
		lines[i].Total = lines[i].Base - lines[i].Discount + lines[i].Addition
	}
	settleDiscount(lines, discount)
	settleAddition(lines, addition)

	return lines, nil
}

func settleDiscount(lines []Line, want money.Cents) {
	var applied money.Cents
	for _, l := range lines {
		applied += l.Discount
	}
	diff := want - applied

	for i := 0; diff > 0 && i < len(lines); i++ {
		take := min(diff, lines[i].Total)
		lines[i].Discount += take
		lines[i].Total -= take
		diff -= take
	}
	for i := len(lines) - 1; diff < 0 && i >= 0; i-- {
		give := min(-diff, lines[i].Discount)
		lines[i].Discount -= give
		lines[i].Total += give
		diff += give
	}
}

func settleAddition(lines []Line, want money.Cents) {
	var applied money.Cents
	for _, l := range lines {
		applied += l.Addition
	}
	diff := want - applied

	if diff > 0 {
		lines[0].Addition += diff
		lines[0].Total += diff
		return
	}
	for i := len(lines) - 1; diff < 0 && i >= 0; i-- {
		give := min(-diff, lines[i].Addition, lines[i].Total)
		lines[i].Addition -= give
		lines[i].Total -= give
		diff += give
	}
}

// Totals sums the adjusted lines.
func Totals(lines []Line) (discount, addition, total money.Cents) {
	for _, l := range lines {
		discount += l.Discount
		addition += l.Addition
		total += l.Total
	}
	return discount, addition, total
}
