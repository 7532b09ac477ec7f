package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
)

const (
	lastSalesLimit = 10
	maxSellerSlots = 5
)

// cached serves key from the report cache, computing and storing it on a
// miss. Cache failures are logged and never fail the request.
func cached[T any](ctx context.Context, s *Service, key string, compute func() (T, error)) (T, error) {
	var out T
	hit, err := s.cache.Get(ctx, key, &out)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	}
	if hit {
		return out, nil
	}

	out, err = compute()
	if err != nil {
		return out, err
	}
	if err := s.cache.Set(ctx, key, out, s.cacheTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

// currentMonth returns the first instant of this month, the last instant of
// today and the start of today, all in the report zone.
func (s *Service) currentMonth() (time.Time, time.Time, time.Time) {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	return first, endOfDay(today), today
}

func (s *Service) SalesCurrentMonth(ctx context.Context) ([]domain.DailySales, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	first, end, today := s.currentMonth()
	key := s.dashboardKey("sales-current-month", today)

	return cached(ctx, s, key, func() ([]domain.DailySales, error) {
		sales, err := s.activeSales(ctx, domain.ReportFilter{From: &first, To: &end})
		if err != nil {
			return nil, err
		}

		days := make([]domain.DailySales, 0, today.Day())
		index := make(map[string]int, today.Day())
		for day := first; !day.After(today); day = day.AddDate(0, 0, 1) {
			id := day.Format("02/01/2006")
			index[id] = len(days)
			days = append(days, domain.DailySales{ID: id})
		}
		for _, sale := range sales {
			i, ok := index[sale.Date.In(s.loc).Format("02/01/2006")]
			if !ok {
				continue
			}
			days[i].TotalSales++
			days[i].TotalAmount += sale.Total
		}
		return days, nil
	})
}

func (s *Service) TotalSalesMonth(ctx context.Context) (domain.MonthTotals, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.MonthTotals{}, err
	}
	first, end, today := s.currentMonth()
	key := s.dashboardKey("total-sales-month", today)

	return cached(ctx, s, key, func() (domain.MonthTotals, error) {
		sales, err := s.activeSales(ctx, domain.ReportFilter{From: &first, To: &end})
		if err != nil {
			return domain.MonthTotals{}, err
		}

		var totals domain.MonthTotals
		for _, sale := range sales {
			totals.TotalSales += sale.Total
			totals.SalesQuantity++
		}
		if totals.SalesQuantity > 0 {
			totals.SalesAverage = divide(totals.TotalSales, int64(totals.SalesQuantity))
		}
		totals.SalesAveragePerDay = divide(totals.TotalSales, int64(today.Day()))
		return totals, nil
	})
}

func divide(amount money.Cents, n int64) money.Cents {
	return money.FromDecimal(amount.Decimal().Div(decimal.NewFromInt(n)))
}

// LastSales is never cached so a freshly recorded sale shows up at once.
func (s *Service) LastSales(ctx context.Context) ([]domain.SaleDetail, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	first, end, _ := s.currentMonth()
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		From:   &first,
		To:     &end,
		Status: domain.SaleStatusActive,
		Limit:  lastSalesLimit,
	})
	if err != nil {
		return nil, domain.Storage("list sales", err)
	}
	dir, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SaleDetail, 0, len(sales))
	for _, sale := range sales {
		out = append(out, dir.detail(sale))
	}
	return out, nil
}

// yearWindow spans the current month and the eleven before it.
func (s *Service) yearWindow() (time.Time, time.Time, time.Time) {
	first, end, today := s.currentMonth()
	return first.AddDate(0, -11, 0), end, today
}

func (s *Service) SalesByMonth(ctx context.Context) ([]domain.MonthlySales, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	start, end, today := s.yearWindow()
	key := s.dashboardKey("sales-by-month", today)

	return cached(ctx, s, key, func() ([]domain.MonthlySales, error) {
		sales, err := s.activeSales(ctx, domain.ReportFilter{From: &start, To: &end})
		if err != nil {
			return nil, err
		}

		months := make([]domain.MonthlySales, 0, 12)
		index := make(map[string]int, 12)
		for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
			id := m.Format("2006-01")
			index[id] = len(months)
			months = append(months, domain.MonthlySales{ID: id, Name: m.Format("01/2006")})
		}
		for _, sale := range sales {
			if i, ok := index[sale.Date.In(s.loc).Format("2006-01")]; ok {
				months[i].Total += sale.Total
			}
		}
		return months, nil
	})
}

// SalesBySeller ranks sellers by revenue over the last twelve months. With
// more than five sellers the tail is folded into a single "others" entry;
// otherwise every seller carries its share of the total.
func (s *Service) SalesBySeller(ctx context.Context) ([]domain.SellerSales, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	start, end, today := s.yearWindow()
	key := s.dashboardKey("sales-by-seller", today)

	return cached(ctx, s, key, func() ([]domain.SellerSales, error) {
		sales, err := s.activeSales(ctx, domain.ReportFilter{From: &start, To: &end})
		if err != nil {
			return nil, err
		}
		dir, err := s.loadDirectory(ctx)
		if err != nil {
			return nil, err
		}

		bySeller := make(map[string]*domain.SellerSales)
		for _, sale := range sales {
			row, ok := bySeller[sale.UserID]
			if !ok {
				row = &domain.SellerSales{ID: sale.UserID, Name: dir.users[sale.UserID].Name}
				bySeller[sale.UserID] = row
			}
			row.Total += sale.Total
		}
		sellers := make([]domain.SellerSales, 0, len(bySeller))
		var grand money.Cents
		for _, row := range bySeller {
			sellers = append(sellers, *row)
			grand += row.Total
		}
		sort.Slice(sellers, func(i, j int) bool {
			if sellers[i].Total != sellers[j].Total {
				return sellers[i].Total > sellers[j].Total
			}
			return sellers[i].ID < sellers[j].ID
		})

		if len(sellers) > maxSellerSlots {
			others := domain.SellerSales{ID: "others", Name: "Outros"}
			for _, row := range sellers[maxSellerSlots-1:] {
				others.Total += row.Total
			}
			return append(sellers[:maxSellerSlots-1:maxSellerSlots-1], others), nil
		}
		for i := range sellers {
			pct := decimal.Zero
			if grand > 0 {
				pct = sellers[i].Total.Decimal().Div(grand.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
			}
			sellers[i].Percent = &pct
		}
		return sellers, nil
	})
}

func (s *Service) dashboardKey(name string, today time.Time) string {
	return "dashboard:" + name + ":" + s.loc.String() + ":" + today.Format(reportDateLayout)
}
