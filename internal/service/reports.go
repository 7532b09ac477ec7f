package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
)

const reportDateLayout = "2006-01-02"

// ParseReportRange reads YYYY-MM-DD bounds in the report zone. The end date
// covers the whole day. Empty strings leave that side open.
func (s *Service) ParseReportRange(startDate string, endDate string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := strings.TrimSpace(startDate); v != "" {
		day, err := time.ParseInLocation(reportDateLayout, v, s.loc)
		if err != nil {
			return nil, nil, domain.FieldErrors(map[string]string{"startDate": "expected YYYY-MM-DD"})
		}
		from = &day
	}
	if v := strings.TrimSpace(endDate); v != "" {
		day, err := time.ParseInLocation(reportDateLayout, v, s.loc)
		if err != nil {
			return nil, nil, domain.FieldErrors(map[string]string{"endDate": "expected YYYY-MM-DD"})
		}
		end := endOfDay(day)
		to = &end
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, domain.Validation("endDate is before startDate")
	}
	return from, to, nil
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func (s *Service) activeSales(ctx context.Context, f domain.ReportFilter) ([]domain.Sale, error) {
	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		From:       f.From,
		To:         f.To,
		UserIDs:    f.UserIDs,
		CustomerID: f.CustomerID,
		Status:     domain.SaleStatusActive,
	})
	if err != nil {
		return nil, domain.Storage("list sales", err)
	}
	return sales, nil
}

// directory resolves customer and user names for report rows. Missing
// references resolve to an empty name.
type directory struct {
	customers map[string]domain.Customer
	users     map[string]domain.User
}

func (s *Service) loadDirectory(ctx context.Context) (directory, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return directory{}, domain.Storage("list customers", err)
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return directory{}, domain.Storage("list users", err)
	}
	dir := directory{
		customers: make(map[string]domain.Customer, len(customers)),
		users:     make(map[string]domain.User, len(users)),
	}
	for _, c := range customers {
		dir.customers[c.ID] = c
	}
	for _, u := range users {
		dir.users[u.ID] = u
	}
	return dir, nil
}

func (d directory) detail(sale domain.Sale) domain.SaleDetail {
	return domain.SaleDetail{
		Sale:     sale,
		Customer: domain.PartyRef{ID: sale.CustomerID, Name: d.customers[sale.CustomerID].Name},
		Seller:   domain.PartyRef{ID: sale.UserID, Name: d.users[sale.UserID].Name},
	}
}

func (s *Service) SalesReport(ctx context.Context, f domain.ReportFilter) ([]domain.SaleDetail, error) {
	sales, err := s.activeSales(ctx, f)
	if err != nil {
		return nil, err
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

// ProductsReport aggregates sold quantity, cost and revenue per product.
// Cost uses the product's current cost; revenue uses the prorated item
// totals.
func (s *Service) ProductsReport(ctx context.Context, f domain.ReportFilter) ([]domain.ProductReportRow, error) {
	sales, err := s.activeSales(ctx, f)
	if err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, domain.Storage("list products", err)
	}
	catalog := make(map[string]domain.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	rows := make(map[string]*domain.ProductReportRow)
	order := make([]string, 0, 32)
	for _, sale := range sales {
		for _, item := range sale.Items {
			if f.ProductID != "" && item.ProductID != f.ProductID {
				continue
			}
			row, ok := rows[item.ProductID]
			if !ok {
				product := catalog[item.ProductID]
				row = &domain.ProductReportRow{
					ID:         item.ProductID,
					Name:       product.Name,
					SoldAmount: decimal.Zero,
					UnitCost:   product.Cost,
				}
				rows[item.ProductID] = row
				order = append(order, item.ProductID)
			}
			row.SoldAmount = row.SoldAmount.Add(item.Quantity)
			row.TotalCost += money.LineAmount(item.Quantity, row.UnitCost)
			row.TotalSales += item.TotalPrice
		}
	}

	out := make([]domain.ProductReportRow, 0, len(order))
	for _, id := range order {
		row := rows[id]
		row.ResultValue = row.TotalSales - row.TotalCost
		row.ResultPercent = resultPercent(row.ResultValue, row.TotalCost)
		out = append(out, *row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func resultPercent(result money.Cents, cost money.Cents) decimal.Decimal {
	if cost == 0 {
		return decimal.Zero
	}
	return result.Decimal().Div(cost.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
}

func (s *Service) CommissionsReport(ctx context.Context, f domain.ReportFilter) ([]domain.CommissionRow, error) {
	sales, err := s.activeSales(ctx, f)
	if err != nil {
		return nil, err
	}
	dir, err := s.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.CommissionRow, 0, len(sales))
	for _, sale := range sales {
		seller := dir.users[sale.UserID]
		out = append(out, domain.CommissionRow{
			SaleID:   sale.ID,
			Code:     sale.Code,
			Date:     sale.Date,
			Customer: domain.PartyRef{ID: sale.CustomerID, Name: dir.customers[sale.CustomerID].Name},
			User: domain.CommissionUser{
				ID:         sale.UserID,
				Name:       seller.Name,
				Commission: seller.Commission,
			},
			TotalValue:      sale.Total,
			CommissionValue: sale.Total.Percent(seller.Commission),
		})
	}
	return out, nil
}
