package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"salesdesk/backend/internal/money"
)

type ReportFilter struct {
	From       *time.Time
	To         *time.Time
	UserIDs    []string
	CustomerID string
	ProductID  string
}

type PartyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SaleDetail is a sale with its customer and seller resolved for display.
type SaleDetail struct {
	Sale
	Customer PartyRef `json:"customerRef"`
	Seller   PartyRef `json:"userRef"`
}

type ProductReportRow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SoldAmount    decimal.Decimal `json:"soldAmount"`
	UnitCost      money.Cents     `json:"unitCost"`
	TotalCost     money.Cents     `json:"totalCost"`
	TotalSales    money.Cents     `json:"totalSales"`
	ResultValue   money.Cents     `json:"resultValue"`
	ResultPercent decimal.Decimal `json:"resultPercent"`
}

type CommissionUser struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Commission decimal.Decimal `json:"commission"`
}

type CommissionRow struct {
	SaleID          string         `json:"saleId"`
	Code            int64          `json:"code"`
	Date            time.Time      `json:"date"`
	Customer        PartyRef       `json:"customer"`
	User            CommissionUser `json:"user"`
	TotalValue      money.Cents    `json:"totalValue"`
	CommissionValue money.Cents    `json:"commissionValue"`
}

type DailySales struct {
	ID          string      `json:"_id"`
	TotalSales  int         `json:"totalSales"`
	TotalAmount money.Cents `json:"totalAmount"`
}

type MonthTotals struct {
	TotalSales         money.Cents `json:"totalSales"`
	SalesQuantity      int         `json:"salesQuantity"`
	SalesAverage       money.Cents `json:"salesAverage"`
	SalesAveragePerDay money.Cents `json:"salesAveragePerDay"`
}

type MonthlySales struct {
	ID    string      `json:"_id"`
	Name  string      `json:"name"`
	Total money.Cents `json:"total"`
}

type SellerSales struct {
	ID      string           `json:"_id"`
	Name    string           `json:"name"`
	Total   money.Cents      `json:"total"`
	Percent *decimal.Decimal `json:"percent,omitempty"`
}
