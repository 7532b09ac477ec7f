package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/proration"
	"salesdesk/backend/internal/store"
)

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, domain.Validation("sale id is required")
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, lookupErr(err, "get sale", "sale", id)
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, q domain.SaleQuery) ([]domain.Sale, error) {
	filter, err := saleFilter(q)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, domain.Storage("list sales", err)
	}
	return sales, nil
}

func saleFilter(q domain.SaleQuery) (store.SaleFilter, error) {
	filter := store.SaleFilter{
		From:       q.From,
		To:         q.To,
		CustomerID: strings.TrimSpace(q.CustomerID),
		Limit:      q.Limit,
	}
	if uid := strings.TrimSpace(q.UserID); uid != "" {
		filter.UserIDs = []string{uid}
	}
	switch q.Status {
	case "", "all":
	case domain.SaleStatusActive, domain.SaleStatusCanceled:
		filter.Status = q.Status
	default:
		return store.SaleFilter{}, domain.Validation("status must be active, canceled or all")
	}
	if q.Limit < 0 {
		return store.SaleFilter{}, domain.Validation("limit must not be negative")
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return store.SaleFilter{}, domain.Validation("end date is before start date")
	}
	return filter, nil
}

// CreateSale validates and prorates the request, then allocates a code and
// persists. Nothing is written, and no code is consumed, when validation
// fails.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.Date == nil {
		return domain.Sale{}, domain.FieldErrors(map[string]string{"date": "required"})
	}

	sale, err := s.buildSale(ctx, req, nil)
	if err != nil {
		return domain.Sale{}, err
	}
	now := s.now()
	sale.Date = req.Date.UTC()
	sale.UserID = actor.UserID
	sale.CreatedAt = now
	sale.UpdatedAt = now

	code, err := s.allocateCode(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Code = code

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, domain.Storage("create sale", err)
	}

	s.logAudit(ctx, "sale_create", "sale", created.ID,
		zap.Int64("code", created.Code),
		zap.Stringer("total", created.Total),
		zap.Int("items", len(created.Items)),
	)
	return *created, nil
}

// UpdateSale re-runs proration over the new payload. Code, owner and creation
// time are carried over from the stored sale.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleRequest) (domain.Sale, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	existing, err := s.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if !actor.IsAdmin() && existing.UserID != actor.UserID {
		return domain.Sale{}, domain.Forbidden("only the seller who recorded the sale or an admin may change it")
	}
	if existing.IsCanceled() {
		return domain.Sale{}, domain.Conflict("sale %d is canceled", existing.Code)
	}

	sale, err := s.buildSale(ctx, req, &existing)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.ID = existing.ID
	sale.Code = existing.Code
	sale.UserID = existing.UserID
	sale.CreatedAt = existing.CreatedAt
	sale.Date = existing.Date
	if req.Date != nil {
		sale.Date = req.Date.UTC()
	}
	sale.UpdatedAt = s.now()

	updated, err := s.repo.UpdateSale(ctx, sale)
	if errors.Is(err, store.ErrCanceled) {
		return domain.Sale{}, domain.Conflict("sale %d is canceled", existing.Code)
	}
	if err != nil {
		return domain.Sale{}, lookupErr(err, "update sale", "sale", id)
	}

	s.logAudit(ctx, "sale_update", "sale", updated.ID,
		zap.Int64("code", updated.Code),
		zap.Stringer("total", updated.Total),
	)
	return *updated, nil
}

// CancelSale marks the sale canceled. The record stays queryable.
func (s *Service) CancelSale(ctx context.Context, id string) (domain.CancelSaleResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.CancelSaleResponse{}, err
	}
	now := s.now()
	sale, err := s.repo.CancelSale(ctx, id, actor.UserID, now)
	if errors.Is(err, store.ErrCanceled) {
		return domain.CancelSaleResponse{}, domain.Conflict("sale %s is already canceled", id)
	}
	if err != nil {
		return domain.CancelSaleResponse{}, lookupErr(err, "cancel sale", "sale", id)
	}

	s.logAudit(ctx, "sale_cancel", "sale", sale.ID, zap.Int64("code", sale.Code))
	return domain.CancelSaleResponse{
		Message:    "sale canceled",
		SaleID:     sale.ID,
		Code:       sale.Code,
		CanceledAt: now,
		CanceledBy: actor.UserID,
	}, nil
}

// buildSale turns a request into an unsaved sale with prorated items. On
// update, prior holds the stored sale; references it already carries are not
// looked up again.
func (s *Service) buildSale(ctx context.Context, req domain.SaleRequest, prior *domain.Sale) (domain.Sale, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)

	details := make(map[string]string)
	if req.CustomerID == "" {
		details["customer"] = "required"
	}
	if len(req.Items) == 0 {
		details["items"] = "at least one item is required"
	}
	if req.Discount < 0 {
		details["discount"] = "must not be negative"
	}
	if req.Addition < 0 {
		details["addition"] = "must not be negative"
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			details[fmt.Sprintf("items[%d].product", i)] = "required"
		}
		if !item.Quantity.IsPositive() {
			details[fmt.Sprintf("items[%d].quantity", i)] = "must be greater than zero"
		}
		if item.UnitPrice < 0 {
			details[fmt.Sprintf("items[%d].unitPrice", i)] = "must not be negative"
		}
	}
	if len(details) > 0 {
		return domain.Sale{}, domain.FieldErrors(details)
	}

	if err := s.checkReferences(ctx, req, prior); err != nil {
		return domain.Sale{}, err
	}

	bases := make([]money.Cents, len(req.Items))
	for i, item := range req.Items {
		bases[i] = money.LineAmount(item.Quantity, item.UnitPrice)
	}
	subtotal := money.Sum(bases...)
	if req.Subtotal != nil && *req.Subtotal != subtotal {
		return domain.Sale{}, domain.Validation("subtotal %s does not match items %s", *req.Subtotal, subtotal)
	}

	lines, err := proration.Apply(bases, req.Discount, req.Addition, subtotal)
	if err != nil {
		return domain.Sale{}, err
	}
	discount, addition, total := proration.Totals(lines)
	if total != subtotal-req.Discount+req.Addition || discount != req.Discount || addition != req.Addition {
		return domain.Sale{}, fmt.Errorf("proration did not reconcile: total=%s discount=%s addition=%s", total, discount, addition)
	}
	if req.Total != nil && *req.Total != total {
		return domain.Sale{}, domain.Validation("total %s does not match computed total %s", *req.Total, total)
	}

	items := make([]domain.SaleItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.SaleItem{
			ProductID:  strings.TrimSpace(item.ProductID),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Discount:   lines[i].Discount,
			Addition:   lines[i].Addition,
			TotalPrice: lines[i].Total,
		}
	}

	return domain.Sale{
		CustomerID: req.CustomerID,
		Subtotal:   subtotal,
		Discount:   req.Discount,
		Addition:   req.Addition,
		Total:      total,
		Items:      items,
		Comments:   strings.TrimSpace(req.Comments),
	}, nil
}

// checkReferences verifies that the customer and products exist. Catalog
// deletes are physical, so ids already stored on prior are trusted.
func (s *Service) checkReferences(ctx context.Context, req domain.SaleRequest, prior *domain.Sale) error {
	seen := make(map[string]bool, len(req.Items))
	customerKnown := false
	if prior != nil {
		customerKnown = prior.CustomerID == req.CustomerID
		for _, item := range prior.Items {
			seen[item.ProductID] = true
		}
	}
	if !customerKnown {
		if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
			return lookupErr(err, "get customer", "customer", req.CustomerID)
		}
	}
	for _, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.repo.GetProduct(ctx, id); err != nil {
			return lookupErr(err, "get product", "product", id)
		}
	}
	return nil
}

// allocateCode asks the store for the next sale code, retrying a bounded
// number of times with linear backoff.
func (s *Service) allocateCode(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= s.allocAttempts; attempt++ {
		code, err := s.repo.NextSequence(ctx, domain.SaleCodeSequence)
		if err == nil && code > 0 {
			return code, nil
		}
		if err == nil {
			err = fmt.Errorf("store returned non-positive code %d", code)
		}
		lastErr = err
		s.logger.Warn("sale code allocation failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.allocAttempts),
			zap.Error(err),
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || attempt == s.allocAttempts {
			break
		}

		timer := time.NewTimer(time.Duration(attempt) * s.allocBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, domain.Allocation(ctx.Err())
		case <-timer.C:
		}
	}
	return 0, domain.Allocation(lastErr)
}
