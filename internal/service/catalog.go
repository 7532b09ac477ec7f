package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"salesdesk/backend/internal/domain"
)

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, domain.Storage("list customers", err)
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, lookupErr(err, "get customer", "customer", id)
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	req = normalizeCustomer(req)
	if req.Name == "" {
		return domain.Customer{}, domain.FieldErrors(map[string]string{"name": "required"})
	}

	now := s.now()
	customer := domain.Customer{
		Name:      req.Name,
		Phone:     req.Phone,
		Address:   req.Address,
		Code:      req.Code,
		Comment:   req.Comment,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.repo.CreateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, lookupErr(err, "create customer", "customer", "")
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, zap.String("name", created.Name))
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Customer{}, err
	}
	existing, err := s.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	req = normalizeCustomer(req)
	if req.Name == "" {
		return domain.Customer{}, domain.FieldErrors(map[string]string{"name": "required"})
	}

	updated := existing
	updated.Name = req.Name
	updated.Phone = req.Phone
	updated.Address = req.Address
	updated.Code = req.Code
	updated.Comment = req.Comment
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, lookupErr(err, "update customer", "customer", id)
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, zap.Bool("active", saved.Active))
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return lookupErr(err, "delete customer", "customer", id)
	}
	s.logAudit(ctx, "customer_delete", "customer", id)
	return nil
}

func normalizeCustomer(req domain.CustomerRequest) domain.CustomerRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	req.Code = strings.TrimSpace(req.Code)
	req.Comment = strings.TrimSpace(req.Comment)
	return req
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, domain.Storage("list products", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, lookupErr(err, "get product", "product", id)
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	req, err := normalizeProduct(req)
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := domain.Product{
		Reference:   req.Reference,
		Name:        req.Name,
		Price:       req.Price,
		Cost:        req.Cost,
		Description: req.Description,
		Active:      req.Active == nil || *req.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, lookupErr(err, "create product", "product", "")
	}
	s.logAudit(ctx, "product_create", "product", created.ID,
		zap.String("name", created.Name),
		zap.Stringer("price", created.Price),
	)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	req, err = normalizeProduct(req)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	updated.Reference = req.Reference
	updated.Name = req.Name
	updated.Price = req.Price
	updated.Cost = req.Cost
	updated.Description = req.Description
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, lookupErr(err, "update product", "product", id)
	}
	s.logAudit(ctx, "product_update", "product", saved.ID,
		zap.Stringer("old_price", existing.Price),
		zap.Stringer("price", saved.Price),
		zap.Bool("active", saved.Active),
	)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return lookupErr(err, "delete product", "product", id)
	}
	s.logAudit(ctx, "product_delete", "product", id)
	return nil
}

func normalizeProduct(req domain.ProductRequest) (domain.ProductRequest, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)

	details := make(map[string]string)
	if req.Name == "" {
		details["name"] = "required"
	}
	if req.Price < 0 {
		details["price"] = "must not be negative"
	}
	if req.Cost < 0 {
		details["cost"] = "must not be negative"
	}
	if len(details) > 0 {
		return req, domain.FieldErrors(details)
	}
	return req, nil
}
