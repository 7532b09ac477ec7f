package store

import (
	"context"
	"errors"
	"time"

	"salesdesk/backend/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrCanceled  = errors.New("sale is canceled")
)

// SaleFilter narrows ListSales. Zero values mean "no constraint". To is
// inclusive. Results are ordered by date, newest first.
type SaleFilter struct {
	From       *time.Time
	To         *time.Time
	UserIDs    []string
	CustomerID string
	Status     string
	Limit      int
}

// Matches reports whether sale passes the filter. Stores that cannot push a
// constraint down to the backend use it to filter in process.
func (f SaleFilter) Matches(sale domain.Sale) bool {
	if f.From != nil && sale.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && sale.Date.After(*f.To) {
		return false
	}
	if f.CustomerID != "" && sale.CustomerID != f.CustomerID {
		return false
	}
	if len(f.UserIDs) > 0 {
		found := false
		for _, id := range f.UserIDs {
			if id == sale.UserID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	switch f.Status {
	case domain.SaleStatusActive:
		return !sale.IsCanceled()
	case domain.SaleStatusCanceled:
		return sale.IsCanceled()
	}
	return true
}

// SequenceAllocator hands out strictly increasing values per named counter.
// NextSequence must be a single atomic increment-and-read; a missing counter
// counts as zero.
type SequenceAllocator interface {
	EnsureSequence(ctx context.Context, name string) error
	NextSequence(ctx context.Context, name string) (int64, error)
}

// SaleRepository never deletes sales.
type SaleRepository interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	// UpdateSale refuses with ErrCanceled once the stored sale is canceled and
	// never changes its cancellation fields.
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// CancelSale is a conditional write: ErrCanceled when already canceled.
	CancelSale(ctx context.Context, id string, by string, at time.Time) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
}

type CustomerRepository interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
}

type ProductRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

type UserRepository interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
	CountActiveAdmins(ctx context.Context) (int, error)
}

type Repository interface {
	SequenceAllocator
	SaleRepository
	CustomerRepository
	ProductRepository
	UserRepository
}
