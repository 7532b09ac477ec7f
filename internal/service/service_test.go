package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/store/memory"
)

var (
	testNow = time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	testLoc = time.FixedZone("BRT", -3*3600)
)

func newTestService(t *testing.T, repo store.Repository) *Service {
	t.Helper()
	if repo == nil {
		repo = memory.NewSeeded(nil)
	}
	return New(repo, Options{
		Logger:          zaptest.NewLogger(t),
		Location:        testLoc,
		SequenceBackoff: time.Millisecond,
		Now:             func() time.Time { return testNow },
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: memory.SeedAdminID, Role: domain.RoleAdmin})
}

func sellerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: memory.SeedSellerID, Role: domain.RoleUser})
}

func item(productID string, qty int64, unit money.Cents) domain.SaleItemRequest {
	return domain.SaleItemRequest{ProductID: productID, Quantity: decimal.NewFromInt(qty), UnitPrice: unit}
}

func saleRequest(date time.Time, items ...domain.SaleItemRequest) domain.SaleRequest {
	return domain.SaleRequest{CustomerID: memory.SeedCustomerID, Date: &date, Items: items}
}

func threeTenners() []domain.SaleItemRequest {
	return []domain.SaleItemRequest{
		item(memory.SeedCoffeeID, 1, 1000),
		item(memory.SeedCakeID, 1, 1000),
		item(memory.SeedJuiceID, 1, 1000),
	}
}

func TestCreateSaleProratesDiscountWithRemainderOnFirstItem(t *testing.T) {
	svc := newTestService(t, nil)
	req := saleRequest(testNow, threeTenners()...)
	req.Discount = 100

	sale, err := svc.CreateSale(sellerCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), sale.Code)
	assert.Equal(t, money.Cents(3000), sale.Subtotal)
	assert.Equal(t, money.Cents(2900), sale.Total)
	require.Len(t, sale.Items, 3)
	assert.Equal(t, money.Cents(34), sale.Items[0].Discount)
	assert.Equal(t, money.Cents(33), sale.Items[1].Discount)
	assert.Equal(t, money.Cents(33), sale.Items[2].Discount)
	assert.Equal(t, memory.SeedSellerID, sale.UserID)

	var sum money.Cents
	for _, it := range sale.Items {
		sum += it.TotalPrice
	}
	assert.Equal(t, sale.Total, sum)
}

func TestCreateSaleAssignsDistinctCodesConcurrently(t *testing.T) {
	svc := newTestService(t, nil)
	const workers = 25

	codes := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sale, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, item(memory.SeedCoffeeID, 1, 2490)))
			assert.NoError(t, err)
			codes <- sale.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[int64]bool, workers)
	for code := range codes {
		assert.Greater(t, code, int64(0))
		assert.False(t, seen[code], "code %d issued twice", code)
		seen[code] = true
	}
	assert.Len(t, seen, workers)
}

func TestCreateSaleValidation(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := sellerCtx()

	cases := map[string]domain.SaleRequest{
		"no items":          saleRequest(testNow),
		"zero subtotal":     saleRequest(testNow, item(memory.SeedCoffeeID, 1, 0)),
		"negative price":    saleRequest(testNow, item(memory.SeedCoffeeID, 1, -5)),
		"zero quantity":     saleRequest(testNow, item(memory.SeedCoffeeID, 0, 100)),
		"discount too high": func() domain.SaleRequest { r := saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100)); r.Discount = 101; return r }(),
		"total mismatch": func() domain.SaleRequest {
			r := saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100))
			total := money.Cents(99)
			r.Total = &total
			return r
		}(),
		"no date": {CustomerID: memory.SeedCustomerID, Items: []domain.SaleItemRequest{item(memory.SeedCoffeeID, 1, 100)}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, req)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// Rejected requests must not consume codes.
	sale, err := svc.CreateSale(ctx, saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sale.Code)
}

func TestCreateSaleRequiresExistingReferences(t *testing.T) {
	svc := newTestService(t, nil)

	req := saleRequest(testNow, item("prd_missing", 1, 100))
	_, err := svc.CreateSale(sellerCtx(), req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req = saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100))
	req.CustomerID = "cus_missing"
	_, err = svc.CreateSale(sellerCtx(), req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateSaleRequiresActor(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.CreateSale(context.Background(), saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100)))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

type flakySequenceStore struct {
	*memory.Store
	failures atomic.Int32
}

func (f *flakySequenceStore) NextSequence(ctx context.Context, name string) (int64, error) {
	if f.failures.Add(-1) >= 0 {
		return 0, errors.New("counter unavailable")
	}
	return f.Store.NextSequence(ctx, name)
}

func TestCreateSaleRetriesAllocation(t *testing.T) {
	repo := &flakySequenceStore{Store: memory.NewSeeded(nil)}
	repo.failures.Store(2)
	svc := newTestService(t, repo)

	sale, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sale.Code)
}

func TestCreateSaleFailsWithoutPersistingWhenAllocationExhausted(t *testing.T) {
	repo := &flakySequenceStore{Store: memory.NewSeeded(nil)}
	repo.failures.Store(10)
	svc := newTestService(t, repo)

	_, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, item(memory.SeedCoffeeID, 1, 100)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllocation)
	assert.True(t, domain.IsRetryable(err))

	sales, err := repo.ListSales(context.Background(), store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestUpdateSaleKeepsCodeOwnerAndCreation(t *testing.T) {
	svc := newTestService(t, nil)
	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	newDate := testNow.Add(-48 * time.Hour)
	req := saleRequest(newDate, item(memory.SeedCakeID, 2, 1500), item(memory.SeedJuiceID, 1, 1000))
	req.Addition = 100
	updated, err := svc.UpdateSale(adminCtx(), created.ID, req)
	require.NoError(t, err)

	assert.Equal(t, created.Code, updated.Code)
	assert.Equal(t, created.UserID, updated.UserID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, newDate.Equal(updated.Date))
	assert.Equal(t, money.Cents(4000), updated.Subtotal)
	assert.Equal(t, money.Cents(4100), updated.Total)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, money.Cents(75), updated.Items[0].Addition)
	assert.Equal(t, money.Cents(25), updated.Items[1].Addition)

	got, err := svc.GetSale(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Total, got.Total)
}

func TestUpdateSaleAuthorization(t *testing.T) {
	repo := memory.NewSeeded(nil)
	_, err := repo.CreateUser(context.Background(), domain.User{ID: "usr_other", Email: "other@salesdesk.local", Role: domain.RoleUser, Active: true})
	require.NoError(t, err)
	svc := newTestService(t, repo)

	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	other := WithActor(context.Background(), domain.Actor{UserID: "usr_other", Role: domain.RoleUser})
	_, err = svc.UpdateSale(other, created.ID, saleRequest(testNow, threeTenners()...))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.UpdateSale(sellerCtx(), created.ID, saleRequest(testNow, threeTenners()...))
	assert.NoError(t, err)

	_, err = svc.UpdateSale(sellerCtx(), "sale_missing", saleRequest(testNow, threeTenners()...))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelSaleIsNonDestructive(t *testing.T) {
	svc := newTestService(t, nil)
	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	_, err = svc.CancelSale(sellerCtx(), created.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden, "owners without admin role cannot cancel")

	resp, err := svc.CancelSale(adminCtx(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Code, resp.Code)
	assert.Equal(t, memory.SeedAdminID, resp.CanceledBy)

	got, err := svc.GetSale(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CanceledAt)
	assert.Equal(t, memory.SeedAdminID, got.CanceledBy)
	assert.Equal(t, created.Code, got.Code)

	active, err := svc.ListSales(context.Background(), domain.SaleQuery{Status: domain.SaleStatusActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListSales(context.Background(), domain.SaleQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.CancelSale(adminCtx(), created.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.UpdateSale(adminCtx(), created.ID, saleRequest(testNow, threeTenners()...))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// interleavingStore runs beforeUpdate once, between the service's read of a
// sale and its write.
type interleavingStore struct {
	*memory.Store
	beforeUpdate func()
}

func (s *interleavingStore) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if hook := s.beforeUpdate; hook != nil {
		s.beforeUpdate = nil
		hook()
	}
	return s.Store.UpdateSale(ctx, sale)
}

func TestCancelLandingMidUpdateStaysCanceled(t *testing.T) {
	repo := &interleavingStore{Store: memory.NewSeeded(nil)}
	svc := newTestService(t, repo)

	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	repo.beforeUpdate = func() {
		_, err := svc.CancelSale(adminCtx(), created.ID)
		require.NoError(t, err)
	}

	req := saleRequest(testNow, threeTenners()...)
	req.Comments = "late edit"
	_, err = svc.UpdateSale(sellerCtx(), created.ID, req)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := svc.GetSale(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCanceled())
	assert.Equal(t, memory.SeedAdminID, got.CanceledBy)
	assert.Empty(t, got.Comments)
}

func TestConcurrentCancelsHaveOneWinner(t *testing.T) {
	repo := memory.NewSeeded(nil)
	_, err := repo.CreateUser(context.Background(), domain.User{ID: "usr_admin2", Email: "admin2@salesdesk.local", Role: domain.RoleAdmin, Active: true})
	require.NoError(t, err)
	svc := newTestService(t, repo)

	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	admins := []string{memory.SeedAdminID, "usr_admin2"}
	var (
		wg        sync.WaitGroup
		winners   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(adminID string) {
			defer wg.Done()
			ctx := WithActor(context.Background(), domain.Actor{UserID: adminID, Role: domain.RoleAdmin})
			_, err := svc.CancelSale(ctx, created.ID)
			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			}
		}(admins[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestUpdateSaleToleratesDeletedCatalogEntries(t *testing.T) {
	svc := newTestService(t, nil)
	created, err := svc.CreateSale(sellerCtx(), saleRequest(testNow, threeTenners()...))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteProduct(adminCtx(), memory.SeedCakeID))

	req := saleRequest(testNow, threeTenners()...)
	req.Discount = 30
	updated, err := svc.UpdateSale(sellerCtx(), created.ID, req)
	require.NoError(t, err)
	assert.Equal(t, money.Cents(2970), updated.Total)

	req.Items = append(req.Items, item("prd_gone", 1, 500))
	_, err = svc.UpdateSale(sellerCtx(), created.ID, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	req = saleRequest(testNow, threeTenners()...)
	req.CustomerID = "cus_missing"
	_, err = svc.UpdateSale(sellerCtx(), created.ID, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListSalesRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.ListSales(context.Background(), domain.SaleQuery{Status: "pending"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProductWritesRequireAdmin(t *testing.T) {
	svc := newTestService(t, nil)
	req := domain.ProductRequest{Name: "Tea", Price: 1200, Cost: 400}

	_, err := svc.CreateProduct(sellerCtx(), req)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	created, err := svc.CreateProduct(adminCtx(), req)
	require.NoError(t, err)
	assert.True(t, created.Active)

	inactive := false
	req.Active = &inactive
	req.Price = 1300
	updated, err := svc.UpdateProduct(adminCtx(), created.ID, req)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, money.Cents(1300), updated.Price)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductRequest{Price: -1})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, domain.Details(err), "name")
	assert.Contains(t, domain.Details(err), "price")

	require.NoError(t, svc.DeleteProduct(adminCtx(), created.ID))
	_, err = svc.GetProduct(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCustomerLifecycle(t *testing.T) {
	svc := newTestService(t, nil)

	created, err := svc.CreateCustomer(sellerCtx(), domain.CustomerRequest{Name: "  Maria  ", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "Maria", created.Name)

	updated, err := svc.UpdateCustomer(sellerCtx(), created.ID, domain.CustomerRequest{Name: "Maria Silva"})
	require.NoError(t, err)
	assert.Equal(t, "Maria Silva", updated.Name)
	assert.True(t, updated.Active)

	assert.ErrorIs(t, svc.DeleteCustomer(sellerCtx(), created.ID), domain.ErrForbidden)
	require.NoError(t, svc.DeleteCustomer(adminCtx(), created.ID))
	assert.ErrorIs(t, svc.DeleteCustomer(adminCtx(), created.ID), domain.ErrNotFound)
}
