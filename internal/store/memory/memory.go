package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/xid"
)

const (
	SeedAdminID    = "usr_admin"
	SeedSellerID   = "usr_seller"
	SeedCustomerID = "cus_walkin"
	SeedCoffeeID   = "prd_coffee"
	SeedCakeID     = "prd_cake"
	SeedJuiceID    = "prd_juice"
)

type Store struct {
	mu        sync.RWMutex
	sequences map[string]int64
	sales     map[string]*domain.Sale
	customers map[string]domain.Customer
	products  map[string]domain.Product
	users     map[string]domain.User
}

func New() *Store {
	return &Store{
		sequences: make(map[string]int64),
		sales:     make(map[string]*domain.Sale),
		customers: make(map[string]domain.Customer),
		products:  make(map[string]domain.Product),
		users:     make(map[string]domain.User),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD; hardcoded defaults are used
// with a warning when unset.
func seedUsers(logger *zap.Logger, now time.Time) []domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	users := make([]domain.User, 0, 2)
	for _, u := range []struct {
		id, email, name, password, role string
		commission                      decimal.Decimal
	}{
		{SeedAdminID, "admin@salesdesk.local", "Administrator", adminPwd, domain.RoleAdmin, decimal.Zero},
		{SeedSellerID, "seller@salesdesk.local", "Seller", sellerPwd, domain.RoleUser, decimal.NewFromInt(5)},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("email", u.email), zap.Error(err))
		}
		users = append(users, domain.User{
			ID:           u.id,
			Email:        u.email,
			PasswordHash: string(hash),
			Name:         u.name,
			Active:       true,
			Role:         u.role,
			Commission:   u.commission,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, one walk-in customer and a small
// product catalog.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	for _, u := range seedUsers(logger.Named("memory-store"), now) {
		s.users[u.ID] = u
	}
	s.customers[SeedCustomerID] = domain.Customer{ID: SeedCustomerID, Name: "Walk-in Customer", Code: "0001", Active: true, CreatedAt: now, UpdatedAt: now}
	for _, p := range []domain.Product{
		{ID: SeedCoffeeID, Reference: "CAF-001", Name: "Coffee 500g", Price: 2490, Cost: 1500, Active: true},
		{ID: SeedCakeID, Reference: "BOL-001", Name: "Chocolate Cake", Price: 4500, Cost: 2000, Active: true},
		{ID: SeedJuiceID, Reference: "SUC-001", Name: "Orange Juice 1L", Price: 899, Cost: 520, Active: true},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		s.products[p.ID] = p
	}
	s.sequences[domain.SaleCodeSequence] = 0
	return s
}

func (s *Store) EnsureSequence(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sequences[name]; !ok {
		s.sequences[name] = 0
	}
	return nil
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[name]++
	return s.sequences[name], nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrDuplicate
	}
	for _, existing := range s.sales {
		if existing.Code == sale.Code {
			return nil, store.ErrDuplicate
		}
	}
	s.sales[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sales[sale.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.IsCanceled() {
		return nil, store.ErrCanceled
	}
	sale.CanceledAt = nil
	sale.CanceledBy = ""
	s.sales[sale.ID] = cloneSale(&sale)
	return cloneSale(&sale), nil
}

func (s *Store) CancelSale(_ context.Context, id string, by string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.IsCanceled() {
		return nil, store.ErrCanceled
	}
	canceled := cloneSale(sale)
	canceled.CanceledAt = &at
	canceled.CanceledBy = by
	canceled.UpdatedAt = at
	s.sales[id] = canceled
	return cloneSale(canceled), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.Matches(*sale) {
			result = append(result, *cloneSale(sale))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, compareSaleNewestFirst)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	s.mu.RUnlock()
	slices.SortFunc(result, func(a, b domain.Customer) int { return cmpString(a.Name, b.Name) })
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customer.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	s.mu.RUnlock()
	slices.SortFunc(result, func(a, b domain.Product) int { return cmpString(a.Name, b.Name) })
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	result := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	s.mu.RUnlock()
	slices.SortFunc(result, func(a, b domain.User) int { return cmpString(a.Email, b.Email) })
	return result, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emailTakenLocked(user.Email, "") {
		return nil, store.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.emailTakenLocked(user.Email, user.ID) {
		return nil, store.ErrDuplicate
	}
	user.PasswordHash = existing.PasswordHash
	s.users[user.ID] = user
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) CountActiveAdmins(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.users {
		if u.Active && domain.IsAdminRole(u.Role) {
			count++
		}
	}
	return count, nil
}

func (s *Store) emailTakenLocked(email string, exceptID string) bool {
	for _, u := range s.users {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func compareSaleNewestFirst(a, b domain.Sale) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	switch {
	case a.Code > b.Code:
		return -1
	case a.Code < b.Code:
		return 1
	}
	return 0
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	out := *src
	out.Items = append([]domain.SaleItem(nil), src.Items...)
	if src.CanceledAt != nil {
		at := *src.CanceledAt
		out.CanceledAt = &at
	}
	return &out
}
