package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
)

const (
	colSequences = "sequences"
	colSales     = "sales"
	colCustomers = "customers"
	colProducts  = "products"
	colUsers     = "users"
)

type Store struct {
	client *firestore.Client
}

// New connects to projectID. credentialsFile may be empty to use application
// default credentials or FIRESTORE_EMULATOR_HOST.
func New(ctx context.Context, projectID string, credentialsFile string) (*Store, error) {
	opts := make([]option.ClientOption, 0, 1)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) col(name string) *firestore.CollectionRef {
	return s.client.Collection(name)
}

type sequenceDoc struct {
	ID  string `firestore:"id"`
	Seq int64  `firestore:"seq"`
}

func (s *Store) EnsureSequence(ctx context.Context, name string) error {
	_, err := s.col(colSequences).Doc(name).Create(ctx, sequenceDoc{ID: name, Seq: 0})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// NextSequence runs the increment in a transaction; the client retries it on
// contention, so concurrent callers never observe the same value.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	ref := s.col(colSequences).Doc(name)
	var next int64
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc := sequenceDoc{ID: name}
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}
		doc.Seq++
		next = doc.Seq
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

type saleItemDoc struct {
	ProductID  string `firestore:"productId"`
	Quantity   string `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPriceCents"`
	Discount   int64  `firestore:"discountCents"`
	Addition   int64  `firestore:"additionCents"`
	TotalPrice int64  `firestore:"totalPriceCents"`
}

type saleDoc struct {
	Code       int64         `firestore:"code"`
	Date       time.Time     `firestore:"date"`
	CustomerID string        `firestore:"customerId"`
	UserID     string        `firestore:"userId"`
	Subtotal   int64         `firestore:"subtotalCents"`
	Discount   int64         `firestore:"discountCents"`
	Addition   int64         `firestore:"additionCents"`
	Total      int64         `firestore:"totalCents"`
	Items      []saleItemDoc `firestore:"items"`
	Comments   string        `firestore:"comments"`
	CreatedAt  time.Time     `firestore:"createdAt"`
	UpdatedAt  time.Time     `firestore:"updatedAt"`
	CanceledAt *time.Time    `firestore:"canceledAt"`
	CanceledBy string        `firestore:"canceledBy"`
}

func saleToDoc(sale domain.Sale) saleDoc {
	items := make([]saleItemDoc, 0, len(sale.Items))
	for _, it := range sale.Items {
		items = append(items, saleItemDoc{
			ProductID:  it.ProductID,
			Quantity:   it.Quantity.String(),
			UnitPrice:  int64(it.UnitPrice),
			Discount:   int64(it.Discount),
			Addition:   int64(it.Addition),
			TotalPrice: int64(it.TotalPrice),
		})
	}
	return saleDoc{
		Code:       sale.Code,
		Date:       sale.Date,
		CustomerID: sale.CustomerID,
		UserID:     sale.UserID,
		Subtotal:   int64(sale.Subtotal),
		Discount:   int64(sale.Discount),
		Addition:   int64(sale.Addition),
		Total:      int64(sale.Total),
		Items:      items,
		Comments:   sale.Comments,
		CreatedAt:  sale.CreatedAt,
		UpdatedAt:  sale.UpdatedAt,
		CanceledAt: sale.CanceledAt,
		CanceledBy: sale.CanceledBy,
	}
}

// docToSale tolerates older documents that lack code, comments or
// cancellation fields.
func docToSale(snap *firestore.DocumentSnapshot) (domain.Sale, error) {
	var raw saleDoc
	if err := snap.DataTo(&raw); err != nil {
		return domain.Sale{}, err
	}
	items := make([]domain.SaleItem, 0, len(raw.Items))
	for _, it := range raw.Items {
		qty, err := decimal.NewFromString(defaultString(it.Quantity, "0"))
		if err != nil {
			return domain.Sale{}, err
		}
		items = append(items, domain.SaleItem{
			ProductID:  it.ProductID,
			Quantity:   qty,
			UnitPrice:  money.Cents(it.UnitPrice),
			Discount:   money.Cents(it.Discount),
			Addition:   money.Cents(it.Addition),
			TotalPrice: money.Cents(it.TotalPrice),
		})
	}
	sale := domain.Sale{
		ID:         snap.Ref.ID,
		Code:       raw.Code,
		Date:       raw.Date.UTC(),
		CustomerID: raw.CustomerID,
		UserID:     raw.UserID,
		Subtotal:   money.Cents(raw.Subtotal),
		Discount:   money.Cents(raw.Discount),
		Addition:   money.Cents(raw.Addition),
		Total:      money.Cents(raw.Total),
		Items:      items,
		Comments:   raw.Comments,
		CreatedAt:  raw.CreatedAt.UTC(),
		UpdatedAt:  raw.UpdatedAt.UTC(),
		CanceledBy: raw.CanceledBy,
	}
	if raw.CanceledAt != nil {
		at := raw.CanceledAt.UTC()
		sale.CanceledAt = &at
	}
	return sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	var ref *firestore.DocumentRef
	if sale.ID != "" {
		ref = s.col(colSales).Doc(sale.ID)
	} else {
		ref = s.col(colSales).NewDoc()
		sale.ID = ref.ID
	}
	if _, err := ref.Create(ctx, saleToDoc(sale)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	snap, err := s.col(colSales).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sale, err := docToSale(snap)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.CanceledAt = nil
	sale.CanceledBy = ""
	ref := s.col(colSales).Doc(sale.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := activeSaleInTx(tx, ref); err != nil {
			return err
		}
		return tx.Set(ref, saleToDoc(sale))
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CancelSale(ctx context.Context, id string, by string, at time.Time) (*domain.Sale, error) {
	ref := s.col(colSales).Doc(id)
	var sale domain.Sale
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := activeSaleInTx(tx, ref)
		if err != nil {
			return err
		}
		current.CanceledAt = &at
		current.CanceledBy = by
		current.UpdatedAt = at
		sale = current
		return tx.Set(ref, saleToDoc(current))
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// activeSaleInTx reads the sale inside tx so the transaction retries when a
// concurrent writer changes it.
func activeSaleInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (domain.Sale, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return domain.Sale{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := docToSale(snap)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.IsCanceled() {
		return domain.Sale{}, store.ErrCanceled
	}
	return sale, nil
}

// ListSales pushes the date range and ordering to Firestore and applies the
// remaining constraints in process, which avoids composite indexes.
func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	q := s.col(colSales).Query
	if filter.From != nil {
		q = q.Where("date", ">=", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("date", "<=", *filter.To)
	}
	q = q.OrderBy("date", firestore.Desc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	sales := make([]domain.Sale, 0, 64)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		sale, err := docToSale(snap)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(sale) {
			continue
		}
		sales = append(sales, sale)
		if filter.Limit > 0 && len(sales) >= filter.Limit {
			break
		}
	}
	return sales, nil
}

type customerDoc struct {
	Name      string    `firestore:"name"`
	Phone     string    `firestore:"phone"`
	Address   string    `firestore:"address"`
	Code      string    `firestore:"code"`
	Comment   string    `firestore:"comment"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func docToCustomer(snap *firestore.DocumentSnapshot) (domain.Customer, error) {
	var raw customerDoc
	if err := snap.DataTo(&raw); err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		ID: snap.Ref.ID, Name: raw.Name, Phone: raw.Phone, Address: raw.Address, Code: raw.Code,
		Comment: raw.Comment, Active: raw.Active, CreatedAt: raw.CreatedAt.UTC(), UpdatedAt: raw.UpdatedAt.UTC(),
	}, nil
}

func customerToDoc(c domain.Customer) customerDoc {
	return customerDoc{
		Name: c.Name, Phone: c.Phone, Address: c.Address, Code: c.Code, Comment: c.Comment,
		Active: c.Active, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return listDocs(ctx, s.col(colCustomers).OrderBy("name", firestore.Asc), docToCustomer)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getDoc(ctx, s.col(colCustomers).Doc(id), docToCustomer)
}

func (s *Store) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	ref := s.col(colCustomers).NewDoc()
	if c.ID != "" {
		ref = s.col(colCustomers).Doc(c.ID)
	}
	c.ID = ref.ID
	if err := createDoc(ctx, ref, customerToDoc(c)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	if err := s.replaceDoc(ctx, s.col(colCustomers).Doc(c.ID), customerToDoc(c)); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, s.col(colCustomers).Doc(id))
}

type productDoc struct {
	Reference   string    `firestore:"reference"`
	Name        string    `firestore:"name"`
	Price       int64     `firestore:"priceCents"`
	Cost        int64     `firestore:"costCents"`
	Description string    `firestore:"description"`
	Active      bool      `firestore:"active"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func docToProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var raw productDoc
	if err := snap.DataTo(&raw); err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID: snap.Ref.ID, Reference: raw.Reference, Name: raw.Name, Price: money.Cents(raw.Price),
		Cost: money.Cents(raw.Cost), Description: raw.Description, Active: raw.Active,
		CreatedAt: raw.CreatedAt.UTC(), UpdatedAt: raw.UpdatedAt.UTC(),
	}, nil
}

func productToDoc(p domain.Product) productDoc {
	return productDoc{
		Reference: p.Reference, Name: p.Name, Price: int64(p.Price), Cost: int64(p.Cost),
		Description: p.Description, Active: p.Active, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return listDocs(ctx, s.col(colProducts).OrderBy("name", firestore.Asc), docToProduct)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getDoc(ctx, s.col(colProducts).Doc(id), docToProduct)
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	ref := s.col(colProducts).NewDoc()
	if p.ID != "" {
		ref = s.col(colProducts).Doc(p.ID)
	}
	p.ID = ref.ID
	if err := createDoc(ctx, ref, productToDoc(p)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if err := s.replaceDoc(ctx, s.col(colProducts).Doc(p.ID), productToDoc(p)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, s.col(colProducts).Doc(id))
}

type userDoc struct {
	Email        string    `firestore:"email"`
	EmailLower   string    `firestore:"emailLower"`
	PasswordHash string    `firestore:"passwordHash"`
	Name         string    `firestore:"name"`
	Active       bool      `firestore:"active"`
	Role         string    `firestore:"role"`
	ImageURL     string    `firestore:"imageUrl"`
	Commission   string    `firestore:"commission"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func docToUser(snap *firestore.DocumentSnapshot) (domain.User, error) {
	var raw userDoc
	if err := snap.DataTo(&raw); err != nil {
		return domain.User{}, err
	}
	commission, err := decimal.NewFromString(defaultString(raw.Commission, "0"))
	if err != nil {
		return domain.User{}, err
	}
	return domain.User{
		ID: snap.Ref.ID, Email: raw.Email, PasswordHash: raw.PasswordHash, Name: raw.Name, Active: raw.Active,
		Role: raw.Role, ImageURL: raw.ImageURL, Commission: commission,
		CreatedAt: raw.CreatedAt.UTC(), UpdatedAt: raw.UpdatedAt.UTC(),
	}, nil
}

func userToDoc(u domain.User) userDoc {
	return userDoc{
		Email: u.Email, EmailLower: strings.ToLower(strings.TrimSpace(u.Email)), PasswordHash: u.PasswordHash,
		Name: u.Name, Active: u.Active, Role: u.Role, ImageURL: u.ImageURL, Commission: u.Commission.String(),
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	return listDocs(ctx, s.col(colUsers).OrderBy("emailLower", firestore.Asc), docToUser)
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return getDoc(ctx, s.col(colUsers).Doc(id), docToUser)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	users, err := listDocs(ctx, s.emailQuery(email), docToUser)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

func (s *Store) emailQuery(email string) firestore.Query {
	return s.col(colUsers).Where("emailLower", "==", strings.ToLower(strings.TrimSpace(email))).Limit(1)
}

// CreateUser checks email uniqueness and writes in one transaction.
func (s *Store) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ref := s.col(colUsers).NewDoc()
	if u.ID != "" {
		ref = s.col(colUsers).Doc(u.ID)
	}
	u.ID = ref.ID
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		taken, err := tx.Documents(s.emailQuery(u.Email)).GetAll()
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return store.ErrDuplicate
		}
		return tx.Create(ref, userToDoc(u))
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	ref := s.col(colUsers).Doc(u.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		existing, err := docToUser(snap)
		if err != nil {
			return err
		}
		taken, err := tx.Documents(s.emailQuery(u.Email)).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range taken {
			if doc.Ref.ID != u.ID {
				return store.ErrDuplicate
			}
		}
		u.PasswordHash = existing.PasswordHash
		return tx.Set(ref, userToDoc(u))
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	_, err := s.col(colUsers).Doc(id).Update(ctx, []firestore.Update{
		{Path: "passwordHash", Value: passwordHash},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, s.col(colUsers).Doc(id))
}

func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	q := s.col(colUsers).Where("active", "==", true).Where("role", "in", []string{domain.RoleAdmin, domain.RoleSuper})
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	return len(snaps), nil
}

func listDocs[T any](ctx context.Context, q firestore.Query, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	out := make([]T, 0, 32)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		v, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func getDoc[T any](ctx context.Context, ref *firestore.DocumentRef, decode func(*firestore.DocumentSnapshot) (T, error)) (*T, error) {
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v, err := decode(snap)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func createDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	_, err := ref.Create(ctx, data)
	if status.Code(err) == codes.AlreadyExists {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) replaceDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return store.ErrNotFound
			}
			return err
		}
		return tx.Set(ref, data)
	})
}

func (s *Store) deleteDoc(ctx context.Context, ref *firestore.DocumentRef) error {
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return store.ErrNotFound
		}
		return err
	}
	_, err := ref.Delete(ctx)
	return err
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
