// Package boltdb stores every entity as a JSON document in an embedded BoltDB
// file. Bolt allows one writer at a time, so a read-modify-write inside a
// single Update transaction is atomic.
package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"slices"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/xid"
)

var (
	bucketSequences  = []byte("sequences")
	bucketSales      = []byte("sales")
	bucketSaleCodes  = []byte("sale_codes")
	bucketCustomers  = []byte("customers")
	bucketProducts   = []byte("products")
	bucketUsers      = []byte("users")
	bucketUserEmails = []byte("user_emails")
)

type Store struct {
	db *bolt.DB
}

// sequenceDoc mirrors the persisted counter shape {id, seq}.
type sequenceDoc struct {
	ID  string `json:"id"`
	Seq int64  `json:"seq"`
}

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSequences, bucketSales, bucketSaleCodes, bucketCustomers, bucketProducts, bucketUsers, bucketUserEmails} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSequence(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		if b.Get([]byte(name)) != nil {
			return nil
		}
		return putJSON(b, name, sequenceDoc{ID: name, Seq: 0})
	})
}

func (s *Store) NextSequence(_ context.Context, name string) (int64, error) {
	var next int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		doc := sequenceDoc{ID: name}
		if _, err := getJSON(b, name, &doc); err != nil {
			return err
		}
		doc.Seq++
		next = doc.Seq
		return putJSON(b, name, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		sales := tx.Bucket(bucketSales)
		codes := tx.Bucket(bucketSaleCodes)
		key := codeKey(sale.Code)
		if sales.Get([]byte(sale.ID)) != nil || codes.Get(key) != nil {
			return store.ErrDuplicate
		}
		if err := codes.Put(key, []byte(sale.ID)); err != nil {
			return err
		}
		return putJSON(sales, sale.ID, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.View(func(tx *bolt.Tx) error {
		return mustGetJSON(tx.Bucket(bucketSales), id, &sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.CanceledAt = nil
	sale.CanceledBy = ""
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSales)
		var stored domain.Sale
		if err := mustGetJSON(b, sale.ID, &stored); err != nil {
			return err
		}
		if stored.IsCanceled() {
			return store.ErrCanceled
		}
		return putJSON(b, sale.ID, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CancelSale(_ context.Context, id string, by string, at time.Time) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSales)
		if err := mustGetJSON(b, id, &sale); err != nil {
			return err
		}
		if sale.IsCanceled() {
			return store.ErrCanceled
		}
		sale.CanceledAt = &at
		sale.CanceledBy = by
		sale.UpdatedAt = at
		return putJSON(b, id, sale)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSales).ForEach(func(_, v []byte) error {
			var sale domain.Sale
			if err := json.Unmarshal(v, &sale); err != nil {
				return err
			}
			if filter.Matches(sale) {
				sales = append(sales, sale)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return int(b.Code - a.Code)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	customers, err := listAll[domain.Customer](s.db, bucketCustomers)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	return getOne[domain.Customer](s.db, bucketCustomers, id)
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if err := insertOne(s.db, bucketCustomers, customer.ID, customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if err := replaceOne(s.db, bucketCustomers, customer.ID, customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	return deleteOne(s.db, bucketCustomers, id)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	products, err := listAll[domain.Product](s.db, bucketProducts)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(products, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	return getOne[domain.Product](s.db, bucketProducts, id)
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if err := insertOne(s.db, bucketProducts, product.ID, product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := replaceOne(s.db, bucketProducts, product.ID, product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	return deleteOne(s.db, bucketProducts, id)
}

// userDoc keeps the password hash, which domain.User hides from JSON.
type userDoc struct {
	domain.User
	PasswordHash string `json:"passwordHash"`
}

func (d userDoc) toDomain() domain.User {
	u := d.User
	u.PasswordHash = d.PasswordHash
	return u
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	docs, err := listAll[userDoc](s.db, bucketUsers)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toDomain())
	}
	slices.SortFunc(users, func(a, b domain.User) int { return strings.Compare(a.Email, b.Email) })
	return users, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	doc, err := getOne[userDoc](s.db, bucketUsers, id)
	if err != nil {
		return nil, err
	}
	u := doc.toDomain()
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUserEmails).Get(emailKey(email))
		if v == nil {
			return store.ErrNotFound
		}
		id = string(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket(bucketUserEmails)
		users := tx.Bucket(bucketUsers)
		if emails.Get(emailKey(user.Email)) != nil || users.Get([]byte(user.ID)) != nil {
			return store.ErrDuplicate
		}
		if err := emails.Put(emailKey(user.Email), []byte(user.ID)); err != nil {
			return err
		}
		return putJSON(users, user.ID, userDoc{User: user, PasswordHash: user.PasswordHash})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		emails := tx.Bucket(bucketUserEmails)

		var existing userDoc
		if err := mustGetJSON(users, user.ID, &existing); err != nil {
			return err
		}
		if !strings.EqualFold(existing.Email, user.Email) {
			if emails.Get(emailKey(user.Email)) != nil {
				return store.ErrDuplicate
			}
			if err := emails.Delete(emailKey(existing.Email)); err != nil {
				return err
			}
			if err := emails.Put(emailKey(user.Email), []byte(user.ID)); err != nil {
				return err
			}
		}
		user.PasswordHash = existing.PasswordHash
		return putJSON(users, user.ID, userDoc{User: user, PasswordHash: user.PasswordHash})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var doc userDoc
		if err := mustGetJSON(users, id, &doc); err != nil {
			return err
		}
		doc.PasswordHash = passwordHash
		doc.UpdatedAt = time.Now().UTC()
		return putJSON(users, id, doc)
	})
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		var doc userDoc
		if err := mustGetJSON(users, id, &doc); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUserEmails).Delete(emailKey(doc.Email)); err != nil {
			return err
		}
		return users.Delete([]byte(id))
	})
}

func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, u := range users {
		if u.Active && domain.IsAdminRole(u.Role) {
			count++
		}
	}
	return count, nil
}

func listAll[T any](db *bolt.DB, bucket []byte) ([]T, error) {
	out := make([]T, 0, 32)
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, item)
			return nil
		})
	})
	return out, err
}

func getOne[T any](db *bolt.DB, bucket []byte, id string) (*T, error) {
	var item T
	err := db.View(func(tx *bolt.Tx) error {
		return mustGetJSON(tx.Bucket(bucket), id, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func insertOne(db *bolt.DB, bucket []byte, id string, value any) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) != nil {
			return store.ErrDuplicate
		}
		return putJSON(b, id, value)
	})
}

func replaceOne(db *bolt.DB, bucket []byte, id string, value any) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return putJSON(b, id, value)
	})
}

func deleteOne(db *bolt.DB, bucket []byte, id string) error {
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func getJSON(b *bolt.Bucket, key string, dest any) (bool, error) {
	v := b.Get([]byte(key))
	if v == nil {
		return false, nil
	}
	return true, json.Unmarshal(v, dest)
}

func mustGetJSON(b *bolt.Bucket, key string, dest any) error {
	found, err := getJSON(b, key, dest)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	return nil
}

func putJSON(b *bolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func codeKey(code int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(code))
	return key
}

func emailKey(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}
