package postgres

import (
	"context"
	"database/sql"
	"errors"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/xid"
)

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, address, code, comment, active, created_at, updated_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Code, &c.Comment, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, address, code, comment, active, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.Code, &c.Comment, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	if c.ID == "" {
		c.ID = xid.New("cus")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, code, comment, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, c.ID, c.Name, c.Phone, c.Address, c.Code, c.Comment, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, address = $4, code = $5, comment = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.Name, c.Phone, c.Address, c.Code, c.Comment, c.Active, c.UpdatedAt)
	if err := checkAffected(res, err); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	return checkAffected(res, err)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, name, price_cents, cost_cents, description, active, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, reference, name, price_cents, cost_cents, description, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p           domain.Product
		price, cost int64
	)
	if err := row.Scan(&p.ID, &p.Reference, &p.Name, &price, &cost, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	p.Price = money.Cents(price)
	p.Cost = money.Cents(cost)
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.ID == "" {
		p.ID = xid.New("prd")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, reference, name, price_cents, cost_cents, description, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.Reference, p.Name, int64(p.Price), int64(p.Cost), p.Description, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET reference = $2, name = $3, price_cents = $4, cost_cents = $5, description = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Reference, p.Name, int64(p.Price), int64(p.Cost), p.Description, p.Active, p.UpdatedAt)
	if err := checkAffected(res, err); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	return checkAffected(res, err)
}

const userColumns = `id, email, password_hash, name, active, role, image_url, commission, created_at, updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Active, &u.Role, &u.ImageURL, &u.Commission, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.getUserWhere(ctx, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUserWhere(ctx, `lower(email) = lower($1)`, email)
}

func (s *Store) getUserWhere(ctx context.Context, cond string, arg any) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	if u.ID == "" {
		u.ID = xid.New("usr")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.Active, u.Role, u.ImageURL, u.Commission, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	return &u, nil
}

// UpdateUser leaves the password hash untouched.
func (s *Store) UpdateUser(ctx context.Context, u domain.User) (*domain.User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, name = $3, active = $4, role = $5, image_url = $6, commission = $7, updated_at = $8
		WHERE id = $1
	`, u.ID, u.Email, u.Name, u.Active, u.Role, u.ImageURL, u.Commission, u.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return nil, store.ErrDuplicate
	}
	if err := checkAffected(res, err); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) UpdateUserPassword(ctx context.Context, id string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	return checkAffected(res, err)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return checkAffected(res, err)
}

func (s *Store) CountActiveAdmins(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM users WHERE active = true AND role IN ($1, $2)
	`, domain.RoleAdmin, domain.RoleSuper).Scan(&count)
	return count, err
}

func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
