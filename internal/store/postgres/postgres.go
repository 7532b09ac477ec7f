package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salesdesk/backend/internal/domain"
	"salesdesk/backend/internal/money"
	"salesdesk/backend/internal/store"
	"salesdesk/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the idempotent schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) EnsureSequence(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequences (id, seq) VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING
	`, name)
	return err
}

// NextSequence increments and reads the counter in one statement, creating it
// on first use.
func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sequences (id, seq) VALUES ($1, 1)
		ON CONFLICT (id) DO UPDATE SET seq = sequences.seq + 1
		RETURNING seq
	`, name).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, code, date, customer_id, user_id, subtotal_cents, discount_cents, addition_cents,
			total_cents, comments, created_at, updated_at, canceled_at, canceled_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.Code, sale.Date, sale.CustomerID, sale.UserID, int64(sale.Subtotal), int64(sale.Discount),
		int64(sale.Addition), int64(sale.Total), sale.Comments, sale.CreatedAt, sale.UpdatedAt,
		nullTime(sale.CanceledAt), nullIfEmpty(sale.CanceledBy))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	if err := insertItems(ctx, tx, sale.ID, sale.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

// UpdateSale rewrites the business fields and items of an active sale.
// Cancellation columns are never touched here.
func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockActiveSale(ctx, tx, sale.ID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET date = $2, customer_id = $3, subtotal_cents = $4, discount_cents = $5, addition_cents = $6,
			total_cents = $7, comments = $8, updated_at = $9
		WHERE id = $1 AND canceled_at IS NULL
	`, sale.ID, sale.Date, sale.CustomerID, int64(sale.Subtotal), int64(sale.Discount), int64(sale.Addition),
		int64(sale.Total), sale.Comments, sale.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, err
	}
	if err := insertItems(ctx, tx, sale.ID, sale.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sale.CanceledAt = nil
	sale.CanceledBy = ""
	return &sale, nil
}

// CancelSale sets the cancellation columns only while they are still empty.
func (s *Store) CancelSale(ctx context.Context, id string, by string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockActiveSale(ctx, tx, id); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sales SET canceled_at = $2, canceled_by = $3, updated_at = $2
		WHERE id = $1 AND canceled_at IS NULL
	`, id, at, by)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrCanceled
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, id)
}

// lockActiveSale takes a row lock on the sale for the rest of tx and fails
// when it is missing or already canceled.
func lockActiveSale(ctx context.Context, tx *sql.Tx, id string) error {
	var canceledAt sql.NullTime
	err := tx.QueryRowContext(ctx, `SELECT canceled_at FROM sales WHERE id = $1 FOR UPDATE`, id).Scan(&canceledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if canceledAt.Valid {
		return store.ErrCanceled
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, saleID string, items []domain.SaleItem) error {
	for pos, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, position, product_id, quantity, unit_price_cents, discount_cents,
				addition_cents, total_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, saleID, pos, item.ProductID, item.Quantity, int64(item.UnitPrice), int64(item.Discount),
			int64(item.Addition), int64(item.TotalPrice))
		if err != nil {
			return err
		}
	}
	return nil
}

const saleColumns = `id, code, date, customer_id, user_id, subtotal_cents, discount_cents, addition_cents,
	total_cents, comments, created_at, updated_at, canceled_at, canceled_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale                                 domain.Sale
		subtotal, discount, addition, total int64
		canceledAt                           sql.NullTime
		canceledBy                           sql.NullString
	)
	err := row.Scan(&sale.ID, &sale.Code, &sale.Date, &sale.CustomerID, &sale.UserID, &subtotal, &discount,
		&addition, &total, &sale.Comments, &sale.CreatedAt, &sale.UpdatedAt, &canceledAt, &canceledBy)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Subtotal = money.Cents(subtotal)
	sale.Discount = money.Cents(discount)
	sale.Addition = money.Cents(addition)
	sale.Total = money.Cents(total)
	if canceledAt.Valid {
		at := canceledAt.Time.UTC()
		sale.CanceledAt = &at
	}
	sale.CanceledBy = canceledBy.String
	sale.Date = sale.Date.UTC()
	sale.Items = []domain.SaleItem{}
	return sale, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemsBySale, err := s.loadItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	if items, ok := itemsBySale[sale.ID]; ok {
		sale.Items = items
	}
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.From != nil {
		where = append(where, "date >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "date <= "+arg(*filter.To))
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = "+arg(filter.CustomerID))
	}
	if len(filter.UserIDs) > 0 {
		where = append(where, "user_id = ANY("+arg(filter.UserIDs)+")")
	}
	switch filter.Status {
	case domain.SaleStatusActive:
		where = append(where, "canceled_at IS NULL")
	case domain.SaleStatusCanceled:
		where = append(where, "canceled_at IS NOT NULL")
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, code DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemsBySale, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		if items, ok := itemsBySale[sales[i].ID]; ok {
			sales[i].Items = items
		}
	}
	return sales, nil
}

func (s *Store) loadItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price_cents, discount_cents, addition_cents, total_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var (
			saleID                                 string
			item                                   domain.SaleItem
			unitPrice, discount, addition, total int64
		)
		if err := rows.Scan(&saleID, &item.ProductID, &item.Quantity, &unitPrice, &discount, &addition, &total); err != nil {
			return nil, err
		}
		item.UnitPrice = money.Cents(unitPrice)
		item.Discount = money.Cents(discount)
		item.Addition = money.Cents(addition)
		item.TotalPrice = money.Cents(total)
		out[saleID] = append(out[saleID], item)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
