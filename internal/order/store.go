// Package order stores host orders and records completed ConcordPay payments
// against them.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/concordpay-gateway/internal/concordpay"
)

// Order lifecycle states owned by this service.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

var (
	// ErrNotFound indicates the order does not exist. It matches
	// concordpay.ErrOrderNotFound so callbacks for unknown orders are rejected
	// rather than retried.
	ErrNotFound = fmt.Errorf("order: %w", concordpay.ErrOrderNotFound)
	// ErrExists indicates an order with the same id was already registered.
	ErrExists = errors.New("order: already exists")
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Note is an audit entry attached to an order.
type Note struct {
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
}

// Record is an order with its bookkeeping columns.
type Record struct {
	Order     concordpay.Order
	Notes     []Note
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the Postgres-backed order repository. It implements
// concordpay.OrderRepository.
type Store struct {
	DB DB
}

// NewStore wraps db.
func NewStore(db DB) *Store {
	return &Store{DB: db}
}

const insertOrderSQL = `INSERT INTO orders (
    id, status, total, currency,
    billing_first_name, billing_last_name, billing_address_1, billing_address_2,
    billing_city, billing_phone, billing_email, billing_country, billing_postcode,
    cart_session
) VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const insertItemSQL = `INSERT INTO order_items (order_id, position, name, qty, line_total)
VALUES ($1, $2, $3, $4, $5::numeric)`

// Create registers a new pending order with its items.
func (s *Store) Create(ctx context.Context, o concordpay.Order) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		b := o.Billing
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, StatusPending, o.Total.StringFixed(2), o.Currency,
			b.FirstName, b.LastName, b.Address1, b.Address2,
			b.City, b.Phone, b.Email, b.Country, b.Postcode,
			o.CartSession,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return ErrExists
			}
			return fmt.Errorf("insert order: %w", err)
		}
		if len(o.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i, item := range o.Items {
			batch.Queue(insertItemSQL, o.ID, i, item.Name, item.Qty, item.LineTotal.StringFixed(2))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

const selectOrderSQL = `SELECT id, status, total::text, currency,
    billing_first_name, billing_last_name, billing_address_1, billing_address_2,
    billing_city, billing_phone, billing_email, billing_country, billing_postcode,
    cart_session, paid_at, created_at, updated_at
FROM orders WHERE id = $1`

// FindOrder implements concordpay.OrderRepository.
func (s *Store) FindOrder(ctx context.Context, id string) (concordpay.Order, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return concordpay.Order{}, err
	}
	return rec.Order, nil
}

// Get returns the order together with its notes.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	rows, err := s.DB.Query(ctx, `SELECT note, created_at FROM order_notes WHERE order_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return Record{}, fmt.Errorf("query notes: %w", err)
	}
	notes, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Note])
	if err != nil {
		return Record{}, fmt.Errorf("scan notes: %w", err)
	}
	rec.Notes = notes
	return rec, nil
}

func (s *Store) load(ctx context.Context, id string) (Record, error) {
	var (
		rec   Record
		total string
		o     = &rec.Order
		b     = &rec.Order.Billing
	)
	err := s.DB.QueryRow(ctx, selectOrderSQL, id).Scan(
		&o.ID, &o.Status, &total, &o.Currency,
		&b.FirstName, &b.LastName, &b.Address1, &b.Address2,
		&b.City, &b.Phone, &b.Email, &b.Country, &b.Postcode,
		&o.CartSession, &rec.PaidAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("query order: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return Record{}, fmt.Errorf("parse total: %w", err)
	}

	rows, err := s.DB.Query(ctx, `SELECT name, qty, line_total::text FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return Record{}, fmt.Errorf("query items: %w", err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (concordpay.Item, error) {
		var (
			item      concordpay.Item
			lineTotal string
		)
		if err := row.Scan(&item.Name, &item.Qty, &lineTotal); err != nil {
			return item, err
		}
		var err error
		item.LineTotal, err = decimal.NewFromString(lineTotal)
		return item, err
	})
	if err != nil {
		return Record{}, fmt.Errorf("scan items: %w", err)
	}
	return rec, nil
}

// CompletePayment implements concordpay.OrderRepository. The status change is
// conditional, so an already completed order is left as is and gets no
// second note.
func (s *Store) CompletePayment(ctx context.Context, id string, note string) error {
	return pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, paid_at = now(), updated_at = now() WHERE id = $1 AND status <> $2`,
			id, StatusCompleted)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return nil
		}
		if _, err := tx.Exec(ctx, `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		return nil
	})
}
