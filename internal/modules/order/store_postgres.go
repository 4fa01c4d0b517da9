// README: Order store backed by PostgreSQL (pgx pool, squirrel for list queries).
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodrun/internal/types"
)

var shopOrderColumns = []string{
	"id", "order_id", "shop_id", "owner_id", "customer_id", "items",
	"subtotal", "delivery_fee", "tax", "total", "currency",
	"status", "courier_id", "courier_name", "courier_mobile", "version",
	"created_at", "updated_at", "accepted_at", "delivered_at", "cancelled_at",
}

var orderColumns = []string{
	"id", "customer_id",
	"addr_name", "addr_line", "addr_city", "addr_state", "addr_postal_code", "addr_mobile",
	"addr_lat", "addr_lng",
	"payment_method", "payment_reference", "payment_amount", "currency",
	"created_at",
}

type PostgresStore struct {
	db *pgxpool.Pool
	qb sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db: db,
		qb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id,
			addr_name, addr_line, addr_city, addr_state, addr_postal_code, addr_mobile,
			addr_lat, addr_lng,
			payment_method, payment_reference, payment_amount, currency,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		string(o.ID), string(o.CustomerID),
		o.Address.Name, o.Address.Line, o.Address.City, o.Address.State, o.Address.PostalCode, o.Address.Mobile,
		o.Address.Location.Lat, o.Address.Location.Lng,
		string(o.Payment.Method), o.Payment.Reference, o.Payment.Amount.Amount, o.Payment.Amount.Currency,
		o.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("insert order: %w", err))
	}

	for _, so := range o.ShopOrders {
		items, err := json.Marshal(so.Items)
		if err != nil {
			return fmt.Errorf("marshal items: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO shop_orders (
				id, order_id, shop_id, owner_id, customer_id, items,
				subtotal, delivery_fee, tax, total, currency,
				status, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
			string(so.ID), string(so.OrderID), string(so.ShopID), string(so.OwnerID), string(so.CustomerID), items,
			so.Subtotal.Amount, so.DeliveryFee.Amount, so.Tax.Amount, so.Total.Amount, so.Total.Currency,
			string(so.Status), so.Version, so.CreatedAt,
		)
		if err != nil {
			return classify(fmt.Errorf("insert shop order: %w", err))
		}
	}
	return classify(tx.Commit(ctx))
}

func (s *PostgresStore) GetOrder(ctx context.Context, id types.ID) (*Order, error) {
	orders, err := s.selectOrders(ctx, sq.Eq{"id": string(id)})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return orders[0], nil
}

func (s *PostgresStore) GetShopOrder(ctx context.Context, id types.ID) (*ShopOrder, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+strings.Join(shopOrderColumns, ", ")+` FROM shop_orders WHERE id = $1`,
		string(id),
	)
	so, err := scanShopOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return so, nil
}

func (s *PostgresStore) ListOrdersByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	return s.selectOrders(ctx, sq.Eq{"customer_id": string(customerID)})
}

func (s *PostgresStore) ListShopOrdersByShop(ctx context.Context, shopID types.ID) ([]*ShopOrder, error) {
	return s.selectShopOrders(ctx, sq.Eq{"shop_id": string(shopID)})
}

func (s *PostgresStore) ListShopOrdersByCourier(ctx context.Context, courierID types.ID) ([]*ShopOrder, error) {
	return s.selectShopOrders(ctx, sq.Eq{"courier_id": string(courierID)})
}

func (s *PostgresStore) ListOpenShopOrders(ctx context.Context) ([]*ShopOrder, error) {
	return s.selectShopOrders(ctx, sq.And{
		sq.Eq{"status": string(StatusPreparing)},
		sq.Eq{"courier_id": nil},
	})
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, u StatusUpdate) (*ShopOrder, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE shop_orders
		SET status = $1,
			version = version + 1,
			updated_at = NOW(),
			delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END
		WHERE id = $2 AND status = $3 AND version = $4
		  AND (NOT $5::boolean OR courier_id IS NULL)
		RETURNING `+strings.Join(shopOrderColumns, ", "),
		string(u.To),
		string(u.ID),
		string(u.From),
		u.Version,
		u.RequireUnassigned,
	)
	so, err := scanShopOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return so, true, nil
}

func (s *PostgresStore) ClaimCourier(ctx context.Context, id types.ID, c Courier) (*ShopOrder, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE shop_orders
		SET courier_id = $1,
			courier_name = $2,
			courier_mobile = $3,
			status = 'accepted',
			version = version + 1,
			updated_at = NOW(),
			accepted_at = NOW()
		WHERE id = $4 AND courier_id IS NULL AND status = 'preparing'
		RETURNING `+strings.Join(shopOrderColumns, ", "),
		string(c.ID),
		c.Name,
		c.Mobile,
		string(id),
	)
	so, err := scanShopOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify(err)
	}
	return so, true, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO shop_order_events (
			shop_order_id, order_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.ShopOrderID),
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return classify(err)
}

func (s *PostgresStore) selectShopOrders(ctx context.Context, where sq.Sqlizer) ([]*ShopOrder, error) {
	query, args, err := s.qb.Select(shopOrderColumns...).
		From("shop_orders").
		Where(where).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*ShopOrder
	for rows.Next() {
		so, err := scanShopOrder(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, so)
	}
	return out, classify(rows.Err())
}

func (s *PostgresStore) selectOrders(ctx context.Context, where sq.Sqlizer) ([]*Order, error) {
	query, args, err := s.qb.Select(orderColumns...).
		From("orders").
		Where(where).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	var orders []*Order
	for rows.Next() {
		var o Order
		var method string
		if err := rows.Scan(
			&o.ID, &o.CustomerID,
			&o.Address.Name, &o.Address.Line, &o.Address.City, &o.Address.State, &o.Address.PostalCode, &o.Address.Mobile,
			&o.Address.Location.Lat, &o.Address.Location.Lng,
			&method, &o.Payment.Reference, &o.Payment.Amount.Amount, &o.Payment.Amount.Currency,
			&o.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, classify(err)
		}
		o.Payment.Method = PaymentMethod(method)
		orders = append(orders, &o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]string, len(orders))
	byID := make(map[types.ID]*Order, len(orders))
	for i, o := range orders {
		ids[i] = string(o.ID)
		byID[o.ID] = o
	}
	shopOrders, err := s.selectShopOrders(ctx, sq.Eq{"order_id": ids})
	if err != nil {
		return nil, err
	}
	for _, so := range shopOrders {
		if o, ok := byID[so.OrderID]; ok {
			o.ShopOrders = append(o.ShopOrders, so)
		}
	}
	return orders, nil
}

func scanShopOrder(row pgx.Row) (*ShopOrder, error) {
	var so ShopOrder
	var items []byte
	var currency, status string
	var courierID, courierName, courierMobile *string

	err := row.Scan(
		&so.ID, &so.OrderID, &so.ShopID, &so.OwnerID, &so.CustomerID, &items,
		&so.Subtotal.Amount, &so.DeliveryFee.Amount, &so.Tax.Amount, &so.Total.Amount, &currency,
		&status, &courierID, &courierName, &courierMobile, &so.Version,
		&so.CreatedAt, &so.UpdatedAt, &so.AcceptedAt, &so.DeliveredAt, &so.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	so.Status = Status(status)
	so.Subtotal.Currency = currency
	so.DeliveryFee.Currency = currency
	so.Tax.Currency = currency
	so.Total.Currency = currency
	if len(items) > 0 {
		if err := json.Unmarshal(items, &so.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	}
	if courierID != nil {
		c := Courier{ID: types.ID(*courierID)}
		if courierName != nil {
			c.Name = *courierName
		}
		if courierMobile != nil {
			c.Mobile = *courierMobile
		}
		so.Courier = &c
	}
	return &so, nil
}

// classify marks connectivity, timeout and serialization failures as
// ErrTransientStore so callers know a bounded retry is worthwhile.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %w", ErrTransientStore, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
	return err
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
