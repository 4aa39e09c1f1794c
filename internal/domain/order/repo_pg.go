package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labflow/intake/internal/platform/db"
)

const (
	orderNumberConstraint  = "orders_order_number_key"
	maxOrderNumberAttempts = 3
)

// ErrOrderNumberExhausted is returned when every generated order number
// collided with an existing one.
var ErrOrderNumberExhausted = errors.New("could not allocate a unique order number")

type orderRepoPG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &orderRepoPG{pool: pool, now: time.Now}
}

const orderCols = `id, external_id, order_number, patient_name, date_of_birth, phone, secondary_phone,
	address, physician_name, clinic_address, schedule_date, schedule_time, date_of_order,
	source, total_amount, status, assigned_staff_id, notes, raw_payload, created_at, updated_at`

func scanOrder(row pgx.Row, extra ...interface{}) (*Order, error) {
	var o Order
	dest := []interface{}{&o.ID, &o.ExternalID, &o.OrderNumber, &o.PatientName, &o.DateOfBirth, &o.Phone, &o.SecondaryPhone,
		&o.Address, &o.PhysicianName, &o.ClinicAddress, &o.ScheduleDate, &o.ScheduleTime, &o.DateOfOrder,
		&o.Source, &o.TotalAmount, &o.Status, &o.AssignedStaffID, &o.Notes, &o.RawPayload, &o.CreatedAt, &o.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

const itemCols = `id, order_id, catalog_entry_id, test_name, category, price, created_at`

func scanItem(row pgx.Row) (*OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.CatalogEntryID, &it.TestName, &it.Category, &it.Price, &it.CreatedAt)
	return &it, err
}

const historyCols = `id, order_id, previous_status, new_status, actor, comment, created_at`

func scanHistory(row pgx.Row) (*StatusHistory, error) {
	var h StatusHistory
	err := row.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus, &h.Actor, &h.Comment, &h.CreatedAt)
	return &h, err
}

// Ingest retries the whole transaction with a fresh order number when the
// generated one collides. A collision aborts the transaction, so ctx must
// not already carry one.
func (r *orderRepoPG) Ingest(ctx context.Context, o *Order, items []*OrderItem) (*IngestResult, error) {
	if o.ExternalID == nil || *o.ExternalID == "" {
		return nil, fmt.Errorf("ingest order: external id is required")
	}

	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		o.OrderNumber = NewOrderNumber(r.now())

		var res *IngestResult
		err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
			var err error
			res, err = r.ingestTx(ctx, o, items)
			return err
		})
		if db.IsUniqueViolation(err, orderNumberConstraint) {
			continue
		}
		if err != nil {
			return nil, err
		}
		res.OrderNumberAttempts = attempt
		return res, nil
	}
	return nil, ErrOrderNumberExhausted
}

func (r *orderRepoPG) ingestTx(ctx context.Context, o *Order, items []*OrderItem) (*IngestResult, error) {
	conn := db.Conn(ctx, r.pool)

	var inserted bool
	stored, err := scanOrder(conn.QueryRow(ctx, `
		INSERT INTO orders (id, external_id, order_number, patient_name, date_of_birth, phone, secondary_phone,
			address, physician_name, clinic_address, schedule_date, schedule_time, date_of_order,
			source, total_amount, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (external_id) DO UPDATE SET
			patient_name    = CASE WHEN EXCLUDED.patient_name = $18 THEN orders.patient_name ELSE EXCLUDED.patient_name END,
			date_of_birth   = COALESCE(EXCLUDED.date_of_birth, orders.date_of_birth),
			phone           = COALESCE(EXCLUDED.phone, orders.phone),
			secondary_phone = COALESCE(EXCLUDED.secondary_phone, orders.secondary_phone),
			address         = COALESCE(EXCLUDED.address, orders.address),
			physician_name  = COALESCE(EXCLUDED.physician_name, orders.physician_name),
			clinic_address  = COALESCE(EXCLUDED.clinic_address, orders.clinic_address),
			raw_payload     = EXCLUDED.raw_payload,
			updated_at      = now()
		RETURNING `+orderCols+`, (xmax = 0) AS inserted`,
		o.ID, o.ExternalID, o.OrderNumber, o.PatientName, o.DateOfBirth, o.Phone, o.SecondaryPhone,
		o.Address, o.PhysicianName, o.ClinicAddress, o.ScheduleDate, o.ScheduleTime, o.DateOfOrder,
		o.Source, o.TotalAmount, o.Status, o.RawPayload, PlaceholderPatientName,
	), &inserted)
	if err != nil {
		return nil, fmt.Errorf("upsert order: %w", err)
	}

	res := &IngestResult{Order: stored, Created: inserted}
	if !inserted {
		res.Items, err = r.ListItems(ctx, stored.ID)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	for _, it := range items {
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = stored.ID
		err := conn.QueryRow(ctx, `
			INSERT INTO order_items (id, order_id, catalog_entry_id, test_name, category, price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at`,
			it.ID, it.OrderID, it.CatalogEntryID, it.TestName, it.Category, it.Price,
		).Scan(&it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert order item %q: %w", it.TestName, err)
		}
	}
	res.Items = items

	if _, err := r.appendHistory(ctx, stored.ID, nil, StatusPending, "webhook:"+stored.Source, nil); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *orderRepoPG) appendHistory(ctx context.Context, orderID uuid.UUID, from *Status, to Status, actor string, comment *string) (*StatusHistory, error) {
	h, err := scanHistory(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO status_history (id, order_id, previous_status, new_status, actor, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+historyCols,
		uuid.New(), orderID, from, to, actor, comment))
	if err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}
	return h, nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
}

func (r *orderRepoPG) ListItems(ctx context.Context, orderID uuid.UUID) ([]*OrderItem, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+itemCols+` FROM order_items WHERE order_id = $1 ORDER BY created_at, test_name`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []*OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepoPG) ListHistory(ctx context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+historyCols+` FROM status_history WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	var out []*StatusHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *orderRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, to Status, actor string, comment *string) (*Order, *StatusHistory, error) {
	var (
		o *Order
		h *StatusHistory
	)
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)

		var from Status
		err := conn.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&from)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if err := ValidateTransition(from, to); err != nil {
			return err
		}

		o, err = scanOrder(conn.QueryRow(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+orderCols, id, to))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		h, err = r.appendHistory(ctx, id, &from, to, actor, comment)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return o, h, nil
}
