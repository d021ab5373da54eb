package repairs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/repairdesk/internal/platform/db"
)

// Unique constraints guarding order numbers.
const (
	constraintOrderNumber = "repair_orders_order_number_key"
	constraintYearSeq     = "repair_orders_year_seq_key"
)

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*queries)(nil)
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
	q    queries
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: queries{db: pool}}
}

// WithTx wraps fn in a read-committed transaction. Row locks taken by
// LockLine therefore see receptions committed while waiting for them.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
}

// GetOrder returns an order with its lines.
func (r *PGRepository) GetOrder(ctx context.Context, id string) (Order, error) {
	return r.q.GetOrder(ctx, id)
}

// ReceptionsByLine returns the receptions of a line, oldest first.
func (r *PGRepository) ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error) {
	return r.q.ReceptionsByLine(ctx, lineID)
}

// ListOrders returns orders matching filter, newest first.
func (r *PGRepository) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.WarehouseCode != "" {
		add("warehouse_code = $%d", filter.WarehouseCode)
	}
	if filter.SupplierID != "" {
		add("supplier_id = $%d", filter.SupplierID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Year > 0 {
		add("order_year = $%d", filter.Year%100)
	}
	sql := `SELECT ` + orderColumns + ` FROM repair_orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	sql += fmt.Sprintf(` ORDER BY order_year DESC, order_seq DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		orders []Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}
	lines, err := r.q.linesByOrders(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// PriorShipments lists earlier non-cancelled lines of registration sent to
// supplierID, excluding excludeOrderID.
func (r *PGRepository) PriorShipments(ctx context.Context, registration, supplierID, excludeOrderID string) ([]PriorShipment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.order_number, o.warehouse_code, l.id, o.shipment_date
		FROM repair_order_lines l
		JOIN repair_orders o ON o.id = l.order_id
		WHERE l.registration = $1 AND o.supplier_id = $2 AND o.id <> $3 AND NOT o.cancelled
		ORDER BY o.shipment_date DESC, o.order_seq DESC`, registration, supplierID, excludeOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PriorShipment
	for rows.Next() {
		var s PriorShipment
		if err := rows.Scan(&s.OrderID, &s.OrderNumber, &s.Warehouse, &s.LineID, &s.SentAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PendingOrderIDs lists ids of live orders not yet completed.
func (r *PGRepository) PendingOrderIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM repair_orders WHERE status = $1 AND NOT cancelled ORDER BY created_at LIMIT $2`, string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const orderColumns = `id, order_number, warehouse_code, supplier_id, vehicle, warranty, nc_report,
	dismantle_date, shipment_date, declared_damage, history, cancelled, sent_without_warranty,
	status, created_at, updated_at`

const receptionColumns = `id, order_id, line_id, reception_date, reception_state, quantity, serial_number,
	observations, warranty_verdict, rejection_reason, receiving_warehouse, created_at`

// queries runs statements against a pool or a transaction.
type queries struct {
	db db.Querier
}

func (q *queries) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM repair_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return Order{}, err
	}
	lines, err := q.linesByOrders(ctx, []string{id})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[id]
	return o, nil
}

func (q *queries) OrderExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM repair_orders WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (q *queries) LockLine(ctx context.Context, lineID string) (LockedLine, error) {
	var l LockedLine
	err := q.db.QueryRow(ctx, `
		SELECT l.id, l.order_id, l.registration, l.part_description, l.quantity, l.serial_number, o.shipment_date
		FROM repair_order_lines l
		JOIN repair_orders o ON o.id = l.order_id
		WHERE l.id = $1
		FOR UPDATE`, lineID).Scan(&l.ID, &l.OrderID, &l.Registration, &l.PartDescription, &l.Quantity, &l.SerialNumber, &l.ShipmentDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LockedLine{}, fmt.Errorf("%w: line %s", ErrNotFound, lineID)
		}
		return LockedLine{}, err
	}
	return l, nil
}

func (q *queries) ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error) {
	return q.receptions(ctx, `SELECT `+receptionColumns+` FROM material_receptions WHERE line_id = $1 ORDER BY reception_date, created_at`, lineID)
}

func (q *queries) ReceptionsByOrder(ctx context.Context, orderID string) ([]Reception, error) {
	return q.receptions(ctx, `SELECT `+receptionColumns+` FROM material_receptions WHERE order_id = $1 ORDER BY reception_date, created_at`, orderID)
}

func (q *queries) GetReception(ctx context.Context, id string) (Reception, error) {
	rec, err := scanReception(q.db.QueryRow(ctx, `SELECT `+receptionColumns+` FROM material_receptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reception{}, fmt.Errorf("%w: reception %s", ErrNotFound, id)
		}
		return Reception{}, err
	}
	return rec, nil
}

func (q *queries) InsertReception(ctx context.Context, rec Reception) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO material_receptions (`+receptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OrderID, rec.LineID, rec.ReceivedAt, string(rec.State), rec.Quantity, rec.SerialNumber,
		rec.Observations, string(rec.Warranty.Kind), rec.Warranty.Reason, rec.ReceivingWarehouse, rec.CreatedAt)
	return err
}

func (q *queries) DeleteReception(ctx context.Context, id string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM material_receptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: reception %s", ErrNotFound, id)
	}
	return nil
}

func (q *queries) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	_, err := q.db.Exec(ctx, `UPDATE repair_orders SET status = $2, updated_at = NOW() WHERE id = $1`, orderID, string(status))
	return err
}

func (q *queries) MaxSequence(ctx context.Context, yy int) (int, error) {
	var max int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(order_seq), 0) FROM repair_orders WHERE order_year = $1`, yy).Scan(&max)
	return max, err
}

func (q *queries) InsertOrder(ctx context.Context, o Order) error {
	_, yy, seq, err := ParseOrderNumber(o.Number)
	if err != nil {
		return err
	}
	history, err := marshalHistory(o.History)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO repair_orders (`+orderColumns+`, order_year, order_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.Number, o.WarehouseCode, o.SupplierID, o.Vehicle, o.Warranty, o.NCReport,
		nullDate(o.DismantleDate), o.ShipmentDate, o.DeclaredDamage, history, o.Cancelled, o.SentWithoutWarranty,
		string(o.Status), o.CreatedAt, o.UpdatedAt, yy, seq)
	if err != nil {
		if db.IsUniqueViolation(err, constraintOrderNumber) || db.IsUniqueViolation(err, constraintYearSeq) {
			return fmt.Errorf("%w: %s", ErrNumberCollision, o.Number)
		}
		return err
	}
	return q.upsertLines(ctx, o.ID, o.Lines)
}

func (q *queries) UpdateOrder(ctx context.Context, o Order) error {
	history, err := marshalHistory(o.History)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE repair_orders SET
			warehouse_code = $2, supplier_id = $3, vehicle = $4, warranty = $5, nc_report = $6,
			dismantle_date = $7, shipment_date = $8, declared_damage = $9, history = $10,
			cancelled = $11, sent_without_warranty = $12, updated_at = $13
		WHERE id = $1`,
		o.ID, o.WarehouseCode, o.SupplierID, o.Vehicle, o.Warranty, o.NCReport,
		nullDate(o.DismantleDate), o.ShipmentDate, o.DeclaredDamage, history,
		o.Cancelled, o.SentWithoutWarranty, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	return q.upsertLines(ctx, o.ID, o.Lines)
}

func (q *queries) DeleteLine(ctx context.Context, orderID, lineID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM repair_order_lines WHERE id = $1 AND order_id = $2`, lineID, orderID)
	return err
}

func (q *queries) DeleteOrder(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM repair_orders WHERE id = $1`, id)
	return err
}

func (q *queries) upsertLines(ctx context.Context, orderID string, lines []Line) error {
	for i, l := range lines {
		tag, err := q.db.Exec(ctx, `
			INSERT INTO repair_order_lines (id, order_id, position, registration, part_description, quantity, serial_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				position = EXCLUDED.position, registration = EXCLUDED.registration,
				part_description = EXCLUDED.part_description, quantity = EXCLUDED.quantity,
				serial_number = EXCLUDED.serial_number
			WHERE repair_order_lines.order_id = EXCLUDED.order_id`,
			l.ID, orderID, i, l.Registration, l.PartDescription, l.Quantity, l.SerialNumber)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrForeignLine, l.ID)
		}
	}
	return nil
}

func (q *queries) linesByOrders(ctx context.Context, orderIDs []string) (map[string][]Line, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, order_id, registration, part_description, quantity, serial_number
		FROM repair_order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]Line, len(orderIDs))
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Registration, &l.PartDescription, &l.Quantity, &l.SerialNumber); err != nil {
			return nil, err
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, rows.Err()
}

func (q *queries) receptions(ctx context.Context, sql string, arg string) ([]Reception, error) {
	rows, err := q.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reception
	for rows.Next() {
		rec, err := scanReception(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o         Order
		dismantle *time.Time
		history   []byte
		status    string
	)
	err := row.Scan(&o.ID, &o.Number, &o.WarehouseCode, &o.SupplierID, &o.Vehicle, &o.Warranty, &o.NCReport,
		&dismantle, &o.ShipmentDate, &o.DeclaredDamage, &history, &o.Cancelled, &o.SentWithoutWarranty,
		&status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if dismantle != nil {
		o.DismantleDate = *dismantle
	}
	o.Status = OrderStatus(status)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &o.History); err != nil {
			return Order{}, fmt.Errorf("repairs: decode history of %s: %w", o.ID, err)
		}
	}
	return o, nil
}

func scanReception(row pgx.Row) (Reception, error) {
	var (
		rec     Reception
		state   string
		verdict string
		reason  string
	)
	err := row.Scan(&rec.ID, &rec.OrderID, &rec.LineID, &rec.ReceivedAt, &state, &rec.Quantity, &rec.SerialNumber,
		&rec.Observations, &verdict, &reason, &rec.ReceivingWarehouse, &rec.CreatedAt)
	if err != nil {
		return Reception{}, err
	}
	rec.State = ReceptionState(state)
	switch VerdictKind(verdict) {
	case VerdictAccepted:
		rec.Warranty = Accepted()
	case VerdictRejected:
		rec.Warranty = Rejected(reason)
	default:
		rec.Warranty = Unevaluated()
	}
	return rec, nil
}

func marshalHistory(entries []ChangeEntry) ([]byte, error) {
	if entries == nil {
		entries = []ChangeEntry{}
	}
	return json.Marshal(entries)
}

func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
