package repairs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/repairdesk/internal/catalog"
	"github.com/odyssey-erp/repairdesk/internal/shared"
)

type memoryRepairRepo struct {
	mu         sync.Mutex
	orders     map[string]Order
	receptions map[string]Reception
	// beforeInsert runs inside InsertOrder, standing in for a concurrent
	// writer that commits between number allocation and insert.
	beforeInsert func(tx *memoryRepairTx, o Order)
	inserts      int
	// committed holds competitor orders that survive a rollback.
	committed []Order
}

type memoryRepairTx struct {
	repo *memoryRepairRepo
}

func newMemoryRepairRepo() *memoryRepairRepo {
	return &memoryRepairRepo{
		orders:     make(map[string]Order),
		receptions: make(map[string]Reception),
	}
}

func (r *memoryRepairRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := make(map[string]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = cloneOrder(v)
	}
	receptions := make(map[string]Reception, len(r.receptions))
	for k, v := range r.receptions {
		receptions[k] = v
	}
	err := fn(ctx, &memoryRepairTx{repo: r})
	if err != nil {
		r.orders, r.receptions = orders, receptions
	}
	for _, o := range r.committed {
		r.orders[o.ID] = o
	}
	r.committed = nil
	return err
}

func (r *memoryRepairRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryRepairTx{repo: r}).GetOrder(ctx, id)
}

func (r *memoryRepairRepo) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if filter.WarehouseCode != "" && o.WarehouseCode != filter.WarehouseCode {
			continue
		}
		if filter.SupplierID != "" && o.SupplierID != filter.SupplierID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (r *memoryRepairRepo) PendingOrderIDs(ctx context.Context, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, o := range r.orders {
		if o.Status == StatusPending && !o.Cancelled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memoryRepairRepo) ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryRepairTx{repo: r}).ReceptionsByLine(ctx, lineID)
}

func (r *memoryRepairRepo) PriorShipments(ctx context.Context, registration, supplierID, excludeOrderID string) ([]PriorShipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PriorShipment
	for _, o := range r.orders {
		if o.ID == excludeOrderID || o.SupplierID != supplierID || o.Cancelled {
			continue
		}
		for _, l := range o.Lines {
			if l.Registration == registration {
				out = append(out, PriorShipment{OrderID: o.ID, OrderNumber: o.Number, Warehouse: o.WarehouseCode, LineID: l.ID, SentAt: o.ShipmentDate})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

// seed stores an order and receptions directly, bypassing numbering.
func (r *memoryRepairRepo) seed(o Order, receptions ...Reception) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.Status == "" {
		o.Status = StatusPending
	}
	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
	}
	r.orders[o.ID] = cloneOrder(o)
	for _, rec := range receptions {
		rec.OrderID = o.ID
		r.receptions[rec.ID] = rec
	}
}

func (r *memoryRepairRepo) receptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receptions)
}

func (tx *memoryRepairTx) GetOrder(ctx context.Context, id string) (Order, error) {
	o, ok := tx.repo.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (tx *memoryRepairTx) OrderExists(ctx context.Context, id string) (bool, error) {
	_, ok := tx.repo.orders[id]
	return ok, nil
}

func (tx *memoryRepairTx) LockLine(ctx context.Context, lineID string) (LockedLine, error) {
	for _, o := range tx.repo.orders {
		for _, l := range o.Lines {
			if l.ID == lineID {
				return LockedLine{Line: l, ShipmentDate: o.ShipmentDate}, nil
			}
		}
	}
	return LockedLine{}, fmt.Errorf("%w: line %s", ErrNotFound, lineID)
}

func (tx *memoryRepairTx) ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error) {
	var out []Reception
	for _, rec := range tx.repo.receptions {
		if rec.LineID == lineID {
			out = append(out, rec)
		}
	}
	sortReceptions(out)
	return out, nil
}

func (tx *memoryRepairTx) ReceptionsByOrder(ctx context.Context, orderID string) ([]Reception, error) {
	var out []Reception
	for _, rec := range tx.repo.receptions {
		if rec.OrderID == orderID {
			out = append(out, rec)
		}
	}
	sortReceptions(out)
	return out, nil
}

func (tx *memoryRepairTx) GetReception(ctx context.Context, id string) (Reception, error) {
	rec, ok := tx.repo.receptions[id]
	if !ok {
		return Reception{}, fmt.Errorf("%w: reception %s", ErrNotFound, id)
	}
	return rec, nil
}

func (tx *memoryRepairTx) InsertReception(ctx context.Context, rec Reception) error {
	tx.repo.receptions[rec.ID] = rec
	return nil
}

func (tx *memoryRepairTx) DeleteReception(ctx context.Context, id string) error {
	if _, ok := tx.repo.receptions[id]; !ok {
		return fmt.Errorf("%w: reception %s", ErrNotFound, id)
	}
	delete(tx.repo.receptions, id)
	return nil
}

func (tx *memoryRepairTx) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	o := tx.repo.orders[orderID]
	o.Status = status
	tx.repo.orders[orderID] = o
	return nil
}

func (tx *memoryRepairTx) MaxSequence(ctx context.Context, yy int) (int, error) {
	max := 0
	for _, o := range tx.repo.orders {
		_, y, seq, err := ParseOrderNumber(o.Number)
		if err == nil && y == yy && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (tx *memoryRepairTx) InsertOrder(ctx context.Context, o Order) error {
	tx.repo.inserts++
	if tx.repo.beforeInsert != nil {
		tx.repo.beforeInsert(tx, o)
	}
	_, yy, seq, err := ParseOrderNumber(o.Number)
	if err != nil {
		return err
	}
	for _, existing := range tx.repo.orders {
		_, y, s, err := ParseOrderNumber(existing.Number)
		if err == nil && y == yy && s == seq {
			return fmt.Errorf("%w: %s", ErrNumberCollision, o.Number)
		}
	}
	tx.repo.orders[o.ID] = cloneOrder(o)
	return nil
}

// UpdateOrder upserts lines like the Postgres store: lines missing from o
// stay until DeleteLine removes them.
func (tx *memoryRepairTx) UpdateOrder(ctx context.Context, o Order) error {
	current, ok := tx.repo.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, o.ID)
	}
	owned := make(map[string]struct{}, len(o.Lines))
	for _, l := range o.Lines {
		for id, other := range tx.repo.orders {
			if id == o.ID {
				continue
			}
			for _, ol := range other.Lines {
				if ol.ID == l.ID {
					return fmt.Errorf("%w: %s", ErrForeignLine, l.ID)
				}
			}
		}
		owned[l.ID] = struct{}{}
	}
	updated := cloneOrder(o)
	for _, l := range current.Lines {
		if _, ok := owned[l.ID]; !ok {
			updated.Lines = append(updated.Lines, l)
		}
	}
	tx.repo.orders[o.ID] = updated
	return nil
}

func (tx *memoryRepairTx) DeleteLine(ctx context.Context, orderID, lineID string) error {
	o := tx.repo.orders[orderID]
	var lines []Line
	for _, l := range o.Lines {
		if l.ID != lineID {
			lines = append(lines, l)
		}
	}
	o.Lines = lines
	tx.repo.orders[orderID] = o
	for rid, rec := range tx.repo.receptions {
		if rec.LineID == lineID {
			delete(tx.repo.receptions, rid)
		}
	}
	return nil
}

func (tx *memoryRepairTx) DeleteOrder(ctx context.Context, id string) error {
	delete(tx.repo.orders, id)
	for rid, rec := range tx.repo.receptions {
		if rec.OrderID == id {
			delete(tx.repo.receptions, rid)
		}
	}
	return nil
}

// insertCompetitor stores an order claiming number, as another user would.
func (tx *memoryRepairTx) insertCompetitor(id, number string) {
	o := Order{ID: id, Number: number, WarehouseCode: "ZZ", SupplierID: "other", Status: StatusPending}
	tx.repo.orders[id] = o
	tx.repo.committed = append(tx.repo.committed, o)
}

func cloneOrder(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	o.History = append([]ChangeEntry(nil), o.History...)
	return o
}

func sortReceptions(recs []Reception) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ReceivedAt.Equal(recs[j].ReceivedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].ReceivedAt.Before(recs[j].ReceivedAt)
	})
}

type stubCatalog struct {
	suppliers map[string]catalog.Supplier
	materials map[string]catalog.Material
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		suppliers: map[string]catalog.Supplier{
			"ext": {ID: "ext", Name: "Repairs Ltd", External: true},
			"int": {ID: "int", Name: "Central workshop", External: false},
		},
		materials: map[string]catalog.Material{
			"89000001": {Registration: "89000001", Description: "Brake valve"},
			"89000002": {Registration: "89000002", Description: "Door motor"},
			"89000003": {Registration: "89000003", Description: "Compressor"},
		},
	}
}

func (c *stubCatalog) Supplier(ctx context.Context, id string) (catalog.Supplier, error) {
	s, ok := c.suppliers[id]
	if !ok {
		return catalog.Supplier{}, catalog.ErrNotFound
	}
	return s, nil
}

func (c *stubCatalog) Material(ctx context.Context, registration string) (catalog.Material, error) {
	m, ok := c.materials[registration]
	if !ok {
		return catalog.Material{}, catalog.ErrNotFound
	}
	return m, nil
}

type countingMetrics struct {
	decisions  map[string]int
	collisions int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{decisions: make(map[string]int)}
}

func (m *countingMetrics) WarrantyDecision(outcome string) { m.decisions[outcome]++ }
func (m *countingMetrics) NumberCollision() { m.collisions++ }

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func (a *memoryAudit) actions() []string {
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

func actorCtx(role string) context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: "u-1", Name: "Ana", Role: role})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func draftOrder(id, warehouse, supplier string, regs ...string) Order {
	o := Order{
		ID:            id,
		WarehouseCode: warehouse,
		SupplierID:    supplier,
		Vehicle:       "UT-440",
		DismantleDate: day(2025, time.March, 1),
		ShipmentDate:  day(2025, time.March, 3),
	}
	for i, reg := range regs {
		o.Lines = append(o.Lines, Line{ID: fmt.Sprintf("%s-l%d", id, i+1), OrderID: id, Registration: reg, Quantity: 1})
	}
	return o
}
