package repairs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/repairdesk/internal/catalog"
	"github.com/odyssey-erp/repairdesk/internal/shared"
)

// Authorizer checks the context actor holds a permission.
type Authorizer interface {
	Authorize(ctx context.Context, perm string) error
}

// CatalogPort resolves suppliers and materials.
type CatalogPort interface {
	Supplier(ctx context.Context, id string) (catalog.Supplier, error)
	Material(ctx context.Context, registration string) (catalog.Material, error)
}

// MetricsPort receives workflow and numbering counters.
type MetricsPort interface {
	WarrantyDecision(outcome string)
	NumberCollision()
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Options carries the optional collaborators of OrderService.
type Options struct {
	Lock       NumberLock
	Metrics    MetricsPort
	Audit      AuditPort
	Logger     *slog.Logger
	HardDelete bool
}

// SaveResult is a persisted order plus the numbering outcome.
type SaveResult struct {
	Order                Order  `json:"order"`
	NumberWasRegenerated bool   `json:"number_was_regenerated"`
	FinalOrderNumber     string `json:"final_order_number"`
}

// CancelResult reports how a cancellation was applied.
type CancelResult struct {
	Order   Order `json:"order"`
	Deleted bool  `json:"deleted"`
}

// OrderService orchestrates order persistence and the warranty workflow.
type OrderService struct {
	repo       Repository
	resolver   *Resolver
	catalog    CatalogPort
	authz      Authorizer
	lock       NumberLock
	metrics    MetricsPort
	audit      AuditPort
	logger     *slog.Logger
	hardDelete bool
	now        func() time.Time
}

// NewOrderService constructs the service.
func NewOrderService(repo Repository, catalog CatalogPort, authz Authorizer, opts Options) *OrderService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &OrderService{
		repo:       repo,
		resolver:   NewResolver(repo),
		catalog:    catalog,
		authz:      authz,
		lock:       opts.Lock,
		metrics:    metrics,
		audit:      opts.Audit,
		logger:     logger,
		hardDelete: opts.HardDelete,
		now:        time.Now,
	}
}

// NeedsWarrantyCheck reports whether saving order must go through the
// duplicate check: the supplier is external, the warranty was not already
// settled with an NC report, and some line carries a valid registration.
func NeedsWarrantyCheck(order Order, supplier catalog.Supplier) bool {
	if !supplier.External {
		return false
	}
	if order.Warranty && strings.TrimSpace(order.NCReport) != "" {
		return false
	}
	for _, reg := range order.Registrations() {
		if ValidRegistration(reg) {
			return true
		}
	}
	return false
}

// BuildLine sanitises a raw registration, resolves its material and returns
// a line carrying the catalog description.
func (s *OrderService) BuildLine(ctx context.Context, id, rawRegistration string, quantity int, serial string) (Line, error) {
	reg := SanitizeRegistration(rawRegistration)
	if !ValidRegistration(reg) {
		return Line{}, fmt.Errorf("%w: %q", ErrInvalidRegistration, rawRegistration)
	}
	if quantity < 1 {
		return Line{}, ErrInvalidQuantity
	}
	material, err := s.catalog.Material(ctx, reg)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Line{}, fmt.Errorf("%w: %s", ErrMaterialNotFound, reg)
		}
		return Line{}, err
	}
	return Line{ID: id, Registration: reg, PartDescription: material.Description, Quantity: quantity, SerialNumber: serial}, nil
}

// CheckWarranty runs the duplicate check for order. Internal suppliers are
// exempt and always get an empty result.
func (s *OrderService) CheckWarranty(ctx context.Context, order Order) ([]WarrantyHistoryInfo, error) {
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderView); err != nil {
		return nil, err
	}
	supplier, err := s.supplier(ctx, order.SupplierID)
	if err != nil {
		return nil, err
	}
	if !supplier.External {
		return nil, nil
	}
	return s.resolver.CheckWarrantyStatus(ctx, validRegistrations(order), order.SupplierID, order.ID)
}

// SaveOrder validates, authorises and persists order without the warranty
// workflow. New orders get a number; a collision is retried once.
func (s *OrderService) SaveOrder(ctx context.Context, order Order) (SaveResult, error) {
	if err := ValidateOrder(order); err != nil {
		return SaveResult{}, err
	}
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderSave); err != nil {
		return SaveResult{}, err
	}
	return s.persist(ctx, order)
}

// GetOrder loads one order.
func (s *OrderService) GetOrder(ctx context.Context, id string) (Order, error) {
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderView); err != nil {
		return Order{}, err
	}
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns orders matching filter, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderView); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListOrders(ctx, filter)
}

// CancelOrder soft-cancels an order, or deletes it when hard delete is on.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (CancelResult, error) {
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderCancel); err != nil {
		return CancelResult{}, err
	}
	var result CancelResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if s.hardDelete {
			result = CancelResult{Order: order, Deleted: true}
			return tx.DeleteOrder(ctx, id)
		}
		if order.Cancelled {
			result = CancelResult{Order: order}
			return nil
		}
		order.Cancelled = true
		text := "Order cancelled"
		if r := strings.TrimSpace(reason); r != "" {
			text += ": " + r
		}
		order.Append(s.autoEntry(ctx, text))
		order.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		result = CancelResult{Order: order}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	s.recordAudit(ctx, "ORDER_CANCEL", id, map[string]any{"deleted": result.Deleted, "reason": reason})
	return result, nil
}

func (s *OrderService) persist(ctx context.Context, order Order) (SaveResult, error) {
	if order.NCReport != "" {
		nc, err := NormalizeNC(order.NCReport)
		if err != nil {
			return SaveResult{}, err
		}
		order.NCReport = nc
	}
	if s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if err != nil {
			s.logger.Warn("order number lock unavailable", slog.Any("error", err))
		} else {
			defer release()
		}
	}

	saved, err := s.saveOnce(ctx, order, false)
	if err == nil {
		return SaveResult{Order: saved, FinalOrderNumber: saved.Number}, nil
	}
	if !errors.Is(err, ErrNumberCollision) {
		return SaveResult{}, err
	}
	s.metrics.NumberCollision()
	s.logger.Warn("order number collision, regenerating", slog.String("order_id", order.ID), slog.String("number", saved.Number))

	saved, err = s.saveOnce(ctx, order, true)
	if err != nil {
		if errors.Is(err, ErrNumberCollision) {
			s.metrics.NumberCollision()
			return SaveResult{}, fmt.Errorf("%w: retry also collided", err)
		}
		return SaveResult{}, err
	}
	s.logger.Info("order number regenerated", slog.String("order_id", saved.ID), slog.String("number", saved.Number))
	return SaveResult{Order: saved, NumberWasRegenerated: true, FinalOrderNumber: saved.Number}, nil
}

// saveOnce runs one insert-or-update transaction. On a collision the
// returned order carries the number that was attempted.
func (s *OrderService) saveOnce(ctx context.Context, order Order, regenerate bool) (Order, error) {
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.OrderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if exists {
			return s.updateOrder(ctx, tx, &order, now)
		}

		yy := now.Year() % 100
		max, err := tx.MaxSequence(ctx, yy)
		if err != nil {
			return err
		}
		next := NextSequence(max)
		if next > LastSequence {
			return fmt.Errorf("%w: %02d", ErrSequenceExhausted, yy)
		}
		if order.Number != "" && !regenerate {
			warehouse, numYY, seq, err := ParseOrderNumber(order.Number)
			if err != nil {
				return err
			}
			if warehouse != order.WarehouseCode || numYY != yy {
				return fmt.Errorf("%w: %s does not belong to %s/%02d", ErrInvalidOrderNumber, order.Number, order.WarehouseCode, yy)
			}
			switch {
			case seq < next:
				return fmt.Errorf("%w: %s already allocated", ErrNumberCollision, order.Number)
			case seq > next:
				return fmt.Errorf("%w: %s skips ahead of %04d", ErrInvalidOrderNumber, order.Number, next)
			}
		}
		order.Number = FormatOrderNumber(order.WarehouseCode, yy, next)
		for i := range order.Lines {
			order.Lines[i].OrderID = order.ID
		}
		order.Status = StatusPending
		order.CreatedAt = now
		order.UpdatedAt = now
		return tx.InsertOrder(ctx, order)
	})
	return order, err
}

// updateOrder rewrites an existing order inside tx. Lines may not drop below
// what was already received, and received lines may not be removed. The
// status is recomputed from the new lines.
func (s *OrderService) updateOrder(ctx context.Context, tx TxRepository, order *Order, now time.Time) error {
	current, err := tx.GetOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(order.History) < len(current.History) {
		return fmt.Errorf("%w: change history is append-only", ErrValidation)
	}
	order.Number = current.Number
	order.Status = current.Status
	order.CreatedAt = current.CreatedAt
	order.UpdatedAt = now
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
	}
	// The header update holds the order row, so receptions read below cannot
	// change until commit.
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return err
	}

	receptions, err := tx.ReceptionsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	received := TotalsByLine(receptions)
	kept := make(map[string]struct{}, len(order.Lines))
	for _, line := range order.Lines {
		if got := received[line.ID]; line.Quantity < got {
			return fmt.Errorf("%w: line %s has %d received, quantity %d", ErrExceedsShipped, line.ID, got, line.Quantity)
		}
		kept[line.ID] = struct{}{}
	}
	for _, line := range current.Lines {
		if _, ok := kept[line.ID]; ok {
			continue
		}
		if received[line.ID] > 0 {
			return fmt.Errorf("%w: %s", ErrLineHasReceptions, line.ID)
		}
		if err := tx.DeleteLine(ctx, order.ID, line.ID); err != nil {
			return err
		}
	}

	status, _, err := recomputeStatus(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	order.Status = status
	return nil
}

func (s *OrderService) discard(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.OrderExists(ctx, id)
		if err != nil || !exists {
			return err
		}
		deleted = true
		return tx.DeleteOrder(ctx, id)
	})
	return deleted, err
}

func (s *OrderService) supplier(ctx context.Context, id string) (catalog.Supplier, error) {
	sup, err := s.catalog.Supplier(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.Supplier{}, fmt.Errorf("%w: supplier %s", ErrNotFound, id)
		}
		return catalog.Supplier{}, err
	}
	return sup, nil
}

func (s *OrderService) autoEntry(ctx context.Context, text string) ChangeEntry {
	return ChangeEntry{At: s.now(), Author: actorLabel(ctx), Text: text, Automatic: true}
}

func (s *OrderService) recordAudit(ctx context.Context, action string, orderID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	actor, _ := shared.ActorFromContext(ctx)
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: action, Entity: "repair_order", EntityID: orderID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func actorLabel(ctx context.Context) string {
	actor, ok := shared.ActorFromContext(ctx)
	if !ok {
		return "system"
	}
	if actor.Name != "" {
		return actor.Name
	}
	return actor.ID
}

func validRegistrations(order Order) []string {
	var regs []string
	for _, reg := range order.Registrations() {
		if ValidRegistration(reg) {
			regs = append(regs, reg)
		}
	}
	return regs
}

type noopMetrics struct{}

func (noopMetrics) WarrantyDecision(string) {}
func (noopMetrics) NumberCollision() {}
