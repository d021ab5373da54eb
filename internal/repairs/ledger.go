package repairs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/repairdesk/internal/shared"
)

// StatusHook is notified after a reception mutation changed an order's
// completion status. The reconcile job client satisfies it.
type StatusHook interface {
	OrderStatusChanged(ctx context.Context, orderID string, status OrderStatus) error
}

// ReceptionInput describes one receipt recorded by warehouse staff.
type ReceptionInput struct {
	ID                 string
	LineID             string
	ReceivedAt         time.Time
	State              ReceptionState
	Quantity           int
	SerialNumber       string
	Observations       string
	Warranty           WarrantyVerdict
	ReceivingWarehouse string
}

// Ledger records receptions against order lines and keeps order status in
// step with them. Line totals are never stored; they are summed from the
// receptions inside the same transaction as every mutation.
type Ledger struct {
	repo   Repository
	authz  Authorizer
	hook   StatusHook
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger constructs a Ledger. hook may be nil.
func NewLedger(repo Repository, authz Authorizer, hook StatusHook, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, authz: authz, hook: hook, logger: logger, now: time.Now}
}

// StatusOf returns COMPLETADO when every line has received at least its
// shipped quantity.
func StatusOf(lines []Line, totals map[string]int) OrderStatus {
	for _, line := range lines {
		if totals[line.ID] < line.Quantity {
			return StatusPending
		}
	}
	return StatusCompleted
}

// TotalsByLine sums received quantities per line.
func TotalsByLine(receptions []Reception) map[string]int {
	totals := make(map[string]int)
	for _, r := range receptions {
		totals[r.LineID] += r.Quantity
	}
	return totals
}

// CheckReception applies the reception rules to a line with the given
// already-received total.
func CheckReception(line LockedLine, received int, in ReceptionInput) error {
	if in.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: reception date", ErrMissingField)
	}
	if dateOnly(in.ReceivedAt).Before(dateOnly(line.ShipmentDate)) {
		return ErrReceptionDateOrder
	}
	if in.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if received+in.Quantity > line.Quantity {
		return fmt.Errorf("%w: %d received, %d remaining", ErrExceedsShipped, received, line.Quantity-received)
	}
	if !in.State.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, in.State)
	}
	if in.State == ReceptionNone && received+in.Quantity >= line.Quantity {
		return ErrStateRequired
	}
	if in.Warranty.Kind == VerdictRejected && strings.TrimSpace(in.Warranty.Reason) == "" {
		return ErrRejectionWithoutText
	}
	return nil
}

// RecordReception validates and stores a reception, then recomputes the
// owning order's status. Nothing is written when validation fails.
func (l *Ledger) RecordReception(ctx context.Context, in ReceptionInput) (Reception, error) {
	if err := l.authz.Authorize(ctx, shared.PermReceptionRecord); err != nil {
		return Reception{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.LineID) == "" {
		return Reception{}, fmt.Errorf("%w: reception id and line id", ErrMissingField)
	}
	if in.Warranty.Kind == "" {
		in.Warranty = Unevaluated()
	}
	if in.Warranty.Kind != VerdictRejected {
		in.Warranty.Reason = ""
	}

	var (
		saved   Reception
		status  OrderStatus
		changed bool
	)
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, err := tx.LockLine(ctx, in.LineID)
		if err != nil {
			return err
		}
		existing, err := tx.ReceptionsByLine(ctx, in.LineID)
		if err != nil {
			return err
		}
		if err := CheckReception(line, TotalsByLine(existing)[line.ID], in); err != nil {
			return err
		}
		saved = Reception{
			ID:                 in.ID,
			OrderID:            line.OrderID,
			LineID:             line.ID,
			ReceivedAt:         in.ReceivedAt,
			State:              in.State,
			Quantity:           in.Quantity,
			SerialNumber:       in.SerialNumber,
			Observations:       in.Observations,
			Warranty:           in.Warranty,
			ReceivingWarehouse: in.ReceivingWarehouse,
			CreatedAt:          l.now(),
		}
		if err := tx.InsertReception(ctx, saved); err != nil {
			return err
		}
		status, changed, err = recomputeStatus(ctx, tx, line.OrderID)
		return err
	})
	if err != nil {
		return Reception{}, err
	}
	l.logger.Info("reception recorded",
		slog.String("reception_id", saved.ID),
		slog.String("order_id", saved.OrderID),
		slog.Int("quantity", saved.Quantity),
		slog.String("status", string(status)))
	l.notify(ctx, saved.OrderID, status, changed)
	return saved, nil
}

// DeleteReception removes a reception and recomputes the order's status. A
// line becoming incomplete again is expected.
func (l *Ledger) DeleteReception(ctx context.Context, id string) error {
	if err := l.authz.Authorize(ctx, shared.PermReceptionDelete); err != nil {
		return err
	}
	var (
		orderID string
		status  OrderStatus
		changed bool
	)
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetReception(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockLine(ctx, rec.LineID); err != nil {
			return err
		}
		if err := tx.DeleteReception(ctx, id); err != nil {
			return err
		}
		orderID = rec.OrderID
		status, changed, err = recomputeStatus(ctx, tx, rec.OrderID)
		return err
	})
	if err != nil {
		return err
	}
	l.logger.Info("reception deleted", slog.String("reception_id", id), slog.String("order_id", orderID), slog.String("status", string(status)))
	l.notify(ctx, orderID, status, changed)
	return nil
}

// ComputeOrderStatus recomputes and persists the status of an order from its
// receptions. Calling it repeatedly yields the same result.
func (l *Ledger) ComputeOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	var status OrderStatus
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		status, _, err = recomputeStatus(ctx, tx, orderID)
		return err
	})
	return status, err
}

// Receptions lists the receptions of a line.
func (l *Ledger) Receptions(ctx context.Context, lineID string) ([]Reception, error) {
	if err := l.authz.Authorize(ctx, shared.PermReceptionView); err != nil {
		return nil, err
	}
	return l.repo.ReceptionsByLine(ctx, lineID)
}

// Progress derives the received total of every line of order.
func (l *Ledger) Progress(ctx context.Context, order Order) ([]LineProgress, error) {
	out := make([]LineProgress, 0, len(order.Lines))
	for _, line := range order.Lines {
		receptions, err := l.repo.ReceptionsByLine(ctx, line.ID)
		if err != nil {
			return nil, err
		}
		total := TotalsByLine(receptions)[line.ID]
		out = append(out, LineProgress{Line: line, TotalReceived: total, Complete: total >= line.Quantity})
	}
	return out, nil
}

func (l *Ledger) notify(ctx context.Context, orderID string, status OrderStatus, changed bool) {
	if l.hook == nil || !changed {
		return
	}
	if err := l.hook.OrderStatusChanged(ctx, orderID, status); err != nil {
		l.logger.Warn("status hook failed", slog.String("order_id", orderID), slog.Any("error", err))
	}
}

func recomputeStatus(ctx context.Context, tx TxRepository, orderID string) (OrderStatus, bool, error) {
	order, err := tx.GetOrder(ctx, orderID)
	if err != nil {
		return "", false, err
	}
	receptions, err := tx.ReceptionsByOrder(ctx, orderID)
	if err != nil {
		return "", false, err
	}
	status := StatusOf(order.Lines, TotalsByLine(receptions))
	if status == order.Status {
		return status, false, nil
	}
	if err := tx.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return "", false, err
	}
	return status, true, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
