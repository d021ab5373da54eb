package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/repairdesk/internal/repairs"
)

const defaultReconcileBatch = 500

// StatusLedger recomputes the persisted status of a repair order.
type StatusLedger interface {
	ComputeOrderStatus(ctx context.Context, orderID string) (repairs.OrderStatus, error)
}

// PendingOrders lists orders still awaiting receptions.
type PendingOrders interface {
	PendingOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// RunMetrics records the outcome of a job run.
type RunMetrics interface {
	JobRun(task string, err error)
}

// ReconcileStatusJob re-derives order statuses so drift from out-of-band
// edits is repaired.
type ReconcileStatusJob struct {
	Ledger  StatusLedger
	Orders  PendingOrders
	Logger  *slog.Logger
	Metrics RunMetrics
	Batch   int
}

// NewReconcileStatusJob constructs the job handler.
func NewReconcileStatusJob(ledger StatusLedger, orders PendingOrders, logger *slog.Logger, metrics RunMetrics) *ReconcileStatusJob {
	return &ReconcileStatusJob{
		Ledger:  ledger,
		Orders:  orders,
		Logger:  logger,
		Metrics: metrics,
		Batch:   defaultReconcileBatch,
	}
}

// Handle executes the reconciliation task.
func (j *ReconcileStatusJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil || j.Orders == nil {
		return errors.New("reconcile status: dependencies not configured")
	}
	var payload ReconcileStatusPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("reconcile status: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	defer func() {
		if j.Metrics != nil {
			j.Metrics.JobRun(TaskReconcileStatus, err)
		}
	}()

	if payload.OrderID != "" {
		return j.reconcile(ctx, payload.OrderID)
	}

	ids, err := j.Orders.PendingOrderIDs(ctx, j.batch())
	if err != nil {
		j.log().Error("list pending orders", slog.Any("error", err))
		return err
	}
	var failed []error
	completed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.reconcile(ctx, id); err != nil {
			failed = append(failed, err)
			continue
		}
		completed++
	}
	j.log().Info("order statuses reconciled",
		slog.Int("orders", len(ids)),
		slog.Int("succeeded", completed),
		slog.Int("failed", len(failed)))
	return errors.Join(failed...)
}

func (j *ReconcileStatusJob) reconcile(ctx context.Context, orderID string) error {
	status, err := j.Ledger.ComputeOrderStatus(ctx, orderID)
	if errors.Is(err, repairs.ErrNotFound) {
		j.log().Warn("reconcile skipped missing order", slog.String("order_id", orderID))
		return nil
	}
	if err != nil {
		j.log().Error("reconcile order", slog.String("order_id", orderID), slog.Any("error", err))
		return fmt.Errorf("reconcile %s: %w", orderID, err)
	}
	j.log().Debug("order status reconciled", slog.String("order_id", orderID), slog.String("status", string(status)))
	return nil
}

func (j *ReconcileStatusJob) batch() int {
	if j.Batch <= 0 {
		return defaultReconcileBatch
	}
	return j.Batch
}

func (j *ReconcileStatusJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
