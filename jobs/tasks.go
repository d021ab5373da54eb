package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileStatus recomputes repair order statuses from their receptions.
	TaskReconcileStatus = "repairs:reconcile-status"
)

// reconcileUniqueTTL collapses repeated enqueues for the same order.
const reconcileUniqueTTL = time.Minute

// ReconcileStatusPayload scopes a reconciliation run. An empty OrderID sweeps
// every pending order.
type ReconcileStatusPayload struct {
	OrderID string `json:"order_id,omitempty"`
}

// NewReconcileStatusTask constructs an Asynq task for one order or, when
// orderID is empty, for all pending orders.
func NewReconcileStatusTask(orderID string) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcileStatusPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileStatus, data, asynq.Queue(QueueDefault)), nil
}
