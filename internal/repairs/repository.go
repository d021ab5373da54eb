package repairs

import (
	"context"
	"time"
)

// Repository describes the persistence operations used by the package.
type Repository interface {
	HistoryStore
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	PendingOrderIDs(ctx context.Context, limit int) ([]string, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	OrderExists(ctx context.Context, id string) (bool, error)
	// LockLine locks a line and its order until the transaction ends.
	LockLine(ctx context.Context, lineID string) (LockedLine, error)
	ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error)
	ReceptionsByOrder(ctx context.Context, orderID string) ([]Reception, error)
	GetReception(ctx context.Context, id string) (Reception, error)
	InsertReception(ctx context.Context, rec Reception) error
	DeleteReception(ctx context.Context, id string) error
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
	// MaxSequence returns the highest sequence used in year yy, zero if none.
	MaxSequence(ctx context.Context, yy int) (int, error)
	// InsertOrder fails with ErrNumberCollision when the number is taken.
	InsertOrder(ctx context.Context, order Order) error
	// UpdateOrder rewrites the header and upserts the given lines. A line id
	// owned by another order fails with ErrForeignLine.
	UpdateOrder(ctx context.Context, order Order) error
	// DeleteLine removes a line of orderID. Its receptions go with it.
	DeleteLine(ctx context.Context, orderID, lineID string) error
	DeleteOrder(ctx context.Context, id string) error
}

// LockedLine is a line together with the shipment date of its order.
type LockedLine struct {
	Line
	ShipmentDate time.Time
}
