package repairs

import (
	"fmt"

	"github.com/odyssey-erp/repairdesk/internal/platform/httpx"
)

var (
	// ErrValidation indicates input rejected before persistence.
	ErrValidation = fmt.Errorf("repairs: %w", httpx.ErrValidation)
	// ErrNotFound indicates a missing order, line or reception.
	ErrNotFound = fmt.Errorf("repairs: %w", httpx.ErrNotFound)
	// ErrMaterialNotFound indicates a registration with no catalog entry.
	ErrMaterialNotFound = fmt.Errorf("repairs: material %w", httpx.ErrNotFound)
	// ErrNumberCollision indicates the order number was taken by another writer.
	ErrNumberCollision = fmt.Errorf("repairs: order number %w", httpx.ErrDuplicate)
	// ErrInvalidTransition indicates a workflow event not allowed in the current state.
	ErrInvalidTransition = fmt.Errorf("repairs: invalid workflow transition: %w", httpx.ErrConflict)
)

// Validation failures.
var (
	ErrMissingField         = fmt.Errorf("%w: missing required field", ErrValidation)
	ErrDateOrder            = fmt.Errorf("%w: dismantle date after shipment date", ErrValidation)
	ErrReceptionDateOrder   = fmt.Errorf("%w: date order", ErrValidation)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	ErrExceedsShipped       = fmt.Errorf("%w: exceeds shipped quantity", ErrValidation)
	ErrStateRequired        = fmt.Errorf("%w: state required to close line", ErrValidation)
	ErrInvalidState         = fmt.Errorf("%w: unknown reception state", ErrValidation)
	ErrInvalidRegistration  = fmt.Errorf("%w: registration must be 8 digits starting with 89", ErrValidation)
	ErrInvalidNC            = fmt.Errorf("%w: NC report must match INCM.YYYY.NNN", ErrValidation)
	ErrInvalidOrderNumber   = fmt.Errorf("%w: malformed order number", ErrValidation)
	ErrRejectionWithoutText = fmt.Errorf("%w: rejected warranty requires a reason", ErrValidation)
	ErrLineHasReceptions    = fmt.Errorf("%w: line with receptions cannot be removed", ErrValidation)
	ErrForeignLine          = fmt.Errorf("%w: line belongs to another order", ErrValidation)
	ErrSequenceExhausted    = fmt.Errorf("%w: yearly order sequence exhausted", ErrValidation)
)
