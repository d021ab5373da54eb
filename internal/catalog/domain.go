// Package catalog resolves suppliers and materials referenced by repair orders.
package catalog

import (
	"fmt"

	"github.com/odyssey-erp/repairdesk/internal/platform/httpx"
)

// Supplier is a repair destination. Internal suppliers are other sites of the
// same company and are exempt from warranty rules.
type Supplier struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	External bool   `json:"is_external"`
}

// Material is a catalog entry keyed by its 8 digit registration.
type Material struct {
	Registration  string `json:"registration"`
	Description   string `json:"description"`
	VehicleSeries string `json:"vehicle_series"`
}

// ErrNotFound indicates the supplier or material does not exist.
var ErrNotFound = fmt.Errorf("catalog: %w", httpx.ErrNotFound)
