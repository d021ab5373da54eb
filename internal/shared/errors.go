package shared

import (
	"fmt"

	"github.com/odyssey-erp/repairdesk/internal/platform/httpx"
)

var (
	// ErrForbidden indicates the actor lacks a required permission.
	ErrForbidden = fmt.Errorf("shared: %w", httpx.ErrForbidden)
	// ErrNoActor indicates the request carried no actor identity.
	ErrNoActor = fmt.Errorf("shared: actor missing: %w", httpx.ErrUnauthorized)
)
