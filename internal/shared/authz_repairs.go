package shared

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Repair order permissions.
const (
	PermRepairOrderView   = "repairs.order.view"
	PermRepairOrderSave   = "repairs.order.save"
	PermRepairOrderCancel = "repairs.order.cancel"
	PermReceptionView     = "repairs.reception.view"
	PermReceptionRecord   = "repairs.reception.record"
	PermReceptionDelete   = "repairs.reception.delete"
)

// Roles known to the service.
const (
	RoleAdmin     = "admin"
	RoleWarehouse = "warehouse"
	RoleViewer    = "viewer"
)

// Actor identity headers set by the gateway.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

// RepairScopes lists all permissions related to the repairs module.
func RepairScopes() []string {
	return []string{
		PermRepairOrderView,
		PermRepairOrderSave,
		PermRepairOrderCancel,
		PermReceptionView,
		PermReceptionRecord,
		PermReceptionDelete,
	}
}

// RolePermissions grants permissions per role.
type RolePermissions map[string][]string

// DefaultRolePermissions is the built-in grant table.
func DefaultRolePermissions() RolePermissions {
	return RolePermissions{
		RoleAdmin:     RepairScopes(),
		RoleWarehouse: {PermRepairOrderView, PermRepairOrderSave, PermReceptionView, PermReceptionRecord, PermReceptionDelete},
		RoleViewer:    {PermRepairOrderView, PermReceptionView},
	}
}

// Authorize checks the context actor holds perm.
func (p RolePermissions) Authorize(ctx context.Context, perm string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return ErrNoActor
	}
	for _, granted := range p[strings.ToLower(actor.Role)] {
		if granted == perm {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires %s", ErrForbidden, actor.ID, perm)
}

// ActorMiddleware loads the gateway-asserted actor into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor := Actor{
			ID:   id,
			Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
			Role: strings.TrimSpace(r.Header.Get(HeaderActorRole)),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}
