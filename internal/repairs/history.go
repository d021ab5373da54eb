package repairs

import (
	"context"
	"fmt"
	"sort"
)

// HistoryStore is the read side the resolver needs.
type HistoryStore interface {
	PriorShipments(ctx context.Context, registration, supplierID, excludeOrderID string) ([]PriorShipment, error)
	ReceptionsByLine(ctx context.Context, lineID string) ([]Reception, error)
}

// Resolver finds earlier shipments of the same materials to the same supplier
// and decides whether a new warranty shipment is allowed.
type Resolver struct {
	store HistoryStore
}

// NewResolver constructs a Resolver.
func NewResolver(store HistoryStore) *Resolver {
	return &Resolver{store: store}
}

// CheckWarrantyStatus returns one entry per registration that has history.
// Registrations without prior shipments are omitted, so an empty result means
// there is no duplicate risk.
func (r *Resolver) CheckWarrantyStatus(ctx context.Context, registrations []string, supplierID, excludeOrderID string) ([]WarrantyHistoryInfo, error) {
	seen := make(map[string]struct{}, len(registrations))
	var out []WarrantyHistoryInfo
	for _, reg := range registrations {
		if reg == "" {
			continue
		}
		if _, ok := seen[reg]; ok {
			continue
		}
		seen[reg] = struct{}{}

		shipments, err := r.store.PriorShipments(ctx, reg, supplierID, excludeOrderID)
		if err != nil {
			return nil, fmt.Errorf("repairs: prior shipments of %s: %w", reg, err)
		}
		if len(shipments) == 0 {
			continue
		}
		entries := make([]HistoryEntry, 0, len(shipments))
		for _, shipment := range shipments {
			receptions, err := r.store.ReceptionsByLine(ctx, shipment.LineID)
			if err != nil {
				return nil, fmt.Errorf("repairs: receptions of line %s: %w", shipment.LineID, err)
			}
			entries = append(entries, Classify(shipment, receptions))
		}
		out = append(out, summarize(reg, entries))
	}
	return out, nil
}

// Classify turns one prior shipment and its receptions into a history entry.
// No receptions means the outcome is unknown and the entry is pending. Any
// irreparable reception marks the unit irreparable for good, whatever came
// after it.
func Classify(shipment PriorShipment, receptions []Reception) HistoryEntry {
	entry := HistoryEntry{
		OrderID:     shipment.OrderID,
		OrderNumber: shipment.OrderNumber,
		Warehouse:   shipment.Warehouse,
		SendDate:    shipment.SentAt,
		Warranty:    Unevaluated(),
	}
	if len(receptions) == 0 {
		entry.PendingReception = true
		return entry
	}

	sorted := make([]Reception, len(receptions))
	copy(sorted, receptions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt) })

	latest := sorted[len(sorted)-1]
	received := latest.ReceivedAt
	entry.ReceptionDate = &received
	entry.Warranty = latest.Warranty

	for _, rec := range sorted {
		if rec.State == ReceptionIrreparable {
			entry.Irreparable = true
		}
		if rec.Warranty.Kind == VerdictRejected && entry.RejectionReason == "" {
			entry.Warranty = rec.Warranty
			entry.RejectionReason = rec.Warranty.Reason
		}
	}
	if entry.Warranty.Kind == "" {
		entry.Warranty = Unevaluated()
	}
	return entry
}

func summarize(reg string, entries []HistoryEntry) WarrantyHistoryInfo {
	info := WarrantyHistoryInfo{Registration: reg, Entries: entries, CanSendWithWarranty: true}
	for _, entry := range entries {
		if !entry.Blocking() {
			continue
		}
		info.CanSendWithWarranty = false
		info.BlockingReason = blockingReason(entry)
		break
	}
	return info
}

func blockingReason(entry HistoryEntry) string {
	if entry.PendingReception {
		return fmt.Sprintf("order %s (warehouse %s) has not been received back yet; its warranty outcome is unknown", entry.OrderNumber, entry.Warehouse)
	}
	return fmt.Sprintf("order %s (warehouse %s) was received as irreparable; no further warranty claim is possible", entry.OrderNumber, entry.Warehouse)
}
