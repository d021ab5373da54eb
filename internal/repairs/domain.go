// Package repairs tracks materials sent to suppliers for repair: orders and
// their lines, reception of repaired units, and the warranty duplicate rules
// that gate every new external shipment.
package repairs

import (
	"time"
)

// OrderStatus is the reception completion state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDIENTE"
	StatusCompleted OrderStatus = "COMPLETADO"
)

// ReceptionState is the verdict recorded when a unit comes back.
type ReceptionState string

const (
	ReceptionNone        ReceptionState = ""
	ReceptionUseful      ReceptionState = "UTIL"
	ReceptionIrreparable ReceptionState = "IRREPARABLE"
	ReceptionNoAction    ReceptionState = "SIN_ACTUACION"
	ReceptionOther       ReceptionState = "OTROS"
)

// IsValid reports whether s is a known state. The empty state is valid and
// means no verdict was given.
func (s ReceptionState) IsValid() bool {
	switch s {
	case ReceptionNone, ReceptionUseful, ReceptionIrreparable, ReceptionNoAction, ReceptionOther:
		return true
	default:
		return false
	}
}

// VerdictKind tags the warranty evaluation of a reception.
type VerdictKind string

const (
	VerdictUnevaluated VerdictKind = "UNEVALUATED"
	VerdictAccepted    VerdictKind = "ACCEPTED"
	VerdictRejected    VerdictKind = "REJECTED"
)

// WarrantyVerdict is the supplier's answer to a warranty claim. Reason is only
// set for rejections.
type WarrantyVerdict struct {
	Kind   VerdictKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Unevaluated returns the verdict of a reception nobody has judged yet.
func Unevaluated() WarrantyVerdict { return WarrantyVerdict{Kind: VerdictUnevaluated} }

// Accepted returns an accepted verdict.
func Accepted() WarrantyVerdict { return WarrantyVerdict{Kind: VerdictAccepted} }

// Rejected returns a rejected verdict carrying reason.
func Rejected(reason string) WarrantyVerdict {
	return WarrantyVerdict{Kind: VerdictRejected, Reason: reason}
}

// ChangeEntry is one append-only comment on an order.
type ChangeEntry struct {
	At        time.Time `json:"at"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Automatic bool      `json:"automatic"`
}

// Order is one outbound shipment of materials to a supplier.
type Order struct {
	ID                  string        `json:"id"`
	Number              string        `json:"order_number"`
	WarehouseCode       string        `json:"warehouse"`
	SupplierID          string        `json:"supplier_id"`
	Vehicle             string        `json:"vehicle"`
	Warranty            bool          `json:"warranty"`
	NCReport            string        `json:"nc_report"`
	DismantleDate       time.Time     `json:"dismantle_date"`
	ShipmentDate        time.Time     `json:"shipment_date"`
	DeclaredDamage      string        `json:"declared_damage"`
	Lines               []Line        `json:"lines"`
	History             []ChangeEntry `json:"history"`
	Cancelled           bool          `json:"cancelled"`
	SentWithoutWarranty bool          `json:"sent_without_warranty"`
	Status              OrderStatus   `json:"status"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Registrations returns the distinct line registrations in line order.
func (o Order) Registrations() []string {
	seen := make(map[string]struct{}, len(o.Lines))
	regs := make([]string, 0, len(o.Lines))
	for _, line := range o.Lines {
		if line.Registration == "" {
			continue
		}
		if _, ok := seen[line.Registration]; ok {
			continue
		}
		seen[line.Registration] = struct{}{}
		regs = append(regs, line.Registration)
	}
	return regs
}

// Append adds a change entry.
func (o *Order) Append(entry ChangeEntry) {
	o.History = append(o.History, entry)
}

// Line is one material within an order.
type Line struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	Registration    string `json:"registration"`
	PartDescription string `json:"part_description"`
	Quantity        int    `json:"quantity"`
	SerialNumber    string `json:"serial_number"`
}

// Reception is one receipt event against a line.
type Reception struct {
	ID                 string          `json:"id"`
	OrderID            string          `json:"order_id"`
	LineID             string          `json:"line_id"`
	ReceivedAt         time.Time       `json:"reception_date"`
	State              ReceptionState  `json:"reception_state"`
	Quantity           int             `json:"quantity_received"`
	SerialNumber       string          `json:"serial_number"`
	Observations       string          `json:"observations"`
	Warranty           WarrantyVerdict `json:"warranty"`
	ReceivingWarehouse string          `json:"receiving_warehouse"`
	CreatedAt          time.Time       `json:"created_at"`
}

// LineProgress is a line with its received total derived from receptions.
type LineProgress struct {
	Line
	TotalReceived int  `json:"total_received"`
	Complete      bool `json:"complete"`
}

// PriorShipment is a historical line of the same material sent to the same
// supplier, as returned by the repository.
type PriorShipment struct {
	OrderID     string
	OrderNumber string
	Warehouse   string
	LineID      string
	SentAt      time.Time
}

// HistoryEntry classifies one prior shipment.
type HistoryEntry struct {
	OrderID          string          `json:"order_id"`
	OrderNumber      string          `json:"order_number"`
	Warehouse        string          `json:"warehouse"`
	SendDate         time.Time       `json:"send_date"`
	ReceptionDate    *time.Time      `json:"reception_date,omitempty"`
	PendingReception bool            `json:"is_pending_reception"`
	Irreparable      bool            `json:"is_irreparable"`
	Warranty         WarrantyVerdict `json:"warranty"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
}

// Blocking reports whether the entry forbids a new warranty shipment.
func (e HistoryEntry) Blocking() bool {
	return e.PendingReception || e.Irreparable
}

// WarrantyHistoryInfo groups the history of one material.
type WarrantyHistoryInfo struct {
	Registration        string         `json:"registration"`
	Entries             []HistoryEntry `json:"entries"`
	CanSendWithWarranty bool           `json:"can_send_with_warranty"`
	BlockingReason      string         `json:"blocking_reason,omitempty"`
}

// CanProceed is the conjunction of CanSendWithWarranty over infos. An empty
// result means no duplicate risk.
func CanProceed(infos []WarrantyHistoryInfo) bool {
	for _, info := range infos {
		if !info.CanSendWithWarranty {
			return false
		}
	}
	return true
}

// ListFilter narrows order listings.
type ListFilter struct {
	WarehouseCode string
	SupplierID    string
	Status        OrderStatus
	Year          int
	Limit         int
	Offset        int
}
