package repairs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type lineRequest struct {
	ID           string `json:"id"`
	Registration string `json:"registration" validate:"required"`
	Quantity     int    `json:"quantity" validate:"min=1"`
	SerialNumber string `json:"serial_number"`
}

// orderRequest carries an order draft. Missing ids are generated; clients
// that retry a save must resend the id they got back.
type orderRequest struct {
	ID             string        `json:"id"`
	Number         string        `json:"order_number"`
	WarehouseCode  string        `json:"warehouse" validate:"required,excludesall=/"`
	SupplierID     string        `json:"supplier_id" validate:"required"`
	Vehicle        string        `json:"vehicle"`
	Warranty       bool          `json:"warranty"`
	NCReport       string        `json:"nc_report"`
	DismantleDate  string        `json:"dismantle_date" validate:"omitempty,datetime=2006-01-02"`
	ShipmentDate   string        `json:"shipment_date" validate:"required,datetime=2006-01-02"`
	DeclaredDamage string        `json:"declared_damage"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
	History        []ChangeEntry `json:"history"`
	Cancelled      bool          `json:"cancelled"`
}

type workflowRequest struct {
	Order     orderRequest `json:"order"`
	Decisions []string     `json:"decisions"`
}

type workflowResponse struct {
	State          State                 `json:"state"`
	Order          Order                 `json:"order"`
	History        []WarrantyHistoryInfo `json:"history"`
	CanProceed     bool                  `json:"can_proceed"`
	WarrantyLocked bool                  `json:"warranty_locked"`
	Result         *SaveResult           `json:"result,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type checkWarrantyResponse struct {
	History    []WarrantyHistoryInfo `json:"history"`
	CanProceed bool                  `json:"can_proceed"`
}

type orderResponse struct {
	Order    Order          `json:"order"`
	Progress []LineProgress `json:"progress"`
}

type receptionRequest struct {
	ID                 string `json:"id"`
	ReceptionDate      string `json:"reception_date" validate:"required,datetime=2006-01-02"`
	State              string `json:"reception_state" validate:"omitempty,oneof=UTIL IRREPARABLE SIN_ACTUACION OTROS"`
	Quantity           int    `json:"quantity_received"`
	SerialNumber       string `json:"serial_number"`
	Observations       string `json:"observations"`
	Warranty           string `json:"warranty" validate:"omitempty,oneof=accepted rejected"`
	RejectionReason    string `json:"rejection_reason"`
	ReceivingWarehouse string `json:"receiving_warehouse"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// toOrder resolves every line through the catalog so descriptions are
// copied from the material at creation time.
func (req orderRequest) toOrder(ctx context.Context, svc *OrderService) (Order, error) {
	shipment, err := parseDate(req.ShipmentDate)
	if err != nil {
		return Order{}, err
	}
	var dismantle time.Time
	if req.DismantleDate != "" {
		if dismantle, err = parseDate(req.DismantleDate); err != nil {
			return Order{}, err
		}
	}
	order := Order{
		ID:             idOrNew(req.ID),
		Number:         strings.TrimSpace(req.Number),
		WarehouseCode:  strings.TrimSpace(req.WarehouseCode),
		SupplierID:     req.SupplierID,
		Vehicle:        req.Vehicle,
		Warranty:       req.Warranty,
		NCReport:       strings.TrimSpace(req.NCReport),
		DismantleDate:  dismantle,
		ShipmentDate:   shipment,
		DeclaredDamage: req.DeclaredDamage,
		History:        req.History,
		Cancelled:      req.Cancelled,
	}
	for _, l := range req.Lines {
		line, err := svc.BuildLine(ctx, idOrNew(l.ID), l.Registration, l.Quantity, l.SerialNumber)
		if err != nil {
			return Order{}, fmt.Errorf("line %s: %w", l.Registration, err)
		}
		line.OrderID = order.ID
		order.Lines = append(order.Lines, line)
	}
	return order, nil
}

func (req receptionRequest) toInput(lineID string) (ReceptionInput, error) {
	received, err := parseDate(req.ReceptionDate)
	if err != nil {
		return ReceptionInput{}, err
	}
	in := ReceptionInput{
		ID:                 idOrNew(req.ID),
		LineID:             lineID,
		ReceivedAt:         received,
		State:              ReceptionState(req.State),
		Quantity:           req.Quantity,
		SerialNumber:       req.SerialNumber,
		Observations:       req.Observations,
		Warranty:           Unevaluated(),
		ReceivingWarehouse: req.ReceivingWarehouse,
	}
	switch req.Warranty {
	case "accepted":
		in.Warranty = Accepted()
	case "rejected":
		in.Warranty = Rejected(strings.TrimSpace(req.RejectionReason))
	}
	return in, nil
}

func newWorkflowResponse(w *Workflow) workflowResponse {
	resp := workflowResponse{
		State:          w.State(),
		Order:          w.Order(),
		History:        w.History(),
		CanProceed:     w.CanProceed(),
		WarrantyLocked: w.WarrantyLocked(),
	}
	if res, ok := w.Result(); ok {
		resp.Result = &res
	}
	return resp
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrValidation, v)
	}
	return t, nil
}

func idOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}
