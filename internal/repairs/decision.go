package repairs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/repairdesk/internal/catalog"
	"github.com/odyssey-erp/repairdesk/internal/shared"
)

// Decision outcomes reported to MetricsPort.
const (
	OutcomeBlocked     = "blocked"
	OutcomeAccepted    = "accepted"
	OutcomeDeclined    = "declined"
	OutcomeDismissed   = "dismissed"
	OutcomeNCAbandoned = "nc_abandoned"
)

// Workflow is one save attempt walking the warranty decision states. It is
// not safe for concurrent use; each attempt gets its own value.
type Workflow struct {
	svc        *OrderService
	state      State
	prior      State
	order      Order
	supplier   catalog.Supplier
	history    []WarrantyHistoryInfo
	canProceed bool
	locked     bool
	result     *SaveResult
}

// Begin validates and authorises order, then either saves it directly or
// runs the duplicate check and stops at the first state that needs a user
// decision. A blocked history ends the attempt without saving.
func (s *OrderService) Begin(ctx context.Context, order Order) (*Workflow, error) {
	if err := ValidateOrder(order); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, shared.PermRepairOrderSave); err != nil {
		return nil, err
	}
	supplier, err := s.supplier(ctx, order.SupplierID)
	if err != nil {
		return nil, err
	}

	w := &Workflow{svc: s, state: StateIdle, order: order, supplier: supplier, canProceed: true}
	eligible := NeedsWarrantyCheck(order, supplier)
	if err := w.fire(Event{Kind: EventSave, Eligible: eligible}); err != nil {
		return nil, err
	}
	if !eligible {
		return w, w.save(ctx)
	}

	history, err := s.resolver.CheckWarrantyStatus(ctx, validRegistrations(order), order.SupplierID, order.ID)
	if err != nil {
		return nil, err
	}
	w.history = history
	w.canProceed = CanProceed(history)
	if err := w.fire(Event{Kind: EventHistoryResolved, HasHistory: len(history) > 0}); err != nil {
		return nil, err
	}
	if w.state == StateHistoryReview && !w.canProceed {
		if err := w.fire(Event{Kind: EventBlock}); err != nil {
			return nil, err
		}
		s.metrics.WarrantyDecision(OutcomeBlocked)
		s.recordAudit(ctx, "WARRANTY_BLOCKED", order.ID, map[string]any{"reasons": w.blockingReasons()})
		s.logger.Info("warranty shipment blocked", slog.String("order_id", order.ID), slog.String("supplier_id", order.SupplierID))
	}
	return w, nil
}

// State returns the current state.
func (w *Workflow) State() State { return w.state }

// Order returns the order as modified by the decisions so far.
func (w *Workflow) Order() Order { return w.order }

// History returns the resolver result.
func (w *Workflow) History() []WarrantyHistoryInfo { return w.history }

// CanProceed reports whether the history allows continuing.
func (w *Workflow) CanProceed() bool { return w.canProceed }

// WarrantyLocked reports whether the warranty flag can no longer be edited.
func (w *Workflow) WarrantyLocked() bool { return w.locked }

// Result returns the persistence outcome once the order is saved.
func (w *Workflow) Result() (SaveResult, bool) {
	if w.result == nil {
		return SaveResult{}, false
	}
	return *w.result, true
}

// Continue moves from history review to confirmation.
func (w *Workflow) Continue(ctx context.Context) error {
	return w.fire(Event{Kind: EventContinue, CanProceed: w.canProceed})
}

// Dismiss closes the dialog without saving. It is refused while an NC report
// is required.
func (w *Workflow) Dismiss(ctx context.Context) error {
	if err := w.fire(Event{Kind: EventDismiss}); err != nil {
		return err
	}
	w.svc.metrics.WarrantyDecision(OutcomeDismissed)
	return nil
}

// Accept confirms the warranty claim. The warranty flag is set and locked
// at once; the order is saved unless an NC report is still missing.
func (w *Workflow) Accept(ctx context.Context) error {
	if err := w.fire(Event{Kind: EventAccept}); err != nil {
		return err
	}
	w.order.Warranty = true
	w.order.SentWithoutWarranty = false
	w.locked = true
	w.svc.metrics.WarrantyDecision(OutcomeAccepted)

	hasNC := strings.TrimSpace(w.order.NCReport) != ""
	if err := w.fire(Event{Kind: EventLockApplied, HasNC: hasNC}); err != nil {
		return err
	}
	if w.state == StateSaving {
		return w.save(ctx)
	}
	return nil
}

// Decline sends the order without warranty and records which earlier orders
// were offered. A second decline is rejected by the state machine.
func (w *Workflow) Decline(ctx context.Context) error {
	if err := w.fire(Event{Kind: EventDecline}); err != nil {
		return err
	}
	w.order.Warranty = false
	w.order.SentWithoutWarranty = true
	w.order.Append(w.svc.autoEntry(ctx, declineComment(w.history)))
	w.svc.metrics.WarrantyDecision(OutcomeDeclined)
	w.svc.recordAudit(ctx, "WARRANTY_DECLINED", w.order.ID, map[string]any{"prior_orders": priorOrderNumbers(w.history)})

	if err := w.fire(Event{Kind: EventProceed}); err != nil {
		return err
	}
	return w.save(ctx)
}

// SubmitNC validates and stores the NC report. A malformed value leaves the
// workflow waiting for another submission.
func (w *Workflow) SubmitNC(ctx context.Context, raw string) error {
	if w.state != StateNCRequired {
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, EventSubmitNC, w.state)
	}
	nc, err := NormalizeNC(raw)
	if ferr := w.fire(Event{Kind: EventSubmitNC, Valid: err == nil}); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	w.order.NCReport = nc
	w.order.Append(w.svc.autoEntry(ctx, fmt.Sprintf("Warranty claim registered with NC report %s", nc)))
	return nil
}

// Acknowledge closes the post-NC notice and saves the order.
func (w *Workflow) Acknowledge(ctx context.Context) error {
	if err := w.fire(Event{Kind: EventAcknowledge}); err != nil {
		return err
	}
	return w.save(ctx)
}

// NCNotOpened abandons the claim because no NC report exists. An order
// already in storage is deleted, since it cannot keep a warranty without one.
func (w *Workflow) NCNotOpened(ctx context.Context) error {
	if err := w.fire(Event{Kind: EventNCNotOpened}); err != nil {
		return err
	}
	w.svc.metrics.WarrantyDecision(OutcomeNCAbandoned)
	deleted, err := w.svc.discard(ctx, w.order.ID)
	if err != nil {
		return err
	}
	w.svc.recordAudit(ctx, "WARRANTY_NC_NOT_OPENED", w.order.ID, map[string]any{"deleted": deleted})
	return nil
}

// Retry re-attempts a save that failed.
func (w *Workflow) Retry(ctx context.Context) error {
	var ev Event
	switch w.state {
	case StateIdle:
		ev = Event{Kind: EventSave}
	case StateLocked:
		ev = Event{Kind: EventLockApplied, HasNC: true}
	case StateNCAcknowledge:
		ev = Event{Kind: EventAcknowledge}
	case StateDeclined:
		ev = Event{Kind: EventProceed}
	default:
		return fmt.Errorf("%w: retry in %s", ErrInvalidTransition, w.state)
	}
	if err := w.fire(ev); err != nil {
		return err
	}
	return w.save(ctx)
}

// Apply maps a decision keyword to its method: continue, dismiss, accept,
// decline, nc:<report>, ack, nc_not_opened or retry.
func (w *Workflow) Apply(ctx context.Context, decision string) error {
	keyword, arg, _ := strings.Cut(strings.TrimSpace(decision), ":")
	switch strings.ToLower(keyword) {
	case "continue":
		return w.Continue(ctx)
	case "dismiss":
		return w.Dismiss(ctx)
	case "accept":
		return w.Accept(ctx)
	case "decline":
		return w.Decline(ctx)
	case "nc":
		return w.SubmitNC(ctx, arg)
	case "ack":
		return w.Acknowledge(ctx)
	case "nc_not_opened":
		return w.NCNotOpened(ctx)
	case "retry":
		return w.Retry(ctx)
	default:
		return fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}
}

func (w *Workflow) fire(ev Event) error {
	next, err := Transition(w.state, ev)
	if err != nil {
		return err
	}
	w.prior, w.state = w.state, next
	return nil
}

func (w *Workflow) save(ctx context.Context) error {
	res, err := w.svc.persist(ctx, w.order)
	if err != nil {
		if ferr := w.fire(Event{Kind: EventSaveFailed, Prior: w.prior}); ferr != nil {
			return ferr
		}
		w.svc.logger.Warn("order save failed", slog.String("order_id", w.order.ID), slog.String("state", string(w.state)), slog.Any("error", err))
		return err
	}
	if err := w.fire(Event{Kind: EventSaveSucceeded}); err != nil {
		return err
	}
	w.order = res.Order
	w.result = &res
	if w.locked {
		w.svc.recordAudit(ctx, "WARRANTY_ACCEPTED", w.order.ID, map[string]any{"order_number": w.order.Number, "nc_report": w.order.NCReport})
	}
	return nil
}

func (w *Workflow) blockingReasons() []string {
	var reasons []string
	for _, info := range w.history {
		if !info.CanSendWithWarranty {
			reasons = append(reasons, info.Registration+": "+info.BlockingReason)
		}
	}
	return reasons
}

func priorOrderNumbers(history []WarrantyHistoryInfo) []string {
	seen := make(map[string]struct{})
	var numbers []string
	for _, info := range history {
		for _, entry := range info.Entries {
			if _, ok := seen[entry.OrderNumber]; ok {
				continue
			}
			seen[entry.OrderNumber] = struct{}{}
			numbers = append(numbers, entry.OrderNumber)
		}
	}
	return numbers
}

func declineComment(history []WarrantyHistoryInfo) string {
	numbers := priorOrderNumbers(history)
	if len(numbers) == 0 {
		return "Sent without warranty at the user's request"
	}
	return "Sent without warranty at the user's request; earlier orders: " + strings.Join(numbers, ", ")
}
