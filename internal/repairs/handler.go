package repairs

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/repairdesk/internal/platform/httpx"
)

// Handler exposes repair orders and receptions over JSON.
type Handler struct {
	logger    *slog.Logger
	orders    *OrderService
	ledger    *Ledger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, orders *OrderService, ledger *Ledger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, orders: orders, ledger: ledger, validator: validator.New()}
}

// MountRoutes registers repair routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.saveOrder)
		r.Post("/check-warranty", h.checkWarranty)
		r.Post("/workflow", h.runWorkflow)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
	r.Get("/lines/{lineID}/receptions", h.listReceptions)
	r.Post("/lines/{lineID}/receptions", h.recordReception)
	r.Delete("/receptions/{id}", h.deleteReception)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		WarehouseCode: q.Get("warehouse"),
		SupplierID:    q.Get("supplier"),
		Status:        OrderStatus(q.Get("status")),
	}
	for key, dst := range map[string]*int{"year": &filter.Year, "limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: %s must be a number", ErrValidation, key))
				return
			}
			*dst = n
		}
	}
	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	progress, err := h.ledger.Progress(r.Context(), order)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: order, Progress: progress})
}

func (h *Handler) checkWarranty(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := req.toOrder(r.Context(), h.orders)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.orders.CheckWarranty(r.Context(), order)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if history == nil {
		history = []WarrantyHistoryInfo{}
	}
	httpx.JSON(w, http.StatusOK, checkWarrantyResponse{History: history, CanProceed: CanProceed(history)})
}

func (h *Handler) saveOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.drive(w, r, req, nil)
}

func (h *Handler) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.drive(w, r, req.Order, req.Decisions)
}

// drive starts a workflow for req and applies decisions in order, stopping at
// the first one that fails.
func (h *Handler) drive(w http.ResponseWriter, r *http.Request, req orderRequest, decisions []string) {
	ctx := r.Context()
	order, err := req.toOrder(ctx, h.orders)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	wf, err := h.orders.Begin(ctx, order)
	if wf == nil {
		h.fail(w, r, err)
		return
	}
	for _, decision := range decisions {
		if err != nil {
			break
		}
		err = wf.Apply(ctx, decision)
	}
	resp := newWorkflowResponse(wf)
	status := http.StatusOK
	switch {
	case err != nil:
		resp.Error = err.Error()
		status = httpx.StatusOf(err)
	case wf.State() == StateSaved:
		status = http.StatusCreated
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 && !h.decode(w, r, &req) {
		return
	}
	res, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listReceptions(w http.ResponseWriter, r *http.Request) {
	receptions, err := h.ledger.Receptions(r.Context(), chi.URLParam(r, "lineID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if receptions == nil {
		receptions = []Reception{}
	}
	httpx.JSON(w, http.StatusOK, receptions)
}

func (h *Handler) recordReception(w http.ResponseWriter, r *http.Request) {
	var req receptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := req.toInput(chi.URLParam(r, "lineID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.ledger.RecordReception(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) deleteReception(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteReception(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("repairs request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
