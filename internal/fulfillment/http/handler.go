package fulfillmenthttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

const dateLayout = "2006-01-02"

// Resolver maps a uuid or legacy number to the canonical key.
type Resolver interface {
	Resolve(ctx context.Context, kind identifier.Kind, raw string) (uuid.UUID, error)
}

// Handler exposes the fulfillment workflow as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *fulfillment.Service
	ids       Resolver
	validator *validator.Validate
	verbose   bool
}

// NewHandler constructs the handler. verbose exposes infrastructure error text.
func NewHandler(logger *slog.Logger, service *fulfillment.Service, ids Resolver, verbose bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		ids:       ids,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		verbose:   verbose,
	}
}

// MountRoutes registers the API endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchase-orders/{poRef}/split", h.splitPurchaseOrder)
	r.Get("/orders/{orderRef}/purchase-orders", h.purchaseOrdersForOrder)

	r.Route("/vendor-indents/{ref}", func(r chi.Router) {
		r.Get("/", h.getVendorIndent)
		r.Post("/advance", h.advanceVendorIndent)
		r.Post("/reconcile", h.reconcileVendorIndent)
		r.Get("/audit", h.vendorIndentAudit)
	})

	r.Post("/grns", h.createGRN)
	r.Route("/grns/{ref}", func(r chi.Router) {
		r.Get("/", h.getGRN)
		r.Post("/submit", h.submitGRN)
		r.Post("/approve", h.approveGRN)
		r.Post("/reject", h.rejectGRN)
	})

	r.Post("/invoices", h.createInvoice)
	r.Route("/invoices/{ref}", func(r chi.Router) {
		r.Get("/", h.getInvoice)
		r.Post("/submit", h.submitInvoice)
		r.Post("/approve", h.approveInvoice)
		r.Post("/reject", h.rejectInvoice)
		r.Post("/transition", h.transitionInvoice)
	})

	r.Post("/payments", h.createPayment)
	r.Get("/payments/{ref}", h.getPayment)
	r.Post("/payments/{ref}/advance", h.advancePayment)

	r.Post("/shipments", h.registerShipment)
	r.Post("/shipments/sync", h.syncShipments)
	r.Get("/shipments/{ref}", h.getShipment)
}

type splitRequest struct {
	IndentID string             `json:"indent_id" validate:"required,uuid"`
	OrderID  string             `json:"order_id" validate:"omitempty,uuid"`
	Lines    []splitLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type splitLineRequest struct {
	VendorID   string        `json:"vendor_id" validate:"required,uuid"`
	ProductRef string        `json:"product_ref" validate:"required,max=100"`
	Quantity   int64         `json:"quantity" validate:"gt=0"`
	UnitPrice  decimalString `json:"unit_price" validate:"required"`
}

type grnRequest struct {
	VendorIndent string           `json:"vendor_indent" validate:"required"`
	VendorID     string           `json:"vendor_id" validate:"required,uuid"`
	Number       string           `json:"number" validate:"required,max=50"`
	GRNDate      string           `json:"grn_date" validate:"required,datetime=2006-01-02"`
	Remarks      string           `json:"remarks" validate:"max=500"`
	Lines        []grnLineRequest `json:"lines" validate:"omitempty,dive"`
}

type grnLineRequest struct {
	ProductRef string `json:"product_ref" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
}

type invoiceRequest struct {
	VendorIndent string        `json:"vendor_indent" validate:"required"`
	VendorID     string        `json:"vendor_id" validate:"required,uuid"`
	Number       string        `json:"number" validate:"required,max=50"`
	InvoiceDate  string        `json:"invoice_date" validate:"required,datetime=2006-01-02"`
	Amount       decimalString `json:"amount" validate:"required"`
}

type paymentRequest struct {
	Invoice     string        `json:"invoice" validate:"required"`
	VendorID    string        `json:"vendor_id" validate:"required,uuid"`
	Reference   string        `json:"reference" validate:"required,max=100"`
	PaymentDate string        `json:"payment_date" validate:"required,datetime=2006-01-02"`
	Amount      decimalString `json:"amount" validate:"required"`
}

type shipmentRequest struct {
	VendorIndent   string `json:"vendor_indent"`
	Carrier        string `json:"carrier" validate:"required,max=50"`
	TrackingNumber string `json:"tracking_number" validate:"required,max=100"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type grnResponse struct {
	grn.GoodsReceipt
	Lines []grn.Line `json:"lines"`
}

func (h *Handler) splitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	poID, err := identifier.ParseUUID(chi.URLParam(r, "poRef"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req splitRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := indent.SplitInput{
		IndentID:        uuid.MustParse(req.IndentID),
		PurchaseOrderID: poID,
	}
	if req.OrderID != "" {
		in.OrderID = uuid.MustParse(req.OrderID)
	}
	for _, line := range req.Lines {
		price, err := line.UnitPrice.Decimal()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.Lines = append(in.Lines, indent.SplitLine{
			VendorID:   uuid.MustParse(line.VendorID),
			ProductRef: line.ProductRef,
			Quantity:   line.Quantity,
			UnitPrice:  price,
		})
	}
	indents, err := h.service.SplitPurchaseOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, indents)
}

func (h *Handler) purchaseOrdersForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := identifier.ParseUUID(chi.URLParam(r, "orderRef"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	links, err := h.service.PurchaseOrdersForOrder(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if links == nil {
		links = []indent.POOrder{}
	}
	httpx.JSON(w, http.StatusOK, links)
}

func (h *Handler) getVendorIndent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindVendorIndent)
	if !ok {
		return
	}
	view, err := h.service.VendorIndentView(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) advanceVendorIndent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindVendorIndent)
	if !ok {
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	target := indent.Status(strings.ToUpper(req.Status))
	vi, err := h.service.AdvanceIndent(r.Context(), id, target, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vi)
}

func (h *Handler) reconcileVendorIndent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindVendorIndent)
	if !ok {
		return
	}
	vi, err := h.service.ReconcileIndent(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vi)
}

func (h *Handler) vendorIndentAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindVendorIndent)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pageSize, err := queryInt(q.Get("page_size"), "page_size")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.AuditTimeline(r.Context(), id, audit.TimelineFilters{
		Action:   q.Get("action"),
		Page:     page,
		PageSize: pageSize,
	})
	h.respond(w, r, result, err)
}

func (h *Handler) createGRN(w http.ResponseWriter, r *http.Request) {
	var req grnRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	viID, err := h.ids.Resolve(r.Context(), identifier.KindVendorIndent, req.VendorIndent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	in := grn.CreateInput{
		VendorIndentID: viID,
		VendorID:       uuid.MustParse(req.VendorID),
		Number:         req.Number,
		GRNDate:        mustDate(req.GRNDate),
		Remarks:        req.Remarks,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, grn.LineInput{ProductRef: line.ProductRef, Quantity: line.Quantity})
	}
	g, lines, err := h.service.CreateGRN(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grnResponse{GoodsReceipt: g, Lines: lines})
}

func (h *Handler) getGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindGRN)
	if !ok {
		return
	}
	g, lines, err := h.service.GetGRN(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grnResponse{GoodsReceipt: g, Lines: lines})
}

func (h *Handler) submitGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindGRN)
	if !ok {
		return
	}
	g, err := h.service.SubmitGRN(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respondGRN(w, r, g, err)
}

func (h *Handler) approveGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindGRN)
	if !ok {
		return
	}
	var req noteRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.service.ApproveGRN(r.Context(), id, shared.ActorFromContext(r.Context()), req.Note)
	h.respondGRN(w, r, g, err)
}

func (h *Handler) rejectGRN(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindGRN)
	if !ok {
		return
	}
	var req reasonRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.service.RejectGRN(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	h.respondGRN(w, r, g, err)
}

// respondGRN answers 202 when the GRN moved but the vendor indent update lagged.
func (h *Handler) respondGRN(w http.ResponseWriter, r *http.Request, g grn.GoodsReceipt, err error) {
	h.respondPartial(w, r, g, g.ID, err)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	viID, err := h.ids.Resolve(r.Context(), identifier.KindVendorIndent, req.VendorIndent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.CreateVendorInvoice(r.Context(), invoice.CreateInput{
		VendorIndentID: viID,
		VendorID:       uuid.MustParse(req.VendorID),
		Number:         req.Number,
		InvoiceDate:    mustDate(req.InvoiceDate),
		Amount:         amount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindInvoice)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	h.respond(w, r, inv, err)
}

func (h *Handler) submitInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindInvoice)
	if !ok {
		return
	}
	inv, err := h.service.SubmitInvoice(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respond(w, r, inv, err)
}

func (h *Handler) approveInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindInvoice)
	if !ok {
		return
	}
	inv, err := h.service.ApproveInvoice(r.Context(), id, shared.ActorFromContext(r.Context()))
	h.respond(w, r, inv, err)
}

func (h *Handler) rejectInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindInvoice)
	if !ok {
		return
	}
	var req reasonRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.RejectInvoice(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	h.respond(w, r, inv, err)
}

func (h *Handler) transitionInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindInvoice)
	if !ok {
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	target := invoice.Status(strings.ToUpper(req.Status))
	inv, err := h.service.TransitionInvoice(r.Context(), id, target, shared.ActorFromContext(r.Context()), req.Reason)
	h.respond(w, r, inv, err)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	invoiceID, err := h.ids.Resolve(r.Context(), identifier.KindInvoice, req.Invoice)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	amount, err := req.Amount.Decimal()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.CreatePayment(r.Context(), payment.CreateInput{
		InvoiceID:   invoiceID,
		VendorID:    uuid.MustParse(req.VendorID),
		Reference:   req.Reference,
		PaymentDate: mustDate(req.PaymentDate),
		Amount:      amount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindPayment)
	if !ok {
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	h.respond(w, r, p, err)
}

func (h *Handler) advancePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindPayment)
	if !ok {
		return
	}
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	target := payment.Status(strings.ToUpper(req.Status))
	p, err := h.service.AdvancePayment(r.Context(), id, target, req.Reason)
	h.respondPartial(w, r, p, p.ID, err)
}

func (h *Handler) registerShipment(w http.ResponseWriter, r *http.Request) {
	var req shipmentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := shipment.RegisterInput{Carrier: req.Carrier, TrackingNumber: req.TrackingNumber}
	if strings.TrimSpace(req.VendorIndent) != "" {
		viID, err := h.ids.Resolve(r.Context(), identifier.KindVendorIndent, req.VendorIndent)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.VendorIndentID = uuid.NullUUID{UUID: viID, Valid: true}
	}
	s, err := h.service.RegisterShipment(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, s)
}

func (h *Handler) getShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ref(w, r, identifier.KindShipment)
	if !ok {
		return
	}
	s, err := h.service.GetShipment(r.Context(), id)
	h.respond(w, r, s, err)
}

func (h *Handler) syncShipments(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.SyncAllPendingShipments(r.Context())
	h.respond(w, r, result, err)
}

func (h *Handler) ref(w http.ResponseWriter, r *http.Request, kind identifier.Kind) (uuid.UUID, bool) {
	id, err := h.ids.Resolve(r.Context(), kind, chi.URLParam(r, "ref"))
	if err != nil {
		h.fail(w, r, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, body any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

// respondPartial handles operations that return the entity together with a
// follow-up failure. Repeating the request completes the follow-up.
func (h *Handler) respondPartial(w http.ResponseWriter, r *http.Request, body any, id uuid.UUID, err error) {
	if err == nil {
		httpx.JSON(w, http.StatusOK, body)
		return
	}
	if id == uuid.Nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Warn("follow-up pending", slog.String("path", r.URL.Path), slog.String("id", id.String()), slog.Any("error", err))
	httpx.JSON(w, http.StatusAccepted, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInfrastructure {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, h.verbose)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	return h.validate(target)
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(r *http.Request, target any) error {
	if r.ContentLength == 0 {
		return h.validate(target)
	}
	return h.decode(r, target)
}

func (h *Handler) validate(target any) error {
	err := h.validator.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(msgs, "; "))
}

// queryInt parses an optional positive integer query parameter.
func queryInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", shared.ErrValidation, name)
	}
	return n, nil
}

// mustDate parses a value already checked by the datetime validator.
func mustDate(raw string) time.Time {
	t, _ := time.Parse(dateLayout, raw)
	return t
}
