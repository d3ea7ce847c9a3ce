package fulfillmenthttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fulfillmenthttp "github.com/odyssey-erp/fulfillment/internal/fulfillment/http"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
	"github.com/odyssey-erp/fulfillment/internal/testutil/memstore"
)

type carrierFunc func(ctx context.Context, carrier, number string) (shipment.Tracking, error)

func (f carrierFunc) Track(ctx context.Context, carrier, number string) (shipment.Tracking, error) {
	return f(ctx, carrier, number)
}

type api struct {
	t       *testing.T
	h       *memstore.Harness
	handler http.Handler
}

func newAPI(t *testing.T, opts memstore.Options) *api {
	h := memstore.NewHarness(opts)
	r := chi.NewRouter()
	r.Route("/api/v1", fulfillmenthttp.NewHandler(nil, h.Service, h.IDs, true).MountRoutes)
	return &api{t: t, h: h, handler: r}
}

func (a *api) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *api) decode(rec *httptest.ResponseRecorder, status int, target any) {
	a.t.Helper()
	require.Equal(a.t, status, rec.Code, rec.Body.String())
	if target != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), target))
	}
}

type entity struct {
	ID       uuid.UUID `json:"id"`
	LegacyNo string    `json:"legacy_no"`
	Status   string    `json:"status"`
}

func TestSplitAndViewVendorIndent(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	vendorA, vendorB := uuid.NewString(), uuid.NewString()
	rec := a.do(http.MethodPost, "/purchase-orders/"+uuid.NewString()+"/split", map[string]any{
		"indent_id": uuid.NewString(),
		"order_id":  uuid.NewString(),
		"lines": []map[string]any{
			{"vendor_id": vendorA, "product_ref": "SKU-1", "quantity": 2, "unit_price": "10.00"},
			{"vendor_id": vendorB, "product_ref": "SKU-2", "quantity": 1, "unit_price": 4.5},
		},
	})
	var created []entity
	a.decode(rec, http.StatusCreated, &created)
	require.Len(t, created, 2)

	var view struct {
		VendorIndent struct {
			entity
			TotalAmount string `json:"total_amount"`
		} `json:"vendor_indent"`
		Lines []json.RawMessage `json:"lines"`
	}
	a.decode(a.do(http.MethodGet, "/vendor-indents/"+created[0].LegacyNo, nil), http.StatusOK, &view)
	assert.Equal(t, created[0].ID, view.VendorIndent.ID)
	assert.Equal(t, string(indent.StatusCreated), view.VendorIndent.Status)
	assert.Len(t, view.Lines, 1)

	// both identifier forms resolve to the same vendor indent
	a.decode(a.do(http.MethodGet, "/vendor-indents/"+created[0].ID.String(), nil), http.StatusOK, &view)
	assert.Equal(t, created[0].LegacyNo, view.VendorIndent.LegacyNo)
}

func TestWorkflowOverHTTP(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	vi := a.h.VendorIndent(t)

	var g entity
	a.decode(a.do(http.MethodPost, "/grns", map[string]any{
		"vendor_indent": vi.LegacyNo,
		"vendor_id":     vi.VendorID.String(),
		"number":        "GRN-HTTP-1",
		"grn_date":      "2024-03-01",
		"lines":         []map[string]any{{"product_ref": "SKU-1", "quantity": 10}},
	}), http.StatusCreated, &g)
	assert.Equal(t, "DRAFT", g.Status)

	a.decode(a.do(http.MethodPost, "/grns/"+g.LegacyNo+"/submit", nil), http.StatusOK, &g)
	assert.Equal(t, "SUBMITTED", g.Status)
	require.Equal(t, indent.StatusGRNSubmitted, a.h.Status(t, vi.ID))
	a.decode(a.do(http.MethodPost, "/grns/"+g.ID.String()+"/approve", nil), http.StatusOK, &g)
	assert.Equal(t, "APPROVED", g.Status)

	var inv entity
	a.decode(a.do(http.MethodPost, "/invoices", map[string]any{
		"vendor_indent": vi.ID.String(),
		"vendor_id":     vi.VendorID.String(),
		"number":        "INV-HTTP-1",
		"invoice_date":  "2024-03-02",
		"amount":        "125.00",
	}), http.StatusCreated, &inv)
	a.decode(a.do(http.MethodPost, "/invoices/"+inv.LegacyNo+"/submit", nil), http.StatusOK, &inv)
	a.decode(a.do(http.MethodPost, "/invoices/"+inv.LegacyNo+"/approve", nil), http.StatusOK, &inv)
	assert.Equal(t, "APPROVED", inv.Status)

	var p entity
	a.decode(a.do(http.MethodPost, "/payments", map[string]any{
		"invoice":      inv.LegacyNo,
		"vendor_id":    vi.VendorID.String(),
		"reference":    "PAY-HTTP-1",
		"payment_date": "2024-03-03",
		"amount":       125,
	}), http.StatusCreated, &p)
	assert.Equal(t, "PENDING", p.Status)
	a.decode(a.do(http.MethodPost, "/payments/"+p.LegacyNo+"/advance", map[string]any{"status": "processing"}), http.StatusOK, &p)
	a.decode(a.do(http.MethodPost, "/payments/"+p.LegacyNo+"/advance", map[string]any{"status": "COMPLETED"}), http.StatusOK, &p)
	assert.Equal(t, "COMPLETED", p.Status)

	a.decode(a.do(http.MethodGet, "/invoices/"+inv.ID.String(), nil), http.StatusOK, &inv)
	assert.Equal(t, "PAID", inv.Status)
	require.Equal(t, indent.StatusPaid, a.h.Status(t, vi.ID))
}

func TestVendorIndentAuditTimeline(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	vi := a.h.VendorIndent(t)
	a.h.SubmittedGRN(t, vi, "GRN-AUDIT-1")

	var page struct {
		Rows []struct {
			Action   string `json:"action"`
			Entity   string `json:"entity"`
			EntityID string `json:"entity_id"`
		} `json:"rows"`
		Paging struct {
			Page     int  `json:"page"`
			PageSize int  `json:"page_size"`
			HasNext  bool `json:"has_next"`
			NextPage int  `json:"next_page"`
		} `json:"paging"`
	}
	a.decode(a.do(http.MethodGet, "/vendor-indents/"+vi.LegacyNo+"/audit?page_size=2", nil), http.StatusOK, &page)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "VENDOR_INDENT_CREATE", page.Rows[0].Action)
	assert.Equal(t, vi.ID.String(), page.Rows[0].EntityID)
	assert.Equal(t, "GRN_CREATE", page.Rows[1].Action)
	assert.True(t, page.Paging.HasNext)
	assert.Equal(t, 2, page.Paging.NextPage)

	a.decode(a.do(http.MethodGet, "/vendor-indents/"+vi.ID.String()+"/audit?action=VENDOR_INDENT_GRN_SUBMITTED", nil), http.StatusOK, &page)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "vendor_indent", page.Rows[0].Entity)
	assert.False(t, page.Paging.HasNext)

	rec := a.do(http.MethodGet, "/vendor-indents/"+vi.LegacyNo+"/audit?page=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorResponses(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	vi := a.h.VendorIndent(t)
	g := a.h.SubmittedGRN(t, vi, "GRN-DUP")
	inv := a.h.ApprovedInvoice(t, vi, "INV-ERR", "125.00")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed ref", http.MethodGet, "/vendor-indents/not-an-id", nil, http.StatusBadRequest},
		{"unknown legacy number", http.MethodGet, "/vendor-indents/0000099999", nil, http.StatusNotFound},
		{"unknown uuid", http.MethodGet, "/grns/" + uuid.NewString(), nil, http.StatusNotFound},
		{"missing fields", http.MethodPost, "/grns", map[string]any{"number": "X"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/grns/" + g.LegacyNo + "/reject", map[string]any{"reason": "x", "extra": 1}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/grns", map[string]any{
			"vendor_indent": vi.LegacyNo, "vendor_id": vi.VendorID.String(), "number": "GRN-D", "grn_date": "01/03/2024",
		}, http.StatusBadRequest},
		{"duplicate number", http.MethodPost, "/grns", map[string]any{
			"vendor_indent": vi.LegacyNo, "vendor_id": vi.VendorID.String(), "number": "GRN-DUP", "grn_date": "2024-03-01",
		}, http.StatusConflict},
		{"resubmit", http.MethodPost, "/grns/" + g.LegacyNo + "/submit", nil, http.StatusConflict},
		{"paid via transition", http.MethodPost, "/invoices/" + inv.LegacyNo + "/transition", map[string]any{"status": "PAID"}, http.StatusForbidden},
		{"bad amount", http.MethodPost, "/payments", map[string]any{
			"invoice": inv.LegacyNo, "vendor_id": vi.VendorID.String(), "reference": "R", "payment_date": "2024-03-01", "amount": "abc",
		}, http.StatusBadRequest},
		{"regression", http.MethodPost, "/vendor-indents/" + vi.LegacyNo + "/advance", map[string]any{"status": "CREATED"}, http.StatusConflict},
		{"shipments disabled", http.MethodPost, "/shipments/sync", nil, http.StatusPreconditionFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tc.status, problem.Status)
			assert.NotEmpty(t, problem.Title)
		})
	}
}

func TestSubmitAcceptedWhenIndentUpdateLags(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	vi := a.h.VendorIndent(t)
	g, _, err := a.h.GRNs.Create(context.Background(), grnInput(vi))
	require.NoError(t, err)

	a.h.Store.FailNext("fulfillment.LockVendorIndent", errors.New("connection reset"))
	var got entity
	a.decode(a.do(http.MethodPost, "/grns/"+g.LegacyNo+"/submit", nil), http.StatusAccepted, &got)
	assert.Equal(t, "SUBMITTED", got.Status)
	require.Equal(t, indent.StatusCreated, a.h.Status(t, vi.ID))

	var healed entity
	a.decode(a.do(http.MethodPost, "/vendor-indents/"+vi.LegacyNo+"/reconcile", nil), http.StatusOK, &healed)
	assert.Equal(t, string(indent.StatusGRNSubmitted), healed.Status)
}

func TestShipmentsOverHTTP(t *testing.T) {
	delivered := carrierFunc(func(ctx context.Context, carrier, number string) (shipment.Tracking, error) {
		return shipment.Tracking{Status: "delivered", Delivered: true}, nil
	})
	a := newAPI(t, memstore.Options{Carrier: delivered})
	vi := a.h.VendorIndent(t)

	var s entity
	a.decode(a.do(http.MethodPost, "/shipments", map[string]any{
		"vendor_indent":   vi.LegacyNo,
		"carrier":         "ups",
		"tracking_number": "1Z999",
	}), http.StatusCreated, &s)

	var result shipment.SyncResult
	a.decode(a.do(http.MethodPost, "/shipments/sync", nil), http.StatusOK, &result)
	assert.Equal(t, shipment.SyncResult{Synced: 1}, result)
	require.Equal(t, indent.StatusDelivered, a.h.Status(t, vi.ID))

	var got struct {
		Delivered bool `json:"delivered"`
	}
	a.decode(a.do(http.MethodGet, "/shipments/"+s.LegacyNo, nil), http.StatusOK, &got)
	assert.True(t, got.Delivered)
}

func TestPurchaseOrdersForOrder(t *testing.T) {
	a := newAPI(t, memstore.Options{})
	orderID := uuid.NewString()
	var links []json.RawMessage
	a.decode(a.do(http.MethodGet, "/orders/"+orderID+"/purchase-orders", nil), http.StatusOK, &links)
	assert.Empty(t, links)

	poID := uuid.NewString()
	a.decode(a.do(http.MethodPost, "/purchase-orders/"+poID+"/split", map[string]any{
		"indent_id": uuid.NewString(),
		"order_id":  orderID,
		"lines":     []map[string]any{{"vendor_id": uuid.NewString(), "product_ref": "SKU-9", "quantity": 1, "unit_price": "1.00"}},
	}), http.StatusCreated, nil)

	var got []struct {
		PurchaseOrderID string `json:"purchase_order_id"`
	}
	a.decode(a.do(http.MethodGet, "/orders/"+orderID+"/purchase-orders", nil), http.StatusOK, &got)
	require.Len(t, got, 1)
	assert.Equal(t, poID, got[0].PurchaseOrderID)
}

func grnInput(vi indent.VendorIndent) grn.CreateInput {
	return grn.CreateInput{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         "GRN-LAG-" + vi.LegacyNo,
		GRNDate:        memstore.FixedDate,
	}
}
