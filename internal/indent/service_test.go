package indent_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testutil/memstore"
)

func price(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestSplitPurchaseOrderGroupsByVendor(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vendorA, vendorB := uuid.New(), uuid.New()
	in := indent.SplitInput{
		IndentID:        uuid.New(),
		PurchaseOrderID: uuid.New(),
		Lines: []indent.SplitLine{
			{VendorID: vendorB, ProductRef: "BOLT", Quantity: 100, UnitPrice: price("0.35")},
			{VendorID: vendorA, ProductRef: "NUT", Quantity: 40, UnitPrice: price("0.10")},
			{VendorID: vendorB, ProductRef: "WASHER", Quantity: 3, UnitPrice: price("1.005")},
		},
	}

	created, err := h.Indents.SplitPurchaseOrder(ctx, in)
	require.NoError(t, err)
	require.Len(t, created, 2)

	require.Equal(t, vendorB, created[0].VendorID)
	require.Equal(t, indent.StatusCreated, created[0].Status)
	require.Equal(t, 2, created[0].TotalItems)
	require.Equal(t, int64(103), created[0].TotalQuantity)
	require.Equal(t, "38.02", created[0].TotalAmount.StringFixed(2))
	require.Equal(t, "0000000001", created[0].LegacyNo)

	require.Equal(t, vendorA, created[1].VendorID)
	require.Equal(t, "4.00", created[1].TotalAmount.StringFixed(2))
	require.Equal(t, "0000000002", created[1].LegacyNo)

	lines, err := h.Indents.Lines(ctx, created[0].ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "BOLT", lines[0].ProductRef)
	require.Equal(t, "35.00", lines[0].Amount.StringFixed(2))

	byPO, err := h.Indents.ListByPurchaseOrder(ctx, in.PurchaseOrderID)
	require.NoError(t, err)
	require.Len(t, byPO, 2)
	byIndent, err := h.Indents.ListByIndent(ctx, in.IndentID)
	require.NoError(t, err)
	require.Len(t, byIndent, 2)

	require.Equal(t, []string{"VENDOR_INDENT_CREATE"}, h.Audit.Actions(created[0].ID))
}

func TestSplitPurchaseOrderOnlyOnce(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	in := indent.SplitInput{
		IndentID:        uuid.New(),
		PurchaseOrderID: uuid.New(),
		Lines:           []indent.SplitLine{{VendorID: uuid.New(), ProductRef: "SKU", Quantity: 1, UnitPrice: price("1")}},
	}
	_, err := h.Indents.SplitPurchaseOrder(ctx, in)
	require.NoError(t, err)

	_, err = h.Indents.SplitPurchaseOrder(ctx, in)
	require.ErrorIs(t, err, indent.ErrAlreadySplit)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestSplitPurchaseOrderValidation(t *testing.T) {
	vendor := uuid.New()
	base := func(lines ...indent.SplitLine) indent.SplitInput {
		return indent.SplitInput{IndentID: uuid.New(), PurchaseOrderID: uuid.New(), Lines: lines}
	}
	cases := map[string]struct {
		in   indent.SplitInput
		want error
	}{
		"no lines":          {base(), indent.ErrEmptyLines},
		"missing indent":    {indent.SplitInput{PurchaseOrderID: uuid.New()}, indent.ErrMissingReference},
		"zero quantity":     {base(indent.SplitLine{VendorID: vendor, ProductRef: "A", Quantity: 0, UnitPrice: price("1")}), indent.ErrInvalidQuantity},
		"negative price":    {base(indent.SplitLine{VendorID: vendor, ProductRef: "A", Quantity: 1, UnitPrice: price("-1")}), indent.ErrInvalidPrice},
		"blank product":     {base(indent.SplitLine{VendorID: vendor, ProductRef: "  ", Quantity: 1, UnitPrice: price("1")}), indent.ErrMissingReference},
		"duplicate product": {base(indent.SplitLine{VendorID: vendor, ProductRef: "A", Quantity: 1, UnitPrice: price("1")}, indent.SplitLine{VendorID: vendor, ProductRef: "A ", Quantity: 2, UnitPrice: price("1")}), indent.ErrDuplicateProduct},
	}
	h := memstore.NewHarness(memstore.Options{})
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.Indents.SplitPurchaseOrder(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, shared.KindValidation, shared.KindOf(err))
		})
	}
}

func TestOrderBelongsToOnePurchaseOrder(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	orderID := uuid.New()
	first := indent.SplitInput{
		IndentID:        uuid.New(),
		PurchaseOrderID: uuid.New(),
		OrderID:         orderID,
		Lines:           []indent.SplitLine{{VendorID: uuid.New(), ProductRef: "SKU", Quantity: 1, UnitPrice: price("1")}},
	}
	_, err := h.Indents.SplitPurchaseOrder(ctx, first)
	require.NoError(t, err)

	links, err := h.Indents.PurchaseOrdersForOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, first.PurchaseOrderID, links[0].PurchaseOrderID)

	second := first
	second.PurchaseOrderID = uuid.New()
	_, err = h.Indents.SplitPurchaseOrder(ctx, second)
	require.ErrorIs(t, err, indent.ErrOrderLinked)

	// the failed split is rolled back as a whole
	rolledBack, err := h.Indents.ListByPurchaseOrder(ctx, second.PurchaseOrderID)
	require.NoError(t, err)
	require.Empty(t, rolledBack)

	_, err = h.Indents.LinkOrder(ctx, second.PurchaseOrderID, orderID)
	require.ErrorIs(t, err, indent.ErrOrderLinked)

	none, err := h.Indents.PurchaseOrdersForOrder(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPurchaseOrderAggregatesSeveralOrders(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	poID := uuid.New()
	firstOrder, secondOrder := uuid.New(), uuid.New()
	_, err := h.Indents.SplitPurchaseOrder(ctx, indent.SplitInput{
		IndentID:        uuid.New(),
		PurchaseOrderID: poID,
		OrderID:         firstOrder,
		Lines:           []indent.SplitLine{{VendorID: uuid.New(), ProductRef: "SKU", Quantity: 1, UnitPrice: price("1")}},
	})
	require.NoError(t, err)

	link, err := h.Indents.LinkOrder(ctx, poID, secondOrder)
	require.NoError(t, err)
	require.Equal(t, poID, link.PurchaseOrderID)
	require.Equal(t, secondOrder, link.OrderID)

	for _, orderID := range []uuid.UUID{firstOrder, secondOrder} {
		links, err := h.Indents.PurchaseOrdersForOrder(ctx, orderID)
		require.NoError(t, err)
		require.Len(t, links, 1)
		require.Equal(t, poID, links[0].PurchaseOrderID)
	}

	// relinking the same pair is still a conflict
	_, err = h.Indents.LinkOrder(ctx, poID, secondOrder)
	require.ErrorIs(t, err, indent.ErrOrderLinked)
}

func TestListOpenPagesByID(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	for i := 0; i < 5; i++ {
		h.VendorIndent(t)
	}
	paid := h.VendorIndent(t)
	paid.Status = indent.StatusPaid
	h.Store.PutVendorIndent(paid)

	seen := map[uuid.UUID]bool{}
	after := uuid.Nil
	for {
		page, err := h.Indents.ListOpen(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, vi := range page {
			require.False(t, seen[vi.ID])
			require.NotEqual(t, indent.StatusPaid, vi.Status)
			seen[vi.ID] = true
		}
		after = page[len(page)-1].ID
	}
	require.Len(t, seen, 5)
}

func TestAggregateRoundsToCents(t *testing.T) {
	totals := indent.Aggregate([]indent.Line{
		{Quantity: 3, Amount: indent.LineAmount(3, price("0.333"))},
		{Quantity: 1, Amount: indent.LineAmount(1, price("2.005"))},
	})
	require.Equal(t, 2, totals.Items)
	require.Equal(t, int64(4), totals.Quantity)
	require.Equal(t, "3.01", totals.Amount.StringFixed(2))

	require.True(t, indent.Aggregate(nil).Amount.IsZero())
}

func TestGetUnknownVendorIndent(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	_, err := h.Indents.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, indent.ErrNotFound)
	_, err = h.Indents.Lines(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
