package grn_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/testutil/memstore"
)

func createInput(vi indent.VendorIndent, number string, lines ...grn.LineInput) grn.CreateInput {
	return grn.CreateInput{
		VendorIndentID: vi.ID,
		VendorID:       vi.VendorID,
		Number:         number,
		GRNDate:        memstore.FixedDate,
		Lines:          lines,
	}
}

func TestCreateGRN(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t, memstore.Product{Ref: "SKU-1", Quantity: 10, Price: "5"}, memstore.Product{Ref: "SKU-2", Quantity: 4, Price: "2"})

	g, lines, err := h.GRNs.Create(ctx, createInput(vi, " GRN-001 ", grn.LineInput{ProductRef: "SKU-1", Quantity: 6}))
	require.NoError(t, err)
	require.Equal(t, grn.StatusDraft, g.Status)
	require.Equal(t, "GRN-001", g.Number)
	require.Len(t, g.LegacyNo, 10)
	require.Len(t, lines, 1)
	require.Equal(t, g.ID, lines[0].GRNID)

	stored, storedLines, err := h.GRNs.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, g.Number, stored.Number)
	require.Len(t, storedLines, 1)

	_, _, err = h.GRNs.Create(ctx, createInput(vi, "GRN-001"))
	require.ErrorIs(t, err, grn.ErrDuplicateNumber)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	// a draft is not a receipt and does not move the vendor indent
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
}

func TestConcurrentCreateAdmitsOneNumber(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)

	const racers = 2
	var wg sync.WaitGroup
	errs := make([]error, racers)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _, errs[i] = h.GRNs.Create(context.Background(), createInput(vi, "GRN-RACE"))
		}(i)
	}
	close(start)
	wg.Wait()

	created, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, grn.ErrDuplicateNumber):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, created)
	require.Equal(t, 1, duplicates)

	list, err := h.GRNs.ListByVendorIndent(context.Background(), vi.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCreateGRNValidation(t *testing.T) {
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	other := uuid.New()

	cases := map[string]struct {
		in   grn.CreateInput
		want error
	}{
		"missing number":  {createInput(vi, "  "), grn.ErrNumberRequired},
		"number too long": {createInput(vi, strings.Repeat("9", grn.MaxNumberLength+1)), grn.ErrNumberTooLong},
		"missing date":    {grn.CreateInput{VendorIndentID: vi.ID, VendorID: vi.VendorID, Number: "G"}, grn.ErrDateRequired},
		"missing refs":    {grn.CreateInput{Number: "G", GRNDate: time.Now()}, grn.ErrReferenceRequired},
		"vendor mismatch": {grn.CreateInput{VendorIndentID: vi.ID, VendorID: other, Number: "G", GRNDate: time.Now()}, grn.ErrVendorMismatch},
		"unknown product": {createInput(vi, "G", grn.LineInput{ProductRef: "NOPE", Quantity: 1}), grn.ErrInvalidLine},
		"zero quantity":   {createInput(vi, "G", grn.LineInput{ProductRef: "SKU-1", Quantity: 0}), grn.ErrInvalidLine},
		"repeated line":   {createInput(vi, "G", grn.LineInput{ProductRef: "SKU-1", Quantity: 1}, grn.LineInput{ProductRef: "SKU-1", Quantity: 1}), grn.ErrInvalidLine},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := h.GRNs.Create(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, shared.KindValidation, shared.KindOf(err))
		})
	}

	_, _, err := h.GRNs.Create(context.Background(), grn.CreateInput{VendorIndentID: uuid.New(), VendorID: other, Number: "G", GRNDate: time.Now()})
	require.ErrorIs(t, err, indent.ErrNotFound)
}

func TestGRNLifecycle(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	g, _, err := h.GRNs.Create(ctx, createInput(vi, "GRN-001"))
	require.NoError(t, err)

	_, err = h.GRNs.Approve(ctx, g.ID, "qa", "")
	require.ErrorIs(t, err, grn.ErrInvalidState)

	g, err = h.GRNs.Submit(ctx, g.ID, "receiver")
	require.NoError(t, err)
	require.Equal(t, grn.StatusSubmitted, g.Status)
	require.NotNil(t, g.SubmittedAt)
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))

	_, err = h.GRNs.Submit(ctx, g.ID, "receiver")
	require.ErrorIs(t, err, grn.ErrInvalidState)
	require.Equal(t, shared.KindInvalidState, shared.KindOf(err))

	_, err = h.GRNs.Approve(ctx, g.ID, "  ", "")
	require.ErrorIs(t, err, grn.ErrApproverRequired)

	g, err = h.GRNs.Approve(ctx, g.ID, "qa", "all good")
	require.NoError(t, err)
	require.Equal(t, grn.StatusApproved, g.Status)
	require.Equal(t, "qa", g.DecidedBy)
	require.NotNil(t, g.DecidedAt)

	_, err = h.GRNs.Reject(ctx, g.ID, "qa", "late")
	require.ErrorIs(t, err, grn.ErrInvalidState)

	approvals := h.Approvals.For("grn", g.ID)
	require.Len(t, approvals, 2)
	require.Equal(t, shared.ApprovalSubmit, approvals[0].Action)
	require.Equal(t, shared.ApprovalApprove, approvals[1].Action)
	require.Equal(t, "all good", approvals[1].Note)
}

func TestRejectGRNKeepsReason(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	g := h.SubmittedGRN(t, vi, "GRN-001")

	g, err := h.GRNs.Reject(ctx, g.ID, "qa", " damaged ")
	require.NoError(t, err)
	require.Equal(t, grn.StatusRejected, g.Status)
	require.Equal(t, "damaged", g.RejectReason)

	stored, _, err := h.GRNs.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, grn.StatusRejected, stored.Status)
	require.Equal(t, "damaged", stored.RejectReason)

	// rejection does not move the vendor indent back
	require.Equal(t, indent.StatusGRNSubmitted, h.Status(t, vi.ID))
}

func TestSubmitReturnsGRNWhenNotificationFails(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t)
	g, _, err := h.GRNs.Create(ctx, createInput(vi, "GRN-001"))
	require.NoError(t, err)

	h.Store.FailNext("fulfillment.LoadFacts", shared.Infra("load facts", context.DeadlineExceeded))
	submitted, err := h.GRNs.Submit(ctx, g.ID, "receiver")
	require.Error(t, err)
	require.True(t, shared.Retryable(err))
	require.Equal(t, grn.StatusSubmitted, submitted.Status)

	stored, _, err := h.GRNs.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, grn.StatusSubmitted, stored.Status)
	require.Equal(t, indent.StatusCreated, h.Status(t, vi.ID))
}

func TestReceiptSummary(t *testing.T) {
	ctx := context.Background()
	h := memstore.NewHarness(memstore.Options{})
	vi := h.VendorIndent(t, memstore.Product{Ref: "A", Quantity: 10, Price: "1"}, memstore.Product{Ref: "B", Quantity: 5, Price: "2"})

	summary, err := h.GRNs.ReceiptSummary(ctx, vi.ID)
	require.NoError(t, err)
	require.False(t, summary.HasReceipt())

	first := h.SubmittedGRN(t, vi, "GRN-1", grn.LineInput{ProductRef: "A", Quantity: 4})
	second := h.SubmittedGRN(t, vi, "GRN-2", grn.LineInput{ProductRef: "A", Quantity: 3}, grn.LineInput{ProductRef: "B", Quantity: 5})
	third := h.SubmittedGRN(t, vi, "GRN-3", grn.LineInput{ProductRef: "B", Quantity: 1})
	_, _, err = h.GRNs.Create(ctx, createInput(vi, "GRN-4"))
	require.NoError(t, err)

	_, err = h.GRNs.Approve(ctx, first.ID, "qa", "")
	require.NoError(t, err)
	_, err = h.GRNs.Approve(ctx, second.ID, "qa", "")
	require.NoError(t, err)
	_, err = h.GRNs.Reject(ctx, third.ID, "qa", "wrong item")
	require.NoError(t, err)

	summary, err = h.GRNs.ReceiptSummary(ctx, vi.ID)
	require.NoError(t, err)
	require.True(t, summary.HasReceipt())
	require.Equal(t, 1, summary.Draft)
	require.Equal(t, 0, summary.Submitted)
	require.Equal(t, 2, summary.Approved)
	require.Equal(t, 1, summary.Rejected)
	require.Equal(t, map[string]int64{"A": 7, "B": 5}, summary.ApprovedQuantities)

	list, err := h.GRNs.ListByVendorIndent(ctx, vi.ID)
	require.NoError(t, err)
	require.Len(t, list, 4)
	require.Equal(t, "GRN-1", list[0].Number)
}

func TestStatusHelpers(t *testing.T) {
	require.True(t, grn.CanTransition(grn.StatusDraft, grn.StatusSubmitted))
	require.False(t, grn.CanTransition(grn.StatusDraft, grn.StatusApproved))
	require.False(t, grn.CanTransition(grn.StatusApproved, grn.StatusRejected))
	require.True(t, grn.StatusRejected.Terminal())
	require.True(t, grn.StatusApproved.CountsAsReceipt())
	require.False(t, grn.StatusRejected.CountsAsReceipt())
}
