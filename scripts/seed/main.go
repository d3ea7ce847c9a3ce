package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/app"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
	"github.com/odyssey-erp/fulfillment/migrations"
)

// seedNamespace keeps demo ids stable so reruns hit the uniqueness constraints instead of duplicating rows.
var seedNamespace = uuid.MustParse("6f1c2b8e-3a4d-4e5f-9a0b-7c8d9e0f1a2b")

func seedID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(name))
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if err := migrations.Apply(ctx, pool); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	components := app.BuildComponents(cfg, pool, nil, nil, app.NewLogger(cfg))

	fmt.Println("→ Splitting demo purchase order...")
	indents, err := components.Service.SplitPurchaseOrder(ctx, indent.SplitInput{
		IndentID:        seedID("indent/demo"),
		PurchaseOrderID: seedID("po/demo"),
		OrderID:         seedID("order/demo"),
		Lines: []indent.SplitLine{
			{VendorID: seedID("vendor/acme"), ProductRef: "SKU-100", Quantity: 20, UnitPrice: decimal.RequireFromString("4.75")},
			{VendorID: seedID("vendor/acme"), ProductRef: "SKU-200", Quantity: 5, UnitPrice: decimal.RequireFromString("19.90")},
			{VendorID: seedID("vendor/globex"), ProductRef: "SKU-300", Quantity: 12, UnitPrice: decimal.RequireFromString("8.00")},
		},
	})
	switch {
	case errors.Is(err, indent.ErrAlreadySplit):
		fmt.Println("  demo purchase order already split")
	case err != nil:
		log.Fatalf("split purchase order: %v", err)
	default:
		for _, vi := range indents {
			fmt.Printf("  vendor indent %s (%s) total %s\n", vi.LegacyNo, vi.ID, vi.TotalAmount.StringFixed(2))
		}
	}

	if len(indents) > 0 {
		fmt.Println("→ Registering demo shipment...")
		s, err := components.Service.RegisterShipment(ctx, shipment.RegisterInput{
			VendorIndentID: uuid.NullUUID{UUID: indents[0].ID, Valid: true},
			Carrier:        "demo-carrier",
			TrackingNumber: "TRK-" + indents[0].LegacyNo,
		})
		switch {
		case errors.Is(err, shipment.ErrDuplicateTracking):
			fmt.Println("  demo shipment already registered")
		case err != nil:
			log.Fatalf("register shipment: %v", err)
		default:
			fmt.Printf("  shipment %s tracking %s\n", s.LegacyNo, s.TrackingNumber)
		}
	}

	fmt.Fprintln(os.Stdout, "✓ Seed complete at", time.Now().Format(time.RFC3339))
}
