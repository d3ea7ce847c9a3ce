package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fulfillment/internal/audit"
	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/observability"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

// Components is the wired workflow shared by the server and the worker.
type Components struct {
	Registry *identifier.Registry
	Indents  *indent.Service
	Service  *fulfillment.Service
}

// BuildComponents wires the postgres repositories into the workflow services.
// redisClient may be nil; the alias cache and the sync lock are then skipped.
func BuildComponents(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Components {
	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	registry := identifier.NewRegistry(identifier.NewRepository(pool), redisClient, cfg.ResolveCacheTTL, logger)

	indents := indent.NewService(indent.NewRepository(pool), registry, auditLogger, logger.With(slog.String("component", "indent")))
	grns := grn.NewService(grn.NewRepository(pool), indents, registry, approvals, auditLogger, logger.With(slog.String("component", "grn")))
	invoices := invoice.NewService(invoice.NewRepository(pool), registry, approvals, auditLogger, cfg.InvoicePolicy(), logger.With(slog.String("component", "invoice")))
	paymentRepo := payment.NewRepository(pool)
	payments := payment.NewService(paymentRepo, invoices, registry, auditLogger, logger.With(slog.String("component", "payment")))

	orchestrator := fulfillment.NewOrchestrator(fulfillment.NewPGStore(pool), auditLogger, logger.With(slog.String("component", "orchestrator")))
	if metrics != nil {
		orchestrator.SetObserver(metrics)
	}

	var locker shipment.Locker
	if redisClient != nil {
		locker = cache.NewLocker(redisClient)
	}
	carrier := shipment.NewHTTPCarrier(cfg.CarrierBaseURL, cfg.CarrierTimeout)
	shipments := shipment.NewCoordinator(shipment.NewRepository(pool), carrier, registry, locker, cfg.ShipmentOptions(), logger.With(slog.String("component", "shipment")))

	svc := fulfillment.Wire(indents, grns, invoices, payments, shipments, orchestrator, paymentRepo)
	svc.Audit = audit.NewService(audit.NewRepository(pool))

	return &Components{
		Registry: registry,
		Indents:  indents,
		Service:  svc,
	}
}
