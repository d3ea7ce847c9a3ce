// Package shipment tracks carrier shipments and synchronises their status in batches.
package shipment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// SyncStatus is the synchronisation state of a shipment.
type SyncStatus string

const (
	SyncPending SyncStatus = "PENDING"
	SyncSynced  SyncStatus = "SYNCED"
	SyncFailed  SyncStatus = "FAILED"
)

// Shipment is a carrier consignment optionally linked to a vendor indent.
type Shipment struct {
	ID             uuid.UUID     `json:"id"`
	LegacyNo       string        `json:"legacy_no"`
	VendorIndentID uuid.NullUUID `json:"vendor_indent_id"`
	Carrier        string        `json:"carrier"`
	TrackingNumber string        `json:"tracking_number"`
	SyncStatus     SyncStatus    `json:"sync_status"`
	CarrierStatus  string        `json:"carrier_status"`
	Delivered      bool          `json:"delivered"`
	Attempts       int           `json:"attempts"`
	LastError      string        `json:"last_error,omitempty"`
	LastSyncedAt   *time.Time    `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Tracking is what a carrier reports for one consignment.
type Tracking struct {
	Status    string `json:"status"`
	Delivered bool   `json:"delivered"`
}

// SyncResult summarises one batch run.
type SyncResult struct {
	Synced  int  `json:"synced"`
	Errors  int  `json:"errors"`
	Skipped bool `json:"skipped,omitempty"`
}

var (
	ErrNotFound          = fmt.Errorf("%w: shipment", shared.ErrNotFound)
	ErrDuplicateTracking = fmt.Errorf("%w: tracking number already registered for carrier", shared.ErrConflict)
	ErrCarrierRequired   = fmt.Errorf("%w: carrier required", shared.ErrValidation)
	ErrTrackingRequired  = fmt.Errorf("%w: tracking number required", shared.ErrValidation)
)
