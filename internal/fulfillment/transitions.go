package fulfillment

import (
	"fmt"

	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// Event is a fact reported to the orchestrator by a collaborating component.
type Event string

const (
	EventGRNSubmitted      Event = "GRN_SUBMITTED"
	EventShipmentDelivered Event = "SHIPMENT_DELIVERED"
	EventInvoicesSettled   Event = "INVOICES_SETTLED"
)

type transitionKey struct {
	from  indent.Status
	event Event
}

// transitionTable maps (status, event) to the next status. A pair that maps to its
// own status is an accepted no-op; a missing pair is an illegal event.
var transitionTable = map[transitionKey]indent.Status{
	{indent.StatusCreated, EventGRNSubmitted}:      indent.StatusDelivered,
	{indent.StatusDelivered, EventGRNSubmitted}:    indent.StatusGRNSubmitted,
	{indent.StatusGRNSubmitted, EventGRNSubmitted}: indent.StatusGRNSubmitted,
	{indent.StatusPaid, EventGRNSubmitted}:         indent.StatusPaid,

	{indent.StatusCreated, EventShipmentDelivered}:      indent.StatusDelivered,
	{indent.StatusDelivered, EventShipmentDelivered}:    indent.StatusDelivered,
	{indent.StatusGRNSubmitted, EventShipmentDelivered}: indent.StatusGRNSubmitted,
	{indent.StatusPaid, EventShipmentDelivered}:         indent.StatusPaid,

	{indent.StatusGRNSubmitted, EventInvoicesSettled}: indent.StatusPaid,
	{indent.StatusPaid, EventInvoicesSettled}:         indent.StatusPaid,
}

// ErrIllegalEvent indicates an event that cannot apply to the current status.
var ErrIllegalEvent = fmt.Errorf("%w: event not applicable to vendor indent status", shared.ErrInvalidState)

// ErrRegression indicates an attempt to move a vendor indent backwards.
var ErrRegression = fmt.Errorf("%w: vendor indent status cannot move backwards", shared.ErrInvalidState)

// ErrStaleStatus indicates the vendor indent moved while the orchestrator held it.
var ErrStaleStatus = fmt.Errorf("%w: vendor indent status changed concurrently", shared.ErrInvalidState)

// Next returns the status reached by applying event once to from.
func Next(from indent.Status, event Event) (indent.Status, error) {
	to, ok := transitionTable[transitionKey{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalEvent, event, from)
	}
	if to.Before(from) {
		return from, fmt.Errorf("%w: %s -> %s", ErrRegression, from, to)
	}
	return to, nil
}

// Path applies event repeatedly until the status is stable and returns every
// status visited after from. An event that is a no-op returns an empty path.
func Path(from indent.Status, event Event) ([]indent.Status, error) {
	var path []indent.Status
	current := from
	for i := 0; i < len(statusOrder); i++ {
		next, err := Next(current, event)
		if err != nil {
			return nil, err
		}
		if next == current {
			return path, nil
		}
		path = append(path, next)
		current = next
	}
	return path, nil
}

var statusOrder = []indent.Status{
	indent.StatusCreated,
	indent.StatusDelivered,
	indent.StatusGRNSubmitted,
	indent.StatusPaid,
}
