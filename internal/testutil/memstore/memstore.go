// Package memstore is an in-memory stand-in for the PostgreSQL repositories. It
// serialises every transaction behind one mutex, rolls back on error and enforces
// the same unique and compare-and-set rules as the schema.
package memstore

import (
	"bytes"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fulfillment/internal/grn"
	"github.com/odyssey-erp/fulfillment/internal/identifier"
	"github.com/odyssey-erp/fulfillment/internal/indent"
	"github.com/odyssey-erp/fulfillment/internal/invoice"
	"github.com/odyssey-erp/fulfillment/internal/payment"
	"github.com/odyssey-erp/fulfillment/internal/shipment"
)

type aliasKey struct {
	kind  identifier.Kind
	value string
}

type data struct {
	sequences   map[identifier.Kind]int64
	byLegacy    map[aliasKey]uuid.UUID
	byEntity    map[aliasKey]string
	indents     map[uuid.UUID]indent.VendorIndent
	indentLines map[uuid.UUID][]indent.Line
	poOrders    []indent.POOrder
	grns        map[uuid.UUID]grn.GoodsReceipt
	grnLines    map[uuid.UUID][]grn.Line
	invoices    map[uuid.UUID]invoice.Invoice
	payments    map[uuid.UUID]payment.Payment
	shipments   map[uuid.UUID]shipment.Shipment
	// insertion order, used for created_at ordered listings
	order map[uuid.UUID]int
	next  int
}

func newData() *data {
	return &data{
		sequences:   map[identifier.Kind]int64{},
		byLegacy:    map[aliasKey]uuid.UUID{},
		byEntity:    map[aliasKey]string{},
		indents:     map[uuid.UUID]indent.VendorIndent{},
		indentLines: map[uuid.UUID][]indent.Line{},
		grns:        map[uuid.UUID]grn.GoodsReceipt{},
		grnLines:    map[uuid.UUID][]grn.Line{},
		invoices:    map[uuid.UUID]invoice.Invoice{},
		payments:    map[uuid.UUID]payment.Payment{},
		shipments:   map[uuid.UUID]shipment.Shipment{},
		order:       map[uuid.UUID]int{},
	}
}

func (d *data) clone() *data {
	c := &data{
		sequences:   maps.Clone(d.sequences),
		byLegacy:    maps.Clone(d.byLegacy),
		byEntity:    maps.Clone(d.byEntity),
		indents:     maps.Clone(d.indents),
		indentLines: make(map[uuid.UUID][]indent.Line, len(d.indentLines)),
		poOrders:    slices.Clone(d.poOrders),
		grns:        maps.Clone(d.grns),
		grnLines:    make(map[uuid.UUID][]grn.Line, len(d.grnLines)),
		invoices:    maps.Clone(d.invoices),
		payments:    maps.Clone(d.payments),
		shipments:   maps.Clone(d.shipments),
		order:       maps.Clone(d.order),
		next:        d.next,
	}
	for k, v := range d.indentLines {
		c.indentLines[k] = slices.Clone(v)
	}
	for k, v := range d.grnLines {
		c.grnLines[k] = slices.Clone(v)
	}
	return c
}

func (d *data) track(id uuid.UUID) {
	d.next++
	d.order[id] = d.next
}

// Store holds every table in memory.
type Store struct {
	mu       sync.Mutex
	d        *data
	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{d: newData(), failures: map[string]error{}}
}

// FailNext makes the next call of op return err. Operation names are
// "<table>.<Method>", for example "payments.InsertPayment".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// fail must be called with mu held.
func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// tx runs fn against a snapshot that replaces the live data only when fn succeeds.
func (s *Store) tx(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(snapshot); err != nil {
		return err
	}
	s.d = snapshot
	return nil
}

func (s *Store) read(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// sortedByCreation orders ids the way created_at, id listings come back from the database.
func (d *data) sortedByCreation(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return d.order[a] - d.order[b]
	})
	return ids
}
