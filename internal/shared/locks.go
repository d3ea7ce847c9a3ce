package shared

import "fmt"

// ShipmentSyncLockKey is the redis key guarding batch shipment synchronisation.
const ShipmentSyncLockKey = "fulfillment:shipment-sync:lock"

// LegacyAliasCacheKey builds redis keys for legacy identifier lookups.
func LegacyAliasCacheKey(kind, legacy string) string {
	return fmt.Sprintf("fulfillment:alias:%s:%s", kind, legacy)
}
