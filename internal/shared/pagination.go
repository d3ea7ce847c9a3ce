package shared

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// PageSize clamps a requested page size into the supported range.
func PageSize(requested int) int {
	switch {
	case requested <= 0:
		return defaultPageSize
	case requested > maxPageSize:
		return maxPageSize
	default:
		return requested
	}
}
