package user

// Default list window.
const (
	DefaultListLimit = 10
	DefaultMaxLimit  = 100
)

// ListFilter selects a window of users ordered by id.
type ListFilter struct {
	Skip  int    // Number of records to skip
	Limit int    // Maximum number of records to return
	Name  string // Case-insensitive substring of the name; empty matches all
}

// Normalize applies defaults and clamps Limit to maxLimit.
func (f ListFilter) Normalize(maxLimit int) ListFilter {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f
}
