package model

const (
	// DefaultPageLimit is used when a list request does not set a limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps the number of rows a single list request returns.
	MaxPageLimit = 500
)

// Page is the limit/offset window of a list query.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Normalize returns the page with defaults applied and bounds enforced:
// non-positive limits become DefaultPageLimit, limits above MaxPageLimit are
// capped, and negative offsets become zero.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageCount returns the number of pages needed to show total rows at the
// page's limit.
func (p Page) PageCount(total int) int {
	p = p.Normalize()
	if total <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

// HasMore reports whether rows remain after this page.
func (p Page) HasMore(total int) bool {
	p = p.Normalize()
	return p.Offset+p.Limit < total
}
