package domain

import "slices"

// Filter selects events from relays. Empty fields match everything.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []Kind
	// Tags maps a single-letter tag name (without "#") to accepted values.
	Tags  map[string][]string
	Since int64
	Until int64
	Limit int
}

// Matches reports whether the event satisfies the filter. Limit is ignored.
func (f Filter) Matches(e Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, e.AuthorKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && e.CreatedAt > f.Until {
		return false
	}
	for name, accepted := range f.Tags {
		if len(accepted) == 0 {
			continue
		}
		found := false
		for _, v := range e.Tags.Values(name) {
			if slices.Contains(accepted, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
