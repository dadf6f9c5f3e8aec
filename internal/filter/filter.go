// Package filter narrows the running instances a scan evaluates by tag.
package filter

import (
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// Filter selects instances by tag. Excluded instances are never evaluated,
// so they can never land on the delete list. An include filter also skips
// untagged instances, which would otherwise always be flagged.
type Filter struct {
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a new Filter. Nil maps mean no constraint.
func New(includeTags, excludeTags map[string]string) *Filter {
	return &Filter{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Include reports whether r passes the tag filters.
func (f *Filter) Include(r resource.Resource) bool {
	// Include tags: ALL must match
	for k, v := range f.includeTags {
		if r.Tags == nil || r.Tags[k] != v {
			return false
		}
	}

	// Exclude tags: ANY match excludes
	for k, v := range f.excludeTags {
		if got, ok := r.Tags[k]; ok && got == v {
			return false
		}
	}

	return true
}

// Apply splits resources into the ones to evaluate and the ones filtered out.
func (f *Filter) Apply(resources []resource.Resource) (kept, skipped []resource.Resource) {
	if f == nil || f.IsEmpty() {
		return resources, nil
	}

	kept = make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.Include(r) {
			kept = append(kept, r)
		} else {
			skipped = append(skipped, r)
		}
	}
	return kept, skipped
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
