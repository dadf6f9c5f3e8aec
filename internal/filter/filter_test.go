package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

func TestInclude_NoFilters(t *testing.T) {
	f := New(nil, nil)
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Include(resource.Resource{ID: "i-123", Tags: map[string]string{"env": "prod"}}))
	assert.True(t, f.Include(resource.Resource{ID: "i-456"}))
}

func TestInclude_IncludeTags(t *testing.T) {
	f := New(map[string]string{"env": "prod", "team": "platform"}, nil)

	assert.True(t, f.Include(resource.Resource{ID: "i-1", Tags: map[string]string{"env": "prod", "team": "platform", "TTL": "3"}}))
	assert.False(t, f.Include(resource.Resource{ID: "i-2", Tags: map[string]string{"env": "prod"}}), "all include tags must match")
	assert.False(t, f.Include(resource.Resource{ID: "i-3", Tags: map[string]string{"env": "staging", "team": "platform"}}))
	assert.False(t, f.Include(resource.Resource{ID: "i-4"}), "untagged instances fail an include filter")
}

func TestInclude_ExcludeTags_AnyMatch(t *testing.T) {
	f := New(nil, map[string]string{"keep": "true", "ttlkeeper": "skip"})

	assert.False(t, f.Include(resource.Resource{ID: "i-1", Tags: map[string]string{"keep": "true"}}))
	assert.False(t, f.Include(resource.Resource{ID: "i-2", Tags: map[string]string{"ttlkeeper": "skip"}}))
	assert.True(t, f.Include(resource.Resource{ID: "i-3", Tags: map[string]string{"keep": "false"}}))
	assert.True(t, f.Include(resource.Resource{ID: "i-4"}))
}

func TestInclude_ExcludeWins(t *testing.T) {
	f := New(map[string]string{"env": "dev"}, map[string]string{"keep": "true"})
	r := resource.Resource{ID: "i-1", Tags: map[string]string{"env": "dev", "keep": "true"}}
	assert.False(t, f.Include(r))
}

func TestApply(t *testing.T) {
	f := New(nil, map[string]string{"keep": "true"})
	resources := []resource.Resource{
		{ID: "i-1", Tags: map[string]string{"keep": "true"}},
		{ID: "i-2"},
		{ID: "i-3", Tags: map[string]string{"TTL": "3"}},
	}

	kept, skipped := f.Apply(resources)

	assert.Len(t, kept, 2)
	assert.Equal(t, "i-2", kept[0].ID)
	assert.Equal(t, "i-3", kept[1].ID)
	assert.Len(t, skipped, 1)
	assert.Equal(t, "i-1", skipped[0].ID)
}

func TestApply_NilFilter(t *testing.T) {
	var f *Filter
	resources := []resource.Resource{{ID: "i-1"}}

	kept, skipped := f.Apply(resources)

	assert.Equal(t, resources, kept)
	assert.Nil(t, skipped)
}
