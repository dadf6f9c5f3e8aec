package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/ttlkeeper/internal/fault"
	"github.com/yairfalse/ttlkeeper/internal/filter"
	"github.com/yairfalse/ttlkeeper/internal/ttl"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

type mockLister struct {
	resources []resource.Resource
	err       error
}

func (m *mockLister) ListRunning(_ context.Context) ([]resource.Resource, error) {
	return m.resources, m.err
}

type mockStore struct {
	ids    resource.IDSet
	merges []resource.IDSet
	err    error
}

func (m *mockStore) MergeAdd(_ context.Context, ids resource.IDSet) (resource.IDSet, error) {
	m.merges = append(m.merges, ids)
	if m.err != nil {
		return nil, m.err
	}
	m.ids = m.ids.Union(ids)
	return m.ids, nil
}

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ttlTags(minutes int) map[string]string {
	return ttl.NewCodec(time.UTC).Format(created, minutes)
}

func newTestScanner(lister Lister, store Store, policy ttl.MalformedPolicy, clk clock.Clock) *Scanner {
	return New(lister, store, ttl.NewEvaluator(ttl.NewCodec(time.UTC), policy), zerolog.Nop(), WithClock(clk))
}

func TestScan_UsesClock(t *testing.T) {
	mockClock := clock.NewMock()
	mockClock.Set(created.Add(2*time.Minute + 59*time.Second))
	lister := &mockLister{resources: []resource.Resource{{ID: "i-1", Tags: ttlTags(3)}}}
	store := &mockStore{}
	s := newTestScanner(lister, store, ttl.MalformedDelete, mockClock)

	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count(ttl.Alive))
	assert.Empty(t, store.merges)

	mockClock.Add(2 * time.Second)

	result, err = s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count(ttl.Expired))
	assert.Equal(t, []string{"i-1"}, result.NewlyFlagged.Sorted())
	assert.True(t, result.Written)
}

func TestScanAt_EmptyListingWritesNothing(t *testing.T) {
	store := &mockStore{}
	s := newTestScanner(&mockLister{}, store, ttl.MalformedDelete, clock.NewMock())

	result, err := s.ScanAt(context.Background(), created)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.NewlyFlagged.Len())
	assert.False(t, result.Written)
	assert.Nil(t, result.DeleteList)
	assert.Empty(t, store.merges)
}

func TestScanAt_ListFailureLeavesStore(t *testing.T) {
	listErr := fault.Provider("list running instances", errors.New("RequestLimitExceeded"))
	store := &mockStore{ids: resource.NewIDSet("i-old")}
	s := newTestScanner(&mockLister{err: listErr}, store, ttl.MalformedDelete, clock.NewMock())

	result, err := s.ScanAt(context.Background(), created)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, fault.Is(err, fault.ProviderCallFailure))
	assert.Empty(t, store.merges)
	assert.Equal(t, []string{"i-old"}, store.ids.Sorted())
}

func TestScanAt_UntaggedIsFlagged(t *testing.T) {
	lister := &mockLister{resources: []resource.Resource{
		{ID: "i-untagged", Tags: map[string]string{}},
		{ID: "i-alive", Tags: ttlTags(60)},
	}}
	store := &mockStore{}
	s := newTestScanner(lister, store, ttl.MalformedDelete, clock.NewMock())

	result, err := s.ScanAt(context.Background(), created.Add(time.Minute))

	require.NoError(t, err)
	assert.Equal(t, []string{"i-untagged"}, result.NewlyFlagged.Sorted())
	assert.Equal(t, 1, result.Count(ttl.Untagged))
	assert.Equal(t, 1, result.Count(ttl.Alive))
	require.Len(t, store.merges, 1)
	assert.Equal(t, []string{"i-untagged"}, store.merges[0].Sorted())
}

func TestScanAt_MergesWithExistingList(t *testing.T) {
	lister := &mockLister{resources: []resource.Resource{{ID: "i-new", Tags: ttlTags(1)}}}
	store := &mockStore{ids: resource.NewIDSet("i-old")}
	s := newTestScanner(lister, store, ttl.MalformedDelete, clock.NewMock())

	result, err := s.ScanAt(context.Background(), created.Add(time.Hour))

	require.NoError(t, err)
	assert.Equal(t, []string{"i-new"}, result.NewlyFlagged.Sorted())
	assert.Equal(t, []string{"i-new", "i-old"}, result.DeleteList.Sorted())
}

func TestScanAt_MalformedPolicy(t *testing.T) {
	malformed := map[string]string{"Name": "bob-1", "TTL": "soon"}

	tests := []struct {
		name        string
		policy      ttl.MalformedPolicy
		wantFlagged []string
		wantReview  []string
	}{
		{"delete", ttl.MalformedDelete, []string{"i-bad"}, nil},
		{"review", ttl.MalformedReview, []string{}, []string{"i-bad"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &mockLister{resources: []resource.Resource{{ID: "i-bad", Tags: malformed}}}
			store := &mockStore{}
			s := newTestScanner(lister, store, tt.policy, clock.NewMock())

			result, err := s.ScanAt(context.Background(), created)

			require.NoError(t, err)
			assert.Equal(t, 1, result.Count(ttl.Malformed))
			assert.Equal(t, tt.wantFlagged, result.NewlyFlagged.Sorted())
			assert.Equal(t, tt.wantReview, result.Review)
			assert.Equal(t, len(tt.wantFlagged) > 0, result.Written)
		})
	}
}

func TestScanAt_StoreFailure(t *testing.T) {
	lister := &mockLister{resources: []resource.Resource{{ID: "i-1"}}}
	store := &mockStore{err: fault.Persistence("replace delete list", errors.New("throttled"))}
	s := newTestScanner(lister, store, ttl.MalformedDelete, clock.NewMock())

	_, err := s.ScanAt(context.Background(), created)

	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.PersistenceFailure))
}

func TestScanAt_FilterSkipsExcluded(t *testing.T) {
	lister := &mockLister{resources: []resource.Resource{
		{ID: "i-keep", Tags: map[string]string{"keep": "true"}},
		{ID: "i-gone"},
	}}
	store := &mockStore{}
	s := New(lister, store, ttl.NewEvaluator(ttl.NewCodec(time.UTC), ttl.MalformedDelete), zerolog.Nop(),
		WithClock(clock.NewMock()),
		WithFilter(filter.New(nil, map[string]string{"keep": "true"})))

	result, err := s.ScanAt(context.Background(), created)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Excluded)
	assert.Equal(t, []string{"i-gone"}, result.NewlyFlagged.Sorted())
}
