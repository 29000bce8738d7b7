package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meta(id uint16, prefixes []string, createdAt time.Time, retiredAt time.Time) *Meta {
	return &Meta{ID: id, Prefixes: prefixes, CreatedAt: createdAt, RetiredAt: retiredAt, Signature: "sig"}
}

func TestEmptyTableHasNoDefault(t *testing.T) {
	tbl := Empty()
	assert.False(t, tbl.HasDefault())
	assert.Nil(t, tbl.PickByKey("feed:123"))
	assert.Equal(t, uint64(0), tbl.Gen)
}

func TestBuildGroupsByNamespaceNewestFirst(t *testing.T) {
	now := time.Now()
	older := meta(1, []string{"feed:"}, now.Add(-time.Hour), time.Time{})
	newer := meta(2, []string{"feed:"}, now, time.Time{})

	tbl, err := Build([]*Meta{older, newer}, 10, 1)
	require.NoError(t, err)

	picked := tbl.PickByKey("feed:item-1")
	require.NotNil(t, picked)
	assert.Equal(t, uint16(2), picked.ID)
}

func TestPickByKeyLongestPrefixWins(t *testing.T) {
	now := time.Now()
	general := meta(1, []string{"feed:"}, now, time.Time{})
	specific := meta(2, []string{"feed:video:"}, now, time.Time{})

	tbl, err := Build([]*Meta{general, specific}, 10, 1)
	require.NoError(t, err)

	picked := tbl.PickByKey("feed:video:123")
	require.NotNil(t, picked)
	assert.Equal(t, uint16(2), picked.ID)

	pickedGeneral := tbl.PickByKey("feed:photo:123")
	require.NotNil(t, pickedGeneral)
	assert.Equal(t, uint16(1), pickedGeneral.ID)
}

func TestPickByKeyFallsBackToDefault(t *testing.T) {
	now := time.Now()
	def := meta(1, []string{DefaultNamespace}, now, time.Time{})
	tbl, err := Build([]*Meta{def}, 10, 1)
	require.NoError(t, err)

	picked := tbl.PickByKey("unrelated-key")
	require.NotNil(t, picked)
	assert.Equal(t, uint16(1), picked.ID)
}

func TestPickByKeyPrefersRealMatchOverDefaultAtEqualLength(t *testing.T) {
	now := time.Now()
	// "default" has length 7; craft a 7-char real prefix that matches the key.
	real := meta(1, []string{"feedabc"}, now, time.Time{})
	def := meta(2, []string{DefaultNamespace}, now, time.Time{})

	tbl, err := Build([]*Meta{real, def}, 10, 1)
	require.NoError(t, err)

	picked := tbl.PickByKey("feedabc-item")
	require.NotNil(t, picked)
	assert.Equal(t, uint16(1), picked.ID)
}

func TestRetainMaxTruncatesOldestEntries(t *testing.T) {
	now := time.Now()
	var metas []*Meta
	for i := 0; i < 5; i++ {
		metas = append(metas, meta(uint16(i+1), []string{"feed:"}, now.Add(time.Duration(i)*time.Minute), time.Time{}))
	}
	tbl, err := Build(metas, 2, 1)
	require.NoError(t, err)

	ns := tbl.Namespaces()
	require.Len(t, ns, 1)
	assert.Len(t, ns[0].Metas, 2)
	// Newest (largest offset) must be position 0.
	assert.Equal(t, uint16(5), ns[0].Metas[0].ID)
}

func TestLookupByIDFindsRetiredMetas(t *testing.T) {
	now := time.Now()
	retired := meta(7, []string{"feed:"}, now.Add(-time.Hour), now)
	active := meta(8, []string{"feed:"}, now, time.Time{})

	tbl, err := Build([]*Meta{retired, active}, 10, 1)
	require.NoError(t, err)

	m, ok := tbl.LookupByID(7)
	require.True(t, ok)
	assert.True(t, m.Retired())

	_, ok = tbl.LookupByID(999)
	assert.False(t, ok)
}

func TestNextAvailableIDSkipsOccupied(t *testing.T) {
	now := time.Now()
	m1 := meta(1, []string{"feed:"}, now, time.Time{})
	m2 := meta(2, []string{"feed:"}, now, time.Time{})

	tbl, err := Build([]*Meta{m1, m2}, 10, 1)
	require.NoError(t, err)

	id, err := tbl.NextAvailableID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id)
}

func TestBuildRejectsNonPositiveRetainMax(t *testing.T) {
	_, err := Build(nil, 0, 1)
	assert.Error(t, err)
}

func TestGenerationIncrementsAcrossRebuilds(t *testing.T) {
	now := time.Now()
	tbl1, err := Build([]*Meta{meta(1, []string{"feed:"}, now, time.Time{})}, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tbl1.Gen)

	tbl2, err := Build([]*Meta{meta(2, []string{"feed:"}, now, time.Time{})}, 10, tbl1.Gen+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tbl2.Gen)
}

func TestAllMetasCoversActiveAndRetired(t *testing.T) {
	now := time.Now()
	retired := meta(1, []string{"feed:"}, now.Add(-time.Hour), now)
	active := meta(2, []string{"feed:"}, now, time.Time{})

	tbl, err := Build([]*Meta{retired, active}, 10, 1)
	require.NoError(t, err)

	assert.Len(t, tbl.AllMetas(), 2)
}
