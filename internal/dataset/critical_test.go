package dataset

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guihirsch/orbee.online-sub002/internal/domain"
)

func TestLoadCriticalPoints(t *testing.T) {
	feed, err := LoadCriticalPoints()
	require.NoError(t, err)

	require.Len(t, feed.Points, 6)
	assert.Equal(t, 3, feed.Metadata.TotalCriticalPoints)
	assert.Equal(t, 3, feed.Metadata.TotalModeratePoints)

	var critical, moderate int
	for _, p := range feed.Points {
		switch p.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityModerate:
			moderate++
		}
		assert.NoError(t, p.Coordinate.Validate())
	}
	assert.Equal(t, feed.Metadata.TotalCriticalPoints, critical)
	assert.Equal(t, feed.Metadata.TotalModeratePoints, moderate)
}

func TestFeed_Find(t *testing.T) {
	feed, err := LoadCriticalPoints()
	require.NoError(t, err)

	p, ok := feed.Find("cp-002")
	require.True(t, ok)
	assert.InDelta(t, -29.7195, p.Coordinate.Lat, 1e-9)
	assert.InDelta(t, -52.4302, p.Coordinate.Lon, 1e-9)

	_, ok = feed.Find("missing")
	assert.False(t, ok)
}

func TestFeed_NearSortedByDistance(t *testing.T) {
	feed, err := LoadCriticalPoints()
	require.NoError(t, err)

	centro := domain.Coordinate{Lat: -29.7175, Lon: -52.4264}

	near := feed.Near(centro, 1)
	require.Len(t, near, 1)
	assert.Equal(t, "cp-002", near[0].ID)
	assert.Less(t, near[0].DistanceKm, 1.0)

	all := feed.Near(centro, 50)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].DistanceKm, all[i].DistanceKm)
	}
}

func TestFeed_NearNothingReturnsEmptySlice(t *testing.T) {
	feed, err := LoadCriticalPoints()
	require.NoError(t, err)

	got := feed.Near(domain.Coordinate{Lat: -23.55, Lon: -46.63}, 5)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseCriticalPoints_SkipsNonPoints(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","metadata":{"total_critical_points":1},"features":[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[-52.4,-29.7]},"properties":{"id":"a","severity":"critical","ndvi":0.1}},
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"id":"b"}}]}`)

	feed, err := ParseCriticalPoints(data)
	require.NoError(t, err)
	require.Len(t, feed.Points, 1)
	assert.Equal(t, domain.SeverityCritical, feed.Points[0].Severity)
	assert.Equal(t, 1, feed.Metadata.TotalCriticalPoints)
}

func TestParseCriticalPoints_Malformed(t *testing.T) {
	_, err := ParseCriticalPoints([]byte(`{"type":`))
	require.Error(t, err)
}

func TestFeed_WithinBoundary(t *testing.T) {
	feed, err := LoadCriticalPoints()
	require.NoError(t, err)

	around := orb.Polygon{{{-52.4322, -29.7215}, {-52.4282, -29.7215}, {-52.4282, -29.7175}, {-52.4322, -29.7175}, {-52.4322, -29.7215}}}
	got := feed.Within(around)
	require.Len(t, got, 1)
	assert.Equal(t, "cp-002", got[0].ID)

	assert.Len(t, feed.Within(orb.Bound{Min: orb.Point{-53, -30}, Max: orb.Point{-52, -29}}), 6)

	none := feed.Within(orb.Polygon{{{-46.7, -23.6}, {-46.6, -23.6}, {-46.6, -23.5}, {-46.7, -23.6}}})
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
