package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guihirsch/orbee.online-sub002/internal/dataset"
)

func loadRegistry(t *testing.T) *dataset.Registry {
	t.Helper()
	reg, err := dataset.Load()
	require.NoError(t, err)
	return reg
}

func TestValidateEmbeddedAssets(t *testing.T) {
	reg := loadRegistry(t)
	assert.Empty(t, validateRegions(reg).errors)
	assert.Empty(t, validateFeed(dataset.CriticalPoints, reg).errors)
}

func TestValidateFeed_MetadataMismatch(t *testing.T) {
	data := strings.Replace(string(dataset.CriticalPoints), `"total_critical_points": 3`, `"total_critical_points": 4`, 1)
	require.NotEqual(t, string(dataset.CriticalPoints), data, "fixture layout changed")

	p := validateFeed([]byte(data), loadRegistry(t))
	require.Len(t, p.errors, 1)
	assert.Contains(t, p.errors[0], "4 critical points")
}

func TestValidateFeed_Malformed(t *testing.T) {
	p := validateFeed([]byte("{"), loadRegistry(t))
	assert.False(t, p.passed())
}

func TestValidateRaster_Missing(t *testing.T) {
	p := validateRaster(filepath.Join(t.TempDir(), "missing.tif"))
	assert.False(t, p.passed())
}

func TestValidateSeries(t *testing.T) {
	reg := loadRegistry(t)
	path := filepath.Join(t.TempDir(), "series.json")

	good := `{"seed":1,"days":10,"end":"2024-06-15","regions":[
		{"region_id":"centro","series":{"samples":[
			{"date":"2024-06-10","ndvi":0.4,"quality":"high","cloud_coverage":5},
			{"date":"2024-06-15","ndvi":0.35,"quality":"high","cloud_coverage":5}]}}]}`
	require.NoError(t, os.WriteFile(path, []byte(good), 0o600))
	assert.Empty(t, validateSeries(path, reg).errors)

	bad := `{"seed":1,"days":10,"end":"2024-06-12","regions":[
		{"region_id":"nowhere","series":{"samples":[]}},
		{"region_id":"centro","series":{"samples":[
			{"date":"2024-06-15","ndvi":0.4,"quality":"high","cloud_coverage":5},
			{"date":"2024-06-10","ndvi":1.2,"quality":"high","cloud_coverage":5}]}}]}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))
	p := validateSeries(path, reg)
	joined := strings.Join(p.errors, "\n")
	assert.Contains(t, joined, `unknown region "nowhere"`)
	assert.Contains(t, joined, "out of range")
	assert.Contains(t, joined, "not after previous day")
	assert.Contains(t, joined, "after end")
	assert.Contains(t, joined, "latest ndvi")
}
