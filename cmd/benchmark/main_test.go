package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/lychee-technology/strata/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateListingsIsDeterministic(t *testing.T) {
	cat, err := catalog.New(map[string][]byte{"listing.json": []byte(listingSchema)})
	require.NoError(t, err)

	first, err := generateListings(cat, rand.New(rand.NewSource(42)), 25)
	require.NoError(t, err)
	second, err := generateListings(cat, rand.New(rand.NewSource(42)), 25)
	require.NoError(t, err)
	require.Len(t, first, 25)

	for i := range first {
		a, err := cat.Encode(first[i])
		require.NoError(t, err)
		b, err := cat.Encode(second[i])
		require.NoError(t, err)
		assert.Equal(t, a.Data, b.Data)
		assert.Contains(t, layouts, a.Data["layout"])
	}
}

func TestPercentile(t *testing.T) {
	var samples []time.Duration
	for i := 100; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(samples, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(samples, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(samples, 100))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}

func TestParseFlags(t *testing.T) {
	opts, flags, err := parseFlags([]string{"--listings", "10", "--workers", "0", "--dialect", "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, 10, opts.listings)
	assert.Equal(t, 1, opts.workers)
	assert.True(t, flags.Changed("dialect"))

	_, _, err = parseFlags([]string{"--lookups", "-1"})
	assert.Error(t, err)
}
