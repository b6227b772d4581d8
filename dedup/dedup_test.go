package dedup

import (
	"math"
	"testing"
	"time"

	"github.com/LdDl/facewatch/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type globalThreshold float64

func (g globalThreshold) Threshold(string) float64 {
	return float64(g)
}

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestCacheSuppressesWithinCooldown(t *testing.T) {
	c := New(300*time.Second, nil, globalThreshold(0.8))

	first := []float64{1, 0, 0}
	require.True(t, c.ShouldAlert(first, start))
	c.Record(first, start)

	// Cosine similarity to first is exactly 0.95
	similar := []float64{0.95, math.Sqrt(1 - 0.95*0.95), 0}
	require.InDelta(t, 0.95, similarity.Cosine{}.Similarity(first, similar), 1e-9)

	assert.False(t, c.ShouldAlert(similar, start.Add(60*time.Second)))
	assert.Equal(t, 1, c.Len())

	// Different person is not suppressed
	assert.True(t, c.ShouldAlert([]float64{0, 0, 1}, start.Add(60*time.Second)))

	// Cooldown boundary: entry survives while timestamp + cooldown >= now
	assert.False(t, c.ShouldAlert(first, start.Add(300*time.Second)))

	assert.True(t, c.ShouldAlert(first, start.Add(301*time.Second)))
	assert.Equal(t, 0, c.Len())
}

func TestCacheIgnoresWallClock(t *testing.T) {
	c := New(time.Minute, nil, globalThreshold(0.8))
	c.Record([]float64{1, 0}, start)
	for _, item := range c.entries.Items() {
		assert.Zero(t, item.Expiration, "items must only expire by frame time")
	}
	// Frame times far behind the wall clock still suppress within cooldown
	assert.False(t, c.ShouldAlert([]float64{1, 0}, start.Add(59*time.Second)))
}

func TestCacheThresholdIsExclusive(t *testing.T) {
	c := New(time.Minute, nil, globalThreshold(1.0))
	emb := []float64{0.3, 0.4}
	c.Record(emb, start)
	// Identical embedding scores 1.0 which is not above threshold 1.0
	assert.True(t, c.ShouldAlert(emb, start.Add(time.Second)))
}

func TestCacheFollowsThresholdSource(t *testing.T) {
	thresholds := &mutableThreshold{value: 0.99}
	c := New(time.Minute, similarity.Cosine{}, thresholds)
	c.Record([]float64{1, 0}, start)
	query := []float64{1, 0.2}

	assert.True(t, c.ShouldAlert(query, start.Add(time.Second)))
	thresholds.value = 0.9
	assert.False(t, c.ShouldAlert(query, start.Add(time.Second)))
}

func TestCacheRecordCopiesEmbedding(t *testing.T) {
	c := New(time.Minute, nil, globalThreshold(0.8))
	emb := []float64{1, 0}
	c.Record(emb, start)
	emb[0], emb[1] = 0, 1
	assert.False(t, c.ShouldAlert([]float64{1, 0}, start))
}

func TestCacheDefaults(t *testing.T) {
	c := New(0, nil, globalThreshold(0.8))
	assert.Equal(t, DefaultCooldown, c.Cooldown())
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.ShouldAlert([]float64{1, 0}, start))
}

type mutableThreshold struct {
	value float64
}

func (m *mutableThreshold) Threshold(string) float64 {
	return m.value
}
