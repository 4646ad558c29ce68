package opt

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKnownDistances(t *testing.T) {
	assert.InDelta(t, 1.112, Haversine(0, 0, 0, 0.01), 0.001)
	assert.InDelta(t, 1.112, Haversine(0, 0, 0.01, 0), 0.001)
	assert.InDelta(t, 1.573, Haversine(0, 0, 0.01, 0.01), 0.001)
	assert.Zero(t, Haversine(12.97, 77.59, 12.97, 77.59))
	// Bengaluru to Chennai, roughly 290 km as the crow flies
	assert.InDelta(t, 290, Haversine(12.9716, 77.5946, 13.0827, 80.2707), 5)
}

func TestBuildCostMatrixSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	stops := make([]Stop, 40)
	for i := range stops {
		stops[i] = Stop{ID: string(rune('a' + i)), Lat: 12 + rng.Float64(), Lng: 77 + rng.Float64()}
	}
	m := BuildCostMatrix(stops, MatrixOptions{WithDurations: true})
	require.Equal(t, len(stops), m.Size())
	for i := range stops {
		assert.Zero(t, m.Meters[i][i])
		assert.Zero(t, m.Seconds[i][i])
		for j := range stops {
			assert.Equal(t, m.Meters[i][j], m.Meters[j][i])
			assert.Equal(t, m.Seconds[i][j], m.Seconds[j][i])
			assert.GreaterOrEqual(t, m.Meters[i][j], int64(0))
		}
	}
}

func TestBuildCostMatrixQuantization(t *testing.T) {
	m := BuildCostMatrix(squareStops(), MatrixOptions{WithDurations: true})
	assert.Equal(t, int64(1112), m.Meters[0][1])
	assert.Equal(t, int64(1573), m.Meters[0][2])
	// 1.112 km at 40 km/h
	assert.Equal(t, int64(100), m.Seconds[0][1])

	fast := BuildCostMatrix(squareStops(), MatrixOptions{WithDurations: true, SpeedKmh: 80})
	assert.Equal(t, int64(50), fast.Seconds[0][1])

	noTime := BuildCostMatrix(squareStops(), MatrixOptions{})
	assert.Nil(t, noTime.Seconds)
}

type countingProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingProvider) Matrix(stops []Stop) (CostMatrix, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return CostMatrix{}, c.err
	}
	return BuildCostMatrix(stops, MatrixOptions{}), nil
}

func TestCachedProviderMemoizes(t *testing.T) {
	inner := &countingProvider{}
	cp := NewCachedProvider(inner, 2)

	a, err := cp.Matrix(squareStops())
	require.NoError(t, err)
	b, err := cp.Matrix(squareStops())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, inner.calls)

	hits, misses := cp.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)

	// two more distinct stop sets evict the first
	_, _ = cp.Matrix(squareStops()[:2])
	_, _ = cp.Matrix(squareStops()[:3])
	_, _ = cp.Matrix(squareStops())
	assert.Equal(t, 4, inner.calls)
}

func TestCachedProviderPropagatesErrors(t *testing.T) {
	cp := NewCachedProvider(&countingProvider{err: errors.New("matrix service down")}, 4)
	_, err := cp.Matrix(squareStops())
	assert.EqualError(t, err, "matrix service down")
}
