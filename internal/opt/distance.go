package opt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
)

const (
	EarthRadiusKm   = 6371.0
	DefaultSpeedKmh = 40.0
)

// Haversine returns the great-circle distance in km between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	lat1r, lat2r := lat1*math.Pi/180, lat2*math.Pi/180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// CostMatrix holds integer arc costs between stops, indexed like the stop
// slice it was built from. Seconds is nil unless durations were requested.
// Matrices may be shared between solves and must be treated as read-only.
type CostMatrix struct {
	Meters  [][]int64
	Seconds [][]int64
}

func (m CostMatrix) Size() int { return len(m.Meters) }

type MatrixOptions struct {
	WithDurations bool
	SpeedKmh      float64 // defaults to DefaultSpeedKmh
}

// BuildCostMatrix computes the pairwise haversine matrix quantized to whole
// meters and, optionally, whole seconds at the configured average speed.
func BuildCostMatrix(stops []Stop, opts MatrixOptions) CostMatrix {
	speed := opts.SpeedKmh
	if speed <= 0 {
		speed = DefaultSpeedKmh
	}
	n := len(stops)
	m := CostMatrix{Meters: squareMatrix(n)}
	if opts.WithDurations {
		m.Seconds = squareMatrix(n)
	}
	// upper triangle only, mirrored
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			km := Haversine(stops[i].Lat, stops[i].Lng, stops[j].Lat, stops[j].Lng)
			meters := int64(math.Round(km * 1000))
			m.Meters[i][j], m.Meters[j][i] = meters, meters
			if m.Seconds != nil {
				secs := int64(math.Round(km / speed * 3600))
				m.Seconds[i][j], m.Seconds[j][i] = secs, secs
			}
		}
	}
	return m
}

func squareMatrix(n int) [][]int64 {
	cells := make([]int64, n*n)
	rows := make([][]int64, n)
	for i := range rows {
		rows[i] = cells[i*n : (i+1)*n : (i+1)*n]
	}
	return rows
}

// MatrixProvider supplies arc costs for a stop list. The default is the
// great-circle proxy; a road-network provider can be plugged in instead.
type MatrixProvider interface {
	Matrix(stops []Stop) (CostMatrix, error)
}

type HaversineProvider struct {
	Options MatrixOptions
}

func (h HaversineProvider) Matrix(stops []Stop) (CostMatrix, error) {
	return BuildCostMatrix(stops, h.Options), nil
}

// CachedProvider memoizes matrices by stop coordinates so a stop set that is
// re-solved under another configuration skips the O(n²) build. Safe for
// concurrent use. Oldest entries are evicted first once max is reached.
type CachedProvider struct {
	next MatrixProvider
	max  int

	mu      sync.Mutex
	entries map[string]CostMatrix
	order   []string
	hits    uint64
	misses  uint64
}

func NewCachedProvider(next MatrixProvider, maxEntries int) *CachedProvider {
	if next == nil {
		next = HaversineProvider{}
	}
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &CachedProvider{next: next, max: maxEntries, entries: map[string]CostMatrix{}}
}

func (c *CachedProvider) Matrix(stops []Stop) (CostMatrix, error) {
	key := coordinateKey(stops)
	c.mu.Lock()
	if m, ok := c.entries[key]; ok {
		c.hits++
		c.mu.Unlock()
		return m, nil
	}
	c.misses++
	c.mu.Unlock()

	m, err := c.next.Matrix(stops)
	if err != nil {
		return CostMatrix{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		if len(c.order) >= c.max {
			delete(c.entries, c.order[0])
			c.order = c.order[1:]
		}
		c.entries[key] = m
		c.order = append(c.order, key)
	}
	return m, nil
}

// Stats returns cache hit and miss counts.
func (c *CachedProvider) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func coordinateKey(stops []Stop) string {
	h := sha256.New()
	var buf [16]byte
	for _, s := range stops {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(s.Lat))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(s.Lng))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
