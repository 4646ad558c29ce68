package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"omniroute/internal/opt"
)

// Fingerprint is the first 16 hex chars of the SHA-256 of the stop list,
// each stop encoded as a JSON object with sorted keys, input order kept.
func Fingerprint(stops []opt.Stop) string {
	norm := make([]map[string]any, len(stops))
	for i, s := range stops {
		norm[i] = map[string]any{
			"id":                s.ID,
			"lat":               s.Lat,
			"lng":               s.Lng,
			"demand_kg":         s.DemandKg,
			"service_time_min":  s.ServiceTimeMin,
			"time_window_start": nullable(s.TimeWindowStart),
			"time_window_end":   nullable(s.TimeWindowEnd),
		}
	}
	// maps marshal with sorted keys
	b, _ := json.Marshal(norm)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// CacheKey extends the stop fingerprint with the fleet, depot and mode so two
// requests share a key only when they would produce the same result.
func CacheKey(p opt.RoutingProblem, mode opt.SolverType) string {
	fleet, _ := json.Marshal(p.Vehicles)
	h := sha256.New()
	h.Write([]byte(Fingerprint(p.Stops)))
	h.Write(fleet)
	h.Write([]byte(strconv.Itoa(p.DepotIndex)))
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
