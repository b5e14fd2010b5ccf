package domain

import "time"

// MatchQuery filters the consumer view of matches. Zero values disable a filter.
type MatchQuery struct {
	Since    time.Time // reception observed at or after
	Until    time.Time // reception observed at or before
	Band     string    // e.g. "20m"
	MinSNR   *int
	Callsign string // substring of activator or reporter
	Summit   string // substring of summit reference
	Limit    int    // default 100, max 1000
}

// Query result limits.
const (
	DefaultMatchLimit = 100
	MaxMatchLimit     = 1000
)

// PropagationStats summarises enriched matches whose reception was observed
// at or after Since. Distance and SNR fields are zero when TotalPaths is zero.
type PropagationStats struct {
	Since          time.Time      `json:"since"`
	TotalPaths     int            `json:"total_paths"`
	UniqueSummits  int            `json:"unique_summits"`
	UniqueSpotters int            `json:"unique_spotters"`
	AvgDistanceKm  float64        `json:"avg_distance_km"`
	MinDistanceKm  float64        `json:"min_distance_km"`
	MaxDistanceKm  float64        `json:"max_distance_km"`
	AvgSNR         float64        `json:"avg_snr_db"`
	Bands          map[string]int `json:"bands"`
}

// OutOfBand labels paths whose frequency falls outside every known band.
const OutOfBand = "other"
