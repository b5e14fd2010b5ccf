package domain

import "time"

// Feed identifies one of the two spot sources.
type Feed string

const (
	FeedActivation Feed = "activation"
	FeedReception  Feed = "reception"
)

// Spot is a parsed feed record of either kind.
type Spot interface {
	Feed() Feed
	Timestamp() time.Time
}

// ActivationSpot is a report that an operator is on the air from a summit.
// Spots are immutable once stored.
type ActivationSpot struct {
	ID          int64     `json:"id"`
	ObservedAt  time.Time `json:"observed_at"`
	Callsign    string    `json:"callsign"`
	SummitRef   string    `json:"summit_ref"`
	FrequencyHz int64     `json:"frequency_hz"`
	Mode        string    `json:"mode,omitempty"`
	Spotter     string    `json:"spotter"`
	Comment     string    `json:"comment,omitempty"`
}

func (ActivationSpot) Feed() Feed             { return FeedActivation }
func (s ActivationSpot) Timestamp() time.Time { return s.ObservedAt }

// ReceptionSpot is a skimmer report that it decoded a transmission.
type ReceptionSpot struct {
	ID          int64     `json:"id"`
	ObservedAt  time.Time `json:"observed_at"`
	Reporter    string    `json:"reporter"`
	Reported    string    `json:"reported"`
	FrequencyHz int64     `json:"frequency_hz"`
	SNR         int       `json:"snr_db"`
	Mode        string    `json:"mode"`
	WPM         int       `json:"wpm,omitempty"`
	SpotType    string    `json:"spot_type,omitempty"`
}

func (ReceptionSpot) Feed() Feed             { return FeedReception }
func (s ReceptionSpot) Timestamp() time.Time { return s.ObservedAt }

// Match links one activation spot to one reception spot of the same
// transmission. The pair is unique; enrichment fields are written once.
type Match struct {
	ID               int64       `json:"id"`
	ActivationSpotID int64       `json:"activation_spot_id"`
	ReceptionSpotID  int64       `json:"reception_spot_id"`
	CreatedAt        time.Time   `json:"created_at"`
	TimeDiffSeconds  int64       `json:"time_diff_seconds"`
	FreqDiffHz       int64       `json:"freq_diff_hz"`
	Enriched         bool        `json:"enriched"`
	Enrichment       *Enrichment `json:"enrichment,omitempty"`
}

// Enrichment holds the resolved endpoints of a match and the distance between them.
type Enrichment struct {
	Activation Coordinates `json:"activation"`
	Reception  Coordinates `json:"reception"`
	DistanceKm float64     `json:"distance_km"`
	EnrichedAt time.Time   `json:"enriched_at"`
}

// MatchDetail is a match joined with both of its spots.
type MatchDetail struct {
	Match
	Activation ActivationSpot `json:"activation_spot"`
	Reception  ReceptionSpot  `json:"reception_spot"`
}

// LocationKind namespaces location cache keys.
type LocationKind string

const (
	LocationSummit   LocationKind = "summit"
	LocationCallsign LocationKind = "callsign"
)

// LocationSource records where a set of coordinates came from.
type LocationSource string

const (
	SourceSOTA   LocationSource = "sota"
	SourceQRZ    LocationSource = "qrz"
	SourceGrid   LocationSource = "grid"
	SourcePrefix LocationSource = "prefix"
)

// Location is a resolved position for a summit or operator.
type Location struct {
	Coordinates
	Name   string         `json:"name,omitempty"`
	Source LocationSource `json:"source"`
}

// LocationEntry is one cached location, keyed by kind and identifier.
type LocationEntry struct {
	Kind        LocationKind
	Key         string
	Location    Location
	LastUpdated time.Time
}

// Fresh reports whether the entry was updated within ttl of now.
func (e LocationEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.LastUpdated) < ttl
}
