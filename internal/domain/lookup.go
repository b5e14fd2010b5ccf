package domain

import "context"

// SummitLookup resolves a summit reference to its position.
// Implementations return an error wrapping ErrNotFound for unknown summits.
type SummitLookup interface {
	LookupSummit(ctx context.Context, ref string) (Location, error)
}

// CallsignLookup resolves an operator callsign to a position.
type CallsignLookup interface {
	LookupCallsign(ctx context.Context, callsign string) (Location, error)
}

// PropagationPath is the published form of an enriched match.
type PropagationPath struct {
	MatchID          int64       `json:"match_id"`
	ActivationSpotID int64       `json:"activation_spot_id"`
	ReceptionSpotID  int64       `json:"reception_spot_id"`
	Activator        string      `json:"activator"`
	SummitRef        string      `json:"summit_ref"`
	Reporter         string      `json:"reporter"`
	FrequencyHz      int64       `json:"frequency_hz"`
	Band             string      `json:"band,omitempty"`
	Mode             string      `json:"mode"`
	SNR              int         `json:"snr_db"`
	ActivationTime   string      `json:"activation_time"`
	ReceptionTime    string      `json:"reception_time"`
	TimeDiffSeconds  int64       `json:"time_diff_seconds"`
	FreqDiffHz       int64       `json:"freq_diff_hz"`
	Activation       Coordinates `json:"activation"`
	Reception        Coordinates `json:"reception"`
	DistanceKm       float64     `json:"distance_km"`
	EnrichedAt       string      `json:"enriched_at"`
}

// NewPropagationPath flattens an enriched match for publishing. The second
// return is false when the match has no enrichment yet.
func NewPropagationPath(d MatchDetail) (PropagationPath, bool) {
	if !d.Enriched || d.Enrichment == nil {
		return PropagationPath{}, false
	}
	const layout = "2006-01-02T15:04:05Z"
	return PropagationPath{
		MatchID:          d.ID,
		ActivationSpotID: d.ActivationSpotID,
		ReceptionSpotID:  d.ReceptionSpotID,
		Activator:        d.Activation.Callsign,
		SummitRef:        d.Activation.SummitRef,
		Reporter:         d.Reception.Reporter,
		FrequencyHz:      d.Reception.FrequencyHz,
		Band:             BandFor(d.Reception.FrequencyHz),
		Mode:             d.Reception.Mode,
		SNR:              d.Reception.SNR,
		ActivationTime:   d.Activation.ObservedAt.UTC().Format(layout),
		ReceptionTime:    d.Reception.ObservedAt.UTC().Format(layout),
		TimeDiffSeconds:  d.TimeDiffSeconds,
		FreqDiffHz:       d.FreqDiffHz,
		Activation:       d.Enrichment.Activation,
		Reception:        d.Enrichment.Reception,
		DistanceKm:       d.Enrichment.DistanceKm,
		EnrichedAt:       d.Enrichment.EnrichedAt.UTC().Format(layout),
	}, true
}
