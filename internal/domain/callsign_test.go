package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseCallsign(t *testing.T) {
	tests := map[string]string{
		"k1abc":       "K1ABC",
		"K1ABC/P":     "K1ABC",
		"K1ABC/7":     "K1ABC",
		"DL/K1ABC":    "K1ABC",
		"W3LPL-#":     "W3LPL",
		" VE3XYZ/M ":  "VE3XYZ",
		"EA8/G4ABC/P": "G4ABC",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseCallsign(in), in)
	}
}

func TestSkimmerCallsign(t *testing.T) {
	assert.Equal(t, "W3LPL", SkimmerCallsign("W3LPL-#"))
	assert.Equal(t, "KM3T", SkimmerCallsign("km3t-2-#"))
	assert.Equal(t, "DK8NE", SkimmerCallsign("DK8NE"))
}

func TestIsOwnCallsign(t *testing.T) {
	assert.True(t, IsOwnCallsign("K1ABC", "k1abc"))
	assert.True(t, IsOwnCallsign("K1ABC/P", "K1ABC"))
	assert.True(t, IsOwnCallsign("k1abc/m", "K1ABC"))
	assert.True(t, IsOwnCallsign("DL/K1ABC", "K1ABC/P"))
	assert.False(t, IsOwnCallsign("K1ABD", "K1ABC"))
	assert.False(t, IsOwnCallsign("K1ABCD", "K1ABC"))
	assert.False(t, IsOwnCallsign("K1ABC", ""))
	assert.False(t, IsOwnCallsign("", "K1ABC"))
}

func TestEstimateFromCallsign(t *testing.T) {
	tests := []struct {
		call   string
		region string
	}{
		{"K1ABC", "New England"},
		{"N0XYZ", "Mountain/Plains"},
		{"W6AB", "California"},
		{"KD9ABC", "Midwest"},
		{"AA4XX", "Southeast US"},
		{"VE3ABC", "Ontario"},
		{"VA7XYZ", "British Columbia"},
		{"GM4ABC", "Scotland"},
		{"G4ABC", "England"},
		{"M0ABC/P", "England"},
		{"DL1ABC", "Germany"},
		{"JA1XYZ", "Japan"},
		{"VK2ABC", "Australia"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			loc, ok := EstimateFromCallsign(tt.call)
			assert.True(t, ok)
			assert.Equal(t, tt.region, loc.Name)
			assert.Equal(t, SourcePrefix, loc.Source)
			assert.True(t, loc.Valid())
		})
	}

	for _, unknown := range []string{"", "ZS6ABC", "A4XYZ", "9A1AA"} {
		_, ok := EstimateFromCallsign(unknown)
		assert.False(t, ok, unknown)
	}
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, "20m", BandFor(14_025_000))
	assert.Equal(t, "40m", BandFor(7_032_500))
	assert.Equal(t, "10m", BandFor(28_060_000))
	assert.Equal(t, "2m", BandFor(144_300_000))
	assert.Equal(t, "", BandFor(15_000_000))
	assert.Equal(t, "630m", BandFor(475_500))
	assert.Equal(t, "2200m", BandFor(136_000))

	b, ok := LookupBand("20M")
	assert.True(t, ok)
	assert.Equal(t, int64(14_000_000), b.LowHz)
	_, ok = LookupBand("11m")
	assert.False(t, ok)
}

func TestNewPropagationPath(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d := MatchDetail{
		Match: Match{
			ID: 7, ActivationSpotID: 1, ReceptionSpotID: 2,
			TimeDiffSeconds: 5, FreqDiffHz: 300,
		},
		Activation: ActivationSpot{ID: 1, Callsign: "K1ABC", SummitRef: "W1/HA-001", ObservedAt: at},
		Reception:  ReceptionSpot{ID: 2, Reporter: "W3LPL", FrequencyHz: 14_025_300, Mode: "CW", SNR: 22, ObservedAt: at.Add(5 * time.Second)},
	}

	_, ok := NewPropagationPath(d)
	assert.False(t, ok, "unenriched match is not publishable")

	d.Enriched = true
	d.Enrichment = &Enrichment{
		Activation: Coordinates{42.4, -71.1},
		Reception:  Coordinates{39.9, -75.2},
		DistanceKm: 450.5,
		EnrichedAt: at.Add(time.Minute),
	}
	p, ok := NewPropagationPath(d)
	assert.True(t, ok)
	assert.Equal(t, int64(7), p.MatchID)
	assert.Equal(t, "K1ABC", p.Activator)
	assert.Equal(t, "W3LPL", p.Reporter)
	assert.Equal(t, "20m", p.Band)
	assert.Equal(t, "2024-06-01T12:00:05Z", p.ReceptionTime)
	assert.Equal(t, 450.5, p.DistanceKm)
}
