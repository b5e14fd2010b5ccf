package domain

import "strings"

// Band is an amateur allocation in hertz, edges inclusive.
type Band struct {
	Name   string
	LowHz  int64
	HighHz int64
}

// bands covers the LF, MF, and HF allocations plus 6m and 2m (IARU Region 2
// edges).
var bands = []Band{
	{"2200m", 135_700, 137_800},
	{"630m", 472_000, 479_000},
	{"160m", 1_800_000, 2_000_000},
	{"80m", 3_500_000, 4_000_000},
	{"60m", 5_330_000, 5_410_000},
	{"40m", 7_000_000, 7_300_000},
	{"30m", 10_100_000, 10_150_000},
	{"20m", 14_000_000, 14_350_000},
	{"17m", 18_068_000, 18_168_000},
	{"15m", 21_000_000, 21_450_000},
	{"12m", 24_890_000, 24_990_000},
	{"10m", 28_000_000, 29_700_000},
	{"6m", 50_000_000, 54_000_000},
	{"2m", 144_000_000, 148_000_000},
}

// BandFor returns the band name containing hz, or "" when out of band.
func BandFor(hz int64) string {
	for _, b := range bands {
		if hz >= b.LowHz && hz <= b.HighHz {
			return b.Name
		}
	}
	return ""
}

// LookupBand returns the band with the given name ("20m", "20M").
func LookupBand(name string) (Band, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, b := range bands {
		if b.Name == name {
			return b, true
		}
	}
	return Band{}, false
}
