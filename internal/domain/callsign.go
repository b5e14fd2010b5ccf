package domain

import (
	"strings"
	"unicode"
)

// NormalizeCallsign upper-cases and trims a callsign. Matching compares
// normalized callsigns exactly.
func NormalizeCallsign(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// SkimmerCallsign strips the RBN skimmer suffix: "W3LPL-#" -> "W3LPL".
func SkimmerCallsign(s string) string {
	s = NormalizeCallsign(s)
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	return s
}

// BaseCallsign reduces a callsign to the part a directory lookup knows about:
// "K1ABC/P" -> "K1ABC", "DL/K1ABC" -> "K1ABC", "W3LPL-#" -> "W3LPL".
func BaseCallsign(s string) string {
	s = SkimmerCallsign(s)
	parts := strings.Split(s, "/")
	if len(parts) == 1 {
		return s
	}
	best := ""
	for _, p := range parts {
		if len(p) > len(best) && hasLetterAndDigit(p) {
			best = p
		}
	}
	if best == "" {
		return parts[0]
	}
	return best
}

// IsOwnCallsign reports whether call is mine or a portable or mobile variant
// of it ("K1ABC/P", "DL/K1ABC"). An empty mine matches nothing.
func IsOwnCallsign(call, mine string) bool {
	if NormalizeCallsign(mine) == "" || NormalizeCallsign(call) == "" {
		return false
	}
	return BaseCallsign(call) == BaseCallsign(mine)
}

func hasLetterAndDigit(s string) bool {
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

type prefixRegion struct {
	Coordinates
	region string
}

// prefixRegions maps callsign prefixes to a representative city.
// US call areas are keyed "W<digit>" and shared by the K, N, and A blocks.
var prefixRegions = map[string]prefixRegion{
	"W1":  {Coordinates{42.3601, -71.0589}, "New England"},
	"W2":  {Coordinates{40.7128, -74.0060}, "New York/New Jersey"},
	"W3":  {Coordinates{39.9526, -75.1652}, "Pennsylvania/Delaware"},
	"W4":  {Coordinates{33.7490, -84.3880}, "Southeast US"},
	"W5":  {Coordinates{32.7767, -96.7970}, "South Central US"},
	"W6":  {Coordinates{34.0522, -118.2437}, "California"},
	"W7":  {Coordinates{47.6062, -122.3321}, "Pacific Northwest"},
	"W8":  {Coordinates{41.4993, -81.6944}, "Great Lakes"},
	"W9":  {Coordinates{41.8781, -87.6298}, "Midwest"},
	"W0":  {Coordinates{39.7391, -104.9847}, "Mountain/Plains"},
	"VE1": {Coordinates{44.6488, -63.5752}, "Nova Scotia"},
	"VE2": {Coordinates{45.5017, -73.5673}, "Quebec"},
	"VE3": {Coordinates{43.6532, -79.3832}, "Ontario"},
	"VE4": {Coordinates{49.8951, -97.1384}, "Manitoba"},
	"VE5": {Coordinates{52.1332, -106.6700}, "Saskatchewan"},
	"VE6": {Coordinates{51.0447, -114.0719}, "Alberta"},
	"VE7": {Coordinates{49.2827, -123.1207}, "British Columbia"},
	"G":   {Coordinates{51.5074, -0.1278}, "England"},
	"M":   {Coordinates{51.5074, -0.1278}, "England"},
	"GM":  {Coordinates{55.9533, -3.1883}, "Scotland"},
	"MM":  {Coordinates{55.9533, -3.1883}, "Scotland"},
	"GW":  {Coordinates{51.4816, -3.1791}, "Wales"},
	"MW":  {Coordinates{51.4816, -3.1791}, "Wales"},
	"EI":  {Coordinates{53.3498, -6.2603}, "Ireland"},
	"ON":  {Coordinates{50.8503, 4.3517}, "Belgium"},
	"PA":  {Coordinates{52.3676, 4.9041}, "Netherlands"},
	"DL":  {Coordinates{52.5200, 13.4050}, "Germany"},
	"F":   {Coordinates{48.8566, 2.3522}, "France"},
	"JA":  {Coordinates{35.6762, 139.6503}, "Japan"},
	"HL":  {Coordinates{37.5665, 126.9780}, "South Korea"},
	"VK":  {Coordinates{-33.8688, 151.2093}, "Australia"},
}

// EstimateFromCallsign guesses an operator's location from the callsign
// prefix. The result is coarse (one city per region) and ok is false when
// the prefix is unknown.
func EstimateFromCallsign(callsign string) (Location, bool) {
	base := BaseCallsign(callsign)
	if base == "" {
		return Location{}, false
	}

	if area, ok := usCallArea(base); ok {
		r := prefixRegions["W"+area]
		return Location{Coordinates: r.Coordinates, Name: r.region, Source: SourcePrefix}, true
	}

	if canadianPrefix(base) && len(base) >= 3 {
		if r, ok := prefixRegions["VE"+base[2:3]]; ok {
			return Location{Coordinates: r.Coordinates, Name: r.region, Source: SourcePrefix}, true
		}
	}

	for n := min(3, len(base)); n > 0; n-- {
		if r, ok := prefixRegions[base[:n]]; ok {
			return Location{Coordinates: r.Coordinates, Name: r.region, Source: SourcePrefix}, true
		}
	}
	return Location{}, false
}

// usCallArea returns the call-area digit for US callsigns: K1ABC, N0XYZ, W6AB,
// AA4XX, KD9ABC.
func usCallArea(base string) (string, bool) {
	if len(base) < 3 {
		return "", false
	}
	switch base[0] {
	case 'K', 'N', 'W':
	case 'A':
		if base[1] < 'A' || base[1] > 'L' {
			return "", false
		}
	default:
		return "", false
	}
	if unicode.IsDigit(rune(base[1])) {
		return base[1:2], true
	}
	if unicode.IsLetter(rune(base[1])) && unicode.IsDigit(rune(base[2])) {
		return base[2:3], true
	}
	return "", false
}

func canadianPrefix(base string) bool {
	if len(base) < 3 {
		return false
	}
	switch base[:2] {
	case "VA", "VE", "VO", "VY":
		return unicode.IsDigit(rune(base[2]))
	}
	return false
}
