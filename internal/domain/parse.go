package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// futureSkew is how far ahead of the local clock a spot time may be before it
// is taken to belong to the previous UTC day.
const futureSkew = 10 * time.Minute

var (
	// activationRe splits a SOTA cluster line into spotter, frequency,
	// callsign, the free-form middle (summit, mode, comment), and HHMM.
	activationRe = regexp.MustCompile(`^DX de\s+(\S+?):\s*(\d+(?:\.\d+)?)\s+(\S+)\s+(.*?)\s*(\d{4})Z`)

	// receptionRe matches an RBN skimmer line. The speed field is absent for
	// some digital modes.
	receptionRe = regexp.MustCompile(`^DX de\s+(\S+?):\s*(\d+(?:\.\d+)?)\s+(\S+)\s+([A-Za-z0-9]+)\s+(-?\d+)\s+dB\s+(?:(\d+)\s+(?:WPM|BPS)\s+)?(.*?)\s*(\d{4})Z`)

	// summitRefRe matches "ASSOC/RR-NNN", e.g. "W4G/NG-001" or "G/LD-003".
	summitRefRe = regexp.MustCompile(`^[A-Z0-9]{1,4}/[A-Z0-9]{2}-\d{3}$`)
)

// activationModes lists mode tokens recognised after the summit reference.
var activationModes = map[string]bool{
	"CW": true, "SSB": true, "USB": true, "LSB": true, "FM": true, "AM": true,
	"FT8": true, "FT4": true, "DATA": true, "RTTY": true, "PSK": true, "PSK31": true,
}

// ParseActivationLine parses one SOTA cluster line.
func ParseActivationLine(line string) (ActivationSpot, error) {
	line = strings.TrimSpace(line)
	m := activationRe.FindStringSubmatch(line)
	if m == nil {
		return ActivationSpot{}, &ParseError{Feed: FeedActivation, Line: line, Reason: "not a spot"}
	}

	hz, err := parseFrequencyHz(m[2])
	if err != nil {
		return ActivationSpot{}, &ParseError{Feed: FeedActivation, Line: line, Reason: err.Error()}
	}

	fields := strings.Fields(m[4])
	if len(fields) == 0 {
		return ActivationSpot{}, &ParseError{Feed: FeedActivation, Line: line, Reason: "missing summit reference"}
	}
	summit := strings.ToUpper(fields[0])
	if !summitRefRe.MatchString(summit) {
		return ActivationSpot{}, &ParseError{Feed: FeedActivation, Line: line, Reason: "invalid summit reference " + fields[0]}
	}
	fields = fields[1:]

	var mode string
	if len(fields) > 0 && activationModes[strings.ToUpper(fields[0])] {
		mode = strings.ToUpper(fields[0])
		fields = fields[1:]
	}

	observed, ok := resolveHHMM(Now(), m[5])
	if !ok {
		return ActivationSpot{}, &ParseError{Feed: FeedActivation, Line: line, Reason: "invalid time " + m[5]}
	}

	return ActivationSpot{
		ObservedAt:  observed,
		Callsign:    NormalizeCallsign(m[3]),
		SummitRef:   summit,
		FrequencyHz: hz,
		Mode:        mode,
		Spotter:     NormalizeCallsign(m[1]),
		Comment:     strings.Join(fields, " "),
	}, nil
}

// ParseReceptionLine parses one RBN skimmer line.
func ParseReceptionLine(line string) (ReceptionSpot, error) {
	line = strings.TrimSpace(line)
	m := receptionRe.FindStringSubmatch(line)
	if m == nil {
		return ReceptionSpot{}, &ParseError{Feed: FeedReception, Line: line, Reason: "not a spot"}
	}

	hz, err := parseFrequencyHz(m[2])
	if err != nil {
		return ReceptionSpot{}, &ParseError{Feed: FeedReception, Line: line, Reason: err.Error()}
	}

	snr, err := strconv.Atoi(m[5])
	if err != nil {
		return ReceptionSpot{}, &ParseError{Feed: FeedReception, Line: line, Reason: "invalid snr " + m[5]}
	}

	var wpm int
	if m[6] != "" {
		wpm, _ = strconv.Atoi(m[6])
	}

	observed, ok := resolveHHMM(Now(), m[8])
	if !ok {
		return ReceptionSpot{}, &ParseError{Feed: FeedReception, Line: line, Reason: "invalid time " + m[8]}
	}

	return ReceptionSpot{
		ObservedAt:  observed,
		Reporter:    SkimmerCallsign(m[1]),
		Reported:    NormalizeCallsign(m[3]),
		FrequencyHz: hz,
		SNR:         snr,
		Mode:        strings.ToUpper(m[4]),
		WPM:         wpm,
		SpotType:    strings.Join(strings.Fields(m[7]), " "),
	}, nil
}

// parseFrequencyHz converts a kHz string to hertz. Values below 1000 are MHz
// unless they fall in the 2200m or 630m allocations as kHz.
func parseFrequencyHz(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid frequency %q", s)
	}
	hz := int64(math.Round(v * 1000))
	if v < 1000 && BandFor(hz) == "" {
		hz = int64(math.Round(v * 1_000_000))
	}
	return hz, nil
}

// resolveHHMM returns the most recent UTC instant at or before now+futureSkew
// whose wall-clock time is hhmm (e.g. "1510" -> 15:10).
func resolveHHMM(now time.Time, hhmm string) (time.Time, bool) {
	hhmm = strings.TrimSpace(hhmm)
	if len(hhmm) != 4 {
		return time.Time{}, false
	}

	hour, errH := strconv.Atoi(hhmm[:2])
	mins, errM := strconv.Atoi(hhmm[2:])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || mins < 0 || mins > 59 {
		return time.Time{}, false
	}

	now = now.UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, mins, 0, 0, time.UTC)
	if t.Sub(now) > futureSkew {
		t = t.AddDate(0, 0, -1)
	}
	return t, true
}
