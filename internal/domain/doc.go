// Package domain models amateur-radio spots from the SOTA cluster and the
// Reverse Beacon Network (RBN), and the propagation-path matches derived
// from them.
//
// # Data Sources
//
// Activation spots come from the SOTA DX cluster (cluster.sota.org.uk:7300),
// reception spots from the RBN telnet service (telnet.reversebeacon.net:7000).
// Both are line-oriented telnet sessions: the client sends its callsign as the
// login line and the server then streams one spot per line, interleaved with
// banners and announcements that are not spots.
//
// # Line Formats
//
// Activation (DX-cluster style):
//
//	DX de <spotter>: <freq> <callsign> <summit> [<mode>] [comment] <HHMM>Z
//	DX de N1XYZ:     14062.0  K1ABC/P     W1/HA-001 CW tnx qso      1415Z
//
// Reception (RBN skimmer):
//
//	DX de <skimmer>-#: <freq> <callsign> <mode> <snr> dB [<speed> WPM|BPS] <type> <HHMM>Z
//	DX de W3LPL-#:   14025.0  K1ABC       CW    22 dB  23 WPM  CQ      1200Z
//
// Frequencies are kHz. SOTA spotters occasionally post MHz ("14.062"), so a
// value below 1000 is read as MHz unless it lands in the 2200m or 630m band as
// kHz ("475.5"). Frequencies are stored as integer hertz.
//
// The skimmer suffix ("-#", "-1") is stripped from RBN reporter callsigns.
//
// # Time
//
// Both feeds carry only HHMM in UTC. The full timestamp is the most recent
// instant with that wall-clock time, allowing a few minutes of clock skew
// into the future before rolling back a day. See [resolveHHMM].
//
// # Matching
//
// An activation and a reception correlate when the reported callsign equals
// the activator callsign (case-insensitive), and the time and frequency
// differences fall within the configured window and tolerance. Differences are
// signed: reception minus activation.
//
// # Locations
//
// Summits are located through the SOTA summit API, operators through the QRZ
// XML directory. When the directory has no coordinates, the centre of the
// operator's Maidenhead grid square is used ([GridToCoordinates]); when the
// directory is unreachable and nothing is cached, a coarse estimate from the
// callsign prefix is used ([EstimateFromCallsign]). Distance is the haversine
// great-circle distance on a sphere of radius [EarthRadiusKm].
package domain
