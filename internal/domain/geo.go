package domain

import (
	"fmt"
	"math"
	"strings"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinates are within range and not the 0,0 placeholder.
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lon == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// GridToCoordinates returns the centre of a 4- or 6-character Maidenhead
// locator (e.g. "FN31" or "FN31pr").
func GridToCoordinates(grid string) (Coordinates, error) {
	grid = strings.TrimSpace(grid)
	if len(grid) != 4 && len(grid) != 6 {
		return Coordinates{}, fmt.Errorf("invalid grid %q: want 4 or 6 characters", grid)
	}

	field := strings.ToUpper(grid[:2])
	if field[0] < 'A' || field[0] > 'R' || field[1] < 'A' || field[1] > 'R' {
		return Coordinates{}, fmt.Errorf("invalid grid field %q", grid)
	}
	if grid[2] < '0' || grid[2] > '9' || grid[3] < '0' || grid[3] > '9' {
		return Coordinates{}, fmt.Errorf("invalid grid square %q", grid)
	}

	lon := float64(field[0]-'A')*20 - 180 + float64(grid[2]-'0')*2
	lat := float64(field[1]-'A')*10 - 90 + float64(grid[3]-'0')

	if len(grid) == 4 {
		return Coordinates{Lat: lat + 0.5, Lon: lon + 1}, nil
	}

	sub := strings.ToLower(grid[4:])
	if sub[0] < 'a' || sub[0] > 'x' || sub[1] < 'a' || sub[1] > 'x' {
		return Coordinates{}, fmt.Errorf("invalid grid subsquare %q", grid)
	}
	lon += float64(sub[0]-'a') * 2.0 / 24
	lat += float64(sub[1]-'a') * 1.0 / 24
	return Coordinates{Lat: lat + 1.0/48, Lon: lon + 1.0/24}, nil
}
