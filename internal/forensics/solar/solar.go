// Package solar computes the expected shadow bearing for a place and instant.
//
// The model uses Cooper's declination and a mean solar time derived from the
// longitude offset; it ignores the equation of time and refraction. Results
// are rounded to 0.01° and are bit-for-bit reproducible for equal inputs.
package solar

import (
	"math"
	"strings"
	"time"

	dErrors "vericrop/pkg/domain-errors"
)

const degToRad = math.Pi / 180

// Position is the sun's position relative to an observer. All angles are
// in degrees and rounded to two decimals.
type Position struct {
	Azimuth     float64 // bearing from north, [0, 360)
	Altitude    float64 // elevation above the horizon
	Declination float64
	HourAngle   float64 // negative before solar noon
}

// Azimuth returns the expected bearing for (latitude, longitude) at ts.
func Azimuth(latitude, longitude float64, ts time.Time) (float64, error) {
	p, err := Compute(latitude, longitude, ts)
	if err != nil {
		return 0, err
	}
	return p.Azimuth, nil
}

// Compute returns the full solar position. ts is interpreted in UTC.
func Compute(latitude, longitude float64, ts time.Time) (Position, error) {
	if err := ValidateCoordinates(latitude, longitude); err != nil {
		return Position{}, err
	}
	if ts.IsZero() {
		return Position{}, dErrors.NewField(dErrors.CodeInvalidInput, "timestamp", "is required")
	}
	ts = ts.UTC()

	day := float64(ts.YearDay())
	declination := 23.45 * math.Sin((360.0/365.0*(day+284))*degToRad)

	utcHour := float64(ts.Hour()) + float64(ts.Minute())/60 + float64(ts.Second())/3600
	solarTime := utcHour + longitude/15
	hourAngle := 15 * (solarTime - 12)

	phi := latitude * degToRad
	delta := declination * degToRad
	h := hourAngle * degToRad

	sinAlt := math.Sin(phi)*math.Sin(delta) + math.Cos(phi)*math.Cos(delta)*math.Cos(h)
	alt := math.Asin(clamp(sinAlt))

	cosAz := -1.0
	if den := math.Cos(alt) * math.Cos(phi); den != 0 {
		cosAz = (math.Sin(delta) - math.Sin(alt)*math.Sin(phi)) / den
		if math.IsNaN(cosAz) || math.IsInf(cosAz, 0) {
			cosAz = -1
		}
	}
	azimuth := math.Acos(clamp(cosAz)) / degToRad
	if hourAngle > 0 {
		azimuth = 360 - azimuth
	}

	azimuth = round2(azimuth)
	if azimuth >= 360 {
		azimuth -= 360
	}

	return Position{
		Azimuth:     azimuth,
		Altitude:    round2(alt / degToRad),
		Declination: round2(declination),
		HourAngle:   round2(hourAngle),
	}, nil
}

// ValidateCoordinates rejects out-of-range or non-finite coordinates.
func ValidateCoordinates(latitude, longitude float64) error {
	if math.IsNaN(latitude) || latitude < -90 || latitude > 90 {
		return dErrors.NewField(dErrors.CodeInvalidInput, "latitude", "must be within [-90, 90]")
	}
	if math.IsNaN(longitude) || longitude < -180 || longitude > 180 {
		return dErrors.NewField(dErrors.CodeInvalidInput, "longitude", "must be within [-180, 180]")
	}
	return nil
}

// ParseTimestamp parses an RFC 3339 timestamp into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dErrors.NewField(dErrors.CodeInvalidInput, "timestamp", "is required")
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, dErrors.NewField(dErrors.CodeInvalidInput, "timestamp", "must be RFC 3339")
	}
	return ts.UTC(), nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
