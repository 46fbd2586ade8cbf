package store

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"vericrop/internal/claims"
)

const sridWGS84 = 4326

// encodePoint renders a claim location as EWKB for PostGIS GEOGRAPHY(POINT, 4326).
// PostGIS points are (longitude, latitude).
func encodePoint(loc claims.Location) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{loc.Longitude, loc.Latitude}).SetSRID(sridWGS84)
	b, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EWKB point: %w", err)
	}
	return b, nil
}

// decodePoint reads the EWKB returned by ST_AsEWKB.
func decodePoint(b []byte) (claims.Location, error) {
	g, err := ewkb.Unmarshal(b)
	if err != nil {
		return claims.Location{}, fmt.Errorf("failed to unmarshal EWKB: %w", err)
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return claims.Location{}, fmt.Errorf("scanned geometry is %T, not a Point", g)
	}
	if p.SRID() != 0 && p.SRID() != sridWGS84 {
		return claims.Location{}, fmt.Errorf("unexpected SRID %d", p.SRID())
	}
	return claims.Location{Latitude: p.Y(), Longitude: p.X()}, nil
}
