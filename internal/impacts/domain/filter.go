package impacts

import (
	"fmt"
	"math"
)

// EarthRadiusMeters matches the sphere used by the earthdistance extension.
const EarthRadiusMeters = 6378168.0

// Filter selects the impacts of one area strictly after a timestamp.
// Matching rows are distinct and ordered by time ascending.
type Filter struct {
	Encoding     Encoding
	SinceNanos   int64
	Lat          float64
	Lon          float64
	RadiusMeters float64
}

// BuildFilter turns a normalized area into a storage filter.
func BuildFilter(since Since, area Area, encoding Encoding) (Filter, error) {
	if !encoding.IsValid() {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidEncoding, encoding)
	}
	nanos, err := since.Nanos()
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		Encoding:     encoding,
		SinceNanos:   nanos,
		Lat:          area.Lat,
		Lon:          area.Lon,
		RadiusMeters: area.RadiusMeters,
	}, nil
}

// Nanos returns the bound on the stored nanosecond scale.
// Values beyond the int64 range saturate, which matches nothing.
func (s Since) Nanos() (int64, error) {
	switch s.Unit {
	case UnitNanoseconds:
		if s.Value > math.MaxInt64 {
			return math.MaxInt64, nil
		}
		return int64(s.Value), nil
	case UnitSeconds:
		if s.Value > math.MaxInt64/NanosPerSecond {
			return math.MaxInt64, nil
		}
		return int64(s.Value) * NanosPerSecond, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimeUnit, s.Unit)
	}
}

// Matches applies the precise predicate to a decoded row.
func (f Filter) Matches(timeNanos int64, lat, lon float64) bool {
	if timeNanos <= f.SinceNanos {
		return false
	}
	return GreatCircleMeters(f.Lat, f.Lon, lat, lon) <= f.RadiusMeters
}

// DistanceMeters is the rounded distance reported for a row.
func (f Filter) DistanceMeters(lat, lon float64) int64 {
	return int64(math.Round(GreatCircleMeters(f.Lat, f.Lon, lat, lon)))
}

// BoundingBox is a lat/lon rectangle in degrees.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Envelope returns the coarse rectangles covering the search circle.
// A circle crossing the antimeridian yields two boxes.
func (f Filter) Envelope() []BoundingBox {
	if f.RadiusMeters < 0 {
		return nil
	}
	angular := f.RadiusMeters / EarthRadiusMeters
	delta := degrees(angular)

	minLat := f.Lat - delta
	maxLat := f.Lat + delta
	if minLat <= -90 || maxLat >= 90 || angular >= math.Pi/2 {
		return []BoundingBox{{
			MinLat: math.Max(minLat, -90),
			MinLon: -180,
			MaxLat: math.Min(maxLat, 90),
			MaxLon: 180,
		}}
	}

	dLon := degrees(math.Asin(math.Sin(angular) / math.Cos(radians(f.Lat))))
	west := f.Lon - dLon
	east := f.Lon + dLon
	switch {
	case east-west >= 360:
		return []BoundingBox{{MinLat: minLat, MinLon: -180, MaxLat: maxLat, MaxLon: 180}}
	case west < -180:
		return []BoundingBox{
			{MinLat: minLat, MinLon: west + 360, MaxLat: maxLat, MaxLon: 180},
			{MinLat: minLat, MinLon: -180, MaxLat: maxLat, MaxLon: east},
		}
	case east > 180:
		return []BoundingBox{
			{MinLat: minLat, MinLon: west, MaxLat: maxLat, MaxLon: 180},
			{MinLat: minLat, MinLon: -180, MaxLat: maxLat, MaxLon: east - 360},
		}
	}
	return []BoundingBox{{MinLat: minLat, MinLon: west, MaxLat: maxLat, MaxLon: east}}
}

// GreatCircleMeters is the haversine distance on the earthdistance sphere.
func GreatCircleMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
