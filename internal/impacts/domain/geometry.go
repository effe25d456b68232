package impacts

import (
	"errors"
	"fmt"
)

const earthCircumferenceKm = 40000.0

// Geometry is the area shape supplied for one equipment.
// Implementations are Box and Circle.
type Geometry interface {
	center() (lat, lon float64)
	radiusKm() float64
	fields() string
	radiusMessage(limit float64) string
}

// Box is a north/south/east/west area in degrees.
type Box struct {
	North float64
	South float64
	East  float64
	West  float64
}

func (b Box) center() (float64, float64) {
	return b.South + (b.North-b.South)/2, b.West + (b.East-b.West)/2
}

func (b Box) radiusKm() float64 {
	return (b.North - b.South) * earthCircumferenceKm / 360 / 2
}

func (Box) fields() string { return "north, south, est, west" }

func (Box) radiusMessage(limit float64) string {
	return fmt.Sprintf("Area radius should be less than %s km", formatKm(limit))
}

// Circle is a center point with a radius in kilometers.
type Circle struct {
	Lat      float64
	Lon      float64
	RadiusKm int64
}

func (c Circle) center() (float64, float64) { return c.Lat, c.Lon }

func (c Circle) radiusKm() float64 { return float64(c.RadiusKm) }

func (Circle) fields() string { return "rad" }

func (Circle) radiusMessage(limit float64) string {
	return fmt.Sprintf("radius should be less than %s km", formatKm(limit))
}

// EquipmentQuery is one equipment entry of a request.
type EquipmentQuery struct {
	ID       int64
	Geometry Geometry
}

// Area is the canonical search circle of one equipment.
type Area struct {
	EquipmentID  int64
	Lat          float64
	Lon          float64
	RadiusMeters float64
}

// RadiusKm returns the radius a geometry resolves to.
func RadiusKm(g Geometry) float64 {
	if g == nil {
		return 0
	}
	return g.radiusKm()
}

// Normalize converts an equipment query into its search circle.
// A radius above maxRadiusKm is rejected rather than clamped.
func Normalize(q EquipmentQuery, maxRadiusKm float64) (Area, error) {
	if q.Geometry == nil {
		return Area{}, ErrNilGeometry
	}
	rad := q.Geometry.radiusKm()
	loc := []any{"body", "eqs", fmt.Sprintf("eqId=%d", q.ID), q.Geometry.fields()}
	if rad < 0 {
		return Area{}, &ValidationError{
			Type:  "value_error",
			Loc:   loc,
			Msg:   "Value error, area radius should not be negative",
			Input: rad,
		}
	}
	if rad > maxRadiusKm {
		return Area{}, &ValidationError{
			Type:  "less_than_equal",
			Loc:   loc,
			Msg:   q.Geometry.radiusMessage(maxRadiusKm),
			Input: rad,
		}
	}
	lat, lon := q.Geometry.center()
	return Area{
		EquipmentID:  q.ID,
		Lat:          lat,
		Lon:          lon,
		RadiusMeters: rad * 1000,
	}, nil
}

// NormalizeAll validates a whole request before any storage access.
// Every offending entry is reported.
func NormalizeAll(queries []EquipmentQuery, maxRadiusKm float64) ([]Area, error) {
	var errs ValidationErrors
	if len(queries) > MaxEquipment {
		errs = append(errs, &ValidationError{
			Type:  "too_long",
			Loc:   []any{"body", "eqs"},
			Msg:   fmt.Sprintf("List should have at most %d items after validation, not %d", MaxEquipment, len(queries)),
			Input: len(queries),
		})
		return nil, errs
	}

	seen := make(map[int64]struct{}, len(queries))
	areas := make([]Area, 0, len(queries))
	for i, q := range queries {
		if _, dup := seen[q.ID]; dup {
			errs = append(errs, &ValidationError{
				Type:  "value_error",
				Loc:   []any{"body", "eqs", i, "id"},
				Msg:   fmt.Sprintf("Value error, duplicate equipment id %d", q.ID),
				Input: q.ID,
			})
			continue
		}
		seen[q.ID] = struct{}{}

		area, err := Normalize(q, maxRadiusKm)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return nil, err
			}
			errs = append(errs, verr)
			continue
		}
		areas = append(areas, area)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return areas, nil
}

func formatKm(value float64) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%g", value)
}
