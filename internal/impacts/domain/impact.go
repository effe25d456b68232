package impacts

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MaxEquipment bounds the equipment entries of one request.
	MaxEquipment = 5
	// MaxBoxRadiusKm bounds the radius derived from a box geometry.
	MaxBoxRadiusKm = 5000
	// MaxLegacyPointRadiusKm bounds point radii on the legacy encoding.
	MaxLegacyPointRadiusKm = 5000
	// MaxCurrentPointRadiusKm bounds point radii on the current encoding.
	MaxCurrentPointRadiusKm = 1100

	// NanosPerSecond scales second timestamps to the stored unit.
	NanosPerSecond = 1_000_000_000
	// CoordinateScale is the fixed-point factor of the current encoding.
	CoordinateScale = 10_000_000
)

// Encoding selects how impacts are laid out in storage.
type Encoding string

const (
	// EncodingLegacy stores coordinates as a degree pair and reports distances.
	EncodingLegacy Encoding = "legacy"
	// EncodingCurrent stores coordinates as integers scaled by CoordinateScale.
	EncodingCurrent Encoding = "current"
)

// ParseEncoding resolves an encoding name.
func ParseEncoding(value string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(value))) {
	case "", EncodingLegacy:
		return EncodingLegacy, nil
	case EncodingCurrent:
		return EncodingCurrent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEncoding, value)
	}
}

// IsValid reports whether the encoding is supported.
func (e Encoding) IsValid() bool {
	return e == EncodingLegacy || e == EncodingCurrent
}

// HasDistance reports whether rows carry a distance to the query center.
func (e Encoding) HasDistance() bool {
	return e == EncodingLegacy
}

// MaxPointRadiusKm returns the point radius limit of the v2 API for this encoding.
func (e Encoding) MaxPointRadiusKm() float64 {
	if e == EncodingCurrent {
		return MaxCurrentPointRadiusKm
	}
	return MaxLegacyPointRadiusKm
}

// TimeUnit is the scale of a client supplied since value.
type TimeUnit int

const (
	UnitSeconds TimeUnit = iota
	UnitNanoseconds
)

// Since is the exclusive lower bound of a query.
type Since struct {
	Value uint64
	Unit  TimeUnit
}

// SinceSeconds builds a second scaled bound.
func SinceSeconds(value uint64) Since {
	return Since{Value: value, Unit: UnitSeconds}
}

// SinceNanoseconds builds a nanosecond scaled bound.
func SinceNanoseconds(value uint64) Since {
	return Since{Value: value, Unit: UnitNanoseconds}
}

// Impact is a recorded strike as returned to clients.
type Impact struct {
	Time     int64   `json:"time"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance *int64  `json:"distance,omitempty"`
}

// EquipmentResult lists the impacts found for one equipment.
type EquipmentResult struct {
	ID      int64    `json:"id"`
	Impacts []Impact `json:"impacts"`
}

// Result is the assembled answer to a query request.
type Result struct {
	// Latest is the newest stored impact time, only set when requested.
	Latest    *int64
	Equipment []EquipmentResult
}

// CorpusStats summarises the whole impact table.
type CorpusStats struct {
	Count int64
	First *Impact
	Last  *Impact
}

// TimeFromNanos converts a stored timestamp to whole seconds.
func TimeFromNanos(nanos int64) int64 {
	return nanos / NanosPerSecond
}

// DecodeFixedPoint converts a current-encoding coordinate to degrees.
func DecodeFixedPoint(value int64) float64 {
	return float64(value) / CoordinateScale
}

// EncodeFixedPoint converts degrees to the current-encoding integer, rounding to nearest.
func EncodeFixedPoint(deg float64) int64 {
	return int64(math.Round(deg * CoordinateScale))
}
