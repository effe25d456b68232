package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"blitz-proxy/internal/impacts/application"
	impacts "blitz-proxy/internal/impacts/domain"
)

const maxBodyBytes = 1 << 20

var numericString = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// requestShape is one of the historical request bodies.
type requestShape int

const (
	// shapeLegacyBox is a box geometry with a nanosecond since.
	shapeLegacyBox requestShape = iota
	// shapeBox is a box geometry with a second since.
	shapeBox
	// shapePoint is a center point and radius with a second since.
	shapePoint
)

const (
	maxSecondsSince  = 9999999999
	minNanosSince    = uint64(1_000_000_000_000_000_000)
	maxNanosSince    = uint64(9_999_999_999_999_999_999)
	maxRequestRadius = 5000
)

// decodeRequest parses and validates a body into an assembler request.
// Every field error is collected before returning.
func decodeRequest(shape requestShape, body io.Reader, maxRadiusKm float64) (application.Request, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return application.Request{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return application.Request{}, jsonInvalid(decoder.InputOffset())
	}
	// one document per body
	if _, err := decoder.Token(); err != io.EOF {
		return application.Request{}, jsonInvalid(decoder.InputOffset())
	}

	v := &validator{}
	obj, ok := doc.(map[string]any)
	if !ok {
		v.add("model_attributes_type", []any{"body"}, "Input should be a valid dictionary or object to extract fields from", doc)
		return application.Request{}, v.errs
	}

	req := application.Request{MaxRadiusKm: maxRadiusKm}
	if shape == shapeLegacyBox {
		req.Since = v.nanosSince(obj)
	} else {
		req.Since = v.secondsSince(obj)
	}

	items := v.list(obj, []any{"body"}, "eqs", impacts.MaxEquipment)
	for i, item := range items {
		loc := []any{"body", "eqs", i}
		eq, ok := item.(map[string]any)
		if !ok {
			v.add("model_type", loc, "Input should be a valid dictionary or object to extract fields from", item)
			continue
		}
		query := impacts.EquipmentQuery{ID: v.integer(eq, loc, "id", bounds{ge: ptr(0)})}
		switch shape {
		case shapePoint:
			query.Geometry = impacts.Circle{
				Lat:      v.float(eq, loc, "lat", bounds{ge: ptr(-90), le: ptr(90)}),
				Lon:      v.float(eq, loc, "lon", bounds{ge: ptr(-180), le: ptr(180)}),
				RadiusKm: v.integer(eq, loc, "rad", bounds{ge: ptr(0), le: ptr(maxRequestRadius)}),
			}
		default:
			query.Geometry = impacts.Box{
				North: v.float(eq, loc, "north", bounds{ge: ptr(-90), le: ptr(90)}),
				South: v.float(eq, loc, "south", bounds{ge: ptr(-90), le: ptr(90)}),
				East:  v.float(eq, loc, "est", bounds{ge: ptr(-180), le: ptr(180)}),
				West:  v.float(eq, loc, "west", bounds{ge: ptr(-180), le: ptr(180)}),
			}
		}
		req.Equipment = append(req.Equipment, query)
	}

	if err := v.errs.Err(); err != nil {
		return application.Request{}, err
	}
	return req, nil
}

func jsonInvalid(offset int64) error {
	return impacts.ValidationErrors{{
		Type:  "json_invalid",
		Loc:   []any{"body", offset},
		Msg:   "JSON decode error",
		Input: map[string]any{},
	}}
}

type bounds struct {
	ge *float64
	le *float64
	lt *float64
}

func ptr(v float64) *float64 { return &v }

type validator struct {
	errs impacts.ValidationErrors
}

func (v *validator) add(kind string, loc []any, msg string, input any) {
	v.errs = append(v.errs, &impacts.ValidationError{
		Type:  kind,
		Loc:   append([]any(nil), loc...),
		Msg:   msg,
		Input: input,
	})
}

func (v *validator) field(obj map[string]any, loc []any, key string) (json.Number, []any, bool) {
	fieldLoc := append(append([]any(nil), loc...), key)
	value, present := obj[key]
	if !present {
		v.add("missing", fieldLoc, "Field required", obj)
		return "", fieldLoc, false
	}
	switch value := value.(type) {
	case json.Number:
		return value, fieldLoc, true
	case string:
		// numeric strings are coerced like numbers
		trimmed := strings.TrimSpace(value)
		if numericString.MatchString(trimmed) {
			return json.Number(strings.TrimPrefix(trimmed, "+")), fieldLoc, true
		}
	}
	return "", fieldLoc, false
}

// wrongType reports a present value that is neither a number nor a numeric string.
func (v *validator) wrongType(obj map[string]any, key string, loc []any, integer bool) {
	value, present := obj[key]
	if !present {
		return
	}
	_, isString := value.(string)
	switch {
	case integer && isString:
		v.add("int_parsing", loc, "Input should be a valid integer, unable to parse string as an integer", value)
	case integer:
		v.add("int_type", loc, "Input should be a valid integer", value)
	case isString:
		v.add("float_parsing", loc, "Input should be a valid number, unable to parse string as a number", value)
	default:
		v.add("float_type", loc, "Input should be a valid number", value)
	}
}

func (v *validator) float(obj map[string]any, loc []any, key string, b bounds) float64 {
	number, fieldLoc, ok := v.field(obj, loc, key)
	if !ok {
		v.wrongType(obj, key, fieldLoc, false)
		return 0
	}
	value, err := number.Float64()
	if err != nil || math.IsInf(value, 0) {
		v.add("float_parsing", fieldLoc, "Input should be a valid number, unable to parse string as a number", number)
		return 0
	}
	v.check(value, fieldLoc, number, b)
	return value
}

func (v *validator) integer(obj map[string]any, loc []any, key string, b bounds) int64 {
	number, fieldLoc, ok := v.field(obj, loc, key)
	if !ok {
		v.wrongType(obj, key, fieldLoc, true)
		return 0
	}
	value, ok := v.wholeNumber(number, fieldLoc)
	if !ok {
		return 0
	}
	v.check(float64(value), fieldLoc, number, b)
	return value
}

func (v *validator) wholeNumber(number json.Number, loc []any) (int64, bool) {
	if value, err := number.Int64(); err == nil {
		return value, true
	}
	f, err := number.Float64()
	if err != nil || math.IsInf(f, 0) {
		v.add("int_parsing", loc, "Input should be a valid integer, unable to parse string as an integer", number)
		return 0, false
	}
	if f != math.Trunc(f) {
		v.add("int_from_float", loc, "Input should be a valid integer, got a number with a fractional part", number)
		return 0, false
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		v.add("int_parsing_size", loc, "Unable to parse input string as an integer, exceeded maximum size", number)
		return 0, false
	}
	return int64(f), true
}

func (v *validator) check(value float64, loc []any, input json.Number, b bounds) {
	switch {
	case b.ge != nil && value < *b.ge:
		v.add("greater_than_equal", loc, "Input should be greater than or equal to "+formatBound(*b.ge), input)
	case b.le != nil && value > *b.le:
		v.add("less_than_equal", loc, "Input should be less than or equal to "+formatBound(*b.le), input)
	case b.lt != nil && value >= *b.lt:
		v.add("less_than", loc, "Input should be less than "+formatBound(*b.lt), input)
	}
}

func (v *validator) secondsSince(obj map[string]any) impacts.Since {
	value := v.integer(obj, []any{"body"}, "since", bounds{ge: ptr(0), lt: ptr(maxSecondsSince)})
	if value < 0 {
		return impacts.SinceSeconds(0)
	}
	return impacts.SinceSeconds(uint64(value))
}

// nanosSince accepts integers and floats in the legacy nanosecond range.
func (v *validator) nanosSince(obj map[string]any) impacts.Since {
	number, loc, ok := v.field(obj, []any{"body"}, "since")
	if !ok {
		v.wrongType(obj, "since", loc, false)
		return impacts.SinceNanoseconds(0)
	}

	value, err := strconv.ParseUint(number.String(), 10, 64)
	if err != nil {
		f, ferr := number.Float64()
		if ferr != nil || f < 0 || math.IsInf(f, 0) {
			if ferr == nil && f < 0 {
				v.add("greater_than_equal", loc, "Input should be greater than or equal to "+strconv.FormatUint(minNanosSince, 10), number)
			} else {
				v.add("float_parsing", loc, "Input should be a valid number, unable to parse string as a number", number)
			}
			return impacts.SinceNanoseconds(0)
		}
		if f >= float64(maxNanosSince) {
			v.add("less_than", loc, "Input should be less than "+strconv.FormatUint(maxNanosSince, 10), number)
			return impacts.SinceNanoseconds(0)
		}
		value = uint64(f)
	}

	switch {
	case value < minNanosSince:
		v.add("greater_than_equal", loc, "Input should be greater than or equal to "+strconv.FormatUint(minNanosSince, 10), number)
	case value >= maxNanosSince:
		v.add("less_than", loc, "Input should be less than "+strconv.FormatUint(maxNanosSince, 10), number)
	}
	return impacts.SinceNanoseconds(value)
}

func (v *validator) list(obj map[string]any, loc []any, key string, maxItems int) []any {
	fieldLoc := append(append([]any(nil), loc...), key)
	value, present := obj[key]
	if !present {
		v.add("missing", fieldLoc, "Field required", obj)
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		v.add("list_type", fieldLoc, "Input should be a valid list", value)
		return nil
	}
	if len(items) > maxItems {
		v.add("too_long", fieldLoc, fmt.Sprintf("List should have at most %d items after validation, not %d", maxItems, len(items)), items)
		return nil
	}
	return items
}

func formatBound(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
