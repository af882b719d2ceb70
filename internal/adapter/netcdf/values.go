// Package netcdf reads source collections from NetCDF files and encodes
// export artifacts as NetCDF.
package netcdf

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// TZ=UTC date --date="1900-01-01 00:00:00" +%s
const unixSecs1900 = -2208988800

// flatten converts a NetCDF value of any rank into a row-major float64 slice.
func flatten(v any) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return append([]float64(nil), s...), nil
	case []float32:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out, nil
	}

	var out []float64
	var walk func(rv reflect.Value) error
	walk = func(rv reflect.Value) error {
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := range rv.Len() {
				if err := walk(rv.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Float32, reflect.Float64:
			out = append(out, rv.Float())
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			out = append(out, float64(rv.Int()))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
			out = append(out, float64(rv.Uint()))
		default:
			return fmt.Errorf("unsupported netcdf value type %s", rv.Type())
		}
		return nil
	}
	if err := walk(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return out, nil
}

// packing holds CF packing attributes of a variable.
type packing struct {
	scale   float64
	offset  float64
	fill    float64
	hasFill bool
}

func packingOf(attrs api.AttributeMap) packing {
	p := packing{scale: 1}
	if v, ok := attrFloat(attrs, "scale_factor"); ok {
		p.scale = v
	}
	if v, ok := attrFloat(attrs, "add_offset"); ok {
		p.offset = v
	}
	if v, ok := attrFloat(attrs, "_FillValue"); ok {
		p.fill, p.hasFill = v, true
	} else if v, ok := attrFloat(attrs, "missing_value"); ok {
		p.fill, p.hasFill = v, true
	}
	return p
}

// unpack converts raw values in place; fill values become NaN.
func (p packing) unpack(raw []float64) {
	for i, v := range raw {
		switch {
		case math.IsNaN(v):
		case p.hasFill && v == p.fill:
			raw[i] = math.NaN()
		default:
			raw[i] = v*p.scale + p.offset
		}
	}
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, err := flatten(v)
	if err == nil && len(vals) > 0 {
		return vals[0], true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func attrString(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	v, ok := attrs.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// timeAxis converts CF time values ("<unit> since <epoch>") to UTC instants.
// Without a units attribute values are hours since 1900-01-01.
func timeAxis(values []float64, units string) ([]time.Time, error) {
	unit := time.Hour
	epoch := time.Unix(unixSecs1900, 0).UTC()
	if units != "" {
		name, since, ok := strings.Cut(strings.ToLower(strings.TrimSpace(units)), " since ")
		if !ok {
			return nil, fmt.Errorf("time units %q: missing \"since\"", units)
		}
		switch strings.TrimSpace(name) {
		case "seconds", "second", "s":
			unit = time.Second
		case "minutes", "minute":
			unit = time.Minute
		case "hours", "hour", "h":
			unit = time.Hour
		case "days", "day", "d":
			unit = 24 * time.Hour
		default:
			return nil, fmt.Errorf("time units %q: unsupported unit", units)
		}
		var err error
		epoch, err = parseEpoch(strings.TrimSpace(since))
		if err != nil {
			return nil, fmt.Errorf("time units %q: %w", units, err)
		}
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		out[i] = epoch.Add(time.Duration(math.Round(v * float64(unit)))).Truncate(time.Second)
	}
	return out, nil
}

func parseEpoch(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.ToUpper(s), " UTC")
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable epoch %q", s)
}
