package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ammar0144/entity4go/pkg/metadata"
)

// Cached data values are normalized per data type:
// String and Guid hold string, integers hold int64, Decimal and Double hold float64,
// Boolean holds bool, DateTime holds time.Time. Nullable properties may hold nil.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func normalize(dp *metadata.DataProperty, v interface{}) (interface{}, error) {
	v = indirect(v)
	if v == nil {
		if dp.IsNullable {
			return nil, nil
		}
		return zeroValue(dp), nil
	}

	var (
		out interface{}
		err error
	)
	switch dp.DataType {
	case metadata.String:
		out, err = toString(v)
	case metadata.Guid:
		out, err = toGuid(v)
	case metadata.Int16:
		out, err = toIntRange(v, math.MinInt16, math.MaxInt16)
	case metadata.Int32:
		out, err = toIntRange(v, math.MinInt32, math.MaxInt32)
	case metadata.Int64:
		out, err = toInt(v)
	case metadata.Decimal, metadata.Double:
		out, err = toFloat(v)
	case metadata.Boolean:
		out, err = toBool(v)
	case metadata.DateTime:
		out, err = toTime(v)
	default:
		err = fmt.Errorf("unsupported data type %s", dp.DataType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, dp.Name, err)
	}
	return out, nil
}

// zeroValue is what a property holds when it has no value
func zeroValue(dp *metadata.DataProperty) interface{} {
	if dp.IsNullable {
		return nil
	}
	switch {
	case dp.DataType == metadata.String || dp.DataType == metadata.Guid:
		return ""
	case dp.DataType.IsInteger():
		return int64(0)
	case dp.DataType.IsNumeric():
		return float64(0)
	case dp.DataType == metadata.Boolean:
		return false
	case dp.DataType == metadata.DateTime:
		return time.Time{}
	}
	return nil
}

func indirect(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func toString(v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("cannot use %T as a string", v)
}

func toGuid(v interface{}) (string, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String(), nil
	case string:
		if x == "" {
			return "", nil
		}
		id, err := uuid.Parse(x)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	return "", fmt.Errorf("cannot use %T as a guid", v)
}

func toIntRange(v interface{}, min, max int64) (int64, error) {
	i, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if i < min || i > max {
		return 0, fmt.Errorf("%d is out of range", i)
	}
	return i, nil
}

func toInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return wholeNumber(float64(x))
	case float64:
		return wholeNumber(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return wholeNumber(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	}
	return 0, fmt.Errorf("cannot use %T as an integer", v)
}

func wholeNumber(f float64) (int64, error) {
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not a whole number", f)
	}
	return int64(f), nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return strconv.ParseFloat(strconv.FormatFloat(float64(x), 'g', -1, 32), 64)
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	i, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("cannot use %T as a number", v)
	}
	return float64(i), nil
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	case json.Number:
		i, err := x.Int64()
		return i != 0, err
	}
	if i, err := toInt(v); err == nil {
		return i != 0, nil
	}
	return false, fmt.Errorf("cannot use %T as a bool", v)
}

func toTime(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a time", x)
	}
	return time.Time{}, fmt.Errorf("cannot use %T as a time", v)
}

// valuesEqual compares two normalized values
func valuesEqual(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// compareValues orders two normalized values of the same property. nil sorts first.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(strings.ToLower(x), strings.ToLower(y))
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
