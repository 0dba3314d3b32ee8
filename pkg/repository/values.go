package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/schema"
)

var timeType = reflect.TypeOf(time.Time{})

// accepted layouts for DateTime values sent as strings
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// expandTree is a parsed set of expand paths, e.g. {"OrderDetails": {"Product": {}}}
type expandTree map[string]expandTree

// dataFields returns the fields that map to columns, in declaration order
func dataFields(sch *schema.Schema) []*schema.Field {
	fields := make([]*schema.Field, 0, len(sch.Fields))
	for _, f := range sch.Fields {
		if f.DBName != "" && f.Readable {
			fields = append(fields, f)
		}
	}
	return fields
}

// dataField resolves a property name to its column field
func dataField(sch *schema.Schema, name string) (*schema.Field, error) {
	f := sch.FieldsByName[name]
	if f == nil || f.DBName == "" {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, sch.Name, name)
	}
	return f, nil
}

// parseExpand validates dotted navigation paths and returns the tree plus every table
// the expansion reads from
func parseExpand(sch *schema.Schema, paths []string) (expandTree, []string, error) {
	tree := expandTree{}
	var tables []string
	seen := map[string]bool{}

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}

		node, current := tree, sch
		for _, segment := range strings.Split(path, ".") {
			rel, ok := current.Relationships.Relations[segment]
			if !ok {
				return nil, nil, fmt.Errorf("%w: %q on %s", ErrInvalidExpand, path, current.Name)
			}
			if node[segment] == nil {
				node[segment] = expandTree{}
			}
			node, current = node[segment], rel.FieldSchema
			if !seen[current.Table] {
				seen[current.Table] = true
				tables = append(tables, current.Table)
			}
		}
	}

	return tree, tables, nil
}

// rowOf reads a model into a Row, following only the expanded navigations
func rowOf(ctx context.Context, sch *schema.Schema, rv reflect.Value, tree expandTree) Row {
	rv = reflect.Indirect(rv)
	row := make(Row, len(sch.Fields))
	for _, f := range dataFields(sch) {
		row[f.Name] = readField(ctx, f, rv)
	}

	for name, sub := range tree {
		rel := sch.Relationships.Relations[name]
		fv := rel.Field.ReflectValueOf(ctx, rv)

		switch fv.Kind() {
		case reflect.Slice:
			rows := make([]Row, 0, fv.Len())
			for i := 0; i < fv.Len(); i++ {
				elem := fv.Index(i)
				if elem.Kind() == reflect.Ptr && elem.IsNil() {
					continue
				}
				rows = append(rows, rowOf(ctx, rel.FieldSchema, elem, sub))
			}
			row[name] = rows
		case reflect.Ptr:
			if fv.IsNil() {
				row[name] = nil
			} else {
				row[name] = rowOf(ctx, rel.FieldSchema, fv, sub)
			}
		default:
			row[name] = rowOf(ctx, rel.FieldSchema, fv, sub)
		}
	}

	return row
}

func readField(ctx context.Context, f *schema.Field, rv reflect.Value) interface{} {
	fv := f.ReflectValueOf(ctx, rv)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil
		}
		return fv.Elem().Interface()
	}
	return fv.Interface()
}

// assignField converts v to the field's type and stores it on the model
func assignField(ctx context.Context, f *schema.Field, rv reflect.Value, v interface{}) error {
	value, err := coerceTo(f.IndirectFieldType, v)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}

	target := f.ReflectValueOf(ctx, reflect.Indirect(rv))
	switch {
	case value == nil:
		target.Set(reflect.Zero(target.Type()))
	case target.Kind() == reflect.Ptr:
		p := reflect.New(f.IndirectFieldType)
		p.Elem().Set(reflect.ValueOf(value))
		target.Set(p)
	default:
		target.Set(reflect.ValueOf(value))
	}
	return nil
}

// coerceTo converts a decoded wire value to t. A nil result means "null".
func coerceTo(t reflect.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	}

	if t == timeType {
		tm, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return tm, nil
	}

	switch t.Kind() {
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected string, got %T", ErrInvalidValue, v)
		}
		return reflect.ValueOf(s).Convert(t).Interface(), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if reflect.Zero(t).OverflowInt(n) {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrInvalidValue, n, t)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || reflect.Zero(t).OverflowUint(uint64(n)) {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrInvalidValue, n, t)
		}
		return reflect.ValueOf(uint64(n)).Convert(t).Interface(), nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil

	case reflect.Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return parsed, nil
		}
	}

	if rv := reflect.ValueOf(v); rv.Type().ConvertibleTo(t) {
		return rv.Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrInvalidValue, v, t)
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return floatToInt(f)
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return i, nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, rv.Uint())
		}
		return int64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("%w: expected integer, got %T", ErrInvalidValue, v)
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, f)
	}
	return int64(f), nil
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return f, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("%w: expected number, got %T", ErrInvalidValue, v)
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable time %q", ErrInvalidValue, t)
	}
	return time.Time{}, fmt.Errorf("%w: expected time, got %T", ErrInvalidValue, v)
}
