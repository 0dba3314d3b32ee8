package entity

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/entity4go/pkg/metadata"
)

func TestNormalize(t *testing.T) {
	int32Prop := &metadata.DataProperty{Name: "ID", DataType: metadata.Int32}
	guidProp := &metadata.DataProperty{Name: "G", DataType: metadata.Guid}
	nullableDate := &metadata.DataProperty{Name: "D", DataType: metadata.DateTime, IsNullable: true}
	decimalProp := &metadata.DataProperty{Name: "P", DataType: metadata.Decimal}

	v, err := normalize(int32Prop, json.Number("10248"))
	require.NoError(t, err)
	assert.Equal(t, int64(10248), v)

	v, err = normalize(int32Prop, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = normalize(int32Prop, int64(1)<<40)
	assert.ErrorIs(t, err, ErrInvalidValue)

	id := uuid.New()
	v, err = normalize(guidProp, strings.ToUpper(id.String()))
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	v, err = normalize(nullableDate, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = normalize(nullableDate, "1996-07-04T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC).Equal(v.(time.Time)))

	price := float32(42.42)
	v, err = normalize(decimalProp, &price)
	require.NoError(t, err)
	assert.Equal(t, 42.42, v)
}

func TestEntityKey_String(t *testing.T) {
	a := NewEntityKey("OrderDetail", int64(10248), int64(1))
	b := NewEntityKey("OrderDetail", int64(10248), int64(1))
	assert.True(t, a.Equal(b))
	assert.Equal(t, "OrderDetail|10248|1", a.String())
	assert.False(t, NewEntityKey("Customer", "a|b").Equal(NewEntityKey("Customer", "a", "b")))
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(nil, int64(1)))
	assert.Equal(t, 0, compareValues("chai", "CHAI"))
	assert.Equal(t, 1, compareValues(2.5, 1.0))
	assert.Equal(t, -1, compareValues(false, true))
}

func TestWholeNumber_Bounds(t *testing.T) {
	v, err := wholeNumber(-9223372036854775808)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), v)

	v, err = wholeNumber(1 << 62)
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<62, v)

	for _, f := range []float64{math.MaxInt64, 1 << 63, -1 << 64, 1.5, math.Inf(1), math.NaN()} {
		_, err := wholeNumber(f)
		assert.Error(t, err, "%v", f)
	}
}
