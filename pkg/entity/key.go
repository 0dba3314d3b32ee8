package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityKey identifies an entity within a manager: its type plus key values in key order
type EntityKey struct {
	TypeName string
	Values   []interface{}
}

// NewEntityKey builds a key from already normalized values
func NewEntityKey(typeName string, values ...interface{}) EntityKey {
	return EntityKey{TypeName: typeName, Values: values}
}

// Equal reports whether both keys name the same entity
func (k EntityKey) Equal(other EntityKey) bool {
	return k.String() == other.String()
}

func (k EntityKey) String() string {
	var b strings.Builder
	b.WriteString(k.TypeName)
	for _, v := range k.Values {
		b.WriteByte('|')
		b.WriteString(keyPart(v))
	}
	return b.String()
}

func keyPart(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		return strconv.Quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
