package db

import (
	"fmt"
	"reflect"
	"strings"
)

// SQL filter builder used by the repository to turn validated query predicates into
// parameterized WHERE clauses. LIKE conditions carry an ESCAPE clause; build their
// patterns with EscapeLike.
//
// SECURITY WARNING:
// Identifiers (table and column names) are NOT escaped. Callers must resolve them from
// trusted metadata, never from raw request input. Values are always passed as
// parameters.

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	NotLike            Operator = "NOT LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Condition represents a single WHERE condition
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// ConditionGroup represents grouped conditions with logical operators
type ConditionGroup struct {
	Conditions []interface{} // Condition or *ConditionGroup
	Operator   LogicalOperator
}

// Builder renders the WHERE and ORDER BY parts of a query; gorm runs the statement
type Builder struct {
	where   *ConditionGroup
	orderBy []string
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{where: &ConditionGroup{Operator: And}}
}

// Where adds a WHERE condition joined with AND
func (b *Builder) Where(field string, operator Operator, value interface{}) *Builder {
	b.where.Conditions = append(b.where.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return b
}

// WhereGroup adds a grouped WHERE condition
func (b *Builder) WhereGroup(operator LogicalOperator, fn func(*ConditionGroup)) *Builder {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	b.where.Conditions = append(b.where.Conditions, group)
	return b
}

// OrderBy adds an ORDER BY clause
func (b *Builder) OrderBy(field string, desc bool) *Builder {
	if desc {
		b.orderBy = append(b.orderBy, field+" DESC")
	} else {
		b.orderBy = append(b.orderBy, field+" ASC")
	}
	return b
}

// Where adds a condition to the group
func (g *ConditionGroup) Where(field string, operator Operator, value interface{}) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return g
}

// Group adds a nested condition group
func (g *ConditionGroup) Group(operator LogicalOperator, fn func(*ConditionGroup)) *ConditionGroup {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	g.Conditions = append(g.Conditions, group)
	return g
}

// BuildWhere renders only the WHERE expression (without the keyword) and its args.
// An empty string means no filter.
func (b *Builder) BuildWhere() (string, []interface{}) {
	return b.buildConditionGroup(b.where)
}

// OrderClauses returns the ORDER BY terms in the order they were added
func (b *Builder) OrderClauses() []string {
	return append([]string(nil), b.orderBy...)
}

// buildConditionGroup builds SQL for a condition group
func (b *Builder) buildConditionGroup(group *ConditionGroup) (string, []interface{}) {
	if len(group.Conditions) == 0 {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	for _, item := range group.Conditions {
		switch cond := item.(type) {
		case Condition:
			condSQL, condArgs := b.buildCondition(cond)
			conditions = append(conditions, condSQL)
			args = append(args, condArgs...)
		case *ConditionGroup:
			if groupSQL, groupArgs := b.buildConditionGroup(cond); groupSQL != "" {
				conditions = append(conditions, "("+groupSQL+")")
				args = append(args, groupArgs...)
			}
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return strings.Join(conditions, " "+string(group.Operator)+" "), args
}

// buildCondition builds SQL for a single condition
func (b *Builder) buildCondition(cond Condition) (string, []interface{}) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return b.buildInCondition(cond)
	case Like, NotLike:
		return fmt.Sprintf("%s %s ? ESCAPE '%c'", cond.Field, cond.Operator, LikeEscape), []interface{}{cond.Value}
	default:
		return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []interface{}{cond.Value}
	}
}

// LikeEscape escapes wildcards in LIKE patterns. A backslash would need doubling in
// MySQL string literals, so a character every driver reads the same way is used.
const LikeEscape = '!'

var likeEscaper = strings.NewReplacer(
	string(LikeEscape), string(LikeEscape)+string(LikeEscape),
	"%", string(LikeEscape)+"%",
	"_", string(LikeEscape)+"_",
)

// EscapeLike makes s match literally inside a LIKE pattern
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// buildInCondition expands IN/NOT IN placeholders; an empty list never matches for IN
func (b *Builder) buildInCondition(cond Condition) (string, []interface{}) {
	never, always := "1 = 0", "1 = 1"
	if cond.Operator == NotIn {
		never, always = always, never
	}

	if cond.Value == nil {
		return never, nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []interface{}{cond.Value}
	}
	if v.Len() == 0 {
		return never, nil
	}

	placeholders := make([]string, v.Len())
	args := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	return fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", ")), args
}
