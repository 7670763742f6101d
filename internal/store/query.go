package store

// Op is a filter operator.
type Op string

const (
	OpEq      Op = "eq"
	OpNotNull Op = "not_null"
)

// Cond is a single column condition.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality condition.
func Eq(column string, value any) Cond { return Cond{Column: column, Op: OpEq, Value: value} }

// NotNull builds a non-null condition.
func NotNull(column string) Cond { return Cond{Column: column, Op: OpNotNull} }

// Filter combines conditions: everything in All must hold, and when Any is
// non-empty at least one condition in Any must hold as well.
type Filter struct {
	All []Cond
	Any []Cond
}

// Where is shorthand for a Filter of ANDed equality conditions.
func Where(conds ...Cond) Filter { return Filter{All: conds} }

// Join pulls columns from a related table into the result row, nested under
// the alias As. Left-join semantics: a missing counterpart leaves the alias
// absent from the row rather than failing the query.
type Join struct {
	Table         string
	As            string
	LocalColumn   string
	ForeignColumn string
	Columns       []string
}

// Order sorts the result by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes one read: selected columns of the base collection, joins,
// filter, order, and an optional row limit (0 = unlimited).
type Query struct {
	Columns []string
	Filter  Filter
	Joins   []Join
	Order   *Order
	Limit   int
}
