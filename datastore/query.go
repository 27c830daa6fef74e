package datastore

// Op is a filter operator understood by every implementation.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

type Filter struct {
	Column string
	Op     Op
	Value  string
}

// Query is a parameterized read against one entity.
// Columns uses PostgREST select syntax; "" means "*".
type Query struct {
	Entity     string
	Columns    string
	Filters    []Filter
	OrderBy    string
	Descending bool
}

func From(entity string) Query { return Query{Entity: entity} }

func (q Query) Select(columns string) Query { q.Columns = columns; return q }

func (q Query) Eq(col, val string) Query  { return q.where(col, OpEq, val) }
func (q Query) Neq(col, val string) Query { return q.where(col, OpNeq, val) }
func (q Query) Gte(col, val string) Query { return q.where(col, OpGte, val) }
func (q Query) Lte(col, val string) Query { return q.where(col, OpLte, val) }

func (q Query) Order(col string, ascending bool) Query {
	q.OrderBy = col
	q.Descending = !ascending
	return q
}

func (q Query) where(col string, op Op, val string) Query {
	fs := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(fs, q.Filters)
	q.Filters = append(fs, Filter{Column: col, Op: op, Value: val})
	return q
}
