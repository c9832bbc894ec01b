package session

// Query is an immutable, already-parameterized statement ready to execute.
// Sessions never build Query values themselves; they ask the QueryFactory
// they were handed at creation time, which is the narrow capability a
// Session holds instead of a full Pool (see Design Notes, session↔pool
// cycle).
type Query struct {
	SQL    string
	Params []any
}

// QueryFactory fabricates Query values. *pool.Pool implements this with a
// single line, but the session package depends only on the interface, never
// on the pool itself.
type QueryFactory interface {
	NewQuery(sql string, params ...any) Query
}
