// Package sqlbuilder is a minimal SQL-text generation DSL for the handful of
// DDL statements kvstore needs: CREATE TABLE, column definitions, and
// CREATE INDEX. It emits no storage parameters (no WITH (...) clause) and
// builds no other statements — the
// rest of the repository writes SQL strings directly, the way
// kvstore.PostgresStore does for its DML statements.
package sqlbuilder

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// Column describes one column in a CREATE TABLE statement.
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Default    string
}

func (c Column) write(w *strings.Builder) {
	w.WriteString(pgx.Identifier{c.Name}.Sanitize())
	w.WriteByte(' ')
	w.WriteString(c.Type)
	if c.PrimaryKey {
		w.WriteString(" PRIMARY KEY")
	}
	if c.NotNull && !c.PrimaryKey {
		w.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		w.WriteString(" DEFAULT ")
		w.WriteString(c.Default)
	}
}

// CreateTable builds a `CREATE [UNLOGGED] TABLE IF NOT EXISTS schema.table
// (...)` statement.
type CreateTable struct {
	Schema   string
	Table    string
	Unlogged bool
	Columns  []Column
}

// SQL renders the statement.
func (t CreateTable) SQL() string {
	var w strings.Builder
	w.WriteString("CREATE ")
	if t.Unlogged {
		w.WriteString("UNLOGGED ")
	}
	w.WriteString("TABLE IF NOT EXISTS ")
	w.WriteString(qualifiedName(t.Schema, t.Table))
	w.WriteString(" (\n")
	for i, col := range t.Columns {
		w.WriteString("\t")
		col.write(&w)
		if i < len(t.Columns)-1 {
			w.WriteByte(',')
		}
		w.WriteByte('\n')
	}
	w.WriteString(")")
	return w.String()
}

// CreateIndex builds a `CREATE INDEX IF NOT EXISTS name ON schema.table
// (column [opclass]) [WHERE predicate]` statement.
type CreateIndex struct {
	Name      string
	Schema    string
	Table     string
	Column    string
	OpClass   string
	Predicate string
}

// SQL renders the statement.
func (ix CreateIndex) SQL() string {
	var w strings.Builder
	w.WriteString("CREATE INDEX IF NOT EXISTS ")
	w.WriteString(pgx.Identifier{ix.Name}.Sanitize())
	w.WriteString(" ON ")
	w.WriteString(qualifiedName(ix.Schema, ix.Table))
	w.WriteString(" (")
	w.WriteString(pgx.Identifier{ix.Column}.Sanitize())
	if ix.OpClass != "" {
		w.WriteByte(' ')
		w.WriteString(ix.OpClass)
	}
	w.WriteByte(')')
	if ix.Predicate != "" {
		w.WriteString(" WHERE ")
		w.WriteString(ix.Predicate)
	}
	return w.String()
}

// qualifiedName renders schema.table through pgx's identifier quoting, so
// callers never need to hand-quote reserved words or mixed-case names.
func qualifiedName(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
