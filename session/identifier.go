package session

import "github.com/jackc/pgx/v5"

// quoteIdentifier sanitizes a single SQL identifier (e.g. a LISTEN/NOTIFY
// channel name) the same way pgx quotes table and column names elsewhere in
// this codebase.
func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
