package sqlbuilder

import (
	"strings"
	"testing"
)

func TestCreateTableSQL(t *testing.T) {
	stmt := CreateTable{
		Schema: "public",
		Table:  "kv_store",
		Columns: []Column{
			{Name: "key_hash", Type: "BIGINT", PrimaryKey: true},
			{Name: "value", Type: "JSONB", NotNull: true},
			{Name: "expires_at", Type: "TIMESTAMPTZ"},
		},
	}

	sql := stmt.SQL()
	if !strings.Contains(sql, `CREATE TABLE IF NOT EXISTS "public"."kv_store"`) {
		t.Fatalf("missing table header, got: %s", sql)
	}
	if !strings.Contains(sql, `"key_hash" BIGINT PRIMARY KEY`) {
		t.Fatalf("missing primary key column, got: %s", sql)
	}
	if !strings.Contains(sql, `"value" JSONB NOT NULL`) {
		t.Fatalf("missing not-null column, got: %s", sql)
	}
}

func TestCreateTableUnlogged(t *testing.T) {
	stmt := CreateTable{Table: "t", Schema: "public", Unlogged: true, Columns: []Column{{Name: "k", Type: "TEXT"}}}
	sql := stmt.SQL()
	if !strings.HasPrefix(sql, "CREATE UNLOGGED TABLE IF NOT EXISTS") {
		t.Fatalf("want UNLOGGED clause, got: %s", sql)
	}
}

func TestCreateIndexWithPredicate(t *testing.T) {
	ix := CreateIndex{
		Name:      "kv_store_expires_idx",
		Schema:    "public",
		Table:     "kv_store",
		Column:    "expires_at",
		Predicate: "expires_at IS NOT NULL",
	}
	sql := ix.SQL()
	if !strings.Contains(sql, "WHERE expires_at IS NOT NULL") {
		t.Fatalf("missing predicate, got: %s", sql)
	}
}
