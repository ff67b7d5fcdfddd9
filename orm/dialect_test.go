package orm_test

import (
	"testing"

	"github.com/mickamy/ormassoc/orm"
)

func TestMySQLPlaceholder(t *testing.T) {
	t.Parallel()

	for _, index := range []int{1, 2, 10} {
		if got := orm.MySQL.Placeholder(index); got != "?" {
			t.Errorf("Placeholder(%d) = %q, want %q", index, got, "?")
		}
	}
}

func TestMySQLUseReturning(t *testing.T) {
	t.Parallel()

	if orm.MySQL.UseReturning() {
		t.Error("MySQL.UseReturning() = true, want false")
	}
}

func TestMySQLReturningClause(t *testing.T) {
	t.Parallel()

	if got := orm.MySQL.ReturningClause("id"); got != "" {
		t.Errorf("MySQL.ReturningClause(\"id\") = %q, want %q", got, "")
	}
}

func TestPostgreSQLPlaceholder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		index int
		want  string
	}{
		{1, "$1"},
		{2, "$2"},
		{10, "$10"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			if got := orm.PostgreSQL.Placeholder(tt.index); got != tt.want {
				t.Errorf("Placeholder(%d) = %q, want %q", tt.index, got, tt.want)
			}
		})
	}
}

func TestPostgreSQLUseReturning(t *testing.T) {
	t.Parallel()

	if !orm.PostgreSQL.UseReturning() {
		t.Error("PostgreSQL.UseReturning() = false, want true")
	}
}

func TestPostgreSQLReturningClause(t *testing.T) {
	t.Parallel()

	want := ` RETURNING "id"`
	if got := orm.PostgreSQL.ReturningClause("id"); got != want {
		t.Errorf("PostgreSQL.ReturningClause(\"id\") = %q, want %q", got, want)
	}
}

func TestMySQLQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := orm.MySQL.QuoteIdent("order"); got != "`order`" {
		t.Errorf("QuoteIdent = %q, want %q", got, "`order`")
	}
}

func TestPostgreSQLQuoteIdent(t *testing.T) {
	t.Parallel()

	want := `"order"`
	if got := orm.PostgreSQL.QuoteIdent("order"); got != want {
		t.Errorf("QuoteIdent = %q, want %q", got, want)
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	if got := orm.SQLite.Placeholder(3); got != "?" {
		t.Errorf("Placeholder(3) = %q, want %q", got, "?")
	}
	if got := orm.SQLite.QuoteIdent("order"); got != `"order"` {
		t.Errorf("QuoteIdent = %q, want %q", got, `"order"`)
	}
	if !orm.SQLite.UseReturning() {
		t.Error("SQLite.UseReturning() = false, want true")
	}
	if got := orm.SQLite.ReturningClause("id"); got != ` RETURNING "id"` {
		t.Errorf("ReturningClause = %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want orm.Dialect
	}{
		{"mysql", orm.MySQL},
		{"MariaDB", orm.MySQL},
		{"postgres", orm.PostgreSQL},
		{"pgx", orm.PostgreSQL},
		{"postgresql", orm.PostgreSQL},
		{"sqlite", orm.SQLite},
		{"sqlite3", orm.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := orm.ParseDialect(tt.name)
			if err != nil {
				t.Fatalf("ParseDialect(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseDialect(%q) = %s, want %s", tt.name, got.Name(), tt.want.Name())
			}
		})
	}

	if _, err := orm.ParseDialect("oracle"); err == nil {
		t.Error("ParseDialect(\"oracle\") succeeded, want error")
	}
}
