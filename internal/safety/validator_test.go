package safety_test

import (
	"testing"

	"github.com/inkstone-ai/inkstone/internal/safety"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

func testSchema() *models.Schema {
	return &models.Schema{Tables: []models.SchemaTable{
		{Name: "users", Columns: []string{"id", "name", "email", "active", "created_at"}, RowEstimate: 50000},
		{Name: "orders", Columns: []string{"id", "user_id", "total", "status"}, RowEstimate: 500},
	}}
}

func hasFlag(flags []models.SafetyFlag, code string, severity models.SafetySeverity) bool {
	for _, f := range flags {
		if f.Code == code && f.Severity == severity {
			return true
		}
	}
	return false
}

func hasCritical(flags []models.SafetyFlag) bool {
	for _, f := range flags {
		if f.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// ─── Destructive statements ──────────────────────────────────

func TestValidateDestructiveStatements(t *testing.T) {
	v := safety.New(10000)
	schema := testSchema()

	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"drop table", "DROP TABLE users", safety.CodeDropTable},
		{"drop table lowercase", "drop table users", safety.CodeDropTable},
		{"drop table mixed case", "DrOp TaBlE users", safety.CodeDropTable},
		{"drop table extra whitespace", "DROP    \t TABLE   users", safety.CodeDropTable},
		{"drop table newline", "DROP\nTABLE users", safety.CodeDropTable},
		{"drop table if exists", "DROP TABLE IF EXISTS users", safety.CodeDropTable},
		{"drop table leading comment", "/* cleanup */ DROP TABLE users", safety.CodeDropTable},
		{"drop table leading spaces semicolon", "   DROP TABLE users;", safety.CodeDropTable},
		{"drop database", "DROP DATABASE production", safety.CodeDropDatabase},
		{"drop database mixed case", "DrOp DataBase production", safety.CodeDropDatabase},
		{"drop schema lowercase", "drop schema legacy", safety.CodeDropDatabase},
		{"truncate", "TRUNCATE TABLE users", safety.CodeTruncate},
		{"truncate mixed case", "TrUnCaTe TaBlE users", safety.CodeTruncate},
		{"truncate bare", "TRUNCATE users", safety.CodeTruncate},
		{"truncate semicolon", "TRUNCATE TABLE users;", safety.CodeTruncate},
		{"delete without where", "DELETE FROM users", safety.CodeDeleteWithoutWhere},
		{"delete without where mixed case", "dElEtE fRoM orders", safety.CodeDeleteWithoutWhere},
		{"delete without where newline", "delete\nfrom users", safety.CodeDeleteWithoutWhere},
		{"delete without where trailing comment", "DELETE FROM users -- fast", safety.CodeDeleteWithoutWhere},
		{"update without where", "UPDATE users SET active = 0", safety.CodeUpdateWithoutWhere},
		{"update without where newline", "UPDATE users\nSET active = 0", safety.CodeUpdateWithoutWhere},
		{"update without where tabs", "update\tusers set active = 0", safety.CodeUpdateWithoutWhere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := v.Validate(tt.sql, schema)
			if !hasFlag(flags, tt.code, models.SeverityCritical) {
				t.Errorf("Validate(%q) flags = %+v, want critical %q", tt.sql, flags, tt.code)
			}
		})
	}
}

func TestValidateScopedWritesAllowed(t *testing.T) {
	v := safety.New(10000)
	schema := testSchema()

	tests := []string{
		"DELETE FROM users WHERE active = 0",
		"UPDATE users SET active = 1 WHERE id = 7",
	}
	for _, sql := range tests {
		if flags := v.Validate(sql, schema); hasCritical(flags) {
			t.Errorf("Validate(%q) = %+v, want no critical flags", sql, flags)
		}
	}
}

// ─── Schema checks ───────────────────────────────────────────

func TestValidateUnknownTable(t *testing.T) {
	v := safety.New(10000)
	flags := v.Validate("SELECT id FROM customers LIMIT 5", testSchema())
	if !hasFlag(flags, safety.CodeUnknownTable, models.SeverityCritical) {
		t.Errorf("flags = %+v, want critical %q", flags, safety.CodeUnknownTable)
	}
}

func TestValidateUnknownColumn(t *testing.T) {
	v := safety.New(10000)

	flags := v.Validate("SELECT salary FROM users LIMIT 5", testSchema())
	if !hasFlag(flags, safety.CodeUnknownColumn, models.SeverityCritical) {
		t.Errorf("bare column: flags = %+v, want critical %q", flags, safety.CodeUnknownColumn)
	}

	flags = v.Validate("SELECT u.salary FROM users u LIMIT 5", testSchema())
	if !hasFlag(flags, safety.CodeUnknownColumn, models.SeverityCritical) {
		t.Errorf("qualified column: flags = %+v, want critical %q", flags, safety.CodeUnknownColumn)
	}
}

func TestValidateCaseInsensitiveSchemaMatch(t *testing.T) {
	v := safety.New(10000)
	flags := v.Validate("SELECT ID, NAME FROM USERS LIMIT 5", testSchema())
	if hasCritical(flags) {
		t.Errorf("flags = %+v, want no critical flags for case-variant identifiers", flags)
	}
}

func TestValidateJoinResolvesAcrossTables(t *testing.T) {
	v := safety.New(10000)
	sql := "SELECT u.name, o.total FROM users u JOIN orders o ON o.user_id = u.id WHERE o.status = 'paid' LIMIT 20"
	if flags := v.Validate(sql, testSchema()); hasCritical(flags) {
		t.Errorf("flags = %+v, want no critical flags for valid join", flags)
	}
}

func TestValidateNoSchemaSkipsReferenceChecks(t *testing.T) {
	v := safety.New(10000)

	if flags := v.Validate("SELECT whatever FROM anywhere LIMIT 5", nil); hasCritical(flags) {
		t.Errorf("nil schema: flags = %+v, want no critical flags", flags)
	}
	// Destructive shapes are still caught without a schema.
	if flags := v.Validate("DELETE FROM anywhere", nil); !hasFlag(flags, safety.CodeDeleteWithoutWhere, models.SeverityCritical) {
		t.Errorf("nil schema: flags = %+v, want critical %q", flags, safety.CodeDeleteWithoutWhere)
	}
}

// ─── Warnings ────────────────────────────────────────────────

func TestValidateSelectStarWarning(t *testing.T) {
	v := safety.New(10000)
	flags := v.Validate("SELECT * FROM orders LIMIT 10", testSchema())
	if !hasFlag(flags, safety.CodeSelectStar, models.SeverityWarning) {
		t.Errorf("flags = %+v, want warning %q", flags, safety.CodeSelectStar)
	}
	if hasCritical(flags) {
		t.Errorf("flags = %+v, SELECT * must not be critical", flags)
	}
}

func TestValidateFullScanWarning(t *testing.T) {
	v := safety.New(10000)

	// users has ~50k rows, over the threshold.
	flags := v.Validate("SELECT name FROM users", testSchema())
	if !hasFlag(flags, safety.CodeFullScan, models.SeverityWarning) {
		t.Errorf("unlimited big table: flags = %+v, want warning %q", flags, safety.CodeFullScan)
	}

	// A LIMIT suppresses the warning.
	flags = v.Validate("SELECT name FROM users LIMIT 50", testSchema())
	if hasFlag(flags, safety.CodeFullScan, models.SeverityWarning) {
		t.Errorf("limited query: flags = %+v, want no %q", flags, safety.CodeFullScan)
	}

	// orders is small; no warning even without LIMIT.
	flags = v.Validate("SELECT status FROM orders", testSchema())
	if hasFlag(flags, safety.CodeFullScan, models.SeverityWarning) {
		t.Errorf("small table: flags = %+v, want no %q", flags, safety.CodeFullScan)
	}
}

// ─── Keyword fallback ────────────────────────────────────────

func TestValidateUnparseableFallback(t *testing.T) {
	v := safety.New(10000)
	schema := testSchema()

	tests := []struct {
		name string
		sql  string
		code string
	}{
		{"garbled delete", "please DELETE FROM users thanks", safety.CodeDeleteWithoutWhere},
		{"garbled truncate", "now TRUNCATE users ok??", safety.CodeTruncate},
		{"garbled drop", "xx DROP   TABLE users yy", safety.CodeDropTable},
		{"garbled drop schema", "xx DROP SCHEMA public yy", safety.CodeDropDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := v.Validate(tt.sql, schema)
			if !hasFlag(flags, tt.code, models.SeverityCritical) {
				t.Errorf("Validate(%q) flags = %+v, want critical %q", tt.sql, flags, tt.code)
			}
		})
	}
}

func TestValidateUnparseableBenignIsWarningOnly(t *testing.T) {
	v := safety.New(10000)
	flags := v.Validate("SELEC name FORM users", testSchema())
	if !hasFlag(flags, safety.CodeUnparseable, models.SeverityWarning) {
		t.Errorf("flags = %+v, want warning %q", flags, safety.CodeUnparseable)
	}
	if hasCritical(flags) {
		t.Errorf("flags = %+v, benign typo must not be critical", flags)
	}
}

// Messages must never quote the statement back.
func TestValidateMessagesDoNotEchoStatement(t *testing.T) {
	v := safety.New(10000)
	sql := "DELETE FROM users"
	for _, f := range v.Validate(sql, testSchema()) {
		if f.Message == sql {
			t.Errorf("flag message echoes the statement: %q", f.Message)
		}
	}
}
