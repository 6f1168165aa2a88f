// Package safety validates generated SQL before it is shown to anyone.
//
// Validation is pure: parse the statement, walk the AST for destructive
// shapes and schema mismatches, and return flags. Statements that do not
// parse fall back to keyword scanning so obfuscated destructive text is
// still caught. The validator never executes anything.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Flag codes.
const (
	CodeDropTable          = "drop_table"
	CodeDropDatabase       = "drop_database"
	CodeTruncate           = "truncate"
	CodeDeleteWithoutWhere = "delete_without_where"
	CodeUpdateWithoutWhere = "update_without_where"
	CodeUnknownTable       = "unknown_table"
	CodeUnknownColumn      = "unknown_column"
	CodeSelectStar         = "select_star"
	CodeFullScan           = "full_scan"
	CodeUnparseable        = "unparseable"
	CodeDDL                = "ddl_statement"
)

// Validator checks generated SQL against a schema. Zero value is unusable;
// use New.
type Validator struct {
	fullScanRowThreshold int64
}

// New creates a validator. Tables with a row estimate at or above
// fullScanRowThreshold raise a full-scan warning for unlimited SELECTs.
func New(fullScanRowThreshold int64) *Validator {
	if fullScanRowThreshold <= 0 {
		fullScanRowThreshold = 10000
	}
	return &Validator{fullScanRowThreshold: fullScanRowThreshold}
}

// Validate returns all safety flags for the statement, critical first is not
// guaranteed; callers should check severities. A nil or empty schema skips
// the table/column checks but never the destructive-shape checks.
func (v *Validator) Validate(sql string, schema *models.Schema) []models.SafetyFlag {
	var flags []models.SafetyFlag

	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return v.keywordScan(sql)
	}

	switch s := stmt.(type) {
	case *sqlparser.Select:
		flags = append(flags, v.checkSelect(s, schema)...)

	case *sqlparser.Delete:
		if s.Where == nil {
			flags = append(flags, critical(CodeDeleteWithoutWhere, "DELETE without a WHERE clause affects every row"))
		}
		flags = append(flags, v.checkSchemaRefs(s, schema)...)

	case *sqlparser.Update:
		if s.Where == nil {
			flags = append(flags, critical(CodeUpdateWithoutWhere, "UPDATE without a WHERE clause affects every row"))
		}
		flags = append(flags, v.checkSchemaRefs(s, schema)...)

	case *sqlparser.DDL:
		switch s.Action {
		case sqlparser.DropStr:
			flags = append(flags, critical(CodeDropTable, "statement drops a table"))
		case sqlparser.TruncateStr:
			flags = append(flags, critical(CodeTruncate, "statement truncates a table"))
		default:
			flags = append(flags, warning(CodeDDL, fmt.Sprintf("statement performs schema change %q", s.Action)))
		}

	case *sqlparser.DBDDL:
		if s.Action == sqlparser.DropStr {
			flags = append(flags, critical(CodeDropDatabase, "statement drops a database"))
		} else {
			flags = append(flags, warning(CodeDDL, fmt.Sprintf("statement performs database-level change %q", s.Action)))
		}
	}

	if flags == nil {
		flags = []models.SafetyFlag{}
	}
	return flags
}

// ── SELECT Checks ───────────────────────────────────────────

func (v *Validator) checkSelect(sel *sqlparser.Select, schema *models.Schema) []models.SafetyFlag {
	var flags []models.SafetyFlag

	for _, expr := range sel.SelectExprs {
		if _, ok := expr.(*sqlparser.StarExpr); ok {
			flags = append(flags, warning(CodeSelectStar, "SELECT * returns every column; name the columns you need"))
			break
		}
	}

	tables := referencedTables(sel)
	flags = append(flags, v.checkTables(tables, schema)...)
	flags = append(flags, v.checkColumns(sel, tables, schema)...)

	// Unlimited SELECT against a large table scans everything.
	if sel.Limit == nil && schema != nil {
		for _, t := range tables {
			if st := lookupTable(schema, t.name); st != nil && st.RowEstimate >= v.fullScanRowThreshold {
				flags = append(flags, warning(CodeFullScan,
					fmt.Sprintf("unlimited SELECT against table %q (~%d rows); add a LIMIT", st.Name, st.RowEstimate)))
				break
			}
		}
	}

	return flags
}

// checkSchemaRefs validates table and column references for non-SELECT
// statements that still read the schema (DELETE, UPDATE).
func (v *Validator) checkSchemaRefs(stmt sqlparser.Statement, schema *models.Schema) []models.SafetyFlag {
	tables := referencedTables(stmt)
	flags := v.checkTables(tables, schema)
	flags = append(flags, v.checkColumns(stmt, tables, schema)...)
	return flags
}

func (v *Validator) checkTables(tables []tableRef, schema *models.Schema) []models.SafetyFlag {
	if schema == nil || len(schema.Tables) == 0 {
		return nil
	}
	var flags []models.SafetyFlag
	for _, t := range tables {
		if lookupTable(schema, t.name) == nil {
			flags = append(flags, critical(CodeUnknownTable,
				fmt.Sprintf("table %q does not exist in the schema", t.name)))
		}
	}
	return flags
}

// checkColumns verifies every column reference resolves. Qualified columns
// resolve through the alias map; bare columns may live in any referenced
// table.
func (v *Validator) checkColumns(stmt sqlparser.Statement, tables []tableRef, schema *models.Schema) []models.SafetyFlag {
	if schema == nil || len(schema.Tables) == 0 {
		return nil
	}

	aliases := make(map[string]string, len(tables))
	for _, t := range tables {
		aliases[strings.ToLower(t.alias)] = t.name
		aliases[strings.ToLower(t.name)] = t.name
	}

	seen := make(map[string]bool)
	var flags []models.SafetyFlag

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		col, ok := node.(*sqlparser.ColName)
		if !ok {
			return true, nil
		}
		name := col.Name.String()
		qualifier := col.Qualifier.Name.String()
		key := strings.ToLower(qualifier + "." + name)
		if seen[key] {
			return true, nil
		}
		seen[key] = true

		if qualifier != "" {
			table, known := aliases[strings.ToLower(qualifier)]
			if !known {
				// Unknown qualifier already surfaces as an unknown table.
				return true, nil
			}
			if st := lookupTable(schema, table); st != nil && !hasColumn(st, name) {
				flags = append(flags, critical(CodeUnknownColumn,
					fmt.Sprintf("column %q does not exist in table %q", name, st.Name)))
			}
			return true, nil
		}

		for _, t := range tables {
			if st := lookupTable(schema, t.name); st != nil && hasColumn(st, name) {
				return true, nil
			}
		}
		flags = append(flags, critical(CodeUnknownColumn,
			fmt.Sprintf("column %q does not exist in any referenced table", name)))
		return true, nil
	}, stmt)

	return flags
}

// ── AST Helpers ─────────────────────────────────────────────

type tableRef struct {
	name  string
	alias string
}

// referencedTables collects every table the statement touches, with aliases.
func referencedTables(stmt sqlparser.Statement) []tableRef {
	var refs []tableRef
	seen := make(map[string]bool)

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		ate, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		tn, ok := ate.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil
		}
		name := tn.Name.String()
		if name == "" || seen[strings.ToLower(name)] {
			return true, nil
		}
		seen[strings.ToLower(name)] = true
		refs = append(refs, tableRef{name: name, alias: ate.As.String()})
		return true, nil
	}, stmt)

	return refs
}

// lookupTable finds a schema table case-insensitively.
func lookupTable(schema *models.Schema, name string) *models.SchemaTable {
	for i := range schema.Tables {
		if strings.EqualFold(schema.Tables[i].Name, name) {
			return &schema.Tables[i]
		}
	}
	return nil
}

func hasColumn(t *models.SchemaTable, name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ── Keyword Fallback ────────────────────────────────────────

var (
	reDropTable    = regexp.MustCompile(`(?is)\bdrop\s+table\b`)
	reDropDatabase = regexp.MustCompile(`(?is)\bdrop\s+(database|schema)\b`)
	reTruncate     = regexp.MustCompile(`(?is)\btruncate\b`)
	reDeleteFrom   = regexp.MustCompile(`(?is)\bdelete\s+from\b`)
	reUpdate       = regexp.MustCompile(`(?is)^\s*update\b`)
	reWhere        = regexp.MustCompile(`(?is)\bwhere\b`)
)

// keywordScan is the fallback for statements the parser rejects. It can only
// pattern-match, so it errs toward flagging.
func (v *Validator) keywordScan(sql string) []models.SafetyFlag {
	flags := []models.SafetyFlag{
		warning(CodeUnparseable, "statement could not be parsed; review it manually"),
	}

	if reDropTable.MatchString(sql) {
		flags = append(flags, critical(CodeDropTable, "statement appears to drop a table"))
	}
	if reDropDatabase.MatchString(sql) {
		flags = append(flags, critical(CodeDropDatabase, "statement appears to drop a database"))
	}
	if reTruncate.MatchString(sql) {
		flags = append(flags, critical(CodeTruncate, "statement appears to truncate a table"))
	}
	if reDeleteFrom.MatchString(sql) && !reWhere.MatchString(sql) {
		flags = append(flags, critical(CodeDeleteWithoutWhere, "statement appears to delete without a WHERE clause"))
	}
	if reUpdate.MatchString(sql) && !reWhere.MatchString(sql) {
		flags = append(flags, critical(CodeUpdateWithoutWhere, "statement appears to update without a WHERE clause"))
	}

	return flags
}

func critical(code, msg string) models.SafetyFlag {
	return models.SafetyFlag{Code: code, Severity: models.SeverityCritical, Message: msg}
}

func warning(code, msg string) models.SafetyFlag {
	return models.SafetyFlag{Code: code, Severity: models.SeverityWarning, Message: msg}
}
