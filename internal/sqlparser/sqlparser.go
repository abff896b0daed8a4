// Package sqlparser turns the raw SQL text the wire session reads off the
// socket into the parse-tree shapes internal/ast defines. §1 treats SQL
// parsing as an external collaborator — a parse-tree is assumed as input —
// so no pack SQL-parser library is wired here (see DESIGN.md); this is a
// minimal hand-rolled recognizer for exactly the statement surface §6
// names, not a general-purpose SQL parser.
package sqlparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dreamware/torua-sql/internal/ast"
	"github.com/dreamware/torua-sql/internal/dberrors"
)

// ColumnsForTable resolves a table name to its declared column order, used
// to expand an INSERT with no explicit column list.
type ColumnsForTable func(table string) ([]string, error)

// Parser recognizes the fixed statement surface of §6.
type Parser struct {
	ColumnsForTable ColumnsForTable
}

var (
	reCreateTable = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(\S+)\s*\(([^()]*)\)\s*(?:PARTITION\s+BY\s+LIST\s*\((\w+)\))?\s*;?\s*$`)
	rePartitionOf = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(\S+)\s+PARTITION\s+OF\s+(\S+)\s+FOR\s+VALUES\s+IN\s*\((.*)\)\s*;?\s*$`)
	reAddConstraint = regexp.MustCompile(`(?is)^ALTER\s+TABLE\s+(\S+)\s+ADD\s+CONSTRAINT\s+(\S+)\s+CHECK\s*\(\s*(\w+)\s*=\s*'?([^')]*)'?\s*\)\s*;?\s*$`)
	reDropTable   = regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(\S+)\s*;?\s*$`)
	reInsert      = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+(\S+)\s*(?:\(([^)]*)\))?\s*VALUES\s*(.*);?\s*$`)
	reUpdate      = regexp.MustCompile(`(?is)^UPDATE\s+(\S+)\s+SET\s+(.*?)\s+WHERE\s+(\w+)\s*=\s*(.+?)\s*;?\s*$`)
	reSelect      = regexp.MustCompile(`(?is)^SELECT\s+\*\s+FROM\s+(\S+)\s*(?:WHERE\s+.*)?;?\s*$`)

	reValuesGroup = regexp.MustCompile(`\(([^()]*)\)`)
	reSetClause   = regexp.MustCompile(`(?is)^(\w+)\s*=\s*(.+)$`)
	reArith       = regexp.MustCompile(`(?is)^(\w+)\s*([+\-*])\s*(-?\d+)$`)
)

// Parse recognizes sql and returns its parse tree, or an Unsupported error
// if it matches none of the statement shapes §6 names.
func (p *Parser) Parse(sql string) (*ast.Statement, error) {
	sql = strings.TrimSpace(sql)

	if m := rePartitionOf.FindStringSubmatch(sql); m != nil {
		return &ast.Statement{
			Kind: ast.KindPartitionOf,
			PartitionOf: &ast.PartitionOfStmt{
				ChildName:  m[1],
				ParentName: m[2],
				Values:     splitQuotedList(m[3]),
			},
		}, nil
	}

	if m := reCreateTable.FindStringSubmatch(sql); m != nil {
		cols, err := parseColumnDefs(m[2])
		if err != nil {
			return nil, err
		}
		stmt := &ast.CreateTableStmt{TableName: m[1], Columns: cols}
		if m[3] != "" {
			stmt.Partition = &ast.PartitionSpec{ColumnName: m[3]}
		}
		return &ast.Statement{Kind: ast.KindCreateTable, CreateTable: stmt}, nil
	}

	if m := reAddConstraint.FindStringSubmatch(sql); m != nil {
		return &ast.Statement{
			Kind: ast.KindAddConstraint,
			AddConstraint: &ast.AddConstraintStmt{
				TableName:      m[1],
				ConstraintName: m[2],
				Column:         m[3],
				Value:          m[4],
			},
		}, nil
	}

	if m := reDropTable.FindStringSubmatch(sql); m != nil {
		return &ast.Statement{Kind: ast.KindDropTable, DropTable: &ast.DropTableStmt{TableName: m[1]}}, nil
	}

	if m := reInsert.FindStringSubmatch(sql); m != nil {
		return p.parseInsert(m[1], m[2], m[3])
	}

	if m := reUpdate.FindStringSubmatch(sql); m != nil {
		return parseUpdate(m[1], m[2], m[3], m[4])
	}

	if m := reSelect.FindStringSubmatch(sql); m != nil {
		return &ast.Statement{Kind: ast.KindSelect, Select: &ast.SelectStmt{TableName: m[1]}}, nil
	}

	return nil, dberrors.Unsupportedf("unrecognized statement: %q", sql)
}

func parseColumnDefs(body string) ([]ast.ColumnDef, error) {
	var cols []ast.ColumnDef
	for _, part := range splitTopLevel(body, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return nil, dberrors.InvalidArgumentf("malformed column definition %q", part)
		}
		isPK := strings.Contains(strings.ToUpper(part), "PRIMARY KEY")
		cols = append(cols, ast.ColumnDef{Name: fields[0], TypeAST: strings.ToLower(fields[1]), IsPK: isPK})
	}
	if len(cols) == 0 {
		return nil, dberrors.InvalidArgumentf("CREATE TABLE with no columns")
	}
	return cols, nil
}

func (p *Parser) parseInsert(table, columnList, valuesBody string) (*ast.Statement, error) {
	var columns []string
	if strings.TrimSpace(columnList) != "" {
		for _, c := range strings.Split(columnList, ",") {
			columns = append(columns, strings.TrimSpace(c))
		}
	} else {
		if p.ColumnsForTable == nil {
			return nil, dberrors.InvalidArgumentf("INSERT into %q with no column list and no schema lookup available", table)
		}
		cols, err := p.ColumnsForTable(table)
		if err != nil {
			return nil, err
		}
		columns = cols
	}

	groups := reValuesGroup.FindAllStringSubmatch(valuesBody, -1)
	if len(groups) == 0 {
		return nil, dberrors.InvalidArgumentf("INSERT with no VALUES groups")
	}

	var rows [][]ast.Literal
	for _, g := range groups {
		lits, err := parseLiteralList(g[1])
		if err != nil {
			return nil, err
		}
		if len(lits) != len(columns) {
			return nil, dberrors.InvalidArgumentf("VALUES group has %d values, expected %d", len(lits), len(columns))
		}
		rows = append(rows, lits)
	}

	return &ast.Statement{
		Kind: ast.KindInsert,
		Insert: &ast.InsertStmt{
			TableName: table,
			Columns:   columns,
			Rows:      rows,
			Dispatch:  true,
		},
	}, nil
}

func parseUpdate(table, setBody, whereCol, whereVal string) (*ast.Statement, error) {
	var sets []ast.SetClause
	for _, part := range splitTopLevel(setBody, ',') {
		part = strings.TrimSpace(part)
		m := reSetClause.FindStringSubmatch(part)
		if m == nil {
			return nil, dberrors.InvalidArgumentf("malformed SET clause %q", part)
		}
		col, expr := m[1], strings.TrimSpace(m[2])

		if am := reArith.FindStringSubmatch(expr); am != nil && am[1] == col {
			operand, err := strconv.ParseInt(am[3], 10, 64)
			if err != nil {
				return nil, dberrors.InvalidArgumentf("bad arithmetic operand in %q", part)
			}
			var op ast.ArithOp
			switch am[2] {
			case "+":
				op = ast.ArithAdd
			case "-":
				op = ast.ArithSub
			case "*":
				op = ast.ArithMul
			}
			sets = append(sets, ast.SetClause{Column: col, Op: op, Operand: operand})
			continue
		}

		lit, err := parseLiteral(expr)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ast.SetClause{Column: col, Literal: &lit})
	}

	whereLit, err := parseLiteral(strings.TrimSpace(whereVal))
	if err != nil {
		return nil, err
	}

	return &ast.Statement{
		Kind: ast.KindUpdate,
		Update: &ast.UpdateStmt{
			TableName: table,
			Set:       sets,
			Where:     ast.WherePredicate{Column: whereCol, Value: whereLit},
			Dispatch:  true,
		},
	}, nil
}

func parseLiteralList(body string) ([]ast.Literal, error) {
	var lits []ast.Literal
	for _, raw := range splitTopLevel(body, ',') {
		lit, err := parseLiteral(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		lits = append(lits, lit)
	}
	return lits, nil
}

func parseLiteral(raw string) (ast.Literal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return ast.Literal{Str: raw[1 : len(raw)-1]}, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ast.Literal{}, dberrors.InvalidArgumentf("malformed literal %q", raw)
	}
	return ast.Literal{Str: raw, Int: n, IsInt: true}, nil
}

func splitQuotedList(body string) []string {
	var out []string
	for _, raw := range splitTopLevel(body, ',') {
		raw = strings.TrimSpace(raw)
		raw = strings.Trim(raw, "'")
		out = append(out, raw)
	}
	return out
}

// splitTopLevel splits s on sep, ignoring separators inside single-quoted
// strings or parentheses, so "'a,b', (1,2)" splits into two parts rather
// than four.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
			// inside a quoted literal, nothing else is significant
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
