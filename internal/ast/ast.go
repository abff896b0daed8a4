// Package ast defines the minimal parse-tree shapes the statement
// dispatcher consumes. SQL parsing itself is out of scope (§1): a
// parse-tree is assumed as input from an external parser, and this
// package is the Go-native stand-in for that parser's output — the
// shapes loosely mirror what a pg_query-style AST exposes for the
// handful of statement kinds this system dispatches.
package ast

// Statement is the sum type the dispatcher switches on. The pointer field
// matching Kind is the one populated; KindTransaction carries no field.
type Statement struct {
	CreateTable   *CreateTableStmt
	PartitionOf   *PartitionOfStmt
	AddConstraint *AddConstraintStmt
	DropTable     *DropTableStmt
	Insert        *InsertStmt
	Update        *UpdateStmt
	Select        *SelectStmt
	Kind          Kind
}

// Kind identifies which field of Statement is populated.
type Kind int

const (
	KindCreateTable Kind = iota
	KindPartitionOf
	KindAddConstraint
	KindDropTable
	KindInsert
	KindUpdate
	KindSelect
	KindTransaction
)

// ColumnDef is one column declaration in a CREATE TABLE.
type ColumnDef struct {
	Name    string
	TypeAST string // the raw parser type name, resolved via types.FromASTString
	IsPK    bool
}

// PartitionSpec is the optional "PARTITION BY LIST (col)" clause on a
// CREATE TABLE.
type PartitionSpec struct {
	ColumnName string
}

// CreateTableStmt is "CREATE TABLE name (col type [PRIMARY KEY], …)
// [PARTITION BY LIST (col)]".
type CreateTableStmt struct {
	TableName string
	Columns   []ColumnDef
	Partition *PartitionSpec // nil if no PARTITION BY clause
}

// PartitionOfStmt is "CREATE TABLE child PARTITION OF parent FOR VALUES IN
// (v, …)".
type PartitionOfStmt struct {
	ChildName  string
	ParentName string
	Values     []string
}

// AddConstraintStmt is "ALTER TABLE child ADD CONSTRAINT name CHECK (col =
// const)".
type AddConstraintStmt struct {
	TableName      string
	ConstraintName string
	Column         string
	Value          string
}

// DropTableStmt is "DROP TABLE name".
type DropTableStmt struct {
	TableName string
}

// Literal is a constant value appearing in an INSERT VALUES list or an
// UPDATE SET/WHERE clause.
type Literal struct {
	Str   string
	Int   int64
	IsInt bool
}

// InsertStmt is "INSERT INTO name (cols) VALUES (…)[, …]".
type InsertStmt struct {
	TableName string
	Columns   []string
	Rows      [][]Literal
	Dispatch  bool // whether this row set should be routed to partition owners
}

// ArithOp is one of the three operators a SET expression may apply to an
// INT64 column and a constant.
type ArithOp int

const (
	ArithNone ArithOp = iota
	ArithAdd
	ArithSub
	ArithMul
)

// SetClause assigns Column either a literal or `Column op Operand`.
type SetClause struct {
	Column  string
	Literal *Literal // non-nil for a plain literal assignment
	Op      ArithOp  // set when Literal is nil: Column = Column Op Operand
	Operand int64
}

// WherePredicate restricts UPDATE to rows matching Column = Value (§6: "a
// single column = const").
type WherePredicate struct {
	Column string
	Value  Literal
}

// UpdateStmt is "UPDATE name SET col = expr [, …] WHERE col = const".
type UpdateStmt struct {
	TableName string
	Set       []SetClause
	Where     WherePredicate
	Dispatch  bool
}

// SelectStmt is "SELECT * FROM name" (unqualified `*` only, §6).
type SelectStmt struct {
	TableName string
}
