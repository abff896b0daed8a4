// Package dispatcher implements the statement dispatcher (§4.6): it
// classifies a parsed statement, consults the catalog and gossip
// membership to resolve a target peer set, and executes locally and/or
// forwards via RPC. Adapted from the coordinator's request-routing
// handlers (handleData, autoAssignShards), restructured around
// partition-constraint matching instead of consistent-hash shard routing.
package dispatcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/dreamware/torua-sql/internal/ast"
	"github.com/dreamware/torua-sql/internal/catalog"
	"github.com/dreamware/torua-sql/internal/dberrors"
	"github.com/dreamware/torua-sql/internal/gossip"
	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/metrics"
	"github.com/dreamware/torua-sql/internal/rowlayout"
	"github.com/dreamware/torua-sql/internal/types"
)

// Column describes one field of a Result.
type Column struct {
	Name string
	Type types.Type
}

// Result is the column batch (or empty acknowledgement) HandleStatement
// returns; the wire session re-encodes it to RowDescription/DataRow
// messages.
type Result struct {
	Columns []Column
	Rows    [][]types.Datum
}

// WriteRowFunc is the client side of Insert.Write against a peer.
type WriteRowFunc func(ctx context.Context, peerAddr, table string, columns []string, cells [][]byte) error

// ApplyUpdateFunc is the client side of Update.Apply against a peer.
type ApplyUpdateFunc func(ctx context.Context, peerAddr string, raw []byte) error

// Dispatcher ties the catalog, local store, and gossip membership
// together behind the single HandleStatement entry point.
type Dispatcher struct {
	Catalog     *catalog.Catalog
	Store       kv.Store
	Gossip      *gossip.Store
	SelfID      string
	WriteRow    WriteRowFunc
	ApplyUpdate ApplyUpdateFunc
}

// HandleStatement classifies stmt by Kind and routes it, per §4.6.
func (d *Dispatcher) HandleStatement(ctx context.Context, stmt *ast.Statement) (*Result, error) {
	kindLabel := kindName(stmt.Kind)
	start := time.Now()
	result, err := d.dispatch(ctx, stmt)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.DispatcherOperationsTotal.WithLabelValues(kindLabel, outcome).Inc()
	metrics.DispatcherOperationDuration.WithLabelValues(kindLabel).Observe(time.Since(start).Seconds())
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, stmt *ast.Statement) (*Result, error) {
	switch stmt.Kind {
	case ast.KindCreateTable:
		return d.handleCreateTable(stmt.CreateTable)
	case ast.KindPartitionOf:
		return d.handlePartitionOf(stmt.PartitionOf)
	case ast.KindAddConstraint:
		return d.handleAddConstraint(stmt.AddConstraint)
	case ast.KindDropTable:
		return &Result{}, d.Catalog.DropTable(stmt.DropTable.TableName)
	case ast.KindInsert:
		return d.handleInsert(ctx, stmt.Insert)
	case ast.KindUpdate:
		return d.handleUpdate(ctx, stmt.Update)
	case ast.KindSelect:
		return d.handleSelect(stmt.Select)
	case ast.KindTransaction:
		return &Result{}, nil
	default:
		return nil, dberrors.Unsupportedf("unknown statement kind %v", stmt.Kind)
	}
}

func kindName(k ast.Kind) string {
	switch k {
	case ast.KindCreateTable:
		return "create_table"
	case ast.KindPartitionOf:
		return "partition_of"
	case ast.KindAddConstraint:
		return "add_constraint"
	case ast.KindDropTable:
		return "drop_table"
	case ast.KindInsert:
		return "insert"
	case ast.KindUpdate:
		return "update"
	case ast.KindSelect:
		return "select"
	case ast.KindTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

func (d *Dispatcher) handleCreateTable(stmt *ast.CreateTableStmt) (*Result, error) {
	columns := make([]catalog.Column, 0, len(stmt.Columns))
	for _, c := range stmt.Columns {
		t, err := types.FromASTString(c.TypeAST)
		if err != nil {
			return nil, err
		}
		columns = append(columns, catalog.Column{Name: c.Name, Type: t, IsPK: c.IsPK})
	}

	tbl := &catalog.Table{Name: stmt.TableName, Columns: columns}
	if err := d.Catalog.CreateTable(tbl); err != nil {
		return nil, err
	}

	if stmt.Partition != nil {
		if err := d.Catalog.SetPartition(stmt.TableName, stmt.Partition.ColumnName, "LIST"); err != nil {
			return nil, err
		}
	}
	return &Result{}, nil
}

func (d *Dispatcher) handlePartitionOf(stmt *ast.PartitionOfStmt) (*Result, error) {
	if err := d.Catalog.ListPartitionAddValues(stmt.ParentName, stmt.ChildName, stmt.Values); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (d *Dispatcher) handleAddConstraint(stmt *ast.AddConstraintStmt) (*Result, error) {
	if err := d.Catalog.ListPartitionAddConstraint(stmt.TableName, stmt.Column, stmt.Value); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (d *Dispatcher) handleInsert(ctx context.Context, stmt *ast.InsertStmt) (*Result, error) {
	tbl, err := d.Catalog.GetTable(stmt.TableName)
	if err != nil {
		return nil, err
	}

	for _, row := range stmt.Rows {
		values, pk, err := rowValues(tbl, stmt.Columns, row)
		if err != nil {
			return nil, err
		}

		if !stmt.Dispatch {
			if err := rowlayout.WriteRow(d.Store, tbl.Name, pk, stmt.Columns, values); err != nil {
				return nil, err
			}
			continue
		}

		constraints, err := partitionConstraintsFor(tbl, stmt.Columns, values)
		if err != nil {
			return nil, err
		}

		peers, err := d.Gossip.GetNodes(nil)
		if err != nil {
			return nil, dberrors.Internalf("get_nodes: %v", err)
		}

		sent := false
		cells := make([][]byte, len(values))
		for i, v := range values {
			cells[i] = types.Encode(v)
		}
		for _, peer := range peers {
			if !peer.Satisfies(constraints) {
				continue
			}
			if err := d.WriteRow(ctx, peer.GRPCAddr, tbl.Name, stmt.Columns, cells); err != nil {
				return nil, dberrors.Dispatchf(peer.GRPCAddr, err, "insert forward failed")
			}
			sent = true
		}
		if !sent {
			return nil, dberrors.NotFoundf("no eligible peer for insert into %s", tbl.Name)
		}
	}

	return &Result{}, nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, stmt *ast.UpdateStmt) (*Result, error) {
	tbl, err := d.Catalog.GetTable(stmt.TableName)
	if err != nil {
		return nil, err
	}
	if _, ok := tbl.Column(stmt.Where.Column); !ok {
		return nil, dberrors.InvalidArgumentf("unknown column %q", stmt.Where.Column)
	}

	if stmt.Dispatch {
		raw, err := json.Marshal(stmt)
		if err != nil {
			return nil, dberrors.Internalf("marshal update statement: %v", err)
		}
		peers, err := d.Gossip.GetNodes(nil)
		if err != nil {
			return nil, dberrors.Internalf("get_nodes: %v", err)
		}
		for id, peer := range peers {
			if id == d.SelfID {
				continue
			}
			if err := d.ApplyUpdate(ctx, peer.GRPCAddr, raw); err != nil {
				return nil, dberrors.Dispatchf(peer.GRPCAddr, err, "update forward failed")
			}
		}
	}

	return &Result{}, d.applyUpdateLocally(tbl, stmt)
}

// applyUpdateLocally scans the local table and applies stmt's SET clauses
// to every row matching its WHERE predicate. Called once on the
// originating node and once more, via rpcserver.handleUpdateApply, on each
// peer the statement is forwarded to — so a dispatched UPDATE must apply
// locally exactly here and nowhere else in the forward path.
func (d *Dispatcher) applyUpdateLocally(tbl *catalog.Table, stmt *ast.UpdateStmt) error {
	rows := rowlayout.ReadTable(d.Store, tbl.Name)
	for encodedPK, cells := range rows {
		whereCol, ok := tbl.Column(stmt.Where.Column)
		if !ok {
			continue
		}
		whereVal, err := types.Decode(cells[whereCol.Name], whereCol.Type)
		if err != nil {
			return err
		}
		if !literalMatches(whereVal, stmt.Where.Value) {
			continue
		}

		pk, err := decodePKFromEncoded(tbl, encodedPK)
		if err != nil {
			return err
		}

		for _, set := range stmt.Set {
			col, ok := tbl.Column(set.Column)
			if !ok {
				return dberrors.InvalidArgumentf("unknown column %q", set.Column)
			}
			var newVal types.Datum
			if set.Literal != nil {
				newVal = datumFromLiteral(col.Type, *set.Literal)
			} else {
				cur, err := types.Decode(cells[col.Name], col.Type)
				if err != nil {
					return err
				}
				newVal, err = applyArith(cur, set.Op, set.Operand)
				if err != nil {
					return err
				}
			}
			if err := rowlayout.WriteCell(d.Store, tbl.Name, pk, col.Name, newVal); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) handleSelect(stmt *ast.SelectStmt) (*Result, error) {
	tbl, err := d.Catalog.GetTable(stmt.TableName)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, c := range tbl.Columns {
		result.Columns = append(result.Columns, Column{Name: c.Name, Type: c.Type})
	}

	rows := rowlayout.ReadTable(d.Store, tbl.Name)
	for _, encodedPK := range rowlayout.SortedPKs(rows) {
		cells := rows[encodedPK]
		var out []types.Datum
		for _, c := range tbl.Columns {
			raw, ok := cells[c.Name]
			if !ok {
				out = append(out, types.Datum{Kind: c.Type})
				continue
			}
			if tbl.Name == "system.tables" && c.Name == "columns" {
				var cols []catalog.Column
				if err := json.Unmarshal(raw, &cols); err == nil {
					out = append(out, types.NewString(catalog.DescribeColumns(cols)))
					continue
				}
			}
			v, err := types.Decode(raw, c.Type)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		result.Rows = append(result.Rows, out)
	}

	return result, nil
}

// rowValues pairs each literal of a VALUES row with the column at the same
// position in the insert's column list, typing it by that column, and
// returns the Datum slice (in column-list order) plus the primary key Datum.
func rowValues(tbl *catalog.Table, columns []string, row []ast.Literal) ([]types.Datum, types.Datum, error) {
	if len(columns) != len(row) {
		return nil, types.Datum{}, dberrors.InvalidArgumentf("column/value count mismatch: %d columns, %d values", len(columns), len(row))
	}

	values := make([]types.Datum, len(row))
	var pk types.Datum
	var pkSet bool
	for i, colName := range columns {
		col, ok := tbl.Column(colName)
		if !ok {
			return nil, types.Datum{}, dberrors.InvalidArgumentf("column %q not present in table %s", colName, tbl.Name)
		}
		d := datumFromLiteral(col.Type, row[i])
		values[i] = d
		if col.IsPK {
			pk = d
			pkSet = true
		}
	}
	if !pkSet {
		return nil, types.Datum{}, dberrors.InvalidArgumentf("table %s has no primary key in the insert column list", tbl.Name)
	}
	return values, pk, nil
}

func datumFromLiteral(t types.Type, lit ast.Literal) types.Datum {
	if t == types.Int64 {
		return types.NewInt64(lit.Int)
	}
	return types.NewString(lit.Str)
}

func literalMatches(d types.Datum, lit ast.Literal) bool {
	if d.Kind == types.Int64 {
		return d.IntValue == lit.Int
	}
	return d.StrValue == lit.Str
}

func applyArith(cur types.Datum, op ast.ArithOp, operand int64) (types.Datum, error) {
	if cur.Kind != types.Int64 {
		return types.Datum{}, dberrors.InvalidArgumentf("arithmetic SET expression requires an INT64 column")
	}
	switch op {
	case ast.ArithAdd:
		return types.NewInt64(cur.IntValue + operand), nil
	case ast.ArithSub:
		return types.NewInt64(cur.IntValue - operand), nil
	case ast.ArithMul:
		return types.NewInt64(cur.IntValue * operand), nil
	default:
		return types.Datum{}, dberrors.Unsupportedf("unknown arithmetic operator")
	}
}

// partitionConstraintsFor locates the partition containing the row's
// partition-column value and returns its constraint map. A table with no
// partition rule imposes no constraints (every peer matches). A value
// that matches no declared partition is a NotFound.
func partitionConstraintsFor(tbl *catalog.Table, columns []string, values []types.Datum) (map[string]string, error) {
	if tbl.Partition.Strategy != catalog.PartitionList {
		return map[string]string{}, nil
	}

	idx := -1
	for i, c := range columns {
		if c == tbl.Partition.ColumnName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, dberrors.InvalidArgumentf("partition column %q not present in insert column list", tbl.Partition.ColumnName)
	}
	val := values[idx].Text()

	for _, pd := range tbl.Partition.Partitions {
		if _, ok := pd.Values[val]; ok {
			return pd.Constraints, nil
		}
	}
	return nil, dberrors.NotFoundf("value %q matches no partition of %s", val, tbl.Name)
}

func decodePKFromEncoded(tbl *catalog.Table, encodedPK string) (types.Datum, error) {
	pkCol, ok := tbl.PrimaryKeyColumn()
	if !ok {
		return types.Datum{}, dberrors.InvalidArgumentf("table %s has no primary key column", tbl.Name)
	}
	if pkCol.Type == types.String {
		raw, err := hex.DecodeString(encodedPK)
		if err != nil {
			return types.Datum{}, dberrors.InvalidArgumentf("decode pk %q: %v", encodedPK, err)
		}
		return types.NewString(string(raw)), nil
	}
	return types.Decode([]byte(encodedPK), types.Int64)
}
