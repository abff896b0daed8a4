// Package rowlayout implements the bijection between a logical row and the
// family of per-column KV entries that share the row's key prefix. A table
// T with primary key pk and non-pk columns c1..cn materializes as one KV
// entry per column, keyed "/T/<encoded-pk>/<ci>".
package rowlayout

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/dreamware/torua-sql/internal/dberrors"
	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/types"
)

// EncodePK renders a primary-key datum the way row keys embed it: hex for
// STRING (to keep ordering lexically unambiguous and to keep "/" out of
// the key), decimal ASCII for INT64.
func EncodePK(pk types.Datum) string {
	switch pk.Kind {
	case types.String:
		return hex.EncodeToString([]byte(pk.StrValue))
	case types.Int64:
		return strconv.FormatInt(pk.IntValue, 10)
	default:
		return ""
	}
}

// TablePrefix returns the prefix shared by every KV entry belonging to
// table: "/<table>/". A full-table PrefixScan uses this.
func TablePrefix(table string) string {
	return "/" + table + "/"
}

// RowPrefix returns the prefix shared by every KV entry of a single row:
// "/<table>/<encoded-pk>/". A single-row PrefixScan uses this.
func RowPrefix(table string, pk types.Datum) string {
	return TablePrefix(table) + EncodePK(pk) + "/"
}

// RowKey returns the key of one cell: "/<table>/<encoded-pk>/<column>".
func RowKey(table string, pk types.Datum, column string) string {
	return RowPrefix(table, pk) + column
}

// WriteRow issues one Put per column, in the order columns lists them.
// columns and values are parallel: values[i] is the datum for columns[i],
// and WriteRow encodes it before the Put. Multi-key writes are
// best-effort sequential: a crash partway through leaves a partial row,
// which is not recovered here (see the open questions on crash
// consistency).
func WriteRow(store kv.Store, table string, pk types.Datum, columns []string, values []types.Datum) error {
	if len(columns) != len(values) {
		return dberrors.InvalidArgumentf("write_row: %d columns but %d values", len(columns), len(values))
	}
	for i, col := range columns {
		key := RowKey(table, pk, col)
		if err := store.Put(key, types.Encode(values[i])); err != nil {
			return dberrors.Storagef(err, "write_row: put %s", key)
		}
	}
	return nil
}

// WriteCell rewrites a single column of an existing row, used by UPDATE to
// touch only the affected cells.
func WriteCell(store kv.Store, table string, pk types.Datum, column string, value types.Datum) error {
	key := RowKey(table, pk, column)
	if err := store.Put(key, types.Encode(value)); err != nil {
		return dberrors.Storagef(err, "write_cell: put %s", key)
	}
	return nil
}

// DeleteRow removes every KV entry of a row by prefix.
func DeleteRow(store kv.Store, table string, pk types.Datum) error {
	prefix := RowPrefix(table, pk)
	it := store.PrefixScan(prefix)
	defer it.Close()

	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	for _, k := range keys {
		if err := store.Delete(k); err != nil {
			return dberrors.Storagef(err, "delete_row: delete %s", k)
		}
	}
	return nil
}

// ReadTable scans table_prefix(table) and groups the entries by the second
// path segment (the encoded primary key), producing a mapping from
// encoded-pk to column-name -> raw encoded value. Row order is not
// significant; callers that need a stable iteration order should sort the
// returned keys.
func ReadTable(store kv.Store, table string) map[string]map[string][]byte {
	prefix := TablePrefix(table)
	it := store.PrefixScan(prefix)
	defer it.Close()

	rows := make(map[string]map[string][]byte)
	for it.Next() {
		rest := strings.TrimPrefix(it.Key(), prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 {
			continue
		}
		encodedPK, column := parts[0], parts[1]
		row, ok := rows[encodedPK]
		if !ok {
			row = make(map[string][]byte)
			rows[encodedPK] = row
		}
		row[column] = it.Value()
	}
	return rows
}

// SortedPKs returns the encoded primary keys of rows in lexicographic
// order, for callers (SELECT) that want deterministic row ordering.
func SortedPKs(rows map[string]map[string][]byte) []string {
	pks := make([]string, 0, len(rows))
	for pk := range rows {
		pks = append(pks, pk)
	}
	sort.Strings(pks)
	return pks
}
