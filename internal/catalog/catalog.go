// Package catalog implements the durable table/column/partition registry:
// an in-memory map backed by write-through rows in system.tables and
// system.partitions. Adapted from the shard registry's RWMutex-guarded
// map, generalized from shard assignments to table/partition records.
// GetTable hands out the live in-memory record rather than a copy.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/torua-sql/internal/dberrors"
	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/rowlayout"
	"github.com/dreamware/torua-sql/internal/types"
)

// Column is one field of a table.
type Column struct {
	Name  string     `json:"name"`
	Type  types.Type `json:"type"`
	IsPK  bool       `json:"is_primary_key"`
}

// PartitionStrategy distinguishes None from List partitioning. An explicit
// sum type is preferred over subtyping here: Strategy selects which of the
// variant's fields are meaningful, and exhaustive switches are the
// canonical dispatch style.
type PartitionStrategy int

const (
	PartitionNone PartitionStrategy = iota
	PartitionList
)

// PartitionDef is one named partition of a List-partitioned table: the set
// of column values it accepts and the node-descriptor constraints that
// pin it to eligible peers.
type PartitionDef struct {
	Values      map[string]struct{} `json:"values"`
	Constraints map[string]string   `json:"constraints"`
}

// Partition is the tagged union described in §3: None, or List over a
// column with an ordered mapping of partition name to PartitionDef.
type Partition struct {
	Strategy     PartitionStrategy       `json:"strategy"`
	ColumnName   string                  `json:"column_name,omitempty"`
	Partitions   map[string]*PartitionDef `json:"partitions,omitempty"`
	partitionOrd []string                // insertion order, not serialized
}

// Table is the catalog's unit of record.
type Table struct {
	Name      string    `json:"name"`
	Columns   []Column  `json:"columns"`
	Partition Partition `json:"partition"`
}

// PrimaryKeyColumn returns the table's single PK column, or ok=false if
// none is declared (a well-formed user table always has exactly one; this
// is enforced at CreateTable time).
func (t *Table) PrimaryKeyColumn() (Column, bool) {
	for _, c := range t.Columns {
		if c.IsPK {
			return c, true
		}
	}
	return Column{}, false
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

const (
	systemTables     = "system.tables"
	systemPartitions = "system.partitions"
)

// Catalog is the single in-memory registry, threaded through the call
// graph via its constructor rather than accessed as a singleton (§9).
type Catalog struct {
	tables map[string]*Table
	mu     sync.RWMutex
	store  kv.Store
}

// New constructs a Catalog preloaded with the two system table schemas and
// backed by store for durability.
func New(store kv.Store) *Catalog {
	c := &Catalog{
		tables: make(map[string]*Table),
		store:  store,
	}
	c.tables[systemTables] = &Table{
		Name: systemTables,
		Columns: []Column{
			{Name: "table_name", Type: types.String, IsPK: true},
			{Name: "columns", Type: types.String},
		},
	}
	c.tables[systemPartitions] = &Table{
		Name: systemPartitions,
		Columns: []Column{
			{Name: "table_name", Type: types.String},
			{Name: "partition_name", Type: types.String, IsPK: true},
			{Name: "constraint", Type: types.String},
			{Name: "column_name", Type: types.String},
			{Name: "partition_value", Type: types.String},
		},
	}
	return c
}

// Load reads any persisted user-table rows from system.tables and
// system.partitions back into memory, restoring catalog state across a
// restart.
func (c *Catalog) Load() error {
	rows := rowlayout.ReadTable(c.store, systemTables)
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cells := range rows {
		nameBytes, ok := cells["table_name"]
		if !ok {
			continue
		}
		name := string(nameBytes)
		if _, exists := c.tables[name]; exists {
			continue
		}
		columnsJSON, ok := cells["columns"]
		if !ok {
			continue
		}
		var cols []Column
		if err := json.Unmarshal(columnsJSON, &cols); err != nil {
			return dberrors.InvalidArgumentf("catalog load: decode columns for %s: %v", name, err)
		}
		c.tables[name] = &Table{Name: name, Columns: cols}
	}

	partRows := rowlayout.ReadTable(c.store, systemPartitions)
	for _, cells := range partRows {
		tableName := string(cells["table_name"])
		partName := string(cells["partition_name"])
		colName := string(cells["column_name"])
		tbl, ok := c.tables[tableName]
		if !ok {
			continue
		}
		ensurePartitionLocked(tbl, colName)
		var values []string
		if v, ok := cells["partition_value"]; ok {
			_ = json.Unmarshal(v, &values)
		}
		var constraint map[string]string
		if v, ok := cells["constraint"]; ok {
			_ = json.Unmarshal(v, &constraint)
		}
		pd := getOrCreatePartitionLocked(tbl, partName)
		for _, v := range values {
			pd.Values[v] = struct{}{}
		}
		for k, v := range constraint {
			pd.Constraints[k] = v
		}
	}

	return nil
}

// CreateTable registers table in memory and writes it through to
// system.tables. Fails with AlreadyExists if the name is taken.
func (c *Catalog) CreateTable(table *Table) error {
	c.mu.Lock()
	if _, exists := c.tables[table.Name]; exists {
		c.mu.Unlock()
		return dberrors.AlreadyExistsf("table %q already exists", table.Name)
	}
	c.tables[table.Name] = table
	c.mu.Unlock()

	return c.persistTable(table)
}

// DropTable removes table from memory and its rows from both system
// tables. Dropping a non-existent name succeeds with no effect.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	_, exists := c.tables[name]
	if !exists {
		c.mu.Unlock()
		return nil
	}
	delete(c.tables, name)
	c.mu.Unlock()

	if err := rowlayout.DeleteRow(c.store, systemTables, types.NewString(name)); err != nil {
		return err
	}

	partRows := rowlayout.ReadTable(c.store, systemPartitions)
	for encodedPK, cells := range partRows {
		if string(cells["table_name"]) != name {
			continue
		}
		raw, err := hex.DecodeString(encodedPK)
		if err != nil {
			continue
		}
		_ = rowlayout.DeleteRow(c.store, systemPartitions, types.NewString(string(raw)))
	}
	return nil
}

// GetTable returns a copy-free reference to the in-memory record for name.
// Absence signals NotFound.
func (c *Catalog) GetTable(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tables[name]
	if !ok {
		return nil, dberrors.NotFoundf("table %q not found", name)
	}
	return t, nil
}

// ListTables returns the names of every registered table, sorted.
func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetPartition attaches a LIST partition rule to table on columnName.
// Strategies other than LIST fail with Unsupported.
func (c *Catalog) SetPartition(tableName, columnName, strategy string) error {
	if strategy != "LIST" {
		return dberrors.Unsupportedf("partition strategy %q not supported", strategy)
	}

	c.mu.Lock()
	tbl, ok := c.tables[tableName]
	if !ok {
		c.mu.Unlock()
		return dberrors.NotFoundf("table %q not found", tableName)
	}
	ensurePartitionLocked(tbl, columnName)
	c.mu.Unlock()

	return c.persistTable(tbl)
}

// ListPartitionAddValues merges values into the named partition of table,
// creating the partition if absent.
func (c *Catalog) ListPartitionAddValues(tableName, partitionName string, values []string) error {
	c.mu.Lock()
	tbl, ok := c.tables[tableName]
	if !ok {
		c.mu.Unlock()
		return dberrors.NotFoundf("table %q not found", tableName)
	}
	pd := getOrCreatePartitionLocked(tbl, partitionName)
	for _, v := range values {
		pd.Values[v] = struct{}{}
	}
	c.mu.Unlock()

	if err := c.persistTable(tbl); err != nil {
		return err
	}
	return c.persistPartition(tableName, partitionName, tbl.Partition.ColumnName, pd)
}

// ListPartitionAddConstraint inserts a (key, value) constraint into the
// named partition across all tables that declare it (partition names are
// not namespaced per table in the gossip/peer-matching model, matching
// §4.4's "across all tables" phrasing).
func (c *Catalog) ListPartitionAddConstraint(partitionName, key, value string) error {
	c.mu.Lock()
	type hit struct {
		table *Table
		pd    *PartitionDef
	}
	var hits []hit
	for _, tbl := range c.tables {
		if tbl.Partition.Partitions == nil {
			continue
		}
		if pd, ok := tbl.Partition.Partitions[partitionName]; ok {
			pd.Constraints[key] = value
			hits = append(hits, hit{table: tbl, pd: pd})
		}
	}
	c.mu.Unlock()

	if len(hits) == 0 {
		return dberrors.NotFoundf("partition %q not found", partitionName)
	}
	for _, h := range hits {
		if err := c.persistTable(h.table); err != nil {
			return err
		}
		if err := c.persistPartition(h.table.Name, partitionName, h.table.Partition.ColumnName, h.pd); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTable overwrites the in-memory record for table.Name and writes it
// through, used after catalog callers mutate a Table in place.
func (c *Catalog) UpdateTable(table *Table) error {
	c.mu.Lock()
	c.tables[table.Name] = table
	c.mu.Unlock()
	return c.persistTable(table)
}

func ensurePartitionLocked(tbl *Table, columnName string) {
	if tbl.Partition.Strategy == PartitionList {
		return
	}
	tbl.Partition = Partition{
		Strategy:   PartitionList,
		ColumnName: columnName,
		Partitions: make(map[string]*PartitionDef),
	}
}

func getOrCreatePartitionLocked(tbl *Table, name string) *PartitionDef {
	if tbl.Partition.Partitions == nil {
		tbl.Partition.Strategy = PartitionList
		tbl.Partition.Partitions = make(map[string]*PartitionDef)
	}
	pd, ok := tbl.Partition.Partitions[name]
	if !ok {
		pd = &PartitionDef{Values: make(map[string]struct{}), Constraints: make(map[string]string)}
		tbl.Partition.Partitions[name] = pd
		tbl.partitionOrd = append(tbl.partitionOrd, name)
	}
	return pd
}

// persistTable writes table's full metadata to system.tables, isolating
// the JSON encode/decode so a future binary format can replace it without
// touching catalog logic (§9).
func (c *Catalog) persistTable(table *Table) error {
	columnsJSON, err := json.Marshal(table.Columns)
	if err != nil {
		return dberrors.Internalf("marshal columns for %s: %v", table.Name, err)
	}
	return rowlayout.WriteRow(c.store, systemTables, types.NewString(table.Name),
		[]string{"table_name", "columns"},
		[]types.Datum{types.NewString(table.Name), types.NewString(string(columnsJSON))})
}

// persistPartition writes one partition's metadata to system.partitions,
// idempotent overwrite keyed by partition name.
func (c *Catalog) persistPartition(tableName, partitionName, columnName string, pd *PartitionDef) error {
	values := make([]string, 0, len(pd.Values))
	for v := range pd.Values {
		values = append(values, v)
	}
	slices.Sort(values)
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return dberrors.Internalf("marshal partition values: %v", err)
	}
	constraintJSON, err := json.Marshal(pd.Constraints)
	if err != nil {
		return dberrors.Internalf("marshal partition constraints: %v", err)
	}
	return rowlayout.WriteRow(c.store, systemPartitions, types.NewString(partitionName),
		[]string{"table_name", "partition_name", "constraint", "column_name", "partition_value"},
		[]types.Datum{
			types.NewString(tableName),
			types.NewString(partitionName),
			types.NewString(string(constraintJSON)),
			types.NewString(columnName),
			types.NewString(string(valuesJSON)),
		})
}

// DescribeColumns renders a table's column vector the way system.tables
// shows it under a `*` projection: "name:type[(PK)], …".
func DescribeColumns(cols []Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		label := c.Type.String()
		if c.Type == types.Int64 {
			label = "int"
		} else if c.Type == types.String {
			label = "str"
		}
		if c.IsPK {
			parts[i] = fmt.Sprintf("%s:%s(PK)", c.Name, label)
		} else {
			parts[i] = fmt.Sprintf("%s:%s", c.Name, label)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
