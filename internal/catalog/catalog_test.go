package catalog

import (
	"testing"

	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/rowlayout"
	"github.com/dreamware/torua-sql/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) (*Catalog, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	return New(store), store
}

func TestNewCatalogPreloadsSystemTables(t *testing.T) {
	cat, _ := newTestCatalog(t)

	tbl, err := cat.GetTable("system.tables")
	require.NoError(t, err)
	assert.Len(t, tbl.Columns, 2)

	_, err = cat.GetTable("system.partitions")
	require.NoError(t, err)
}

func TestCreateTableAlreadyExists(t *testing.T) {
	cat, _ := newTestCatalog(t)

	users := &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: types.Int64, IsPK: true},
			{Name: "name", Type: types.String},
		},
	}
	require.NoError(t, cat.CreateTable(users))

	err := cat.CreateTable(users)
	require.Error(t, err)
}

func TestCreateTablePersistsToSystemTables(t *testing.T) {
	cat, store := newTestCatalog(t)

	users := &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: types.Int64, IsPK: true},
			{Name: "name", Type: types.String},
		},
	}
	require.NoError(t, cat.CreateTable(users))

	key := rowlayout.RowKey("system.tables", types.NewString("users"), "table_name")
	value, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "users", string(value))
}

func TestGetTableNotFound(t *testing.T) {
	cat, _ := newTestCatalog(t)

	_, err := cat.GetTable("nonexistent")
	require.Error(t, err)
}

func TestDropTableOfNonexistentSucceeds(t *testing.T) {
	cat, _ := newTestCatalog(t)

	err := cat.DropTable("nonexistent")
	require.NoError(t, err)
}

func TestSetPartitionListThenAddValuesAndConstraint(t *testing.T) {
	cat, _ := newTestCatalog(t)

	users := &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: types.Int64, IsPK: true},
			{Name: "name", Type: types.String},
			{Name: "country", Type: types.String},
		},
	}
	require.NoError(t, cat.CreateTable(users))
	require.NoError(t, cat.SetPartition("users", "country", "LIST"))

	require.NoError(t, cat.ListPartitionAddValues("users", "users_eu", []string{"Germany", "France", "Italy"}))
	require.NoError(t, cat.ListPartitionAddConstraint("users_eu", "region", "eu"))

	tbl, err := cat.GetTable("users")
	require.NoError(t, err)
	require.Equal(t, PartitionList, tbl.Partition.Strategy)
	require.Equal(t, "country", tbl.Partition.ColumnName)

	pd, ok := tbl.Partition.Partitions["users_eu"]
	require.True(t, ok)
	assert.Contains(t, pd.Values, "Germany")
	assert.Equal(t, "eu", pd.Constraints["region"])
}

func TestSetPartitionUnsupportedStrategy(t *testing.T) {
	cat, _ := newTestCatalog(t)
	users := &Table{Name: "users", Columns: []Column{{Name: "id", Type: types.Int64, IsPK: true}}}
	require.NoError(t, cat.CreateTable(users))

	err := cat.SetPartition("users", "id", "RANGE")
	require.Error(t, err)
}

func TestDescribeColumns(t *testing.T) {
	cols := []Column{
		{Name: "id", Type: types.Int64, IsPK: true},
		{Name: "name", Type: types.String},
	}
	desc := DescribeColumns(cols)
	assert.Equal(t, "id:int(PK), name:str", desc)
}

