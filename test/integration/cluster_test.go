// Package integration exercises several full peers wired together the way
// cmd/torua-sql assembles one, restructured from the coordinator+node
// process-spawning harness into an in-process cluster of httptest servers:
// there is no separate coordinator here, so each peer is its own catalog,
// store, gossip store, and dispatcher behind an httptest.Server standing in
// for its peer-RPC listener.
package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"net/http/httptest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-sql/internal/ast"
	"github.com/dreamware/torua-sql/internal/catalog"
	"github.com/dreamware/torua-sql/internal/cluster"
	"github.com/dreamware/torua-sql/internal/dispatcher"
	"github.com/dreamware/torua-sql/internal/gossip"
	"github.com/dreamware/torua-sql/internal/kv"
	"github.com/dreamware/torua-sql/internal/rowlayout"
	"github.com/dreamware/torua-sql/internal/rpcserver"
	"github.com/dreamware/torua-sql/internal/sqlparser"
	"github.com/dreamware/torua-sql/internal/types"
	"github.com/dreamware/torua-sql/internal/wire"
)

// peer is one in-process node: its own store/catalog/gossip/dispatcher
// behind an httptest.Server reachable by the other peers in the cluster.
type peer struct {
	id     string
	region string
	store  kv.Store
	cat    *catalog.Catalog
	gossip *gossip.Store
	disp   *dispatcher.Dispatcher
	parser *sqlparser.Parser
	server *httptest.Server
	addr   string
}

func newPeer(t *testing.T, id, region string) *peer {
	t.Helper()
	store := kv.NewMemoryStore()
	cat := catalog.New(store)
	gs := gossip.NewStore()
	disp := &dispatcher.Dispatcher{
		Catalog:     cat,
		Store:       store,
		Gossip:      gs,
		SelfID:      id,
		WriteRow:    rpcserver.WriteRow,
		ApplyUpdate: rpcserver.ApplyUpdate,
	}
	parser := &sqlparser.Parser{ColumnsForTable: func(table string) ([]string, error) {
		tbl, err := cat.GetTable(table)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(tbl.Columns))
		for i, c := range tbl.Columns {
			names[i] = c.Name
		}
		return names, nil
	}}
	rpc := &rpcserver.Server{Gossip: gs, Catalog: cat, Dispatcher: disp}
	ts := httptest.NewServer(rpc.Mux())
	t.Cleanup(ts.Close)

	p := &peer{id: id, region: region, store: store, cat: cat, gossip: gs, disp: disp, parser: parser, server: ts, addr: ts.Listener.Addr().String()}
	return p
}

// descriptor builds this peer's published node descriptor.
func (p *peer) descriptor() cluster.Descriptor {
	return cluster.Descriptor{ID: p.id, SQLAddr: "", GRPCAddr: p.addr, Region: p.region}
}

// join publishes every peer's descriptor into every other peer's gossip
// store directly, standing in for what N ticks of the gossip worker would
// eventually converge to (scenario 5 below exercises the worker itself).
func join(t *testing.T, peers ...*peer) {
	t.Helper()
	now := time.Now().UnixNano()
	for _, p := range peers {
		d, err := json.Marshal(p.descriptor())
		require.NoError(t, err)
		for _, other := range peers {
			other.gossip.Put(gossip.NodeKey(p.id), d, now)
		}
	}
}

// exec runs sql on p's own dispatcher via its parser, the same path the
// wire session takes.
func (p *peer) exec(t *testing.T, sql string) *dispatcher.Result {
	t.Helper()
	stmt, err := p.parser.Parse(sql)
	require.NoError(t, err)
	result, err := p.disp.HandleStatement(context.Background(), stmt)
	require.NoError(t, err)
	return result
}

func TestScenarioCreateAndQuerySystemTable(t *testing.T) {
	p := newPeer(t, "n1", "")
	p.exec(t, "CREATE TABLE users (id int PRIMARY KEY, name string)")

	result := p.exec(t, "SELECT * FROM system.tables")
	var found bool
	for _, row := range result.Rows {
		if row[0].StrValue == "users" {
			found = true
			assert.Equal(t, "id:int(PK), name:str", row[1].StrValue)
		}
	}
	assert.True(t, found, "expected a row for table users in system.tables")
}

func TestScenarioListPartitioningAcrossRegions(t *testing.T) {
	p := newPeer(t, "n1", "")
	p.exec(t, "CREATE TABLE users (id int PRIMARY KEY, name string, region string) PARTITION BY LIST (region)")
	p.exec(t, "CREATE TABLE users_eu PARTITION OF users FOR VALUES IN ('Germany', 'France', 'Italy')")
	p.exec(t, "ALTER TABLE users_eu ADD CONSTRAINT region_eu CHECK (region = 'eu')")
	p.exec(t, "CREATE TABLE users_us PARTITION OF users FOR VALUES IN ('USA', 'Canada')")
	p.exec(t, "ALTER TABLE users_us ADD CONSTRAINT region_us CHECK (region = 'us')")
	p.exec(t, "CREATE TABLE users_asia PARTITION OF users FOR VALUES IN ('Japan', 'India')")
	p.exec(t, "ALTER TABLE users_asia ADD CONSTRAINT region_asia CHECK (region = 'asia')")

	result := p.exec(t, "SELECT * FROM system.partitions WHERE table_name='users'")
	names := map[string]bool{}
	for _, row := range result.Rows {
		if row[0].StrValue == "users" {
			names[row[1].StrValue] = true
		}
	}
	assert.Len(t, names, 3)
	assert.True(t, names["users_eu"] && names["users_us"] && names["users_asia"])
}

func TestScenarioInsertDispatchesByRegion(t *testing.T) {
	us := newPeer(t, "us", "us")
	eu := newPeer(t, "eu", "eu")
	asia := newPeer(t, "asia", "asia")
	join(t, us, eu, asia)

	for _, p := range []*peer{us, eu, asia} {
		p.exec(t, "CREATE TABLE users (id int PRIMARY KEY, name string, balance int, region string) PARTITION BY LIST (region)")
		p.exec(t, "CREATE TABLE users_eu PARTITION OF users FOR VALUES IN ('Germany', 'France', 'Italy')")
		p.exec(t, "ALTER TABLE users_eu ADD CONSTRAINT region_eu CHECK (region = 'eu')")
		p.exec(t, "CREATE TABLE users_us PARTITION OF users FOR VALUES IN ('USA')")
		p.exec(t, "ALTER TABLE users_us ADD CONSTRAINT region_us CHECK (region = 'us')")
		p.exec(t, "CREATE TABLE users_asia PARTITION OF users FOR VALUES IN ('Japan')")
		p.exec(t, "ALTER TABLE users_asia ADD CONSTRAINT region_asia CHECK (region = 'asia')")
	}

	us.exec(t, "INSERT INTO users VALUES (1, 'Alice', 1000, 'Germany')")

	euRows := rowlayout.ReadTable(eu.store, "users")
	require.Len(t, euRows, 1)
	usRows := rowlayout.ReadTable(us.store, "users")
	assert.Len(t, usRows, 0)
	asiaRows := rowlayout.ReadTable(asia.store, "users")
	assert.Len(t, asiaRows, 0)
}

func TestScenarioUpdatePreservesSum(t *testing.T) {
	p := newPeer(t, "n1", "")
	join(t, p) // a dispatched INSERT needs at least one known peer: here, itself
	p.exec(t, "CREATE TABLE accounts (id int PRIMARY KEY, balance int)")
	p.exec(t, "INSERT INTO accounts (id, balance) VALUES (1, 100)")
	p.exec(t, "INSERT INTO accounts (id, balance) VALUES (2, 100)")

	p.exec(t, "UPDATE accounts SET balance = balance - 10 WHERE id = 1")
	p.exec(t, "UPDATE accounts SET balance = balance + 10 WHERE id = 2")

	rows := rowlayout.ReadTable(p.store, "accounts")
	var sum int64
	for _, cells := range rows {
		v, err := types.Decode(cells["balance"], types.Int64)
		require.NoError(t, err)
		sum += v.IntValue
	}
	assert.Equal(t, int64(200), sum)
}

// TestScenarioUpdateDoesNotDoubleApplyOnOrigin drives an UPDATE through a
// peer that has published its own descriptor into its gossip store, the
// way cmd/torua-sql does at startup — so the dispatcher's forward loop
// would hand the statement back to its own origin RPC surface unless it
// excludes self.
func TestScenarioUpdateDoesNotDoubleApplyOnOrigin(t *testing.T) {
	a := newPeer(t, "a", "")
	b := newPeer(t, "b", "")
	join(t, a, b)
	ad, err := json.Marshal(a.descriptor())
	require.NoError(t, err)
	a.gossip.Put(gossip.NodeKey(a.id), ad, time.Now().UnixNano())

	for _, p := range []*peer{a, b} {
		p.exec(t, "CREATE TABLE accounts (id int PRIMARY KEY, balance int)")
		p.exec(t, "INSERT INTO accounts (id, balance) VALUES (1, 100)")
		p.exec(t, "INSERT INTO accounts (id, balance) VALUES (2, 100)")
	}

	a.exec(t, "UPDATE accounts SET balance = balance - 10 WHERE id = 1")
	a.exec(t, "UPDATE accounts SET balance = balance + 10 WHERE id = 2")

	for _, p := range []*peer{a, b} {
		rows := rowlayout.ReadTable(p.store, "accounts")
		var sum int64
		for _, cells := range rows {
			v, err := types.Decode(cells["balance"], types.Int64)
			require.NoError(t, err)
			sum += v.IntValue
		}
		assert.Equal(t, int64(200), sum, "peer %s", p.id)
	}
}

func TestScenarioGossipConvergesNodeMembership(t *testing.T) {
	a := newPeer(t, "a", "")
	b := newPeer(t, "b", "")

	worker := gossip.NewWorker(b.gossip, b.id, a.addr, 10*time.Millisecond, rpcserver.Exchange, func() (map[string]cluster.Descriptor, error) {
		return b.gossip.GetNodes(nil)
	})
	ad, err := json.Marshal(a.descriptor())
	require.NoError(t, err)
	a.gossip.Put(gossip.NodeKey(a.id), ad, time.Now().UnixNano())
	bd, err := json.Marshal(b.descriptor())
	require.NoError(t, err)
	b.gossip.Put(gossip.NodeKey(b.id), bd, time.Now().UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		nodes, err := a.gossip.GetNodes(nil)
		return err == nil && len(nodes) == 2
	}, time.Second, 5*time.Millisecond)

	nodes, err := b.gossip.GetNodes(nil)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestScenarioWireHandshake(t *testing.T) {
	p := newPeer(t, "n1", "")
	clientConn, serverConn := netPipe()
	done := make(chan error, 1)
	go func() {
		session := wire.NewSession(serverConn, p.parser.Parse, p.disp)
		done <- session.Serve(context.Background())
	}()

	writeInt32(t, clientConn, 8)
	writeInt32(t, clientConn, 80877103)
	b := make([]byte, 1)
	_, err := clientConn.Read(b)
	require.NoError(t, err)
	assert.Equal(t, byte('N'), b[0])

	body := append(int32Bytes(196608), []byte("user\x00test\x00\x00")...)
	writeInt32(t, clientConn, int32(len(body)+4))
	_, err = clientConn.Write(body)
	require.NoError(t, err)

	for _, want := range []byte{'R', 'S', 'S', 'S', 'S', 'S', 'K', 'Z'} {
		tag := readTag(t, clientConn)
		assert.Equal(t, want, tag)
	}

	_ = clientConn.Close()
	<-done
}

func TestScenarioUpdateForwardingDoesNotReforward(t *testing.T) {
	a := newPeer(t, "a", "")
	b := newPeer(t, "b", "")
	join(t, a, b)

	for _, p := range []*peer{a, b} {
		p.exec(t, "CREATE TABLE counters (id int PRIMARY KEY, count int)")
		require.NoError(t, rowlayout.WriteRow(p.store, "counters", types.NewInt64(1), []string{"id", "count"},
			[]types.Datum{types.NewInt64(1), types.NewInt64(10)}))
	}

	stmt := ast.UpdateStmt{
		TableName: "counters",
		Set:       []ast.SetClause{{Column: "count", Op: ast.ArithAdd, Operand: 5}},
		Where:     ast.WherePredicate{Column: "id", Value: ast.Literal{Int: 1, IsInt: true}},
		Dispatch:  true,
	}
	raw, err := json.Marshal(stmt)
	require.NoError(t, err)
	require.NoError(t, rpcserver.ApplyUpdate(context.Background(), b.addr, raw))

	bRows := rowlayout.ReadTable(b.store, "counters")
	v, err := types.Decode(bRows[rowlayout.EncodePK(types.NewInt64(1))]["count"], types.Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(15), v.IntValue)

	// Had b re-forwarded the statement, a's row would have been updated too.
	aRows := rowlayout.ReadTable(a.store, "counters")
	av, err := types.Decode(aRows[rowlayout.EncodePK(types.NewInt64(1))]["count"], types.Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(10), av.IntValue)
}
