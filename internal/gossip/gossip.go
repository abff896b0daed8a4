// Package gossip implements the anti-entropy membership store (§4.5): a
// mutex-guarded map from string key to timestamped entry, an Update
// algorithm that merges a peer's entries by last-writer-wins, and a
// single long-lived exchange worker per node. Adapted from the health
// monitor's ticker-driven background worker, restructured around merge
// semantics instead of health polling.
package gossip

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/torua-sql/internal/cluster"
	"github.com/dreamware/torua-sql/internal/logging"
	"github.com/dreamware/torua-sql/internal/metrics"
	"github.com/rs/zerolog"
)

const nodeKeyPrefix = "node:"

// Entry is one gossip record: a value and the monotonic timestamp it was
// last written at.
type Entry struct {
	Value      []byte `json:"value"`
	LastUpdate int64  `json:"last_update"`
}

// Store is the per-node gossip map plus the single mutex covering it
// (§5: "The gossip store is protected by one mutex covering the whole
// entry map; Update acquires it once").
type Store struct {
	entries map[string]Entry
	mu      sync.Mutex
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Put inserts or overwrites a local entry directly, used once at startup
// to publish the node's own descriptor under node:{id}.
func (s *Store) Put(key string, value []byte, lastUpdate int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Value: value, LastUpdate: lastUpdate}
}

// Get returns the entry under key, if present.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Len reports how many entries the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Update merges peer entries P into the local store and returns R: the
// entries for which the local store holds a strictly newer version than
// what P offered (§4.5 step 1-3). Ties (equal timestamps) keep the local
// entry and are not reported in R, so repeated no-op exchanges converge
// rather than oscillate.
func (s *Store) Update(peer map[string]Entry) map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]Entry)

	for k, pe := range peer {
		se, exists := s.entries[k]
		switch {
		case !exists:
			s.entries[k] = pe
		case pe.LastUpdate > se.LastUpdate:
			s.entries[k] = pe
		case se.LastUpdate > pe.LastUpdate:
			result[k] = se
		}
	}

	for k, se := range s.entries {
		if _, inPeer := peer[k]; !inPeer {
			result[k] = se
		}
	}

	return result
}

// snapshot returns a defensive copy of every entry, for sending as the
// local side of an Exchange RPC.
func (s *Store) snapshot() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// GetNodes scans every node:{id} entry, deserializes it as a Descriptor,
// and filters by constraints (currently only "region" is recognised).
// Absent/empty constraints return every known node.
func (s *Store) GetNodes(constraints map[string]string) (map[string]cluster.Descriptor, error) {
	snap := s.snapshot()

	out := make(map[string]cluster.Descriptor)
	for k, e := range snap {
		if !strings.HasPrefix(k, nodeKeyPrefix) {
			continue
		}
		var d cluster.Descriptor
		if err := json.Unmarshal(e.Value, &d); err != nil {
			continue
		}
		if !d.Satisfies(constraints) {
			continue
		}
		out[strings.TrimPrefix(k, nodeKeyPrefix)] = d
	}
	return out, nil
}

// NodeKey returns the gossip key a node descriptor is published under.
func NodeKey(id string) string {
	return nodeKeyPrefix + id
}

// ExchangeFunc performs the client side of an Exchange RPC against peerAddr,
// sending local entries and returning the peer's reported newer entries.
// Overridable in tests; the production implementation lives in
// internal/rpcserver and posts to the peer's HTTP endpoint.
type ExchangeFunc func(ctx context.Context, peerAddr string, local map[string]Entry) (map[string]Entry, error)

// Worker runs the periodic exchange loop: one per node, picking a peer
// each tick and running Update both ways.
type Worker struct {
	store      *Store
	exchange   ExchangeFunc
	seedPeer   string
	selfID     string
	period     time.Duration
	stop       chan struct{}
	done       chan struct{}
	peerSource func() (map[string]cluster.Descriptor, error)
}

// NewWorker constructs an exchange worker. period defaults to 3 seconds
// when zero. peerSource supplies the known node descriptors to pick a
// random peer from when no seedPeer is configured; the entry under selfID
// is skipped.
func NewWorker(store *Store, selfID, seedPeer string, period time.Duration, exchange ExchangeFunc, peerSource func() (map[string]cluster.Descriptor, error)) *Worker {
	if period <= 0 {
		period = 3 * time.Second
	}
	return &Worker{
		store:      store,
		exchange:   exchange,
		seedPeer:   seedPeer,
		selfID:     selfID,
		period:     period,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		peerSource: peerSource,
	}
}

// Start runs the exchange loop until Stop is called or ctx is cancelled.
// Intended to be run in its own goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	logger := logging.Component("gossip")
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx, logger)
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) tick(ctx context.Context, logger zerolog.Logger) {
	peer := w.choosePeer()
	if peer == "" {
		return
	}

	local := w.store.snapshot()
	newer, err := w.exchange(ctx, peer, local)
	if err != nil {
		metrics.GossipExchangesTotal.WithLabelValues(peer, "error").Inc()
		logger.Warn().Err(err).Str("peer", peer).Msg("gossip exchange failed")
		return
	}
	metrics.GossipExchangesTotal.WithLabelValues(peer, "ok").Inc()

	w.store.Update(newer)
	metrics.GossipKnownNodes.Set(float64(w.store.Len()))
}

func (w *Worker) choosePeer() string {
	if w.seedPeer != "" {
		return w.seedPeer
	}
	nodes, err := w.peerSource()
	if err != nil || len(nodes) == 0 {
		return ""
	}
	addrs := make([]string, 0, len(nodes))
	for id, d := range nodes {
		if id == w.selfID {
			continue
		}
		addrs = append(addrs, d.GRPCAddr)
	}
	if len(addrs) == 0 {
		return ""
	}
	return addrs[rand.Intn(len(addrs))]
}

// Stop signals the worker to exit its loop and blocks until it has.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// ServeExchange is the server side of Gossip.Exchange: it runs Update with
// the requester's entries and returns the result, the mirror image of what
// the client side does with the response.
func (s *Store) ServeExchange(peer map[string]Entry) map[string]Entry {
	return s.Update(peer)
}
