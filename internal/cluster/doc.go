// Package cluster provides the node descriptor type and the inter-node
// transport used by gossip exchange and statement dispatch in torua-sql.
//
// # Overview
//
// There is no coordinator in this system: every node is a full peer,
// discovered and tracked through gossip rather than central registration.
// This package supplies the two things peers need to talk to each other:
// the Descriptor type published into the gossip store, and the JSON-over-
// HTTP request helper (PostJSON) that every RPC in internal/gossip,
// internal/dispatcher, and internal/rpcserver is built on.
//
// # Communication protocol
//
// All inter-node calls are HTTP POST with a JSON body and a JSON response,
// carrying a context.Context for cancellation and deadlines:
//
//   - Gossip.Exchange: peer-to-peer anti-entropy (internal/gossip)
//   - Insert.Write / Update.Apply: dispatcher forwarding (internal/dispatcher)
//
// # Concurrency model
//
// PostJSON uses one *http.Client with connection pooling and is safe for
// concurrent use from any number of goroutines.
package cluster
