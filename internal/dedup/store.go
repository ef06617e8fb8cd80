// Package dedup replays previously issued decisions for retried turns.
//
// SMS gateways redeliver a webhook whenever the acknowledgement is slow,
// so the same turn can reach the service more than once. Every turn
// carries the provider's message sid; the first decision recorded under
// a sid is the one every retry of that turn gets back, byte for byte,
// without rerunning extraction or touching the calendar again.
package dedup

import "context"

// ReplayHeader is set on HTTP responses served from the replay cache so
// operators can tell a redelivered turn from a fresh one in access logs.
const ReplayHeader = "X-Dedup-Replay"

// Store is the replay cache keyed by the turn's message sid.
//
// Concurrent duplicates of one turn may both miss Lookup and process
// independently; Record arbitrates afterwards. The first write for a sid
// wins and later writes are dropped, so all retries converge on a single
// stored decision.
type Store interface {
	// Lookup returns the decision recorded for sid, if any.
	Lookup(ctx context.Context, sid string) ([]byte, bool, error)

	// Record stores the decision issued for sid. Recording a sid that
	// already has a decision is not an error; the stored bytes are kept.
	Record(ctx context.Context, sid string, decision []byte) error

	// Close releases anything the store holds. Lookup and Record must
	// not be called after Close.
	Close() error
}
