package replication

import (
	"context"
	"sync"
)

type optimistic[V any] struct {
	value   V
	deleted bool
	txid    int64
}

type waiter struct {
	txid int64
	done chan struct{}
}

// Reconciler merges a client's optimistic writes with the replicated stream.
// An optimistic entry is shown until the stream delivers a batch whose marker
// is at least the marker its write returned.
type Reconciler[V any] struct {
	mu         sync.Mutex
	synced     map[string]V
	optimistic map[string]optimistic[V]
	seen       int64
	waiters    []waiter
}

// NewReconciler creates an empty reconciler
func NewReconciler[V any]() *Reconciler[V] {
	return &Reconciler[V]{
		synced:     make(map[string]V),
		optimistic: make(map[string]optimistic[V]),
	}
}

// ApplyOptimistic shows value for key until the stream reaches txid
func (r *Reconciler[V]) ApplyOptimistic(key string, value V, txid int64) {
	r.setOptimistic(key, optimistic[V]{value: value, txid: txid})
}

// ApplyOptimisticDelete hides key until the stream reaches txid
func (r *Reconciler[V]) ApplyOptimisticDelete(key string, txid int64) {
	r.setOptimistic(key, optimistic[V]{deleted: true, txid: txid})
}

func (r *Reconciler[V]) setOptimistic(key string, entry optimistic[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// the stream already carries this write
	if entry.txid <= r.seen {
		return
	}
	// responses can arrive out of order; the newest write wins
	if existing, ok := r.optimistic[key]; ok && existing.txid > entry.txid {
		return
	}
	r.optimistic[key] = entry
}

// Observe applies a stream batch and releases every optimistic entry it covers
func (r *Reconciler[V]) Observe(b Batch[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.MustRefetch {
		r.synced = make(map[string]V)
	}
	for _, c := range b.Changes {
		switch c.Op {
		case OpDelete:
			delete(r.synced, c.Key)
		default:
			r.synced[c.Key] = c.Value
		}
	}

	if highest := b.MaxTxID(); highest > r.seen {
		r.seen = highest
	}
	for key, entry := range r.optimistic {
		if entry.txid <= r.seen {
			delete(r.optimistic, key)
		}
	}

	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		if w.txid <= r.seen {
			close(w.done)
			continue
		}
		remaining = append(remaining, w)
	}
	r.waiters = remaining
}

// Get returns the optimistic value when one is pending, else the synced value
func (r *Reconciler[V]) Get(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.optimistic[key]; ok {
		if entry.deleted {
			var zero V
			return zero, false
		}
		return entry.value, true
	}
	v, ok := r.synced[key]
	return v, ok
}

// Synced returns the value as delivered by the stream alone
func (r *Reconciler[V]) Synced(key string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.synced[key]
	return v, ok
}

// Snapshot is the merged view
func (r *Reconciler[V]) Snapshot() map[string]V {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]V, len(r.synced)+len(r.optimistic))
	for k, v := range r.synced {
		out[k] = v
	}
	for k, entry := range r.optimistic {
		if entry.deleted {
			delete(out, k)
			continue
		}
		out[k] = entry.value
	}
	return out
}

// Pending is the number of optimistic entries not yet confirmed
func (r *Reconciler[V]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.optimistic)
}

// Seen is the highest marker observed on the stream
func (r *Reconciler[V]) Seen() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

// WaitFor blocks until the stream has delivered txid or ctx ends.
// Cancelling only abandons the local wait.
func (r *Reconciler[V]) WaitFor(ctx context.Context, txid int64) error {
	r.mu.Lock()
	if txid <= r.seen {
		r.mu.Unlock()
		return nil
	}
	w := waiter{txid: txid, done: make(chan struct{})}
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		r.dropWaiter(w.done)
		return ctx.Err()
	}
}

func (r *Reconciler[V]) dropWaiter(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w.done == done {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}
