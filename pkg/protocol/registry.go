package protocol

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/odvcencio/playwire/pkg/observability"
)

const registryShards = 32

// maxTombstones bounds the removed GUIDs remembered per shard. The driver
// never reuses a GUID, so only recently disposed ones can race with a late
// creation; the oldest tombstone is forgotten first.
const maxTombstones = 1024

// Registry maps GUIDs to live objects and lets callers block until a GUID is
// published. State is sharded by GUID so a wait on one object never contends
// with unrelated inserts or lookups, and no lock is held while waiting.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.Mutex
	objects map[string]Object
	removed map[string]struct{}
	order   []string
	waiters map[string]*waiter
}

// waiter is a broadcast wake for every caller waiting on one GUID. The channel
// is closed exactly once, by the insert that satisfies it.
type waiter struct {
	ch   chan struct{}
	refs int
}

// NewRegistry creates an empty registry. Each connection owns its own.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = registryShard{
			objects: make(map[string]Object),
			removed: make(map[string]struct{}),
			waiters: make(map[string]*waiter),
		}
	}
	return r
}

func (r *Registry) shard(guid string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(guid))
	return &r.shards[h.Sum32()%registryShards]
}

// Insert publishes obj under guid and wakes the waiters for that GUID only.
// A published entry is never replaced, and a removed GUID is never
// resurrected.
func (r *Registry) Insert(guid string, obj Object) error {
	s := r.shard(guid)
	s.mu.Lock()
	if _, gone := s.removed[guid]; gone {
		s.mu.Unlock()
		return newProtocolError("insert", guid, "late insert after removal", ErrRemovedGUID)
	}
	if _, exists := s.objects[guid]; exists {
		s.mu.Unlock()
		return newProtocolError("insert", guid, "object already registered", ErrDuplicateGUID)
	}
	s.objects[guid] = obj
	w := s.waiters[guid]
	delete(s.waiters, guid)
	s.mu.Unlock()

	observability.LiveObjects.Inc()
	if w != nil {
		close(w.ch)
	}
	return nil
}

// Remove drops guid and tombstones it. It reports whether an entry existed.
func (r *Registry) Remove(guid string) bool {
	s := r.shard(guid)
	s.mu.Lock()
	_, ok := s.objects[guid]
	delete(s.objects, guid)
	s.tombstone(guid)
	s.mu.Unlock()
	if ok {
		observability.LiveObjects.Dec()
	}
	return ok
}

func (s *registryShard) tombstone(guid string) {
	if _, ok := s.removed[guid]; ok {
		return
	}
	s.removed[guid] = struct{}{}
	s.order = append(s.order, guid)
	if len(s.order) > maxTombstones {
		delete(s.removed, s.order[0])
		s.order = s.order[1:]
	}
}

// TryGet is the non-blocking lookup.
func (r *Registry) TryGet(guid string) (Object, bool) {
	s := r.shard(guid)
	s.mu.Lock()
	obj, ok := s.objects[guid]
	s.mu.Unlock()
	return obj, ok
}

// Len returns the number of published objects.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.objects)
		s.mu.Unlock()
	}
	return n
}

// WaitFor blocks until guid is published, the timeout elapses or ctx is done.
// Interest is registered before every presence check so a publish racing with
// the check always wakes this caller.
func (r *Registry) WaitFor(ctx context.Context, guid string, timeout time.Duration) (Object, error) {
	deadline := time.Now().Add(timeout)
	s := r.shard(guid)

	for {
		w := s.register(guid)
		if obj, ok := r.TryGet(guid); ok {
			s.release(guid, w)
			return obj, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.release(guid, w)
			return nil, &TimeoutError{GUID: guid}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-w.ch:
			timer.Stop()
			s.release(guid, w)
		case <-timer.C:
			s.release(guid, w)
			// one last look: the publish may have landed with the timer
			if obj, ok := r.TryGet(guid); ok {
				return obj, nil
			}
			return nil, &TimeoutError{GUID: guid}
		case <-ctx.Done():
			timer.Stop()
			s.release(guid, w)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &TimeoutError{GUID: guid, Err: ctx.Err()}
			}
			return nil, fmt.Errorf("wait for %s: %w", guid, ctx.Err())
		}
	}
}

// waiterCount reports how many callers wait on guid.
func (r *Registry) waiterCount(guid string) int {
	s := r.shard(guid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.waiters[guid]; w != nil {
		return w.refs
	}
	return 0
}

func (s *registryShard) register(guid string) *waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.waiters[guid]
	if w == nil {
		w = &waiter{ch: make(chan struct{})}
		s.waiters[guid] = w
	}
	w.refs++
	return w
}

// release drops one reference and removes the entry when nobody is left.
// An entry already detached by Insert is left alone.
func (s *registryShard) release(guid string, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.refs--
	if w.refs <= 0 && s.waiters[guid] == w {
		delete(s.waiters, guid)
	}
}
