package kafka

import "sync"

// offsetTracker orders acknowledgements per partition. Workers finish out of
// order, but a commit at offset N tells the group everything below N is done,
// so only the highest contiguous completed offset may be committed.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64 // fetch order
	done    map[int64]struct{}
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

// Track records a fetched offset as in flight.
func (t *offsetTracker) Track(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]struct{})}
		t.partitions[partition] = p
	}
	p.pending = append(p.pending, offset)
}

// Complete marks offset done and returns the offset that can now be
// committed, if any.
func (t *offsetTracker) Complete(partition int, offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partition]
	if !ok {
		return 0, false
	}
	p.done[offset] = struct{}{}

	var (
		commit int64
		found  bool
	)
	for len(p.pending) > 0 {
		head := p.pending[0]
		if _, ok := p.done[head]; !ok {
			break
		}
		delete(p.done, head)
		p.pending = p.pending[1:]
		commit, found = head, true
	}
	return commit, found
}

// InFlight returns the number of uncommitted offsets on partition.
func (t *offsetTracker) InFlight(partition int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.partitions[partition]; ok {
		return len(p.pending)
	}
	return 0
}
