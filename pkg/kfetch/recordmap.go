package kfetch

// partitionError is the error sentinel variant of a recordMap entry: a
// fatal, per-partition protocol error installed by the Fetch Response
// Processor and surfaced to the next consumer call that touches the
// partition, then discarded.
type partitionError struct {
	err error
}

// recordMapEntry is the tagged-variant value of a recordMap: either a
// buffered result or a pending error, never both.
type recordMapEntry struct {
	buffer *PartitionBuffer
	perr   *partitionError
}

func (e recordMapEntry) isError() bool { return e.perr != nil }

// recordMap is an insertion-ordered mapping from TopicPartition to either a
// PartitionBuffer or a per-partition error sentinel. At most one entry
// exists per TopicPartition; a TopicPartition present in the map is skipped
// by the Fetch Request Planner until its entry is drained.
//
// Iteration order is insertion order (i.e. the order responses were
// processed in), which is what gives the Consumer API its cross-partition
// fairness guarantee.
type recordMap struct {
	order   []TopicPartition
	entries map[TopicPartition]recordMapEntry
}

func newRecordMap() *recordMap {
	return &recordMap{entries: make(map[TopicPartition]recordMapEntry)}
}

func (m *recordMap) has(tp TopicPartition) bool {
	_, ok := m.entries[tp]
	return ok
}

func (m *recordMap) installBuffer(tp TopicPartition, buf *PartitionBuffer) {
	if _, exists := m.entries[tp]; !exists {
		m.order = append(m.order, tp)
	}
	m.entries[tp] = recordMapEntry{buffer: buf}
}

func (m *recordMap) installError(tp TopicPartition, err error) {
	if _, exists := m.entries[tp]; !exists {
		m.order = append(m.order, tp)
	}
	m.entries[tp] = recordMapEntry{perr: &partitionError{err: err}}
}

func (m *recordMap) get(tp TopicPartition) (recordMapEntry, bool) {
	e, ok := m.entries[tp]
	return e, ok
}

// delete removes tp's entry and compacts the insertion order slice right
// away (an O(n) scan per delete; the map holds at most one entry per
// partition, so this is not a practical hot path).
func (m *recordMap) delete(tp TopicPartition) {
	if _, ok := m.entries[tp]; !ok {
		return
	}
	delete(m.entries, tp)
	for i, o := range m.order {
		if o == tp {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *recordMap) empty() bool { return len(m.entries) == 0 }

func (m *recordMap) len() int { return len(m.entries) }

// orderedKeys returns a snapshot of the current insertion order. The
// returned slice is a copy, so callers may delete entries from the map
// while iterating it; the drain helpers rely on this.
func (m *recordMap) orderedKeys() []TopicPartition {
	keys := make([]TopicPartition, len(m.order))
	copy(keys, m.order)
	return keys
}
