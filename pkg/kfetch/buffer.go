package kfetch

// PartitionBuffer holds a run of ConsumerRecords fetched for one
// TopicPartition, pending delivery through the Consumer API. It keeps a
// non-owning reference to SubscriptionState because draining a record
// advances that partition's position as an atomic part of the drain.
type PartitionBuffer struct {
	tp      TopicPartition
	subs    SubscriptionState
	records []ConsumerRecord
}

func newPartitionBuffer(tp TopicPartition, subs SubscriptionState, records []ConsumerRecord) *PartitionBuffer {
	return &PartitionBuffer{tp: tp, subs: subs, records: records}
}

func (b *PartitionBuffer) empty() bool { return len(b.records) == 0 }

// getOne returns the next deliverable record, or ok=false if none remains
// right now. It never blocks.
func (b *PartitionBuffer) getOne() (rec ConsumerRecord, ok bool) {
	if !b.subs.IsFetchable(b.tp) {
		b.records = nil
		return ConsumerRecord{}, false
	}

	position, assigned := b.currentPosition()
	for len(b.records) > 0 {
		head := b.records[0]
		if assigned && head.Offset < position {
			b.records = b.records[1:]
			continue
		}
		b.records = b.records[1:]
		b.subs.SetPosition(b.tp, head.Offset+1)
		return head, true
	}
	return ConsumerRecord{}, false
}

// getAll drains every currently deliverable record via repeated getOne.
func (b *PartitionBuffer) getAll() []ConsumerRecord {
	var out []ConsumerRecord
	for {
		rec, ok := b.getOne()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out
}

func (b *PartitionBuffer) currentPosition() (int64, bool) {
	state, ok := b.subs.Assignment(b.tp)
	if !ok {
		return 0, false
	}
	return state.Position, true
}
