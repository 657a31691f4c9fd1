package kfetch

import (
	"context"
	"sync"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// fakeSubscriptionState is a minimal, concurrency-safe SubscriptionState
// good enough to drive the engine in tests without a real group
// coordinator.
type fakeSubscriptionState struct {
	mu                sync.Mutex
	needsAssignment   bool
	assigned          map[TopicPartition]*PartitionState
	paused            map[TopicPartition]bool
	resetNeeded       map[TopicPartition]bool
	defaultResetStrat bool
}

func newFakeSubscriptionState() *fakeSubscriptionState {
	return &fakeSubscriptionState{
		assigned:    make(map[TopicPartition]*PartitionState),
		paused:      make(map[TopicPartition]bool),
		resetNeeded: make(map[TopicPartition]bool),
	}
}

func (s *fakeSubscriptionState) assign(tp TopicPartition, state PartitionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := state
	s.assigned[tp] = &cp
}

func (s *fakeSubscriptionState) NeedsPartitionAssignment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsAssignment
}

func (s *fakeSubscriptionState) FetchablePartitions() []TopicPartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TopicPartition
	for tp := range s.assigned {
		if !s.paused[tp] {
			out = append(out, tp)
		}
	}
	return out
}

func (s *fakeSubscriptionState) IsFetchable(tp TopicPartition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assigned[tp]
	return ok && !s.paused[tp]
}

func (s *fakeSubscriptionState) IsAssigned(tp TopicPartition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assigned[tp]
	return ok
}

func (s *fakeSubscriptionState) Assignment(tp TopicPartition) (PartitionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.assigned[tp]
	if !ok {
		return PartitionState{}, false
	}
	return *st, true
}

func (s *fakeSubscriptionState) SetPosition(tp TopicPartition, position int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.assigned[tp]; ok {
		st.Position = position
	}
}

func (s *fakeSubscriptionState) SetHighWatermark(tp TopicPartition, hw int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.assigned[tp]; ok {
		st.HighWatermark = hw
	}
}

func (s *fakeSubscriptionState) IsOffsetResetNeeded(tp TopicPartition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetNeeded[tp]
}

func (s *fakeSubscriptionState) NeedOffsetReset(tp TopicPartition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetNeeded[tp] = true
}

func (s *fakeSubscriptionState) HasDefaultOffsetResetPolicy(tp TopicPartition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultResetStrat
}

func (s *fakeSubscriptionState) Seek(tp TopicPartition, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.assigned[tp]; ok {
		st.Position = offset
		s.resetNeeded[tp] = false
	}
}

// fakeBrokerClient is a scriptable BrokerClient: leaders and responses are
// wired up per test.
type fakeBrokerClient struct {
	mu       sync.Mutex
	leaders  map[TopicPartition]int32
	ready    map[int32]bool
	sendFunc func(ctx context.Context, node int32, req kmsg.Request) (kmsg.Response, error)

	metadataRefreshes int
}

func newFakeBrokerClient() *fakeBrokerClient {
	return &fakeBrokerClient{
		leaders: make(map[TopicPartition]int32),
		ready:   make(map[int32]bool),
	}
}

func (b *fakeBrokerClient) LeaderForPartition(tp TopicPartition) (int32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	node, ok := b.leaders[tp]
	return node, ok
}

func (b *fakeBrokerClient) Ready(ctx context.Context, node int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.ready[node]; ok {
		return r
	}
	return true
}

func (b *fakeBrokerClient) Send(ctx context.Context, node int32, req kmsg.Request) (kmsg.Response, error) {
	b.mu.Lock()
	fn := b.sendFunc
	b.mu.Unlock()
	if fn == nil {
		return nil, errNoSendFunc
	}
	return fn(ctx, node, req)
}

func (b *fakeBrokerClient) ForceMetadataUpdate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metadataRefreshes++
}

var errNoSendFunc = errStr("fakeBrokerClient: no sendFunc configured")

type errStr string

func (e errStr) Error() string { return string(e) }
