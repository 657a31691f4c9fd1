package kfetch

import "testing"

func TestPlanFetchesSkipsAssignmentPending(t *testing.T) {
	subs := newFakeSubscriptionState()
	subs.needsAssignment = true
	cl := newFakeBrokerClient()

	planned := planFetches(subs, newRecordMap(), map[int32]struct{}{}, cl, defaultCfg(), nopLogger{}, map[TopicPartition]int32{})
	if len(planned) != 0 {
		t.Fatalf("planFetches() = %+v, want empty while assignment is pending", planned)
	}
}

func TestPlanFetchesGroupsByNode(t *testing.T) {
	subs := newFakeSubscriptionState()
	tpA := TopicPartition{Topic: "orders", Partition: 0}
	tpB := TopicPartition{Topic: "orders", Partition: 1}
	subs.assign(tpA, PartitionState{Position: 5})
	subs.assign(tpB, PartitionState{Position: 9})

	cl := newFakeBrokerClient()
	cl.leaders[tpA] = 1
	cl.leaders[tpB] = 1

	planned := planFetches(subs, newRecordMap(), map[int32]struct{}{}, cl, defaultCfg(), nopLogger{}, map[TopicPartition]int32{})
	if len(planned) != 1 {
		t.Fatalf("len(planned) = %d, want 1 (both partitions share a leader)", len(planned))
	}
	if planned[0].node != 1 {
		t.Fatalf("node = %d, want 1", planned[0].node)
	}
	if len(planned[0].req.Topics) != 1 || len(planned[0].req.Topics[0].Partitions) != 2 {
		t.Fatalf("req = %+v, want one topic with two partitions", planned[0].req)
	}
}

func TestPlanFetchesSkipsRecordMapAndInFlight(t *testing.T) {
	subs := newFakeSubscriptionState()
	tpA := TopicPartition{Topic: "orders", Partition: 0}
	tpB := TopicPartition{Topic: "orders", Partition: 1}
	subs.assign(tpA, PartitionState{Position: 0})
	subs.assign(tpB, PartitionState{Position: 0})

	cl := newFakeBrokerClient()
	cl.leaders[tpA] = 1
	cl.leaders[tpB] = 2

	recMap := newRecordMap()
	recMap.installBuffer(tpA, &PartitionBuffer{})
	inFlight := map[int32]struct{}{2: {}}

	planned := planFetches(subs, recMap, inFlight, cl, defaultCfg(), nopLogger{}, map[TopicPartition]int32{})
	if len(planned) != 0 {
		t.Fatalf("planned = %+v, want empty: tpA is buffered and node 2 is in flight", planned)
	}
}

func TestPlanFetchesSkipsUnknownLeader(t *testing.T) {
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 0})
	cl := newFakeBrokerClient() // no leader registered

	planned := planFetches(subs, newRecordMap(), map[int32]struct{}{}, cl, defaultCfg(), nopLogger{}, map[TopicPartition]int32{})
	if len(planned) != 0 {
		t.Fatalf("planned = %+v, want empty with no known leader", planned)
	}
}
