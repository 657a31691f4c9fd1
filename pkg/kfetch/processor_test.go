package kfetch

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func newFetchResponse(tp TopicPartition, errCode int16, highWatermark int64, recordBatches []byte) *kmsg.FetchResponse {
	resp := kmsg.NewFetchResponse()
	part := kmsg.NewFetchResponseTopicPartition()
	part.Partition = tp.Partition
	part.ErrorCode = errCode
	part.HighWatermark = highWatermark
	part.RecordBatches = recordBatches

	topic := kmsg.NewFetchResponseTopic()
	topic.Topic = tp.Topic
	topic.Partitions = []kmsg.FetchResponseTopicPartition{part}
	resp.Topics = []kmsg.FetchResponseTopic{topic}
	return &resp
}

func TestProcessFetchResponseHappyPath(t *testing.T) {
	// Scenario 1 from the design: position 5, messages at 5,6,7, highwater 10.
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 5})

	var raw []byte
	for _, off := range []int64{5, 6, 7} {
		raw = append(raw, wrapAsMessageSetEntry(off, emptyV0Message)...)
	}

	resp := newFetchResponse(tp, 0, 10, raw)
	planned := plannedFetch{node: 1, fetchOffset: map[TopicPartition]int64{tp: 5}}
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(planned, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if !hasNewData {
		t.Fatalf("hasNewData = false, want true")
	}
	st, _ := subs.Assignment(tp)
	if st.HighWatermark != 10 {
		t.Fatalf("highwater = %d, want 10", st.HighWatermark)
	}
	entry, ok := recMap.get(tp)
	if !ok || entry.isError() {
		t.Fatalf("expected a buffer entry for %v", tp)
	}
	got := entry.buffer.getAll()
	if len(got) != 3 || got[0].Offset != 5 || got[2].Offset != 7 {
		t.Fatalf("drained records mismatch, want offsets 5,6,7:\n%s", spew.Sdump(got))
	}
}

func TestProcessFetchResponseNotLeaderTriggersMetadataRefresh(t *testing.T) {
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 0})

	resp := newFetchResponse(tp, int16(kerr.NotLeaderForPartition.Code), 0, nil)
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(plannedFetch{fetchOffset: map[TopicPartition]int64{}}, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if hasNewData {
		t.Fatalf("hasNewData = true, want false for a retriable leader error")
	}
	if recMap.has(tp) {
		t.Fatalf("no record map entry should be installed for NotLeaderForPartition")
	}
	if cl.metadataRefreshes != 1 {
		t.Fatalf("metadataRefreshes = %d, want 1", cl.metadataRefreshes)
	}
}

func TestProcessFetchResponseOffsetOutOfRangeWithDefaultPolicy(t *testing.T) {
	// Scenario 4: default reset policy present, OffsetOutOfRange is swallowed
	// into need_offset_reset rather than surfaced.
	subs := newFakeSubscriptionState()
	subs.defaultResetStrat = true
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 0})

	resp := newFetchResponse(tp, int16(kerr.OffsetOutOfRange.Code), 0, nil)
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(plannedFetch{fetchOffset: map[TopicPartition]int64{}}, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if hasNewData {
		t.Fatalf("hasNewData = true, want false: no sentinel surfaced when a default reset policy exists")
	}
	if recMap.has(tp) {
		t.Fatalf("no sentinel should be installed when a default reset policy exists")
	}
	if !subs.IsOffsetResetNeeded(tp) {
		t.Fatalf("expected need_offset_reset to have been called")
	}
}

func TestProcessFetchResponseOffsetOutOfRangeWithoutDefaultPolicy(t *testing.T) {
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 3})

	resp := newFetchResponse(tp, int16(kerr.OffsetOutOfRange.Code), 0, nil)
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(plannedFetch{fetchOffset: map[TopicPartition]int64{tp: 3}}, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if !hasNewData {
		t.Fatalf("hasNewData = false, want true")
	}
	entry, ok := recMap.get(tp)
	if !ok || !entry.isError() {
		t.Fatalf("expected an OffsetOutOfRangeError sentinel")
	}
	if _, ok := entry.perr.err.(*OffsetOutOfRangeError); !ok {
		t.Fatalf("err = %T, want *OffsetOutOfRangeError", entry.perr.err)
	}
}

func TestProcessFetchResponseOversizedMessageInstallsRecordTooLarge(t *testing.T) {
	// Scenario 3: response returns no full messages, just a PartialMessage.
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 3})

	raw := wrapAsMessageSetEntry(3, emptyV0Message)
	raw = raw[:len(raw)-1] // truncate so the single entry is reported Partial

	resp := newFetchResponse(tp, 0, 3, raw)
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(plannedFetch{fetchOffset: map[TopicPartition]int64{tp: 3}}, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if !hasNewData {
		t.Fatalf("hasNewData = false, want true")
	}
	entry, ok := recMap.get(tp)
	if !ok || !entry.isError() {
		t.Fatalf("expected a RecordTooLarge sentinel")
	}
	if _, ok := entry.perr.err.(*RecordTooLargeError); !ok {
		t.Fatalf("err = %T, want *RecordTooLargeError", entry.perr.err)
	}
	st, _ := subs.Assignment(tp)
	if st.Position != 4 {
		t.Fatalf("position = %d, want 4 (advanced by exactly one slot)", st.Position)
	}
}

func TestProcessFetchResponseRetriesBeforeGivingUpOnOversizedMessage(t *testing.T) {
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	subs.assign(tp, PartitionState{Position: 3})

	raw := wrapAsMessageSetEntry(3, emptyV0Message)
	raw = raw[:len(raw)-1]

	resp := newFetchResponse(tp, 0, 3, raw)
	recMap := newRecordMap()
	cl := newFakeBrokerClient()
	cfgv := defaultCfg()
	cfgv.fetchMaxBytesRetry = true
	cfgv.fetchMaxPartitionFetchBytesCeiling = 1 << 20
	partitionMaxBytes := map[TopicPartition]int32{}

	planned := plannedFetch{
		fetchOffset:  map[TopicPartition]int64{tp: 3},
		requestedMax: map[TopicPartition]int32{tp: 1 << 10},
	}

	hasNewData := processFetchResponse(planned, resp, subs, recMap, cl, cfgv, nopLogger{}, nil, partitionMaxBytes)
	if hasNewData {
		t.Fatalf("hasNewData = true, want false: a retry round installs nothing visible yet")
	}
	if recMap.has(tp) {
		t.Fatalf("no sentinel should be installed while retries remain")
	}
	if got, want := partitionMaxBytes[tp], int32(2<<10); got != want {
		t.Fatalf("partitionMaxBytes[tp] = %d, want %d (doubled)", got, want)
	}

	// Retry again with the raised cap already at the ceiling: this time it
	// must give up and install RecordTooLarge.
	planned.requestedMax[tp] = cfgv.fetchMaxPartitionFetchBytesCeiling
	hasNewData = processFetchResponse(planned, resp, subs, recMap, cl, cfgv, nopLogger{}, nil, partitionMaxBytes)
	if !hasNewData {
		t.Fatalf("hasNewData = false, want true once the ceiling is reached")
	}
	entry, ok := recMap.get(tp)
	if !ok || !entry.isError() {
		t.Fatalf("expected a RecordTooLarge sentinel once the ceiling is reached")
	}
	if _, ok := entry.perr.err.(*RecordTooLargeError); !ok {
		t.Fatalf("err = %T, want *RecordTooLargeError", entry.perr.err)
	}
	if _, stillTracked := partitionMaxBytes[tp]; stillTracked {
		t.Fatalf("partitionMaxBytes entry should be cleared once RecordTooLarge is installed")
	}
}

func TestProcessFetchResponseDropsResponseForUnfetchablePartition(t *testing.T) {
	subs := newFakeSubscriptionState()
	tp := TopicPartition{Topic: "orders", Partition: 0}
	// Not assigned at all: simulates a rebalance that happened mid-flight.
	resp := newFetchResponse(tp, 0, 10, wrapAsMessageSetEntry(0, emptyV0Message))
	recMap := newRecordMap()
	cl := newFakeBrokerClient()

	hasNewData := processFetchResponse(plannedFetch{fetchOffset: map[TopicPartition]int64{}}, resp, subs, recMap, cl, defaultCfg(), nopLogger{}, nil, map[TopicPartition]int32{})
	if hasNewData {
		t.Fatalf("hasNewData = true, want false for a partition no longer fetchable")
	}
	if recMap.has(tp) {
		t.Fatalf("no entry should be installed for a dropped response")
	}
}
