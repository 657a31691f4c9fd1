package kfetch

import "github.com/twmb/franz-go/pkg/kmsg"

// plannedFetch is one per-node FetchRequest the planner produced, along
// with the fetch offset it requested for each partition so the processor
// can reason about position advancement without re-deriving it.
type plannedFetch struct {
	node         int32
	req          *kmsg.FetchRequest
	fetchOffset  map[TopicPartition]int64
	requestedMax map[TopicPartition]int32
}

// planFetches builds the set of FetchRequests that should be issued this
// round: one per broker node that leads at least one fetchable,
// not-already-pending partition. partitionMaxBytes holds any per-partition
// byte cap raised by a prior RecordTooLarge retry (see FetchMaxBytesRetry);
// partitions absent from it use cfgv.maxPartitionFetchBytes.
func planFetches(subs SubscriptionState, recMap *recordMap, inFlight map[int32]struct{}, cl BrokerClient, cfgv cfg, logger Logger, partitionMaxBytes map[TopicPartition]int32) []plannedFetch {
	if subs.NeedsPartitionAssignment() {
		return nil
	}

	type key struct {
		node  int32
		topic string
	}
	grouped := make(map[key][]kmsg.FetchRequestTopicPartition)
	offsets := make(map[int32]map[TopicPartition]int64)
	requestedMax := make(map[int32]map[TopicPartition]int32)

	for _, tp := range subs.FetchablePartitions() {
		if recMap.has(tp) {
			continue
		}
		node, ok := cl.LeaderForPartition(tp)
		if !ok || node < 0 {
			logger.Log(LogLevelDebug, "skipping partition with unknown or unavailable leader", "partition", tp.String())
			continue
		}
		if _, busy := inFlight[node]; busy {
			continue
		}
		state, ok := subs.Assignment(tp)
		if !ok {
			continue
		}

		maxBytes := cfgv.maxPartitionFetchBytes
		if raised, ok := partitionMaxBytes[tp]; ok {
			maxBytes = raised
		}
		k := key{node: node, topic: tp.Topic}
		grouped[k] = append(grouped[k], kmsg.FetchRequestTopicPartition{
			Partition:         tp.Partition,
			FetchOffset:       state.Position,
			PartitionMaxBytes: maxBytes,
		})
		if offsets[node] == nil {
			offsets[node] = make(map[TopicPartition]int64)
			requestedMax[node] = make(map[TopicPartition]int32)
		}
		offsets[node][tp] = state.Position
		requestedMax[node][tp] = maxBytes
	}

	byNode := make(map[int32]*kmsg.FetchRequest)
	var order []int32
	for k, parts := range grouped {
		req, ok := byNode[k.node]
		if !ok {
			r := kmsg.NewFetchRequest()
			r.ReplicaID = -1
			r.MaxWaitMillis = cfgv.fetchMaxWaitMillis
			r.MinBytes = cfgv.fetchMinBytes
			req = &r
			byNode[k.node] = req
			order = append(order, k.node)
		}
		topic := kmsg.NewFetchRequestTopic()
		topic.Topic = k.topic
		topic.Partitions = parts
		req.Topics = append(req.Topics, topic)
	}

	planned := make([]plannedFetch, 0, len(order))
	for _, node := range order {
		planned = append(planned, plannedFetch{node: node, req: byNode[node], fetchOffset: offsets[node], requestedMax: requestedMax[node]})
	}
	return planned
}
