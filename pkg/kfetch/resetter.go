package kfetch

import (
	"context"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const (
	timestampEarliest int64 = -2
	timestampLatest   int64 = -1
)

type resetOutcome struct {
	tp  TopicPartition
	err error
}

// UpdateFetchPositions brings every listed partition's subscription
// position up to date. Unassigned and still-fetchable partitions are left
// alone. Of the rest, partitions flagged for reset get a fresh offset from
// the broker, partitions with a committed offset seek directly to it, and
// partitions with neither are flagged for reset and reset too. Resets run
// concurrently; UpdateFetchPositions returns the first error any of them
// surfaced, after all have finished.
func (f *Fetcher) UpdateFetchPositions(ctx context.Context, partitions []TopicPartition) error {
	var toReset []TopicPartition

	for _, tp := range partitions {
		if !f.subs.IsAssigned(tp) {
			continue
		}
		if f.subs.IsFetchable(tp) {
			continue // already has a valid position
		}

		if f.subs.IsOffsetResetNeeded(tp) {
			toReset = append(toReset, tp)
			continue
		}

		state, ok := f.subs.Assignment(tp)
		if !ok {
			continue
		}
		if state.Committed == nil {
			f.subs.NeedOffsetReset(tp)
			toReset = append(toReset, tp)
			continue
		}
		f.subs.Seek(tp, *state.Committed)
	}

	if len(toReset) == 0 {
		return nil
	}

	results := make(chan resetOutcome, len(toReset))
	for _, tp := range toReset {
		go func(tp TopicPartition) {
			results <- resetOutcome{tp: tp, err: f.resetOffset(ctx, tp)}
		}(tp)
	}

	var firstErr error
	for range toReset {
		if out := <-results; out.err != nil && firstErr == nil {
			firstErr = out.err
		}
	}
	return firstErr
}

// resetOffset resolves tp's reset strategy into a timestamp, fetches the
// corresponding offset from the leader (retrying on retriable errors), and
// seeks the partition there if it is still assigned when the offset comes
// back.
func (f *Fetcher) resetOffset(ctx context.Context, tp TopicPartition) error {
	state, ok := f.subs.Assignment(tp)
	if !ok {
		return nil
	}

	timestamp := timestampLatest
	strategyLabel := "latest"
	if state.ResetStrategy == ResetEarliest {
		timestamp = timestampEarliest
		strategyLabel = "earliest"
	}

	offset, err := f.offsetForTimestamp(ctx, tp, timestamp)
	if err != nil {
		return err
	}

	if f.metr != nil && f.metr.offsetResets != nil {
		f.metr.offsetResets.WithLabelValues(strategyLabel).Inc()
	}

	if f.subs.IsAssigned(tp) {
		f.subs.Seek(tp, offset)
	}
	return nil
}

// offsetForTimestamp retries procOffsetRequest until it succeeds or fails
// with a non-retriable error, refreshing metadata first whenever the
// failure is flagged as caused by stale metadata.
func (f *Fetcher) offsetForTimestamp(ctx context.Context, tp TopicPartition, timestamp int64) (int64, error) {
	for {
		offset, err := f.procOffsetRequest(ctx, tp, timestamp)
		if err == nil {
			return offset, nil
		}

		var staleMeta *StaleMetadataError
		var leaderUnavailable *LeaderNotAvailableError
		var nodeNotReady *NodeNotReadyError
		switch {
		case errors.As(err, &staleMeta), errors.As(err, &nodeNotReady), errors.As(err, &leaderUnavailable):
			f.cl.ForceMetadataUpdate()
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		var kerror *kerr.Error
		if errors.As(err, &kerror) {
			if kerror.Code == kerr.UnknownTopicOrPartition.Code || kerror.Code == kerr.NotLeaderForPartition.Code {
				f.cl.ForceMetadataUpdate()
			}
			if kerr.IsRetriable(kerror) {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(50 * time.Millisecond):
					continue
				}
			}
		}
		return 0, err
	}
}

func (f *Fetcher) procOffsetRequest(ctx context.Context, tp TopicPartition, timestamp int64) (int64, error) {
	node, ok := f.cl.LeaderForPartition(tp)
	if !ok {
		return 0, &StaleMetadataError{TopicPartition: tp}
	}
	if node < 0 {
		return 0, &LeaderNotAvailableError{TopicPartition: tp}
	}
	if !f.cl.Ready(ctx, node) {
		return 0, &NodeNotReadyError{Node: node}
	}

	req := kmsg.NewListOffsetsRequest()
	req.ReplicaID = -1
	reqTopic := kmsg.NewListOffsetsRequestTopic()
	reqTopic.Topic = tp.Topic
	reqPart := kmsg.NewListOffsetsRequestTopicPartition()
	reqPart.Partition = tp.Partition
	reqPart.Timestamp = timestamp
	reqPart.MaxNumOffsets = 1
	reqTopic.Partitions = []kmsg.ListOffsetsRequestTopicPartition{reqPart}
	req.Topics = []kmsg.ListOffsetsRequestTopic{reqTopic}

	kresp, err := f.cl.Send(ctx, node, &req)
	if err != nil {
		return 0, err
	}
	resp, ok := kresp.(*kmsg.ListOffsetsResponse)
	if !ok {
		return 0, &malformedResponseError{detail: "expected ListOffsetsResponse"}
	}
	if len(resp.Topics) != 1 || resp.Topics[0].Topic != tp.Topic || len(resp.Topics[0].Partitions) != 1 {
		return 0, &malformedResponseError{detail: "ListOffsetsResponse shape did not match the request"}
	}

	part := resp.Topics[0].Partitions[0]
	if part.Partition != tp.Partition {
		return 0, &malformedResponseError{detail: "ListOffsetsResponse returned the wrong partition"}
	}

	if perr := kerr.ErrorForCode(part.ErrorCode); perr != nil {
		return 0, perr
	}
	return part.Offset, nil
}
