package kfetch

import (
	"errors"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// processFetchResponse applies one FetchResponse to subs and recMap,
// returning whether any partition gained new, consumer-visible state
// (a buffer or an error sentinel). partitionMaxBytes is the loop-owned
// per-partition byte-cap override driven by FetchMaxBytesRetry; it is
// mutated in place as partitions are resized or settle back down.
func processFetchResponse(planned plannedFetch, resp *kmsg.FetchResponse, subs SubscriptionState, recMap *recordMap, cl BrokerClient, cfgv cfg, logger Logger, metr *metrics, partitionMaxBytes map[TopicPartition]int32) bool {
	hasNewData := false

	for _, topic := range resp.Topics {
		for _, partition := range topic.Partitions {
			tp := TopicPartition{Topic: topic.Topic, Partition: partition.Partition}

			if !subs.IsFetchable(tp) {
				continue // rebalanced away mid-flight; drop silently
			}

			requestedOffset := planned.fetchOffset[tp]
			requestedMax := planned.requestedMax[tp]
			err := kerr.ErrorForCode(partition.ErrorCode)

			switch {
			case err == nil:
				subs.SetHighWatermark(tp, partition.HighWatermark)
				if processNoError(tp, partition.RecordBatches, requestedOffset, requestedMax, subs, recMap, cfgv, metr, partitionMaxBytes) {
					hasNewData = true
				}

			case errors.Is(err, kerr.NotLeaderForPartition), errors.Is(err, kerr.UnknownTopicOrPartition):
				cl.ForceMetadataUpdate()

			case errors.Is(err, kerr.OffsetOutOfRange):
				if subs.HasDefaultOffsetResetPolicy(tp) {
					subs.NeedOffsetReset(tp)
				} else {
					recMap.installError(tp, &OffsetOutOfRangeError{TopicPartition: tp, RequestedOffset: requestedOffset})
					bumpPartitionError(metr, "offset_out_of_range")
					hasNewData = true
				}

			case errors.Is(err, kerr.TopicAuthorizationFailed):
				recMap.installError(tp, &TopicAuthorizationError{Topic: tp.Topic})
				bumpPartitionError(metr, "topic_authorization_failed")
				hasNewData = true

			default:
				logger.Log(LogLevelWarn, "unhandled fetch error for partition", "partition", tp.String(), "error", err)
			}
		}
	}

	return hasNewData
}

// processNoError applies a successful partition fetch result: unpack its
// raw record batches, install a buffer if any records survived, or install
// RecordTooLarge if the only thing fetched was a message too big to fit
// within the partition's byte cap.
//
// When FetchMaxBytesRetry is enabled, an oversized-message result first
// doubles the partition's byte cap (up to FetchMaxPartitionFetchBytesCeiling)
// and retries instead of giving up immediately, mirroring Sarama's
// fetchSize back-off-then-give-up dance; RecordTooLarge is only installed
// once the ceiling is reached and the message still doesn't fit.
func processNoError(tp TopicPartition, raw []byte, requestedOffset int64, requestedMax int32, subs SubscriptionState, recMap *recordMap, cfgv cfg, metr *metrics, partitionMaxBytes map[TopicPartition]int32) bool {
	records, partial, err := unpackMessageSet(tp, raw, unpackOpts{
		checkCRCs:  cfgv.checkCRCs,
		keyDeser:   cfgv.keyDeserializer,
		valueDeser: cfgv.valueDeserializer,
	})
	if err != nil {
		var invalid *InvalidMessageError
		if errors.As(err, &invalid) {
			recMap.installError(tp, invalid)
			bumpPartitionError(metr, "invalid_message")
			return true
		}
		recMap.installError(tp, err)
		bumpPartitionError(metr, "malformed_response")
		return true
	}

	if len(records) > 0 {
		recMap.installBuffer(tp, newPartitionBuffer(tp, subs, records))
		delete(partitionMaxBytes, tp) // a partition that produced records no longer needs a raised cap
		return true
	}

	if partial != nil {
		if cfgv.fetchMaxBytesRetry && requestedMax < cfgv.fetchMaxPartitionFetchBytesCeiling {
			raised := requestedMax * 2
			if raised <= requestedMax || raised > cfgv.fetchMaxPartitionFetchBytesCeiling {
				raised = cfgv.fetchMaxPartitionFetchBytesCeiling
			}
			partitionMaxBytes[tp] = raised
			return false
		}

		// See the Open Question on RecordTooLarge position advancement:
		// we advance by exactly one slot, which is only exact for
		// non-compressed, non-transactional batches.
		recMap.installError(tp, &RecordTooLargeError{TopicPartition: tp, RequestedOffset: requestedOffset})
		subs.SetPosition(tp, requestedOffset+1)
		delete(partitionMaxBytes, tp)
		bumpPartitionError(metr, "record_too_large")
		return true
	}

	return false
}

func bumpPartitionError(metr *metrics, kind string) {
	if metr == nil || metr.partitionErrors == nil {
		return
	}
	metr.partitionErrors.WithLabelValues(kind).Inc()
}
