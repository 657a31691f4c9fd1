package kfetch

import "fmt"

// InvalidMessageError is returned by the Record Unpacker when a message's
// stored CRC disagrees with a recomputation over its canonical byte range.
type InvalidMessageError struct {
	TopicPartition TopicPartition
	Offset         int64
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("kfetch: invalid message crc for %s at offset %d", e.TopicPartition, e.Offset)
}

// RecordTooLargeError is installed when a fetch response's only data for a
// partition is a message too large to be returned within the configured
// fetch size.
type RecordTooLargeError struct {
	TopicPartition  TopicPartition
	RequestedOffset int64
}

func (e *RecordTooLargeError) Error() string {
	return fmt.Sprintf("kfetch: record too large for %s at requested offset %d", e.TopicPartition, e.RequestedOffset)
}

// OffsetOutOfRangeError is installed when the broker reports
// OffsetOutOfRange for a partition that has no default reset policy
// configured.
type OffsetOutOfRangeError struct {
	TopicPartition  TopicPartition
	RequestedOffset int64
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("kfetch: offset %d out of range for %s", e.RequestedOffset, e.TopicPartition)
}

// TopicAuthorizationError is installed when the broker reports
// TopicAuthorizationFailed for a partition's topic.
type TopicAuthorizationError struct {
	Topic string
}

func (e *TopicAuthorizationError) Error() string {
	return fmt.Sprintf("kfetch: not authorized to read topic %q", e.Topic)
}

// StaleMetadataError is raised from the Offset Reset Subsystem when a
// partition's leader is not known at all.
type StaleMetadataError struct {
	TopicPartition TopicPartition
}

func (e *StaleMetadataError) Error() string {
	return fmt.Sprintf("kfetch: stale metadata, no known leader for %s", e.TopicPartition)
}

// LeaderNotAvailableError is raised from the Offset Reset Subsystem when a
// partition's leader is known to be unavailable (node id -1).
type LeaderNotAvailableError struct {
	TopicPartition TopicPartition
}

func (e *LeaderNotAvailableError) Error() string {
	return fmt.Sprintf("kfetch: leader not available for %s", e.TopicPartition)
}

// NodeNotReadyError is raised from the Offset Reset Subsystem when the
// resolved leader node is not ready to accept a request.
type NodeNotReadyError struct {
	Node int32
}

func (e *NodeNotReadyError) Error() string {
	return fmt.Sprintf("kfetch: broker node %d is not ready", e.Node)
}

// malformedResponseError is raised when a response does not match the
// shape of the request that produced it (wrong topic/partition count, a
// partition we never asked about, etc).
type malformedResponseError struct {
	detail string
}

func (e *malformedResponseError) Error() string {
	return fmt.Sprintf("kfetch: malformed response: %s", e.detail)
}
