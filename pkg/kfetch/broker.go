package kfetch

import (
	"context"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// BrokerClient resolves partitions to their leading broker node and carries
// typed requests to that node. It is an external collaborator: dialing,
// connection pooling, request framing, and response decoding all live in
// the caller's implementation; the fetch engine only ever sees the
// already-decoded kmsg.Request/kmsg.Response values described in its
// External Interfaces.
//
// Implementations must be safe for concurrent use: the Fetch Loop and the
// Offset Reset Subsystem may call BrokerClient methods concurrently for
// different partitions.
type BrokerClient interface {
	// LeaderForPartition resolves tp's current leader node. ok is false
	// if the leader is not yet known (e.g. metadata has not been
	// fetched); if ok is true, a node id of -1 means the leader is known
	// but currently unavailable.
	LeaderForPartition(tp TopicPartition) (node int32, ok bool)

	// Ready reports whether node is currently able to accept a request.
	// It may suspend (e.g. while a connection is being established).
	Ready(ctx context.Context, node int32) bool

	// Send issues req to node and returns its decoded response. It may
	// suspend for the duration of the round trip and may return a
	// transport or protocol-decode error.
	Send(ctx context.Context, node int32, req kmsg.Request) (kmsg.Response, error)

	// ForceMetadataUpdate triggers an out-of-band metadata refresh,
	// e.g. after a NotLeaderForPartition or UnknownTopicOrPartition
	// response. It does not block on the refresh completing.
	ForceMetadataUpdate()
}
