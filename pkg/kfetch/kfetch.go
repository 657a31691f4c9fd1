// Package kfetch implements the consumer-side fetch engine for a
// partitioned, leader-based commit-log messaging system speaking a
// Kafka-family wire protocol.
//
// Given a dynamically changing set of assigned topic-partitions and their
// current consume positions (tracked by a SubscriptionState implementation
// supplied by the caller), the engine continuously pulls batches of records
// from the correct broker for each partition, buffers them, and serves them
// one-by-one or in bulk through NextRecord and FetchedRecords while keeping
// consume positions consistent across rebalances, offset resets, and
// errors.
//
// Group coordination, heartbeats, the rebalance protocol, offset commit,
// metadata discovery, and iterator ergonomics live outside this package;
// BrokerClient and SubscriptionState are the seams where a caller plugs
// those in.
package kfetch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TopicPartition identifies a single partition within a topic. It is
// value-equal and hashable, and is used as a map key throughout the engine.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s[%d]", tp.Topic, tp.Partition)
}

// ConsumerRecord is a single decoded record pulled from a partition.
// ConsumerRecords are immutable once constructed.
type ConsumerRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       any
	Value     any
}

// TopicPartition returns the record's originating partition.
func (r ConsumerRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

// Deserializer converts raw key or value bytes into a user-level object. A
// nil Deserializer is treated as the identity function (the raw bytes are
// returned unmodified).
type Deserializer func(topic string, raw []byte) (any, error)

func identityDeserializer(_ string, raw []byte) (any, error) { return raw, nil }

// Fetcher is the consumer-side fetch engine described in the package doc.
// All of its mutable state (the record map, in-flight node set, and running
// fetch tasks) is confined to a single owning goroutine started by
// NewFetcher; NextRecord and FetchedRecords communicate with that goroutine
// over channels rather than sharing memory directly, so no additional
// locking is required. UpdateFetchPositions does not go through the loop: it
// touches only the SubscriptionState and BrokerClient, from the caller's
// goroutine.
type Fetcher struct {
	cl     BrokerClient
	subs   SubscriptionState
	cfg    cfg
	logger Logger
	metr   *metrics

	nextReqCh    chan *nextRecordCall
	fetchedReqCh chan *fetchedRecordsCall

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	fetchWG    sync.WaitGroup

	closeOnce sync.Once

	// The fields below are owned exclusively by runLoop and the helpers
	// it calls directly; nothing outside that goroutine may touch them.
	recMap            *recordMap
	inFlight          map[int32]struct{}
	fetchResultsCh    chan fetchNodeResult
	pendingNext       []*nextRecordCall
	pendingFetched    []*fetchedRecordsCall
	fullWaiter        *oneShotWaiter
	partitionMaxBytes map[TopicPartition]int32
}

// NewFetcher constructs a Fetcher against the given broker client and
// subscription state and immediately starts its background fetch loop. The
// returned Fetcher must eventually be closed with Close.
func NewFetcher(cl BrokerClient, subs SubscriptionState, opts ...Opt) *Fetcher {
	c := defaultCfg()
	for _, opt := range opts {
		opt(&c)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	f := &Fetcher{
		cl:     cl,
		subs:   subs,
		cfg:    c,
		logger: c.logger,
		metr:   newMetrics(c.metricsRegisterer),

		nextReqCh:    make(chan *nextRecordCall),
		fetchedReqCh: make(chan *fetchedRecordsCall),

		loopCancel: cancel,
		loopDone:   make(chan struct{}),

		recMap:            newRecordMap(),
		inFlight:          make(map[int32]struct{}),
		fetchResultsCh:    make(chan fetchNodeResult, 16),
		partitionMaxBytes: make(map[TopicPartition]int32),
	}

	go f.runLoop(loopCtx)

	return f
}

// Close cancels the background fetch loop and every in-flight per-node
// fetch it spawned, then waits for all of them to terminate. After Close
// returns, the loop and its fetch tasks make no further state changes, and
// NextRecord and FetchedRecords return ErrFetcherClosed. Close neither stops
// nor rejects UpdateFetchPositions, which runs on the caller's goroutine and
// may still seek partitions after Close. Close itself always returns nil.
func (f *Fetcher) Close() error {
	f.closeOnce.Do(func() {
		f.loopCancel()
		<-f.loopDone
		f.fetchWG.Wait()
	})
	return nil
}

// ErrFetcherClosed is returned by NextRecord and FetchedRecords once Close
// has completed.
var ErrFetcherClosed = fmt.Errorf("kfetch: fetcher is closed")

// defaultFetcherTimeout governs the loop's poll cadence absent an explicit
// option override.
const defaultFetcherTimeout = 200 * time.Millisecond
