package kfetch

import (
	"context"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// fetchNodeResult is what a per-node fetch child task reports back to the
// loop when it finishes, whether it succeeded or failed.
type fetchNodeResult struct {
	node    int32
	planned plannedFetch
	resp    *kmsg.FetchResponse
	err     error
}

// runLoop is the Fetch Loop & Wakeup Coordinator: the single goroutine
// that owns recMap and inFlight, and that makes every position change
// caused by record delivery or by a RecordTooLarge skip. NextRecord and
// FetchedRecords send a request over a channel and let runLoop service it;
// UpdateFetchPositions seeks partitions from its caller's goroutine.
func (f *Fetcher) runLoop(ctx context.Context) {
	defer close(f.loopDone)

	for {
		f.planAndDispatch(ctx)

		var wake <-chan struct{}
		if len(f.inFlight) == 0 && !f.recMap.empty() {
			// Nothing to fetch right now, but the consumer hasn't drained
			// everything we already have: wait on whichever comes first,
			// a partition being drained or the idle timer.
			f.fullWaiter = newOneShotWaiter()
			wake = f.fullWaiter.Done()
		}

		timer := time.NewTimer(f.cfg.fetcherTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case call := <-f.nextReqCh:
			timer.Stop()
			f.serviceNextRecord(call)

		case call := <-f.fetchedReqCh:
			timer.Stop()
			f.serviceFetchedRecords(call)

		case res := <-f.fetchResultsCh:
			timer.Stop()
			delete(f.inFlight, res.node)
			f.handleFetchResult(res)

		case <-wake:
			timer.Stop()

		case <-timer.C:
		}
		f.fullWaiter = nil
		f.tryServicePending()
	}
}

// planAndDispatch runs the planner and spawns a child fetch task for every
// node it returned that is ready to receive a request right now. Nodes
// that are not yet ready are simply skipped this round; the planner will
// reconsider them on the next iteration since they were never added to
// inFlight.
func (f *Fetcher) planAndDispatch(ctx context.Context) {
	planned := planFetches(f.subs, f.recMap, f.inFlight, f.cl, f.cfg, f.logger, f.partitionMaxBytes)
	for _, p := range planned {
		if !f.cl.Ready(ctx, p.node) {
			continue
		}
		f.inFlight[p.node] = struct{}{}
		f.fetchWG.Add(1)
		go f.runFetchTask(ctx, p)
	}
	if f.metr != nil && f.metr.inFlightRequests != nil {
		f.metr.inFlightRequests.Set(float64(len(f.inFlight)))
	}
	if f.metr != nil && f.metr.bufferedPartitions != nil {
		f.metr.bufferedPartitions.Set(float64(f.recMap.len()))
	}
}

// runFetchTask issues one FetchRequest and reports the outcome back to
// the loop. It never touches engine state directly.
func (f *Fetcher) runFetchTask(ctx context.Context, p plannedFetch) {
	defer f.fetchWG.Done()

	start := time.Now()
	kresp, err := f.cl.Send(ctx, p.node, p.req)

	if f.metr != nil && f.metr.fetchLatency != nil {
		f.metr.fetchLatency.WithLabelValues(nodeLabel(p.node)).Observe(time.Since(start).Seconds())
	}

	res := fetchNodeResult{node: p.node, planned: p}
	if err != nil {
		res.err = err
	} else if resp, ok := kresp.(*kmsg.FetchResponse); ok {
		res.resp = resp
	} else {
		res.err = &malformedResponseError{detail: "expected FetchResponse"}
	}

	select {
	case f.fetchResultsCh <- res:
	case <-ctx.Done():
	}
}

func (f *Fetcher) handleFetchResult(res fetchNodeResult) {
	if res.err != nil {
		f.logger.Log(LogLevelWarn, "fetch request failed", "node", res.node, "error", res.err)
		return
	}
	if processFetchResponse(res.planned, res.resp, f.subs, f.recMap, f.cl, f.cfg, f.logger, f.metr, f.partitionMaxBytes) {
		f.logger.Log(LogLevelDebug, "fetch response produced new data", "node", res.node)
	}
}

// signalFullWaiter wakes the loop out of its backpressure idle wait, if it
// is currently in one. Called whenever a consumer call drains or discards
// a RecordMap entry.
func (f *Fetcher) signalFullWaiter() {
	if f.fullWaiter != nil {
		f.fullWaiter.Signal()
	}
}

func nodeLabel(node int32) string {
	if node < 0 {
		return "unknown"
	}
	return strconv.Itoa(int(node))
}
