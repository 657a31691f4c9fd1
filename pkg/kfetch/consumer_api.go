package kfetch

import (
	"context"
	"time"
)

type nextRecordResult struct {
	record ConsumerRecord
	err    error
}

// nextRecordCall is a pending NextRecord request sitting on the loop's
// request channel or pending queue.
type nextRecordCall struct {
	ctx    context.Context
	filter []TopicPartition
	resp   chan nextRecordResult
}

type fetchedRecordsResult struct {
	records map[TopicPartition][]ConsumerRecord
	err     error
}

// fetchedRecordsCall is a pending FetchedRecords request. deadline is the
// zero Time when the caller passed timeout == 0 (no waiting allowed).
type fetchedRecordsCall struct {
	ctx      context.Context
	filter   []TopicPartition
	deadline time.Time
	resp     chan fetchedRecordsResult
}

// NextRecord returns the next available record across partitions (filter
// restricts which ones, or all assigned partitions if empty), blocking
// until one is available, a fatal per-partition error surfaces, or ctx is
// cancelled.
func (f *Fetcher) NextRecord(ctx context.Context, filter ...TopicPartition) (ConsumerRecord, error) {
	call := &nextRecordCall{ctx: ctx, filter: filter, resp: make(chan nextRecordResult, 1)}

	select {
	case f.nextReqCh <- call:
	case <-ctx.Done():
		return ConsumerRecord{}, ctx.Err()
	case <-f.loopDone:
		return ConsumerRecord{}, ErrFetcherClosed
	}

	select {
	case res := <-call.resp:
		return res.record, res.err
	case <-ctx.Done():
		return ConsumerRecord{}, ctx.Err()
	case <-f.loopDone:
		return ConsumerRecord{}, ErrFetcherClosed
	}
}

// FetchedRecords drains whatever records are immediately available across
// partitions (filter restricts which ones), waiting up to timeout for at
// least one if nothing is available yet. timeout == 0 never waits.
func (f *Fetcher) FetchedRecords(ctx context.Context, timeout time.Duration, filter ...TopicPartition) (map[TopicPartition][]ConsumerRecord, error) {
	call := &fetchedRecordsCall{ctx: ctx, filter: filter, resp: make(chan fetchedRecordsResult, 1)}
	if timeout > 0 {
		call.deadline = time.Now().Add(timeout)
	}

	select {
	case f.fetchedReqCh <- call:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.loopDone:
		return nil, ErrFetcherClosed
	}

	select {
	case res := <-call.resp:
		return res.records, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.loopDone:
		return nil, ErrFetcherClosed
	}
}

// serviceNextRecord is called only from runLoop. It tries to satisfy call
// immediately; if nothing is available it is parked on pendingNext, to be
// retried whenever the record map changes.
func (f *Fetcher) serviceNextRecord(call *nextRecordCall) {
	if rec, err, ok := f.drainOneRecord(call.filter); ok {
		sendNextResult(call, nextRecordResult{record: rec, err: err})
		return
	}
	if call.ctx.Err() != nil {
		return
	}
	f.pendingNext = append(f.pendingNext, call)
}

// serviceFetchedRecords is called only from runLoop, mirroring
// serviceNextRecord for the batch API.
func (f *Fetcher) serviceFetchedRecords(call *fetchedRecordsCall) {
	drained, err := f.drainFetchedRecords(call.filter)
	if len(drained) > 0 || err != nil || call.deadline.IsZero() {
		sendFetchedResult(call, fetchedRecordsResult{records: drained, err: err})
		return
	}
	if call.ctx.Err() != nil {
		return
	}
	f.pendingFetched = append(f.pendingFetched, call)
}

// tryServicePending retries every parked call against the current record
// map state, delivering and removing whichever ones it can now satisfy
// (or whose deadline has passed, or whose caller has already given up).
func (f *Fetcher) tryServicePending() {
	if len(f.pendingNext) > 0 {
		remaining := f.pendingNext[:0]
		for _, call := range f.pendingNext {
			if call.ctx.Err() != nil {
				continue
			}
			if rec, err, ok := f.drainOneRecord(call.filter); ok {
				sendNextResult(call, nextRecordResult{record: rec, err: err})
				continue
			}
			remaining = append(remaining, call)
		}
		f.pendingNext = remaining
	}

	if len(f.pendingFetched) > 0 {
		remaining := f.pendingFetched[:0]
		for _, call := range f.pendingFetched {
			if call.ctx.Err() != nil {
				continue
			}
			drained, err := f.drainFetchedRecords(call.filter)
			expired := !call.deadline.IsZero() && time.Now().After(call.deadline)
			if len(drained) > 0 || err != nil || expired {
				sendFetchedResult(call, fetchedRecordsResult{records: drained, err: err})
				continue
			}
			remaining = append(remaining, call)
		}
		f.pendingFetched = remaining
	}
}

// drainOneRecord implements next_record's single pass over the record map:
// the first buffer with a deliverable record wins; exhausted buffers and
// error sentinels are removed from the map as they are encountered.
func (f *Fetcher) drainOneRecord(filter []TopicPartition) (ConsumerRecord, error, bool) {
	for _, tp := range f.recMap.orderedKeys() {
		if !matchesFilter(filter, tp) {
			continue
		}
		entry, ok := f.recMap.get(tp)
		if !ok {
			continue
		}
		if entry.isError() {
			err := entry.perr.err
			f.recMap.delete(tp)
			f.signalFullWaiter()
			return ConsumerRecord{}, err, true
		}
		if rec, ok := entry.buffer.getOne(); ok {
			return rec, nil, true
		}
		f.recMap.delete(tp)
		f.signalFullWaiter()
	}
	return ConsumerRecord{}, nil, false
}

// drainFetchedRecords implements fetched_records' single pass: every
// fetchable buffer contributes as many records as the max-poll-records
// cap still allows, then is removed once empty; the first error sentinel
// encountered is returned immediately unless records were already
// collected this pass, in which case it is left for the next call.
func (f *Fetcher) drainFetchedRecords(filter []TopicPartition) (map[TopicPartition][]ConsumerRecord, error) {
	out := make(map[TopicPartition][]ConsumerRecord)
	total := 0
	maxRecords := f.cfg.fetchMaxPollRecords

	for _, tp := range f.recMap.orderedKeys() {
		if !matchesFilter(filter, tp) {
			continue
		}
		if maxRecords > 0 && total >= maxRecords {
			break
		}
		entry, ok := f.recMap.get(tp)
		if !ok {
			continue
		}
		if entry.isError() {
			if len(out) > 0 {
				return out, nil
			}
			err := entry.perr.err
			f.recMap.delete(tp)
			f.signalFullWaiter()
			return out, err
		}

		for maxRecords <= 0 || total < maxRecords {
			rec, ok := entry.buffer.getOne()
			if !ok {
				break
			}
			out[tp] = append(out[tp], rec)
			total++
		}
		if entry.buffer.empty() {
			f.recMap.delete(tp)
			f.signalFullWaiter()
		}
	}
	return out, nil
}

func matchesFilter(filter []TopicPartition, tp TopicPartition) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		if want == tp {
			return true
		}
	}
	return false
}

func sendNextResult(call *nextRecordCall, res nextRecordResult) {
	select {
	case call.resp <- res:
	default:
	}
}

func sendFetchedResult(call *fetchedRecordsCall, res fetchedRecordsResult) {
	select {
	case call.resp <- res:
	default:
	}
}
