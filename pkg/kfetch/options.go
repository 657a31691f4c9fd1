package kfetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// cfg holds every tunable of a Fetcher. It is built by defaultCfg and
// mutated by the Opt values passed to NewFetcher; after construction it is
// read-only.
type cfg struct {
	keyDeserializer   Deserializer
	valueDeserializer Deserializer

	fetchMinBytes          int32
	fetchMaxWaitMillis     int32
	maxPartitionFetchBytes int32
	checkCRCs              bool
	fetcherTimeout         time.Duration

	fetchMaxPollRecords                int
	fetchMaxBytesRetry                 bool
	fetchMaxPartitionFetchBytesCeiling int32

	logger            Logger
	metricsRegisterer prometheus.Registerer
}

func defaultCfg() cfg {
	return cfg{
		fetchMinBytes:          1,
		fetchMaxWaitMillis:     500,
		maxPartitionFetchBytes: 1 << 20,
		checkCRCs:              true,
		fetcherTimeout:         defaultFetcherTimeout,

		fetchMaxPollRecords:                500,
		fetchMaxBytesRetry:                 false,
		fetchMaxPartitionFetchBytesCeiling: 50 << 20,

		logger:            nopLogger{},
		metricsRegisterer: nil,
	}
}

// Opt configures a Fetcher at construction time.
type Opt func(*cfg)

// KeyDeserializer sets the deserializer applied to every record key. The
// default is the identity deserializer (raw bytes).
func KeyDeserializer(d Deserializer) Opt {
	return func(c *cfg) { c.keyDeserializer = d }
}

// ValueDeserializer sets the deserializer applied to every record value.
func ValueDeserializer(d Deserializer) Opt {
	return func(c *cfg) { c.valueDeserializer = d }
}

// FetchMinBytes sets the minimum number of bytes a broker should
// accumulate before answering a fetch request. Must be >= 1.
func FetchMinBytes(n int32) Opt {
	return func(c *cfg) {
		if n < 1 {
			n = 1
		}
		c.fetchMinBytes = n
	}
}

// FetchMaxWaitMillis bounds how long a broker may delay a fetch response
// waiting to satisfy FetchMinBytes.
func FetchMaxWaitMillis(ms int32) Opt {
	return func(c *cfg) {
		if ms < 0 {
			ms = 0
		}
		c.fetchMaxWaitMillis = ms
	}
}

// MaxPartitionFetchBytes caps the bytes requested per partition in a single
// fetch. Must be > 0.
func MaxPartitionFetchBytes(n int32) Opt {
	return func(c *cfg) {
		if n <= 0 {
			n = defaultCfg().maxPartitionFetchBytes
		}
		c.maxPartitionFetchBytes = n
	}
}

// CheckCRCs toggles CRC validation in the Record Unpacker. Disabling it
// trades correctness for a small decode speedup; off by default is never
// recommended outside benchmarking.
func CheckCRCs(enabled bool) Opt {
	return func(c *cfg) { c.checkCRCs = enabled }
}

// FetcherTimeout sets the fetch loop's poll cadence: how long it idles
// between planning rounds when there is no fetch to wait on.
func FetcherTimeout(d time.Duration) Opt {
	return func(c *cfg) {
		if d <= 0 {
			d = defaultFetcherTimeout
		}
		c.fetcherTimeout = d
	}
}

// FetchMaxPollRecords caps how many records a single FetchedRecords call
// returns, mirroring the poll-batch-size knob consumer clients in this
// ecosystem commonly expose. Zero disables the cap.
func FetchMaxPollRecords(n int) Opt {
	return func(c *cfg) { c.fetchMaxPollRecords = n }
}

// FetchMaxBytesRetry enables retrying a partition fetch with a larger
// per-partition byte cap (up to FetchMaxPartitionFetchBytesCeiling) when a
// fetch's only result was a single oversized, truncated message. Disabling
// this restores the strict behavior of installing RecordTooLarge
// immediately.
func FetchMaxBytesRetry(enabled bool) Opt {
	return func(c *cfg) { c.fetchMaxBytesRetry = enabled }
}

// FetchMaxPartitionFetchBytesCeiling bounds how far FetchMaxBytesRetry is
// allowed to grow a partition's fetch byte cap.
func FetchMaxPartitionFetchBytesCeiling(n int32) Opt {
	return func(c *cfg) { c.fetchMaxPartitionFetchBytesCeiling = n }
}

// WithLogger installs a Logger. The default logs nothing.
func WithLogger(l Logger) Opt {
	return func(c *cfg) {
		if l == nil {
			l = nopLogger{}
		}
		c.logger = l
	}
}

// WithMetricsRegisterer installs a Prometheus registerer the Fetcher's
// collectors are registered against. If unset, metrics are tracked
// in-process but never exported.
func WithMetricsRegisterer(r prometheus.Registerer) Opt {
	return func(c *cfg) { c.metricsRegisterer = r }
}
