// Package brokerclient is a minimal kfetch.BrokerClient: it dials one TCP
// connection per broker node, frames requests with a kmsg.RequestFormatter,
// and decodes responses with the corresponding kmsg.Response.
//
// franz-go's own kgo.broker keeps up to three connections per node (normal,
// produce, fetch) so a large produce never head-of-line blocks an unrelated
// fetch, pools requests through a per-broker goroutine, and renegotiates
// SASL on a timer. kfetch's fetch loop only ever keeps one fetch in flight
// per node (see its in-flight node set), so none of that pooling buys anything
// here; this package keeps a single serialized connection per node instead.
// Authentication, TLS, and API version negotiation are left to the caller:
// wire a node up with SetBrokerAddr once it is known to be reachable.
package brokerclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kbin"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/paulefoa/kfetch/pkg/kfetch"
)

var (
	// ErrConnDead is returned once a node's connection has failed; the
	// next Send to that node dials a fresh one.
	ErrConnDead = errors.New("brokerclient: connection is dead")
	// ErrCorrelationIDMismatch means the broker answered with a
	// correlation ID that does not match the request just written on
	// this connection, which can only mean the framing has desynced.
	ErrCorrelationIDMismatch = errors.New("brokerclient: correlation id mismatch")
	// ErrInvalidRespSize means the 4-byte length prefix of a response
	// was negative.
	ErrInvalidRespSize = errors.New("brokerclient: invalid response size")
	// ErrUnknownNode means Send or Ready was called for a node with no
	// address registered via SetBrokerAddr.
	ErrUnknownNode = errors.New("brokerclient: no address registered for node")
)

// ErrLargeResponse is returned when a broker's declared response size
// exceeds the client's configured ceiling.
type ErrLargeResponse struct {
	Size  int32
	Limit int32
}

func (e *ErrLargeResponse) Error() string {
	return fmt.Sprintf("brokerclient: response size %d exceeds limit %d", e.Size, e.Limit)
}

// Opt configures a Client at construction time.
type Opt func(*Client)

// DialTimeout bounds how long dialing a new connection may take.
func DialTimeout(d time.Duration) Opt {
	return func(c *Client) { c.dialTimeout = d }
}

// RequestTimeout bounds how long a single write+read round trip may take,
// independent of the ctx passed to Send. Zero disables the bound.
func RequestTimeout(d time.Duration) Opt {
	return func(c *Client) { c.requestTimeout = d }
}

// MaxResponseBytes caps the size a broker is allowed to declare in a
// response's length prefix, guarding against a corrupt or malicious frame
// causing an unbounded allocation.
func MaxResponseBytes(n int32) Opt {
	return func(c *Client) { c.maxRespBytes = n }
}

// Client is a kfetch.BrokerClient backed by real TCP connections.
type Client struct {
	mu      sync.Mutex
	addrs   map[int32]string
	conns   map[int32]*nodeConn
	leaders map[kfetch.TopicPartition]int32

	dialTimeout    time.Duration
	requestTimeout time.Duration
	maxRespBytes   int32
	formatter      kmsg.RequestFormatter
}

// New constructs a Client. Broker addresses and partition leadership are
// unknown until SetBrokerAddr and SetLeader are called, normally by a
// metadata-discovery component that lives outside this package.
func New(opts ...Opt) *Client {
	c := &Client{
		addrs:          make(map[int32]string),
		conns:          make(map[int32]*nodeConn),
		leaders:        make(map[kfetch.TopicPartition]int32),
		dialTimeout:    10 * time.Second,
		requestTimeout: 30 * time.Second,
		maxRespBytes:   100 << 20,
		formatter:      kmsg.NewRequestFormatter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBrokerAddr records the host:port for a broker node.
func (c *Client) SetBrokerAddr(node int32, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs[node] = addr
}

// SetLeader records tp's current leader node. Call with node -1 to mark the
// leader as known-but-unavailable.
func (c *Client) SetLeader(tp kfetch.TopicPartition, node int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaders[tp] = node
}

// LeaderForPartition implements kfetch.BrokerClient.
func (c *Client) LeaderForPartition(tp kfetch.TopicPartition) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.leaders[tp]
	return node, ok
}

// ForceMetadataUpdate implements kfetch.BrokerClient. It drops every cached
// leader so the next LeaderForPartition call reports unknown until the
// caller's metadata-discovery component repopulates it with SetLeader; that
// refresh itself is outside this package's scope.
func (c *Client) ForceMetadataUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaders = make(map[kfetch.TopicPartition]int32)
}

// Ready implements kfetch.BrokerClient by attempting to establish (or reuse)
// a connection to node.
func (c *Client) Ready(ctx context.Context, node int32) bool {
	_, err := c.connFor(ctx, node)
	return err == nil
}

// Send implements kfetch.BrokerClient.
func (c *Client) Send(ctx context.Context, node int32, req kmsg.Request) (kmsg.Response, error) {
	cxn, err := c.connFor(ctx, node)
	if err != nil {
		return nil, err
	}
	resp, err := cxn.roundTrip(ctx, &c.formatter, req, c.requestTimeout, c.maxRespBytes)
	if err != nil {
		c.forgetConn(node, cxn)
	}
	return resp, err
}

// Close terminates every open connection. Send calls made after Close dial
// fresh connections; callers are expected to drop the Client afterward.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for node, cxn := range c.conns {
		cxn.die()
		delete(c.conns, node)
	}
	return nil
}

func (c *Client) connFor(ctx context.Context, node int32) (*nodeConn, error) {
	c.mu.Lock()
	addr, ok := c.addrs[node]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w %d", ErrUnknownNode, node)
	}
	if cxn, ok := c.conns[node]; ok && !cxn.isDead() {
		c.mu.Unlock()
		return cxn, nil
	}
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("brokerclient: dial node %d: %w", node, err)
	}
	cxn := &nodeConn{conn: conn}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[node]; ok && !existing.isDead() {
		conn.Close()
		return existing, nil
	}
	c.conns[node] = cxn
	return cxn, nil
}

func (c *Client) forgetConn(node int32, cxn *nodeConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conns[node] == cxn {
		delete(c.conns, node)
	}
}

// nodeConn is one persistent, serialized connection to a broker node.
type nodeConn struct {
	mu     sync.Mutex
	conn   net.Conn
	corrID int32
	dead   int32
}

func (cxn *nodeConn) isDead() bool { return atomic.LoadInt32(&cxn.dead) == 1 }

func (cxn *nodeConn) die() {
	if atomic.SwapInt32(&cxn.dead, 1) == 1 {
		return
	}
	cxn.conn.Close()
}

func (cxn *nodeConn) roundTrip(ctx context.Context, f *kmsg.RequestFormatter, req kmsg.Request, timeout time.Duration, maxRespBytes int32) (kmsg.Response, error) {
	cxn.mu.Lock()
	defer cxn.mu.Unlock()

	if cxn.isDead() {
		return nil, ErrConnDead
	}

	corrID := cxn.corrID
	cxn.corrID++

	buf := f.AppendRequest(nil, req, corrID)
	if err := cxn.writeAll(ctx, buf, timeout); err != nil {
		return nil, err
	}

	raw, err := cxn.readResponse(ctx, timeout, maxRespBytes, corrID, req.IsFlexible())
	if err != nil {
		return nil, err
	}

	resp := req.ResponseKind()
	if err := resp.ReadFrom(raw); err != nil {
		return nil, fmt.Errorf("brokerclient: decode response: %w", err)
	}
	return resp, nil
}

func (cxn *nodeConn) writeAll(ctx context.Context, buf []byte, timeout time.Duration) error {
	if timeout > 0 {
		cxn.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer cxn.conn.SetWriteDeadline(time.Time{})
	}
	done := make(chan error, 1)
	go func() {
		_, err := cxn.conn.Write(buf)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			cxn.die()
			return ErrConnDead
		}
		return nil
	case <-ctx.Done():
		cxn.conn.SetWriteDeadline(time.Now())
		<-done
		cxn.die()
		return ctx.Err()
	}
}

// readResponse reads one length-prefixed frame, validates its correlation
// ID, and strips the flexible-header tagged-fields section when present.
func (cxn *nodeConn) readResponse(ctx context.Context, timeout time.Duration, maxRespBytes int32, corrID int32, flexibleHeader bool) ([]byte, error) {
	raw, err := cxn.readFrame(ctx, timeout, maxRespBytes)
	if err != nil {
		return nil, err
	}
	if len(raw) < 4 {
		return nil, kbin.ErrNotEnoughData
	}
	if gotID := int32(binary.BigEndian.Uint32(raw)); gotID != corrID {
		return nil, ErrCorrelationIDMismatch
	}
	body := raw[4:]
	if flexibleHeader {
		r := kbin.Reader{Src: body}
		kmsg.SkipTags(&r)
		return r.Src, r.Complete()
	}
	return body, nil
}

func (cxn *nodeConn) readFrame(ctx context.Context, timeout time.Duration, maxRespBytes int32) ([]byte, error) {
	if timeout > 0 {
		cxn.conn.SetReadDeadline(time.Now().Add(timeout))
		defer cxn.conn.SetReadDeadline(time.Time{})
	}
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		sizeBuf := make([]byte, 4)
		if _, err := io.ReadFull(cxn.conn, sizeBuf); err != nil {
			done <- result{err: ErrConnDead}
			return
		}
		size := int32(binary.BigEndian.Uint32(sizeBuf))
		if size < 0 {
			done <- result{err: ErrInvalidRespSize}
			return
		}
		if size > maxRespBytes {
			done <- result{err: &ErrLargeResponse{Size: size, Limit: maxRespBytes}}
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(cxn.conn, buf); err != nil {
			done <- result{err: ErrConnDead}
			return
		}
		done <- result{buf: buf}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			cxn.die()
			return nil, r.err
		}
		return r.buf, nil
	case <-ctx.Done():
		cxn.conn.SetReadDeadline(time.Now())
		<-done
		cxn.die()
		return nil, ctx.Err()
	}
}
