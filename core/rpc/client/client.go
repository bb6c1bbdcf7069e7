// Package client implements the calling side of the duplex frame-based
// RPC protocol. NewClientConn runs it over any io.ReadWriteCloser, so
// it works equally over a dialed net.Conn (NewClient) or an
// *upgrade.Handle obtained from the same Upgrade hand-off
// upgradeproto/websocket uses, pairing with core/rpc/server.Bind.
// Stream-chunk frames (protocol.TypeStreamChunk/TypeStreamClose) are
// assembled into Call.Reply for streaming calls (see CallStream).
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabrq/httpd/core/observability"
	"github.com/sabrq/httpd/core/rpc/codec"
	"github.com/sabrq/httpd/core/rpc/protocol"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrTimeout      = errors.New("request timeout")
)

// Client represents an RPC client.
type Client struct {
	rwc       io.ReadWriteCloser
	codec     codec.Codec
	log       observability.Logger
	reqID     atomic.Uint32
	pending   sync.Map // requestID -> *Call
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Call represents an active RPC call. For a streaming call (see
// Client.CallStream), Reply must point at a slice; handleFrame appends
// each TypeStreamChunk to it and signals Done once TypeStreamClose
// arrives.
type Call struct {
	Service string
	Method  string
	Args    interface{}
	Reply   interface{}
	Error   error
	Done    chan *Call
}

// NewClient dials addr over TCP and wraps it with NewClientConn.
func NewClient(addr string, opts ...Option) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial error: %w", err)
	}
	return NewClientConn(conn, opts...), nil
}

// NewClientConn runs the RPC client protocol over rwc, an
// already-established duplex stream (a dialed net.Conn, or the client
// side of an Upgrade hand-off).
func NewClientConn(rwc io.ReadWriteCloser, opts ...Option) *Client {
	client := &Client{
		rwc:   rwc,
		codec: codec.JSON{},
		log:   observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(client)
	}
	go client.receive()
	return client
}

// Option configures a client.
type Option func(*Client)

// WithClientCodec sets the codec.
func WithClientCodec(c codec.Codec) Option { return func(client *Client) { client.codec = c } }

// WithClientLogger sets the diagnostic sink; defaults to a no-op logger.
func WithClientLogger(l observability.Logger) Option { return func(client *Client) { client.log = l } }

// Call makes a synchronous unary RPC call.
func (c *Client) Call(ctx context.Context, service, method string, args, reply interface{}) error {
	return c.call(ctx, protocol.TypeRequest, service, method, args, reply)
}

// CallStream makes a synchronous streaming RPC call; reply must be a
// pointer to a slice, populated with one decoded element per
// TypeStreamChunk frame the server sends before TypeStreamClose.
func (c *Client) CallStream(ctx context.Context, service, method string, args, reply interface{}) error {
	return c.call(ctx, protocol.TypeStreamOpen, service, method, args, reply)
}

func (c *Client) call(ctx context.Context, frameType protocol.MsgType, service, method string, args, reply interface{}) error {
	call := &Call{Service: service, Method: method, Args: args, Reply: reply, Done: make(chan *Call, 1)}
	c.dispatch(frameType, call)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case call := <-call.Done:
		return call.Error
	}
}

// Go makes an asynchronous unary RPC call.
func (c *Client) Go(call *Call) *Call {
	if call.Done == nil {
		call.Done = make(chan *Call, 1)
	}
	return c.dispatch(protocol.TypeRequest, call)
}

// fail settles call with err, dropping its pending registration if it
// ever had one.
func (c *Client) fail(call *Call, requestID uint32, err error) *Call {
	if requestID != 0 {
		c.pending.Delete(requestID)
	}
	call.Error = err
	call.done()
	return call
}

func (c *Client) dispatch(frameType protocol.MsgType, call *Call) *Call {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return c.fail(call, 0, ErrClientClosed)
	}

	requestID := c.reqID.Add(1)
	c.pending.Store(requestID, call)
	if frameType == protocol.TypeStreamOpen && call.Reply != nil {
		resetSlice(call.Reply)
	}

	metaData, _ := json.Marshal(map[string]string{"service": call.Service, "method": call.Method})
	payload, err := c.codec.Encode(call.Args)
	if err != nil {
		return c.fail(call, requestID, fmt.Errorf("encode args error: %w", err))
	}

	frame := protocol.NewFrame(frameType, requestID)
	frame.Metadata = metaData
	frame.Payload = payload
	if err := c.send(frame); err != nil {
		return c.fail(call, requestID, err)
	}
	return call
}

func (c *Client) send(frame *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	_, err := c.rwc.Write(frame.Encode())
	return err
}

// readFrame reads one header-then-body frame off rwc.
func readFrame(rwc io.Reader) (*protocol.Frame, error) {
	headerBuf := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(rwc, headerBuf); err != nil {
		return nil, err
	}
	frameSize, err := protocol.SizeFromHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	fullBuf := make([]byte, frameSize)
	copy(fullBuf, headerBuf)
	if _, err := io.ReadFull(rwc, fullBuf[protocol.HeaderSize:]); err != nil {
		return nil, err
	}
	return protocol.Decode(fullBuf)
}

func (c *Client) receive() {
	for {
		frame, err := readFrame(c.rwc)
		if err != nil {
			if err != io.EOF {
				c.log.Printf("rpc client: read frame error: %v", err)
			}
			c.Close()
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	requestID := frame.RequestID

	switch frame.Type {
	case protocol.TypeStreamChunk:
		val, ok := c.pending.Load(requestID)
		if !ok {
			c.log.Printf("rpc client: stream chunk for unknown request %d", requestID)
			return
		}
		call := val.(*Call)
		if err := appendStreamElement(call.Reply, frame.Payload, c.codec); err != nil {
			call.Error = err
		}
		return

	case protocol.TypeStreamClose:
		val, ok := c.pending.LoadAndDelete(requestID)
		if !ok {
			return
		}
		val.(*Call).done()
		return
	}

	val, ok := c.pending.LoadAndDelete(requestID)
	if !ok {
		c.log.Printf("rpc client: unexpected response for request %d", requestID)
		return
	}
	call := val.(*Call)

	switch frame.Type {
	case protocol.TypeResponse:
		if err := c.codec.Decode(frame.Payload, call.Reply); err != nil {
			call.Error = fmt.Errorf("decode reply error: %w", err)
		}
	case protocol.TypeError:
		call.Error = errors.New(string(frame.Payload))
	case protocol.TypePong:
		// no payload to decode
	default:
		call.Error = fmt.Errorf("unexpected frame type: %v", frame.Type)
	}

	call.done()
}

// resetSlice truncates the slice sliceePtr points at to zero length,
// so a retried CallStream doesn't append onto a previous attempt's
// partial results.
func resetSlice(slicePtr interface{}) {
	rv := reflect.ValueOf(slicePtr)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return
	}
	rv.Elem().Set(reflect.MakeSlice(rv.Elem().Type(), 0, 0))
}

// appendStreamElement decodes payload into a new zero value of
// slicePtr's element type and appends it, mirroring the one-reply
// codec.Decode call handleFrame makes for a unary TypeResponse.
func appendStreamElement(slicePtr interface{}, payload []byte, c codec.Codec) error {
	rv := reflect.ValueOf(slicePtr)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("stream reply must be a pointer to a slice, got %T", slicePtr)
	}
	slice := rv.Elem()
	elem := reflect.New(slice.Type().Elem())
	if err := c.Decode(payload, elem.Interface()); err != nil {
		return fmt.Errorf("decode stream element error: %w", err)
	}
	slice.Set(reflect.Append(slice, elem.Elem()))
	return nil
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
	}
}

// Ping sends a ping to the server.
func (c *Client) Ping() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	requestID := c.reqID.Add(1)
	frame := protocol.NewFrame(protocol.TypePing, requestID)

	call := &Call{Done: make(chan *Call, 1)}
	c.pending.Store(requestID, call)

	if err := c.send(frame); err != nil {
		c.pending.Delete(requestID)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	select {
	case <-ctx.Done():
		c.pending.Delete(requestID)
		return ErrTimeout
	case <-call.Done:
		return call.Error
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		err = c.rwc.Close()

		c.pending.Range(func(key, value interface{}) bool {
			call := value.(*Call)
			call.Error = ErrClientClosed
			call.done()
			c.pending.Delete(key)
			return true
		})
	})
	return err
}
