package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sabrq/httpd/core/rpc/codec"
	"github.com/sabrq/httpd/core/rpc/protocol"
	"github.com/sabrq/httpd/internal/upgrade"
)

type echoArg struct {
	N int
}

type echoReply struct {
	Values []int
}

type echoService struct{}

func (echoService) Range(ctx context.Context, arg *echoArg) (*echoReply, error) {
	vals := make([]int, arg.N)
	for i := range vals {
		vals[i] = i
	}
	return &echoReply{Values: vals}, nil
}

// Values returns the counted values as a bare slice, the shape
// handleStream walks element by element.
func (echoService) Values(ctx context.Context, arg *echoArg) (*[]int, error) {
	vals := make([]int, arg.N)
	for i := range vals {
		vals[i] = i
	}
	return &vals, nil
}

// readFrame reads one complete frame off r using the same
// header-then-body shape Server.handleConn and client.Client.receive
// both use.
func readFrame(r io.Reader) (*protocol.Frame, error) {
	headerBuf := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	frameSize, err := protocol.SizeFromHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	fullBuf := make([]byte, frameSize)
	copy(fullBuf, headerBuf)
	if _, err := io.ReadFull(r, fullBuf[protocol.HeaderSize:]); err != nil {
		return nil, err
	}
	return protocol.Decode(fullBuf)
}

func TestBindServesRequestsOverUpgradeHandle(t *testing.T) {
	s := NewServer()
	if err := s.Register("echo", echoService{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()

	handle := upgrade.NewHandle(serverRaw, nil, nil)
	go s.Bind()(handle)

	clientRaw.SetDeadline(time.Now().Add(2 * time.Second))

	meta, _ := json.Marshal(Metadata{Service: "echo", Method: "Range"})
	jc := codec.JSON{}
	payload, err := jc.Encode(&echoArg{N: 3})
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}

	req := protocol.NewFrame(protocol.TypeRequest, 1)
	req.Metadata = meta
	req.Payload = payload

	if _, err := clientRaw.Write(req.Encode()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := readFrame(clientRaw)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("frame type = %d, want TypeResponse", resp.Type)
	}
	if resp.RequestID != 1 {
		t.Fatalf("request id = %d, want 1", resp.RequestID)
	}

	var reply echoReply
	if err := jc.Decode(resp.Payload, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(reply.Values) != 3 || reply.Values[2] != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestBindServesStreamOverUpgradeHandle(t *testing.T) {
	s := NewServer()
	if err := s.Register("echo", echoService{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()

	handle := upgrade.NewHandle(serverRaw, nil, nil)
	go s.Bind()(handle)

	clientRaw.SetDeadline(time.Now().Add(2 * time.Second))

	meta, _ := json.Marshal(Metadata{Service: "echo", Method: "Values"})
	jc := codec.JSON{}
	payload, err := jc.Encode(&echoArg{N: 2})
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}

	req := protocol.NewFrame(protocol.TypeStreamOpen, 7)
	req.Metadata = meta
	req.Payload = payload
	if _, err := clientRaw.Write(req.Encode()); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var chunks []int
	for {
		frame, err := readFrame(clientRaw)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if frame.Type == protocol.TypeStreamClose {
			break
		}
		if frame.Type != protocol.TypeStreamChunk {
			t.Fatalf("unexpected frame type: %d", frame.Type)
		}
		var v int
		if err := jc.Decode(frame.Payload, &v); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		chunks = append(chunks, v)
	}

	if len(chunks) != 2 || chunks[0] != 0 || chunks[1] != 1 {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestStreamElementsFlattensSlice(t *testing.T) {
	single := streamElements(&echoArg{N: 5})
	if len(single) != 1 {
		t.Fatalf("expected a single degraded element, got %d", len(single))
	}

	sliceReply := []int{1, 2, 3}
	elems := streamElements(&sliceReply)
	if len(elems) != 3 {
		t.Fatalf("expected 3 stream elements, got %d", len(elems))
	}
}
