package sse

// Handler binds a Stream to the daemon's response machinery. Its main
// entry point is Generator (generator.go), which adapts one
// subscription into a respbuild.Generator the chunked body path
// drives; HandleConnection is the push-style alternative for hosts
// that own their transport (an upgraded connection, a test harness)
// and want formatted event bytes delivered through a callback instead.
type Handler struct {
	stream *Stream
}

func NewHandler(stream *Stream) *Handler {
	return &Handler{stream: stream}
}

// HandleConnection subscribes clientID and pushes each formatted event
// through onEvent until the subscription ends or onEvent fails. The
// initial "connected" event mirrors the one Generator emits, so both
// delivery styles look identical to a browser EventSource.
func (h *Handler) HandleConnection(clientID string, onEvent func([]byte) error, onClose func()) error {
	client, err := h.stream.Subscribe(clientID)
	if err != nil {
		return err
	}
	defer func() {
		h.stream.Unsubscribe(client)
		if onClose != nil {
			onClose()
		}
	}()

	if err := onEvent(FormatEvent(&Event{Event: "connected", Data: clientID})); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-client.Channel:
			if !ok {
				return nil
			}
			if err := onEvent(FormatEvent(event)); err != nil {
				return err
			}
		case <-client.closeCh:
			return nil
		}
	}
}

// WriteSSEHeaders returns the response headers an event-stream reply
// carries. The Connection entry is advisory for hosts writing raw
// responses; core/http.StreamSSE skips it since the response builder
// emits its own Connection token.
func WriteSSEHeaders() map[string]string {
	return map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
}
