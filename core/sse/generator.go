package sse

import "github.com/sabrq/httpd/internal/respbuild"

// Generator adapts a subscribed Client's event channel into a
// respbuild.Generator: the connection state machine's
// StageChunkedBodyUnready/Ready loop calls this once per pass to draw
// the next piece of the chunked body, so a slow SSE subscriber only
// ever blocks its own connection's goroutine, never the daemon's event
// engine as a whole. It subscribes when Generator itself is called,
// before the returned function first runs, and unsubscribes once it
// reports done.
func (h *Handler) Generator(clientID string) respbuild.Generator {
	client, err := h.stream.Subscribe(clientID)
	if err != nil {
		return func(buf []byte) (int, bool, error) { return 0, true, err }
	}

	connectEvent := FormatEvent(&Event{Event: "connected", Data: clientID})
	sent := false

	return func(buf []byte) (int, bool, error) {
		if !sent {
			sent = true
			n := copy(buf, connectEvent)
			return n, false, nil
		}
		select {
		case event, ok := <-client.Channel:
			if !ok {
				h.stream.Unsubscribe(client)
				return 0, true, nil
			}
			n := copy(buf, FormatEvent(event))
			return n, false, nil
		case <-client.closeCh:
			h.stream.Unsubscribe(client)
			return 0, true, nil
		}
	}
}
