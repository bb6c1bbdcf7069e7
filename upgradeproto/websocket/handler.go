package websocket

import (
	"github.com/sabrq/httpd/internal/upgrade"
)

// Handler adapts a Hub to the daemon's upgrade.Handler shape: Bind
// returns an upgrade.Handler closure suitable for
// FDContext.Upgrade's callback argument. The handshake already
// happened in the daemon's response builder by the time this runs;
// Bind only attaches the post-101 stream to the hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Bind returns an upgrade.Handler that wraps h (the raw post-101
// stream) as a framed Conn, registers it with the hub under clientID,
// and starts its read/write pumps.
func (h *Handler) Bind(clientID string) upgrade.Handler {
	return func(handle *upgrade.Handle) {
		wsConn := NewConn(handle)
		client := NewClient(clientID, wsConn)
		if err := h.hub.Register(client); err != nil {
			wsConn.Close()
		}
	}
}

type MessageHandler func(client *Client, msg *Message)

// CustomHub layers an application message callback over Hub's
// register/unregister bookkeeping.
type CustomHub struct {
	*Hub
	onMessage MessageHandler
}

func NewCustomHub(maxClients int, onMessage MessageHandler) *CustomHub {
	hub := NewHub(maxClients)

	customHub := &CustomHub{
		Hub:       hub,
		onMessage: onMessage,
	}

	return customHub
}

func (h *CustomHub) Register(client *Client) error {
	count := 0
	h.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})

	if count >= h.maxClients {
		return nil
	}

	h.register <- client

	go h.customReadPump(client)
	go h.writePump(client)

	return nil
}

// Bind mirrors Handler.Bind but routes through CustomHub.Register so
// onMessage fires for every complete inbound data message (control
// frames are handled inside Conn.ReadMessage and never reach it).
func (h *CustomHub) Bind(clientID string) upgrade.Handler {
	return func(handle *upgrade.Handle) {
		wsConn := NewConn(handle)
		client := NewClient(clientID, wsConn)
		if err := h.Register(client); err != nil {
			wsConn.Close()
		}
	}
}

func (h *CustomHub) customReadPump(client *Client) {
	defer func() {
		h.Unregister(client)
	}()

	for {
		msg, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		if h.onMessage != nil {
			h.onMessage(client, msg)
		}
	}
}

type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventMessage    EventType = "message"
	EventJoinRoom   EventType = "join"
	EventLeaveRoom  EventType = "leave"
	EventError      EventType = "error"
)

type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}
